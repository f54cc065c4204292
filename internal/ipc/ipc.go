// Package ipc implements the line protocol spoken with the main server
// over the message bus.
//
// Both directions use whitespace-delimited tagged lines: `tag arg1 arg2
// rest` where rest may itself contain spaces. Each tag documents its own
// split limit. Lines the gateway cannot parse are logged and dropped by
// the caller; the subscription itself is never interrupted.
package ipc

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chesshub/gateway/internal/model"
)

// ErrParse marks an unparseable line from the main server.
var ErrParse = errors.New("ipc: unparseable line")

// LilaIn is a message the gateway sends to the main server.
type LilaIn interface {
	// Line renders the message as a single protocol line.
	Line() string
}

type (
	// Connect announces the first authenticated socket for a user.
	Connect struct{ User model.UserID }
	// Disconnect announces that a user's last socket is gone.
	Disconnect struct{ User model.UserID }
	// DisconnectAll flushes any state carried over from a previous
	// gateway process. Sent once at startup.
	DisconnectAll struct{}
	// Notified reports that the browser read its notifications.
	Notified struct{ User model.UserID }
	// Watch announces the first watcher of a game.
	Watch struct{ Game model.GameID }
	// Unwatch announces that a game's last watcher left.
	Unwatch struct{ Game model.GameID }
	// Connections is the heartbeat reply to the backend's mlat tick.
	Connections struct{ Count int }
	// Lags batches per-user lag reports.
	Lags struct{ Lags map[model.UserID]uint32 }
	// Friends requests the friend list for a user.
	Friends struct{ User model.UserID }
	// TellSri forwards a raw browser payload upstream, attributed to a
	// page session and, when known, a user.
	TellSri struct {
		Sri     model.Sri
		User    *model.UserID
		Payload string
	}
)

func (m Connect) Line() string       { return "connect " + m.User.String() }
func (m Disconnect) Line() string    { return "disconnect " + m.User.String() }
func (m DisconnectAll) Line() string { return "disconnect/all" }
func (m Notified) Line() string      { return "notified " + m.User.String() }
func (m Watch) Line() string         { return "watch " + m.Game.String() }
func (m Unwatch) Line() string       { return "unwatch " + m.Game.String() }
func (m Connections) Line() string   { return "connections " + strconv.Itoa(m.Count) }

func (m Lags) Line() string {
	var b strings.Builder
	b.WriteString("lags ")
	users := make([]model.UserID, 0, len(m.Lags))
	for uid := range m.Lags {
		users = append(users, uid)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	for _, uid := range users {
		fmt.Fprintf(&b, "%s:%d,", uid, m.Lags[uid])
	}
	return b.String()
}

func (m Friends) Line() string { return "friends " + m.User.String() }

func (m TellSri) Line() string {
	uid := "-"
	if m.User != nil {
		uid = m.User.String()
	}
	return "tell/sri " + m.Sri.String() + " " + uid + " " + m.Payload
}

// LilaOut is a message received from the main server.
type LilaOut interface{ lilaOut() }

type (
	// Move carries the latest move of a game: cache it, then fan the fen
	// frame to every watcher.
	Move struct {
		Game    model.GameID
		LastUci string
		Fen     string
	}
	// TellUsers delivers a payload to every socket of the listed users.
	TellUsers struct {
		Users   []model.UserID
		Payload string
	}
	// TellAll broadcasts a payload to every open socket.
	TellAll struct{ Payload string }
	// TellFlag delivers a payload to sockets subscribed to a flag.
	TellFlag struct {
		Flag    model.Flag
		Payload string
	}
	// TellSriOut delivers a payload to sockets sharing a page session.
	TellSriOut struct {
		Sri     model.Sri
		Payload string
	}
	// DisconnectUser closes every socket of a user.
	DisconnectUser struct{ User model.UserID }
	// MoveLatency reports the backend's measured move latency and doubles
	// as its heartbeat tick.
	MoveLatency struct{ Millis uint32 }
	// RoundNb updates the lobby's active round counter.
	RoundNb struct{ Count int64 }
	// MemberNb updates the lobby's online member counter.
	MemberNb struct{ Count int64 }
)

func (Move) lilaOut()           {}
func (TellUsers) lilaOut()      {}
func (TellAll) lilaOut()        {}
func (TellFlag) lilaOut()       {}
func (TellSriOut) lilaOut()     {}
func (DisconnectUser) lilaOut() {}
func (MoveLatency) lilaOut()    {}
func (RoundNb) lilaOut()        {}
func (MemberNb) lilaOut()       {}

// Parse decodes one line from the main server.
func Parse(line string) (LilaOut, error) {
	tag, args, hasArgs := strings.Cut(line, " ")
	if !hasArgs {
		return nil, ErrParse
	}

	switch tag {
	case "move":
		// move <gameId> <lastUci> <fen>, fen keeps its spaces
		parts := strings.SplitN(args, " ", 3)
		if len(parts) < 3 {
			return nil, ErrParse
		}
		game, err := model.NewGameID(parts[0])
		if err != nil {
			return nil, ErrParse
		}
		return Move{Game: game, LastUci: parts[1], Fen: parts[2]}, nil

	case "tell/user", "tell/users":
		userList, payload, ok := strings.Cut(args, " ")
		if !ok {
			return nil, ErrParse
		}
		raw := strings.Split(userList, ",")
		users := make([]model.UserID, 0, len(raw))
		for _, r := range raw {
			uid, err := model.NewUserID(r)
			if err != nil {
				return nil, ErrParse
			}
			users = append(users, uid)
		}
		return TellUsers{Users: users, Payload: payload}, nil

	case "tell/all":
		return TellAll{Payload: args}, nil

	case "tell/flag":
		rawFlag, payload, ok := strings.Cut(args, " ")
		if !ok {
			return nil, ErrParse
		}
		flag, err := model.NewFlag(rawFlag)
		if err != nil {
			return nil, ErrParse
		}
		return TellFlag{Flag: flag, Payload: payload}, nil

	case "tell/sri":
		rawSri, payload, ok := strings.Cut(args, " ")
		if !ok {
			return nil, ErrParse
		}
		sri, err := model.NewSri(rawSri)
		if err != nil {
			return nil, ErrParse
		}
		return TellSriOut{Sri: sri, Payload: payload}, nil

	case "disconnect/user":
		uid, err := model.NewUserID(args)
		if err != nil {
			return nil, ErrParse
		}
		return DisconnectUser{User: uid}, nil

	case "mlat":
		ms, err := strconv.ParseUint(args, 10, 32)
		if err != nil {
			return nil, ErrParse
		}
		return MoveLatency{Millis: uint32(ms)}, nil

	case "nb/round":
		n, err := strconv.ParseInt(args, 10, 64)
		if err != nil || n < 0 {
			return nil, ErrParse
		}
		return RoundNb{Count: n}, nil

	case "nb/member":
		n, err := strconv.ParseInt(args, 10, 64)
		if err != nil || n < 0 {
			return nil, ErrParse
		}
		return MemberNb{Count: n}, nil
	}

	return nil, ErrParse
}
