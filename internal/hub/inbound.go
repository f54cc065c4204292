package hub

import (
	"encoding/json"
	"strings"

	"github.com/chesshub/gateway/internal/chess"
	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/model"
)

// Close reasons understood by the Sender implementation.
const (
	CloseProtocol = "protocol"
	CloseSize     = "size"
	CloseAway     = "away"
	CloseNormal   = "normal"
)

const (
	pongSite        = "0"
	destsFailureMsg = `{"t":"destsFailure"}`
	stepFailureMsg  = `{"t":"stepFailure"}`
)

// frame is the browser envelope: a JSON object tagged by t, with the
// payload in d. Pings carry their lag directly in l.
type frame struct {
	T string          `json:"t"`
	L *int            `json:"l"`
	D json.RawMessage `json:"d"`
}

// HandleMessage processes one text frame from a socket. Unrecognized
// tags and malformed payloads close the socket with a protocol error;
// analysis domain errors reply with the failure marker instead.
func (h *Hub) HandleMessage(s *UserSocket, raw []byte) {
	// fast-path ping sentinel
	if string(raw) == `"null"` || string(raw) == "null" {
		h.pong(s)
		return
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Hub().Debug().Uint64("socket", s.ID).Err(err).Msg("Bad frame")
		s.Sender.Close(CloseProtocol)
		return
	}

	switch f.T {
	case "p", "ping":
		h.pong(s)
		if f.L != nil && *f.L >= 0 {
			if uid, ok := s.User(); ok {
				h.addLag(uid, uint32(*f.L))
			}
		}

	case "notified":
		if uid, ok := s.deferOrUser(pendingNotified); ok {
			h.publish(ipc.Notified{User: uid})
		}

	case "following_onlines":
		if uid, ok := s.deferOrUser(pendingFriends); ok {
			h.publish(ipc.Friends{User: uid})
		}

	case "startWatching":
		var d string
		if err := json.Unmarshal(f.D, &d); err != nil {
			s.Sender.Close(CloseProtocol)
			return
		}
		for _, rawID := range strings.Fields(d) {
			game, err := model.NewGameID(rawID)
			if err != nil {
				s.Sender.Close(CloseProtocol)
				return
			}
			h.startWatching(s, game)
		}

	case "moveLat":
		var on bool
		if err := json.Unmarshal(f.D, &on); err != nil {
			s.Sender.Close(CloseProtocol)
			return
		}
		h.setMlatSubscription(s, on)

	case "opening":
		var req chess.OpeningRequest
		if err := json.Unmarshal(f.D, &req); err != nil {
			s.Sender.Close(CloseProtocol)
			return
		}
		if resp := chess.GetOpening(req); resp != nil {
			h.sendJSON(s.Sender, "opening", resp)
		}

	case "anaDests":
		var req chess.DestsRequest
		if err := json.Unmarshal(f.D, &req); err != nil {
			s.Sender.Close(CloseProtocol)
			return
		}
		resp, err := chess.GetDests(req)
		if err != nil {
			s.Sender.Send(destsFailureMsg)
			return
		}
		h.sendJSON(s.Sender, "dests", resp)

	case "anaMove", "anaDrop":
		var req chess.StepRequest
		if err := json.Unmarshal(f.D, &req); err != nil {
			s.Sender.Close(CloseProtocol)
			return
		}
		node, err := chess.PlayStep(req)
		if err != nil {
			s.Sender.Send(stepFailureMsg)
			return
		}
		h.sendJSON(s.Sender, "node", node)

	case "evalGet", "evalPut":
		if s.Sri == "" {
			logger.Hub().Info().Uint64("socket", s.ID).Str("t", f.T).Msg("Dropping eval message without sri")
			return
		}
		var uid *model.UserID
		if u, ok := s.User(); ok {
			uid = &u
		}
		h.publish(ipc.TellSri{Sri: s.Sri, User: uid, Payload: string(raw)})

	default:
		logger.Hub().Debug().Uint64("socket", s.ID).Str("t", f.T).Msg("Unknown message tag")
		s.Sender.Close(CloseProtocol)
	}
}

// pong replies to a ping: site sockets get the bare ack, lobby sockets
// get the round and member counters.
func (h *Hub) pong(s *UserSocket) {
	if s.Endpoint == model.EndpointLobby {
		reply, _ := json.Marshal(struct {
			T string `json:"t"`
			D int64  `json:"d"`
			R int64  `json:"r"`
		}{"n", h.members.Load(), h.rounds.Load()})
		s.Sender.Send(string(reply))
		return
	}
	s.Sender.Send(pongSite)
}

// startWatching subscribes the socket to a game: replay the cached state
// if any, join the index, and announce the first watcher.
func (h *Hub) startWatching(s *UserSocket, game model.GameID) {
	if !s.markWatching(game) {
		return
	}
	if state, ok := h.watchedGames.Get(game); ok {
		s.Sender.Send(fenFrame(game, state))
	}
	h.watch(game, s.Sender)
}

// setMlatSubscription flips latency updates, sending the current value
// on subscribe.
func (h *Hub) setMlatSubscription(s *UserSocket, on bool) {
	if !s.setWatchingMlat(on) {
		return
	}
	if on {
		h.muMlat.Lock()
		h.watchingMlat[s.ID] = s.Sender
		h.muMlat.Unlock()
		s.Sender.Send(mlatFrame(h.mlat.Load()))
	} else {
		h.muMlat.Lock()
		delete(h.watchingMlat, s.ID)
		h.muMlat.Unlock()
	}
}

func (h *Hub) sendJSON(sender Sender, tag string, payload any) {
	msg, err := json.Marshal(struct {
		T string `json:"t"`
		D any    `json:"d"`
	}{tag, payload})
	if err != nil {
		logger.Hub().Error().Err(err).Str("t", tag).Msg("Marshal failed")
		return
	}
	sender.Send(string(msg))
}
