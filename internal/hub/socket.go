// Package hub is the dispatch and subscription engine: the shared
// indexes mapping users, games, page sessions and server-sent channels
// to live WebSocket senders, the inbound message handlers and the
// outbound fan-out loops.
package hub

import (
	"sync"

	"github.com/chesshub/gateway/internal/model"
)

// Sender is the outbound handle of one socket. Implementations enqueue
// onto a bounded per-connection buffer; Send reports false when the
// buffer is full or the connection is closing, and the caller treats
// that as a lost frame, never as backpressure.
type Sender interface {
	Send(text string) bool
	Close(reason string)
	// Token is stable for the sender's lifetime and unique per process;
	// index removal matches on it.
	Token() uint64
}

type authState int

const (
	authAnonymous authState = iota
	authRequested
	authAuthenticated
)

// UserSocket is the per-connection state owned by the dispatch engine
// for the socket's full lifetime. The embedded auth state machine is
// Anonymous <-> Requested -> Authenticated|Anonymous, with at most one
// outstanding store lookup.
type UserSocket struct {
	ID        uint64
	Sender    Sender
	Sri       model.Sri
	Endpoint  model.Endpoint
	Flag      *model.Flag
	IP        string
	UserAgent string

	mu    sync.Mutex
	state authState
	uid   model.UserID

	// single-slot coalescing for user-gated requests that arrive while
	// the session lookup is still outstanding
	pendingNotified bool
	pendingFriends  bool

	watching     map[model.GameID]bool
	watchingMlat bool
}

// NewUserSocket creates the engine-side state for a freshly opened
// socket.
func NewUserSocket(id uint64, sender Sender, sri model.Sri, endpoint model.Endpoint, flag *model.Flag, ip, userAgent string) *UserSocket {
	return &UserSocket{
		ID:        id,
		Sender:    sender,
		Sri:       sri,
		Endpoint:  endpoint,
		Flag:      flag,
		IP:        ip,
		UserAgent: userAgent,
		watching:  make(map[model.GameID]bool),
	}
}

// requestAuth moves Anonymous -> Requested. Returns false when a lookup
// is already outstanding or the socket is authenticated.
func (s *UserSocket) requestAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != authAnonymous {
		return false
	}
	s.state = authRequested
	return true
}

// settleAuth resolves the outstanding lookup and drains the coalescing
// flags. The returned uid is valid only when ok.
func (s *UserSocket) settleAuth(uid model.UserID, ok bool) (notified, friends bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.state = authAuthenticated
		s.uid = uid
	} else {
		s.state = authAnonymous
	}
	notified, friends = s.pendingNotified, s.pendingFriends
	s.pendingNotified, s.pendingFriends = false, false
	return notified, friends
}

// User returns the authenticated user id, if any.
func (s *UserSocket) User() (model.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid, s.state == authAuthenticated
}

// deferOrUser coalesces a user-gated request: when the lookup is still
// outstanding the matching pending flag is set and the caller does
// nothing now.
func (s *UserSocket) deferOrUser(kind pendingKind) (model.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case authAuthenticated:
		return s.uid, true
	case authRequested:
		switch kind {
		case pendingNotified:
			s.pendingNotified = true
		case pendingFriends:
			s.pendingFriends = true
		}
	}
	return "", false
}

type pendingKind int

const (
	pendingNotified pendingKind = iota
	pendingFriends
)

// markWatching records a game subscription, reporting whether it is new
// for this socket.
func (s *UserSocket) markWatching(game model.GameID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching[game] {
		return false
	}
	s.watching[game] = true
	return true
}

// watchedGames snapshots the socket's subscriptions for close cleanup.
func (s *UserSocket) watchedGames() []model.GameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	games := make([]model.GameID, 0, len(s.watching))
	for g := range s.watching {
		games = append(games, g)
	}
	return games
}

// setWatchingMlat flips the latency subscription, reporting whether the
// state changed.
func (s *UserSocket) setWatchingMlat(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchingMlat == on {
		return false
	}
	s.watchingMlat = on
	return true
}
