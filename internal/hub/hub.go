package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/metrics"
	"github.com/chesshub/gateway/internal/model"
)

const (
	watchedGamesCap  = 5000
	lagFlushInterval = 2 * time.Second
)

// GameState is the cached latest state of a watched game.
type GameState struct {
	Fen     string
	LastUci string
}

// Hub owns the shared indexes for the process lifetime. Each index is
// guarded by its own RWMutex; the publishes that accompany 0<->1
// membership transitions happen inside the critical section of the
// transition, so the backend observes them in transition order.
type Hub struct {
	publish   func(ipc.LilaIn)
	broadcast func(text string)
	onMlat    func()

	muUsers sync.RWMutex
	byUser  map[model.UserID][]Sender

	muGames sync.RWMutex
	byGame  map[model.GameID][]Sender

	muSri sync.RWMutex
	bySri map[model.Sri][]Sender

	muID sync.RWMutex
	byID map[uint64]*UserSocket

	muFlags sync.RWMutex
	flags   map[model.Flag]map[uint64]Sender

	muMlat       sync.RWMutex
	watchingMlat map[uint64]Sender

	watchedGames *lru.Cache[model.GameID, GameState]

	muLags sync.Mutex
	lags   map[model.UserID]uint32

	// connections uses relaxed accounting: concurrent open/close may
	// transiently underflow, so reads saturate to zero.
	connections atomic.Int64
	mlat        atomic.Uint32
	rounds      atomic.Int64
	members     atomic.Int64
}

// New creates the hub. publish enqueues one line for the main server
// and never blocks.
func New(publish func(ipc.LilaIn)) *Hub {
	cache, _ := lru.New[model.GameID, GameState](watchedGamesCap)
	return &Hub{
		publish:      publish,
		broadcast:    func(string) {},
		onMlat:       func() {},
		byUser:       make(map[model.UserID][]Sender),
		byGame:       make(map[model.GameID][]Sender),
		bySri:        make(map[model.Sri][]Sender),
		byID:         make(map[uint64]*UserSocket),
		flags:        make(map[model.Flag]map[uint64]Sender),
		watchingMlat: make(map[uint64]Sender),
		watchedGames: cache,
		lags:         make(map[model.UserID]uint32),
	}
}

// SetBroadcast installs the server's all-sockets broadcast handle.
func (h *Hub) SetBroadcast(fn func(text string)) { h.broadcast = fn }

// SetMlatTick installs a hook invoked on every backend mlat heartbeat.
// The server uses it to garbage-collect rate limiter state.
func (h *Hub) SetMlatTick(fn func()) { h.onMlat = fn }

// Run flushes batched lag reports until the context is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(lagFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.flushLags()
		case <-ctx.Done():
			h.flushLags()
			return
		}
	}
}

func (h *Hub) flushLags() {
	h.muLags.Lock()
	if len(h.lags) == 0 {
		h.muLags.Unlock()
		return
	}
	batch := h.lags
	h.lags = make(map[model.UserID]uint32)
	h.muLags.Unlock()

	h.publish(ipc.Lags{Lags: batch})
}

func (h *Hub) addLag(uid model.UserID, lag uint32) {
	h.muLags.Lock()
	h.lags[uid] = lag
	h.muLags.Unlock()
}

// ConnectionCount reports open connections, saturated to zero.
func (h *Hub) ConnectionCount() int {
	n := h.connections.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Register inserts a freshly opened socket into the lifetime indexes.
func (h *Hub) Register(s *UserSocket) {
	h.connections.Add(1)
	metrics.Connections.Inc()

	h.muID.Lock()
	h.byID[s.ID] = s
	h.muID.Unlock()

	h.muSri.Lock()
	h.bySri[s.Sri] = append(h.bySri[s.Sri], s.Sender)
	h.muSri.Unlock()

	if s.Flag != nil {
		h.muFlags.Lock()
		set, ok := h.flags[*s.Flag]
		if !ok {
			set = make(map[uint64]Sender)
			h.flags[*s.Flag] = set
		}
		set[s.ID] = s.Sender
		h.muFlags.Unlock()
	}
}

// Unregister removes a closing socket from every index it joined,
// publishing the unwatch/disconnect transitions its removal causes.
func (h *Hub) Unregister(s *UserSocket) {
	h.connections.Add(-1)
	metrics.Connections.Dec()

	h.muSri.Lock()
	h.bySri[s.Sri] = removeSender(h.bySri[s.Sri], s.Sender)
	if len(h.bySri[s.Sri]) == 0 {
		delete(h.bySri, s.Sri)
	}
	h.muSri.Unlock()

	for _, game := range s.watchedGames() {
		h.unwatch(game, s.Sender)
	}

	if s.Flag != nil {
		h.muFlags.Lock()
		if set, ok := h.flags[*s.Flag]; ok {
			delete(set, s.ID)
			if len(set) == 0 {
				delete(h.flags, *s.Flag)
			}
		}
		h.muFlags.Unlock()
	}

	h.muMlat.Lock()
	delete(h.watchingMlat, s.ID)
	h.muMlat.Unlock()

	h.muID.Lock()
	delete(h.byID, s.ID)
	h.muID.Unlock()

	if uid, ok := s.User(); ok {
		h.removeUserSender(uid, s.Sender)
	}
}

// RequestAuth transitions the socket to Requested. The caller enqueues
// the store lookup only when this reports true.
func (h *Hub) RequestAuth(s *UserSocket) bool {
	return s.requestAuth()
}

// SettleAuth delivers a session lookup result. If the socket already
// closed the result is dropped.
func (h *Hub) SettleAuth(socketID uint64, uid model.UserID, err error) {
	h.muID.RLock()
	s, open := h.byID[socketID]
	h.muID.RUnlock()
	if !open {
		return
	}

	ok := err == nil
	notified, friends := s.settleAuth(uid, ok)
	if !ok {
		logger.Hub().Info().Uint64("socket", socketID).Msg("Socket stays anonymous")
		return
	}

	h.addUserSender(uid, s.Sender)

	// drain requests that raced the lookup
	if notified {
		h.publish(ipc.Notified{User: uid})
	}
	if friends {
		h.publish(ipc.Friends{User: uid})
	}
}

// addUserSender inserts into by_user, announcing the user's arrival on
// the 0->1 transition.
func (h *Hub) addUserSender(uid model.UserID, sender Sender) {
	h.muUsers.Lock()
	defer h.muUsers.Unlock()
	existing := h.byUser[uid]
	h.byUser[uid] = append(existing, sender)
	if len(existing) == 0 {
		metrics.UsersOnline.Inc()
		h.publish(ipc.Connect{User: uid})
	}
}

// removeUserSender removes from by_user, announcing the user's departure
// on the 1->0 transition.
func (h *Hub) removeUserSender(uid model.UserID, sender Sender) {
	h.muUsers.Lock()
	defer h.muUsers.Unlock()
	remaining := removeSender(h.byUser[uid], sender)
	if len(remaining) == 0 {
		delete(h.byUser, uid)
		metrics.UsersOnline.Dec()
		h.publish(ipc.Disconnect{User: uid})
	} else {
		h.byUser[uid] = remaining
	}
}

// watch inserts into by_game, announcing the first watcher.
func (h *Hub) watch(game model.GameID, sender Sender) {
	h.muGames.Lock()
	defer h.muGames.Unlock()
	existing := h.byGame[game]
	h.byGame[game] = append(existing, sender)
	if len(existing) == 0 {
		metrics.WatchedGames.Inc()
		h.publish(ipc.Watch{Game: game})
	}
}

// unwatch removes from by_game, announcing the last watcher's departure.
func (h *Hub) unwatch(game model.GameID, sender Sender) {
	h.muGames.Lock()
	defer h.muGames.Unlock()
	remaining := removeSender(h.byGame[game], sender)
	if len(remaining) == 0 {
		delete(h.byGame, game)
		metrics.WatchedGames.Dec()
		h.publish(ipc.Unwatch{Game: game})
	} else {
		h.byGame[game] = remaining
	}
}

func removeSender(senders []Sender, target Sender) []Sender {
	token := target.Token()
	for i, s := range senders {
		if s.Token() == token {
			return append(senders[:i], senders[i+1:]...)
		}
	}
	return senders
}

// snapshot helpers: fan-out loops copy under read lock and send outside.

func (h *Hub) userSenders(uid model.UserID) []Sender {
	h.muUsers.RLock()
	defer h.muUsers.RUnlock()
	return append([]Sender(nil), h.byUser[uid]...)
}

func (h *Hub) gameSenders(game model.GameID) []Sender {
	h.muGames.RLock()
	defer h.muGames.RUnlock()
	return append([]Sender(nil), h.byGame[game]...)
}

func (h *Hub) sriSenders(sri model.Sri) []Sender {
	h.muSri.RLock()
	defer h.muSri.RUnlock()
	return append([]Sender(nil), h.bySri[sri]...)
}

func (h *Hub) flagSenders(flag model.Flag) []Sender {
	h.muFlags.RLock()
	defer h.muFlags.RUnlock()
	set := h.flags[flag]
	out := make([]Sender, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (h *Hub) mlatSenders() []Sender {
	h.muMlat.RLock()
	defer h.muMlat.RUnlock()
	out := make([]Sender, 0, len(h.watchingMlat))
	for _, s := range h.watchingMlat {
		out = append(out, s)
	}
	return out
}
