package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/model"
)

// fakeSender records every frame and close request.
type fakeSender struct {
	mu     sync.Mutex
	token  uint64
	frames []string
	closed string
}

func (f *fakeSender) Send(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, text)
	return true
}

func (f *fakeSender) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
}

func (f *fakeSender) Token() uint64 { return f.token }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeSender) closeReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type env struct {
	hub       *Hub
	published []string
	mu        sync.Mutex
	nextID    uint64
}

func newEnv() *env {
	e := &env{}
	e.hub = New(func(msg ipc.LilaIn) {
		e.mu.Lock()
		e.published = append(e.published, msg.Line())
		e.mu.Unlock()
	})
	return e
}

func (e *env) lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.published...)
}

func (e *env) openSocket(t *testing.T, sri string, endpoint model.Endpoint) (*UserSocket, *fakeSender) {
	t.Helper()
	e.nextID++
	s, err := model.NewSri(sri)
	require.NoError(t, err)
	sender := &fakeSender{token: e.nextID}
	us := NewUserSocket(e.nextID, sender, s, endpoint, nil, "127.0.0.1", "test-agent")
	e.hub.Register(us)
	return us, sender
}

func (e *env) authenticate(t *testing.T, us *UserSocket, uid string) {
	t.Helper()
	require.True(t, e.hub.RequestAuth(us))
	u, err := model.NewUserID(uid)
	require.NoError(t, err)
	e.hub.SettleAuth(us.ID, u, nil)
}

func TestUserPresenceCorrespondence(t *testing.T) {
	e := newEnv()

	s1, _ := e.openSocket(t, "sri-1", model.EndpointSite)
	s2, _ := e.openSocket(t, "sri-2", model.EndpointSite)

	e.authenticate(t, s1, "alice")
	e.authenticate(t, s2, "alice")

	// exactly one connect for the 0->1 transition
	assert.Equal(t, []string{"connect alice"}, e.lines())

	e.hub.Unregister(s1)
	assert.Equal(t, []string{"connect alice"}, e.lines())

	e.hub.Unregister(s2)
	assert.Equal(t, []string{"connect alice", "disconnect alice"}, e.lines())
}

func TestGameWatchFanOut(t *testing.T) {
	e := newEnv()

	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)
	s2, f2 := e.openSocket(t, "sri-2", model.EndpointSite)

	watch := []byte(`{"t":"startWatching","d":"abcdefgh"}`)
	e.hub.HandleMessage(s1, watch)
	e.hub.HandleMessage(s2, watch)

	// exactly one watch publish
	assert.Equal(t, []string{"watch abcdefgh"}, e.lines())

	e.hub.HandleLilaOut(ipc.Move{
		Game:    mustGame(t, "abcdefgh"),
		LastUci: "e2e4",
		Fen:     "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq -",
	})

	want := `{"t":"fen","d":{"id":"abcdefgh","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq -","lm":"e2e4"}}`
	assert.Equal(t, []string{want}, f1.sent())
	assert.Equal(t, []string{want}, f2.sent())

	// a late watcher replays the cache and triggers no second watch
	s3, f3 := e.openSocket(t, "sri-3", model.EndpointSite)
	e.hub.HandleMessage(s3, watch)
	assert.Equal(t, []string{want}, f3.sent())
	assert.Equal(t, []string{"watch abcdefgh"}, e.lines())
}

func TestStartWatchingIdempotent(t *testing.T) {
	e := newEnv()
	s1, _ := e.openSocket(t, "sri-1", model.EndpointSite)

	watch := []byte(`{"t":"startWatching","d":"abcdefgh"}`)
	e.hub.HandleMessage(s1, watch)
	e.hub.HandleMessage(s1, watch)

	assert.Equal(t, []string{"watch abcdefgh"}, e.lines())

	e.hub.Unregister(s1)
	assert.Equal(t, []string{"watch abcdefgh", "unwatch abcdefgh"}, e.lines())
}

func TestTellSriRoundTrip(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "page-1", model.EndpointSite)
	_, f2 := e.openSocket(t, "page-2", model.EndpointSite)

	sri, _ := model.NewSri("page-1")
	e.hub.HandleLilaOut(ipc.TellSriOut{Sri: sri, Payload: `{"t":"eval","d":1}`})

	assert.Equal(t, []string{`{"t":"eval","d":1}`}, f1.sent())
	assert.Empty(t, f2.sent())
	_ = s1
}

func TestPingReplySite(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)

	e.hub.HandleMessage(s1, []byte(`{"t":"p"}`))
	e.hub.HandleMessage(s1, []byte(`null`))

	assert.Equal(t, []string{"0", "0"}, f1.sent())
}

func TestPingReplyLobbyCounters(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointLobby)

	e.hub.HandleLilaOut(ipc.RoundNb{Count: 777})
	e.hub.HandleLilaOut(ipc.MemberNb{Count: 4242})
	e.hub.HandleMessage(s1, []byte(`{"t":"p"}`))

	require.Len(t, f1.sent(), 1)
	var reply struct {
		T string `json:"t"`
		D int64  `json:"d"`
		R int64  `json:"r"`
	}
	require.NoError(t, json.Unmarshal([]byte(f1.sent()[0]), &reply))
	assert.Equal(t, "n", reply.T)
	assert.Equal(t, int64(4242), reply.D)
	assert.Equal(t, int64(777), reply.R)
}

func TestPingLagPublishedForAuthenticatedUser(t *testing.T) {
	e := newEnv()
	s1, _ := e.openSocket(t, "sri-1", model.EndpointSite)
	e.authenticate(t, s1, "alice")

	e.hub.HandleMessage(s1, []byte(`{"t":"p","l":37}`))
	e.hub.flushLags()

	assert.Contains(t, e.lines(), "lags alice:37,")
}

func TestNotifiedCoalescedDuringLookup(t *testing.T) {
	e := newEnv()
	s1, _ := e.openSocket(t, "sri-1", model.EndpointSite)
	require.True(t, e.hub.RequestAuth(s1))

	// arrives while the lookup is outstanding: deferred, not dropped
	e.hub.HandleMessage(s1, []byte(`{"t":"notified"}`))
	e.hub.HandleMessage(s1, []byte(`{"t":"notified"}`))
	assert.Empty(t, e.lines())

	uid, _ := model.NewUserID("alice")
	e.hub.SettleAuth(s1.ID, uid, nil)

	// coalesced to a single publish after connect
	assert.Equal(t, []string{"connect alice", "notified alice"}, e.lines())
}

func TestNotifiedAnonymousDropped(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)

	e.hub.HandleMessage(s1, []byte(`{"t":"notified"}`))
	assert.Empty(t, e.lines())
	assert.Empty(t, f1.closeReason())
}

func TestSettleAuthAfterCloseIsDropped(t *testing.T) {
	e := newEnv()
	s1, _ := e.openSocket(t, "sri-1", model.EndpointSite)
	require.True(t, e.hub.RequestAuth(s1))
	e.hub.Unregister(s1)

	uid, _ := model.NewUserID("alice")
	e.hub.SettleAuth(s1.ID, uid, nil)
	assert.Empty(t, e.lines())
}

func TestMoveLatencySubscription(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)

	e.hub.HandleLilaOut(ipc.MoveLatency{Millis: 42})
	assert.Equal(t, []string{"connections 1"}, e.lines())
	assert.Empty(t, f1.sent())

	// subscribing replays the current value
	e.hub.HandleMessage(s1, []byte(`{"t":"moveLat","d":true}`))
	assert.Equal(t, []string{`{"t":"mlat","d":42}`}, f1.sent())

	// the next tick reaches the subscriber
	e.hub.HandleLilaOut(ipc.MoveLatency{Millis: 55})
	assert.Equal(t, []string{`{"t":"mlat","d":42}`, `{"t":"mlat","d":55}`}, f1.sent())

	// unsubscribing stops the stream
	e.hub.HandleMessage(s1, []byte(`{"t":"moveLat","d":false}`))
	e.hub.HandleLilaOut(ipc.MoveLatency{Millis: 60})
	assert.Len(t, f1.sent(), 2)
}

func TestDisconnectUserClosesSockets(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)
	s2, f2 := e.openSocket(t, "sri-2", model.EndpointSite)
	e.authenticate(t, s1, "alice")
	e.authenticate(t, s2, "alice")

	uid, _ := model.NewUserID("alice")
	e.hub.HandleLilaOut(ipc.DisconnectUser{User: uid})

	assert.Equal(t, CloseNormal, f1.closeReason())
	assert.Equal(t, CloseNormal, f2.closeReason())
}

func TestTellUsersFanOut(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)
	_, f2 := e.openSocket(t, "sri-2", model.EndpointSite)
	e.authenticate(t, s1, "alice")

	uid, _ := model.NewUserID("alice")
	e.hub.HandleLilaOut(ipc.TellUsers{Users: []model.UserID{uid}, Payload: `{"t":"x"}`})

	assert.Equal(t, []string{`{"t":"x"}`}, f1.sent())
	assert.Empty(t, f2.sent())
}

func TestEvalForwardedVerbatim(t *testing.T) {
	e := newEnv()
	s1, _ := e.openSocket(t, "page-1", model.EndpointSite)
	e.authenticate(t, s1, "alice")

	raw := `{"t":"evalPut","d":{"fen":"x"}}`
	e.hub.HandleMessage(s1, []byte(raw))

	assert.Equal(t, []string{"connect alice", "tell/sri page-1 alice " + raw}, e.lines())
}

func TestUnknownTagClosesProtocol(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)

	e.hub.HandleMessage(s1, []byte(`{"t":"nosuchthing"}`))
	assert.Equal(t, CloseProtocol, f1.closeReason())
}

func TestBadGameIDClosesProtocol(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)

	e.hub.HandleMessage(s1, []byte(`{"t":"startWatching","d":"short"}`))
	assert.Equal(t, CloseProtocol, f1.closeReason())
}

func TestAnaDestsFailureMarker(t *testing.T) {
	e := newEnv()
	s1, f1 := e.openSocket(t, "sri-1", model.EndpointSite)

	e.hub.HandleMessage(s1, []byte(`{"t":"anaDests","d":{"fen":"garbage","path":""}}`))
	assert.Equal(t, []string{`{"t":"destsFailure"}`}, f1.sent())
	assert.Empty(t, f1.closeReason())
}

func TestConnectionCountSaturates(t *testing.T) {
	e := newEnv()
	s1, _ := e.openSocket(t, "sri-1", model.EndpointSite)
	e.hub.Unregister(s1)
	// relaxed accounting may underflow; reads must saturate
	e.hub.connections.Add(-5)
	assert.Equal(t, 0, e.hub.ConnectionCount())
}

func mustGame(t *testing.T, s string) model.GameID {
	t.Helper()
	g, err := model.NewGameID(s)
	require.NoError(t, err)
	return g
}
