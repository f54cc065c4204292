package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesshub/gateway/internal/hub"
	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/model"
	"github.com/chesshub/gateway/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	users map[string]string
}

func (f *fakeStore) User(_ context.Context, sessionID string) (model.UserID, error) {
	raw, ok := f.users[sessionID]
	if !ok {
		return "", session.ErrUnknownSession
	}
	return model.NewUserID(raw)
}

type testGateway struct {
	srv    *Server
	ts     *httptest.Server
	cancel context.CancelFunc
	lines  chan string
}

func newTestGateway(t *testing.T, cfg Config, users map[string]string) *testGateway {
	t.Helper()

	lines := make(chan string, 64)
	h := hub.New(func(msg ipc.LilaIn) { lines <- msg.Line() })
	auth := session.NewAuthenticator(&fakeStore{users: users}, h.SettleAuth)

	ctx, cancel := context.WithCancel(context.Background())
	go auth.Run(ctx)

	srv := New(cfg, h, auth)
	ts := httptest.NewServer(srv.Router())

	gw := &testGateway{srv: srv, ts: ts, cancel: cancel, lines: lines}
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return gw
}

func (g *testGateway) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(g.ts.URL, "http") + path
}

func (g *testGateway) expectLine(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-g.lines:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never saw %q", want)
	}
}

func defaultConfig() Config {
	return Config{Bind: "127.0.0.1:0", MaxConnections: 100, RateLimiterCredits: 40}
}

func dial(t *testing.T, gw *testGateway, path string, header map[string]string) *websocket.Conn {
	t.Helper()
	var hdr = map[string][]string{}
	for k, v := range header {
		hdr[k] = []string{v}
	}
	conn, _, err := websocket.DefaultDialer.Dial(gw.wsURL(path), hdr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func TestHandshakeRequiresSri(t *testing.T) {
	gw := newTestGateway(t, defaultConfig(), nil)

	_, resp, err := websocket.DefaultDialer.Dial(gw.wsURL("/socket/v4"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestPingPong(t *testing.T) {
	gw := newTestGateway(t, defaultConfig(), nil)
	conn := dial(t, gw, "/socket/v4?sri=testsri00001", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"p"}`)))
	assert.Equal(t, "0", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`null`)))
	assert.Equal(t, "0", readText(t, conn))
}

func TestAuthenticatedConnect(t *testing.T) {
	gw := newTestGateway(t, defaultConfig(), map[string]string{"sess-1": "alice"})
	dial(t, gw, "/socket/v4?sri=testsri00001", map[string]string{
		"Cookie": "lila2=prefix-sessionId=sess-1",
	})

	gw.expectLine(t, "connect alice")
}

func TestWatchPublishAndFanOut(t *testing.T) {
	gw := newTestGateway(t, defaultConfig(), nil)
	conn := dial(t, gw, "/socket/v4?sri=testsri00001", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"startWatching","d":"abcdefgh"}`)))
	gw.expectLine(t, "watch abcdefgh")

	gw.srv.hub.HandleLilaOut(ipc.Move{
		Game:    mustGame(t, "abcdefgh"),
		LastUci: "e2e4",
		Fen:     "fenfields here",
	})
	assert.Contains(t, readText(t, conn), `"id":"abcdefgh"`)
}

func TestOversizeFrameClosesSocket(t *testing.T) {
	gw := newTestGateway(t, defaultConfig(), nil)
	conn := dial(t, gw, "/socket/v4?sri=testsri00001", nil)

	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, big))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig),
		"want 1009 close, got %v", err)
}

func TestUnknownTagClosesWithProtocolError(t *testing.T) {
	gw := newTestGateway(t, defaultConfig(), nil)
	conn := dial(t, gw, "/socket/v4?sri=testsri00001", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"nosuch"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError),
		"want 1002 close, got %v", err)
}

func TestConnectionCapRefuses(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxConnections = 1
	gw := newTestGateway(t, cfg, nil)

	dial(t, gw, "/socket/v4?sri=testsri00001", nil)

	assert.Eventually(t, func() bool {
		_, resp, err := websocket.DefaultDialer.Dial(gw.wsURL("/socket/v4?sri=testsri00002"), nil)
		return err != nil && resp != nil && resp.StatusCode == 503
	}, 2*time.Second, 50*time.Millisecond)
}

func TestSessionIDFromCookie(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"prefixed", "3aa8cc8133d6b8-sessionId=abc123", "abc123"},
		{"unprefixed", "sessionId=abc123", "abc123"},
		{"multiple fields", "sig-sessionId=abc123&userId=x", "abc123"},
		{"url encoded", "sig-sessionId=a%2Bb", "a+b"},
		{"missing field", "sig-other=1", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionIDFromCookie(tt.value))
		})
	}
}

func TestIPLimiterBudget(t *testing.T) {
	rl := newIPLimiter(40)

	allowed := 0
	for i := 0; i < 100; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	// 40 credits plus at most a sliver of refill during the loop
	assert.GreaterOrEqual(t, allowed, 40)
	assert.LessOrEqual(t, allowed, 42)

	// other IPs are unaffected
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestIPLimiterPurge(t *testing.T) {
	rl := newIPLimiter(40)
	rl.Allow("10.0.0.1")
	require.Equal(t, 1, rl.Size())

	rl.Purge(time.Nanosecond)
	time.Sleep(time.Millisecond)
	rl.Purge(time.Nanosecond)
	assert.Equal(t, 0, rl.Size())
}

func mustGame(t *testing.T, s string) model.GameID {
	t.Helper()
	g, err := model.NewGameID(s)
	require.NoError(t, err)
	return g
}
