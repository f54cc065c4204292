// Package server accepts WebSocket connections, parses the handshake
// and hands each socket to the dispatch engine.
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chesshub/gateway/internal/hub"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/metrics"
	"github.com/chesshub/gateway/internal/model"
	"github.com/chesshub/gateway/internal/session"
)

const sessionCookie = "lila2"

// limiterMaxIdle is how long an IP may go unseen before its rate
// limiter state is purged on the next mlat tick.
const limiterMaxIdle = 60 * time.Second

// Config is the server's slice of the gateway configuration.
type Config struct {
	Bind               string
	MaxConnections     int
	RateLimiterCredits int
}

// Server terminates WebSocket connections.
type Server struct {
	cfg     Config
	hub     *hub.Hub
	auth    *session.Authenticator
	limiter *ipLimiter

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uint64]*client

	nextSocketID atomic.Uint64
	started      time.Time

	httpServer *http.Server
}

// New wires the server to the dispatch engine and session
// authenticator, installing the hub's broadcast and limiter-GC hooks.
func New(cfg Config, h *hub.Hub, auth *session.Authenticator) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     h,
		auth:    auth,
		limiter: newIPLimiter(cfg.RateLimiterCredits),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[uint64]*client),
		started: time.Now(),
	}
	h.SetBroadcast(s.Broadcast)
	h.SetMlatTick(func() { s.limiter.Purge(limiterMaxIdle) })
	return s
}

// Router builds the gin engine with the socket, status and metrics
// routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/socket/v4", s.handleSocket)
	router.GET("/lobby/socket/v4", s.handleSocket)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// Run serves until the context is done, then closes every socket with a
// normal close.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Bind,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.mu.RLock()
	for _, c := range s.clients {
		c.Close(hub.CloseNormal)
	}
	s.mu.RUnlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Broadcast sends one frame to every open socket.
func (s *Server) Broadcast(text string) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(text) {
			logger.WebSocket().Warn().Uint64("socket", c.id).Msg("Send failed during broadcast")
		}
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": s.hub.ConnectionCount(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSocket(c *gin.Context) {
	log := logger.WebSocket()

	s.mu.RLock()
	open := len(s.clients)
	s.mu.RUnlock()
	if open >= s.cfg.MaxConnections {
		log.Warn().Int("open", open).Msg("Connection cap reached, refusing")
		c.String(http.StatusServiceUnavailable, "connection limit reached")
		return
	}

	endpoint, err := model.EndpointFromPath(c.Request.URL.Path)
	if err != nil {
		c.String(http.StatusNotFound, "no such socket path")
		return
	}

	sri, err := model.NewSri(c.Query("sri"))
	if err != nil {
		c.String(http.StatusBadRequest, "sri required")
		return
	}

	var flag *model.Flag
	if rawFlag := c.Query("flag"); rawFlag != "" {
		f, err := model.NewFlag(rawFlag)
		if err != nil {
			c.String(http.StatusBadRequest, "bad flag")
			return
		}
		flag = &f
	}

	sessionID := ""
	if cookie, err := c.Request.Cookie(sessionCookie); err == nil {
		sessionID = sessionIDFromCookie(cookie.Value)
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	id := s.nextSocketID.Add(1)
	client := newClient(id, conn, s)
	us := hub.NewUserSocket(id, client, sri, endpoint, flag, c.ClientIP(), c.Request.UserAgent())

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()

	s.hub.Register(us)

	if sessionID != "" && s.hub.RequestAuth(us) {
		s.auth.Enqueue(session.Request{SocketID: id, SessionID: sessionID})
	}

	log.Debug().
		Uint64("socket", id).
		Str("sri", sri.String()).
		Str("endpoint", endpoint.String()).
		Str("ip", us.IP).
		Msg("Socket open")

	go client.writePump()
	go client.readPump(us)
}

// dropClient runs once per socket when its readPump exits.
func (s *Server) dropClient(c *client, us *hub.UserSocket) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.hub.Unregister(us)
	logger.WebSocket().Debug().Uint64("socket", c.id).Msg("Socket closed")
}

// sessionIDFromCookie extracts the sessionId field from the session
// cookie: an optional prefix up to the first '-', then a URL-encoded
// key/value payload.
func sessionIDFromCookie(value string) string {
	payload := value
	if i := strings.IndexByte(value, '-'); i >= 0 {
		payload = value[i+1:]
	}
	values, err := url.ParseQuery(payload)
	if err != nil {
		return ""
	}
	return values.Get("sessionId")
}
