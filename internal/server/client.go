package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chesshub/gateway/internal/hub"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/metrics"
)

const (
	// sendBufferSize bounds the per-connection outbound queue. A full
	// buffer marks the client slow; its frames are dropped.
	sendBufferSize = 256

	// idleTimeout closes sockets with no inbound frames.
	idleTimeout = 15 * time.Second

	writeTimeout = 10 * time.Second

	// frames above maxFrameSize close the socket; those above
	// logFrameSize are logged first.
	maxFrameSize = 1024
	logFrameSize = 512
)

// client is one live WebSocket connection. It implements hub.Sender:
// the hub holds it in the shared indexes and fans frames into the send
// buffer, which writePump drains in order.
type client struct {
	id   uint64
	conn *websocket.Conn
	srv  *Server

	send      chan string
	closeOnce sync.Once
	closing   chan struct{}
	reason    string
}

func newClient(id uint64, conn *websocket.Conn, srv *Server) *client {
	return &client{
		id:      id,
		conn:    conn,
		srv:     srv,
		send:    make(chan string, sendBufferSize),
		closing: make(chan struct{}),
	}
}

// Send enqueues one frame without blocking. False means the buffer is
// full or the connection is closing; the frame is lost.
func (c *client) Send(text string) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- text:
		return true
	default:
		return false
	}
}

// Close requests an orderly close with the given reason. Safe to call
// from any goroutine, any number of times.
func (c *client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closing)
	})
}

func (c *client) Token() uint64 { return c.id }

func closeCode(reason string) int {
	switch reason {
	case hub.CloseProtocol:
		return websocket.CloseProtocolError
	case hub.CloseSize:
		return websocket.CloseMessageTooBig
	case hub.CloseAway:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// writePump drains the send buffer into the connection, preserving
// per-socket frame order. It owns all writes to the connection.
func (c *client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case text := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				c.Close(hub.CloseNormal)
				return
			}
			metrics.FramesOut.Inc()

		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			msg := websocket.FormatCloseMessage(closeCode(c.reason), c.reason)
			c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

// readPump consumes inbound frames: size guard, per-IP rate limit, idle
// timeout refresh, then dispatch. It runs on the connection goroutine
// and never blocks on external services.
func (c *client) readPump(us *hub.UserSocket) {
	// writePump owns the connection teardown so the close frame gets out
	log := logger.WebSocket()
	defer func() {
		c.Close(hub.CloseNormal)
		c.srv.dropClient(c, us)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))

	loggedRateDrop := false
	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.Close(hub.CloseSize)
			} else if isTimeout(err) {
				c.Close(hub.CloseAway)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// every inbound frame refreshes the idle timer
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		metrics.FramesIn.Inc()

		if len(message) > logFrameSize {
			log.Info().Uint64("socket", c.id).Int("size", len(message)).Msg("Large frame")
		}

		if !c.srv.limiter.Allow(us.IP) {
			metrics.RateLimited.Inc()
			if !loggedRateDrop {
				loggedRateDrop = true
				log.Info().Uint64("socket", c.id).Str("ip", us.IP).Msg("Rate limited, dropping frames")
			}
			continue
		}

		c.srv.hub.HandleMessage(us, message)

		select {
		case <-c.closing:
			return
		default:
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
