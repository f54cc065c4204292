// Package bus bridges the gateway and the main server over a pub/sub
// transport.
//
// Two channels are used: the gateway publishes protocol lines to the up
// channel and consumes the down channel. Publishing is decoupled from the
// callers through an unbounded queue so that enqueueing never blocks a
// connection handler. Consumption runs on its own worker; delivery into
// the dispatch engine is synchronous within that worker.
package bus

import (
	"context"
	"time"

	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/logger"
	"github.com/chesshub/gateway/internal/metrics"
)

const (
	// ChannelUp carries gateway -> main server lines.
	ChannelUp = "lila-in"
	// ChannelDown carries main server -> gateway lines.
	ChannelDown = "lila-out"
)

// Transport is a raw line-oriented pub/sub connection.
type Transport interface {
	// Publish sends one line on the up channel.
	Publish(ctx context.Context, line string) error
	// Subscribe consumes the down channel, invoking handle for every
	// received line. It blocks until the context is done or the
	// subscription fails.
	Subscribe(ctx context.Context, handle func(line string)) error
	// Close releases the connection.
	Close() error
}

// Bridge pumps the outbound queue into the transport and parsed inbound
// messages into the dispatch engine.
type Bridge struct {
	transport Transport
	queue     *Queue
	deliver   func(ipc.LilaOut)
}

// NewBridge wires a transport to a message consumer.
func NewBridge(transport Transport, deliver func(ipc.LilaOut)) *Bridge {
	return &Bridge{
		transport: transport,
		queue:     NewQueue(),
		deliver:   deliver,
	}
}

// Publish enqueues a message for the main server. Never blocks.
func (b *Bridge) Publish(msg ipc.LilaIn) {
	b.queue.Push(msg.Line())
}

// Run starts the publish and subscribe workers and blocks until the
// context is done. The subscription reconnects with backoff after
// transient failures; the initial connection is the caller's concern.
func (b *Bridge) Run(ctx context.Context) {
	log := logger.Bus()

	go func() {
		for {
			lines, ok := b.queue.Wait(ctx)
			if !ok {
				return
			}
			for _, line := range lines {
				if err := b.transport.Publish(ctx, line); err != nil {
					log.Warn().Err(err).Str("line", line).Msg("Publish failed")
					continue
				}
				metrics.BusOut.Inc()
			}
		}
	}()

	for {
		err := b.transport.Subscribe(ctx, b.handleLine)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("Subscription lost, reconnecting")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleLine(line string) {
	metrics.BusIn.Inc()
	msg, err := ipc.Parse(line)
	if err != nil {
		logger.Bus().Warn().Str("line", line).Msg("Dropping unparseable line")
		return
	}
	b.deliver(msg)
}
