package bus

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NatsTransport is the alternative bus transport, selected when the
// gateway is configured with a NATS URI. Subject names match the redis
// channel names.
type NatsTransport struct {
	conn *nats.Conn
}

// NewNatsTransport connects to the NATS server. A failure here is fatal
// for the gateway.
func NewNatsTransport(uri, name string) (*NatsTransport, error) {
	conn, err := nats.Connect(uri,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NatsTransport{conn: conn}, nil
}

func (t *NatsTransport) Publish(_ context.Context, line string) error {
	return t.conn.Publish(ChannelUp, []byte(line))
}

func (t *NatsTransport) Subscribe(ctx context.Context, handle func(line string)) error {
	sub, err := t.conn.Subscribe(ChannelDown, func(msg *nats.Msg) {
		handle(string(msg.Data))
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}

func (t *NatsTransport) Close() error {
	t.conn.Close()
	return nil
}
