package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisTransport is the default bus transport: one plain pub/sub channel
// per direction.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport connects to redis and verifies the connection. A
// failure here is fatal for the gateway.
func NewRedisTransport(ctx context.Context, uri string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisTransport{client: client}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, line string) error {
	return t.client.Publish(ctx, ChannelUp, line).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, handle func(line string)) error {
	sub := t.client.Subscribe(ctx, ChannelDown)
	defer sub.Close()

	// force the SUBSCRIBE round trip so connection errors surface here
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			handle(msg.Payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
