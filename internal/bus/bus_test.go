package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesshub/gateway/internal/ipc"
	"github.com/chesshub/gateway/internal/model"
)

func TestQueuePushNeverBlocks(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10000; i++ {
		q.Push("line")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestQueueWaitReturnsBatch(t *testing.T) {
	q := NewQueue()
	q.Push("a")
	q.Push("b")

	batch, ok := q.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, batch)
	assert.Equal(t, 0, q.Len())
}

func TestQueueWaitWakesOnPush(t *testing.T) {
	q := NewQueue()
	done := make(chan []string, 1)
	go func() {
		batch, _ := q.Wait(context.Background())
		done <- batch
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("late")

	select {
	case batch := <-done:
		assert.Equal(t, []string{"late"}, batch)
	case <-time.After(time.Second):
		t.Fatal("consumer never woke")
	}
}

func TestQueueWaitDrainsOnCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q.Push("last")
	batch, ok := q.Wait(ctx)
	assert.True(t, ok)
	assert.Equal(t, []string{"last"}, batch)

	_, ok = q.Wait(ctx)
	assert.False(t, ok)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push("x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Len())
}

// fakeTransport records published lines and replays scripted input.
type fakeTransport struct {
	mu        sync.Mutex
	published []string
	incoming  chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan string, 16)}
}

func (f *fakeTransport) Publish(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, line)
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, handle func(string)) error {
	for {
		select {
		case line := <-f.incoming:
			handle(line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func TestBridgePublishesQueuedLines(t *testing.T) {
	transport := newFakeTransport()
	bridge := NewBridge(transport, func(ipc.LilaOut) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	bridge.Publish(ipc.DisconnectAll{})
	uid, _ := model.NewUserID("alice")
	bridge.Publish(ipc.Connect{User: uid})

	assert.Eventually(t, func() bool {
		lines := transport.lines()
		return len(lines) == 2 && lines[0] == "disconnect/all" && lines[1] == "connect alice"
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeDeliversParsedMessages(t *testing.T) {
	transport := newFakeTransport()
	received := make(chan ipc.LilaOut, 4)
	bridge := NewBridge(transport, func(msg ipc.LilaOut) { received <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	transport.incoming <- "mlat 42"
	transport.incoming <- "this is not a protocol line"
	transport.incoming <- "tell/all {\"t\":\"reload\"}"

	msg := <-received
	assert.Equal(t, ipc.MoveLatency{Millis: 42}, msg)

	// the unparseable line is dropped without killing the subscription
	msg = <-received
	assert.Equal(t, ipc.TellAll{Payload: `{"t":"reload"}`}, msg)
}
