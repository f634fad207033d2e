package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// LocalTransport runs the engine on an in-process worker goroutine. Every
// envelope and reply is copied through JSON so neither side shares memory
// with the other.
type LocalTransport struct {
	server  *Server
	replies *queue[Reply]
	out     chan Reply
	cancel  context.CancelFunc
	stopped chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport starts a worker serving h.
func NewLocalTransport(h Handler, log *slog.Logger) *LocalTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &LocalTransport{
		replies: newQueue[Reply](),
		out:     make(chan Reply),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	t.server = NewServer(h, t.enqueue, log)
	go func() {
		defer close(t.stopped)
		_ = t.server.Run(ctx)
	}()
	go t.pump()
	return t
}

// Send copies env to the worker. It never waits for the engine.
func (t *LocalTransport) Send(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var cp Envelope
	if err := roundTrip(env, &cp); err != nil {
		return err
	}
	t.server.Submit(cp)
	return nil
}

func (t *LocalTransport) Replies() <-chan Reply { return t.out }

// Close stops the worker. Replies already produced are still delivered
// before the reply channel closes.
func (t *LocalTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.cancel()
		t.server.Close()
		<-t.stopped
		t.replies.close()
	})
	return nil
}

func (t *LocalTransport) enqueue(r Reply) {
	var cp Reply
	if err := roundTrip(r, &cp); err != nil {
		droppedReplies.WithLabelValues("encode").Inc()
		return
	}
	t.replies.push(cp)
}

func (t *LocalTransport) pump() {
	defer close(t.out)
	for {
		r, ok := t.replies.pop(context.Background())
		if !ok {
			return
		}
		t.out <- r
	}
}

func roundTrip(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("compute: encode message: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("compute: decode message: %w", err)
	}
	return nil
}
