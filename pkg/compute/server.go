package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ---------------------------------------------------------------------------
// Engine side
// ---------------------------------------------------------------------------

// Handler serves requests inside the geometry engine. Handle runs on the
// engine's single worker goroutine; the call is closed when it returns.
type Handler interface {
	Handle(call *Call)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(call *Call)

func (f HandlerFunc) Handle(call *Call) { f(call) }

// Call is one request being served by a Handler.
type Call struct {
	Envelope

	ctx    context.Context
	cancel context.CancelFunc
	out    func(Reply)

	mu     sync.Mutex
	closed bool
}

// Context is cancelled when the requester cancels or the server stops.
func (c *Call) Context() context.Context { return c.ctx }

// Request decodes the typed request carried by the call.
func (c *Call) Request() (Request, error) { return DecodeRequest(c.Envelope) }

// Progress emits a non-terminal progress envelope.
func (c *Call) Progress(value float64, message string) {
	_ = c.emit(Reply{Progress: &Progress{Value: value, Message: message}})
}

// Frame emits one stream frame. It returns an error once the call has been
// cancelled or closed, which handlers use to stop producing.
func (c *Call) Frame(f Frame) error {
	raw, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return c.emit(Reply{Payload: raw})
}

// Result emits the terminal payload.
func (c *Call) Result(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		err = fmt.Errorf("encode %s result: %w", c.Kind, err)
		c.Fail(err)
		return err
	}
	return c.emit(Reply{Payload: raw, Done: true})
}

// Fail emits a terminal error.
func (c *Call) Fail(err error) {
	_ = c.emit(Reply{Error: err.Error(), Done: true})
}

// Close emits the terminal "channel closed" reply if nothing terminal was
// sent yet.
func (c *Call) Close() {
	_ = c.emit(Reply{Done: true})
}

func (c *Call) emit(r Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrStopped
	}
	if err := c.ctx.Err(); err != nil {
		return err
	}
	r.ID, r.Session = c.ID, c.Session
	if r.Done {
		c.closed = true
	}
	c.out(r)
	return nil
}

// Server runs a Handler over a queue of envelopes, one call at a time.
// Cancel envelopes bypass the queue.
type Server struct {
	handler Handler
	out     func(Reply)
	log     *slog.Logger
	in      *queue[Envelope]

	mu      sync.Mutex
	current *Call
}

// NewServer returns a server that writes replies through out. out must not
// block for long; it is called from the worker goroutine.
func NewServer(h Handler, out func(Reply), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		handler: h,
		out:     out,
		log:     log.With("component", "engine"),
		in:      newQueue[Envelope](),
	}
}

// Submit queues an envelope for the worker, or applies it immediately if it
// is a cancel notice.
func (s *Server) Submit(env Envelope) {
	if env.Kind == KindCancel {
		s.cancel(env)
		return
	}
	if !s.in.push(env) {
		s.log.Debug("dropping envelope after close", "id", env.ID, "kind", env.Kind)
	}
}

// Run serves queued calls until ctx is done or Close is called.
func (s *Server) Run(ctx context.Context) error {
	for {
		env, ok := s.in.pop(ctx)
		if !ok {
			return nil
		}
		s.serve(ctx, env)
	}
}

// Close stops accepting envelopes. Run returns after draining the queue.
func (s *Server) Close() {
	s.in.close()
}

func (s *Server) cancel(env Envelope) {
	req, err := DecodeRequest(env)
	if err != nil {
		s.log.Warn("bad cancel notice", "id", env.ID, "error", err)
		return
	}
	target := req.(*Cancel).Target

	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil && cur.ID == target {
		s.log.Debug("cancelling running call", "id", target, "kind", cur.Kind)
		cur.cancel()
		return
	}
	if s.in.remove(func(e Envelope) bool { return e.ID == target }) {
		s.log.Debug("cancelled queued call", "id", target)
	}
}

func (s *Server) serve(ctx context.Context, env Envelope) {
	cctx, cancel := context.WithCancel(ctx)
	call := &Call{Envelope: env, ctx: cctx, cancel: cancel, out: s.out}

	s.mu.Lock()
	s.current = call
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", "id", env.ID, "kind", env.Kind, "panic", r)
			call.Fail(fmt.Errorf("internal error: %v", r))
		}
		call.Close()
		cancel()
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	s.handler.Handle(call)
}
