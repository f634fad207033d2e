package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Transport moves envelopes to the engine and replies back.
type Transport interface {
	// Send delivers one envelope. It must not block on the engine's work.
	Send(ctx context.Context, env Envelope) error
	// Replies is closed when the transport shuts down.
	Replies() <-chan Reply
	Close() error
}

// ProgressFunc receives non-terminal progress for a request.
type ProgressFunc func(Progress)

// FrameFunc receives stream frames together with the session token the
// stream was opened with.
type FrameFunc func(session uint64, f Frame)

// CallOption configures a Request or Stream.
type CallOption func(*callOptions)

type callOptions struct {
	session  uint64
	progress ProgressFunc
}

// WithSession tags the call with a session token.
func WithSession(token uint64) CallOption {
	return func(o *callOptions) { o.session = token }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) CallOption {
	return func(o *callOptions) { o.progress = fn }
}

// pending is the client-side record of an outstanding call.
type pending struct {
	kind     Kind
	started  time.Time
	progress ProgressFunc
	result   chan Reply // one-shot calls
	handle   *Handle    // streams
	onFrame  FrameFunc
}

// Client issues requests over a Transport. Callbacks run on the client's
// dispatch goroutine and must not wait on other calls of the same client.
type Client struct {
	transport Transport
	log       *slog.Logger

	ids    atomic.Uint64
	tokens atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]*pending
	channels map[string]*Handle
	closed   bool

	dispatched chan struct{}
}

// NewClient starts a client on the given transport.
func NewClient(t Transport, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		transport:  t,
		log:        log.With("component", "compute"),
		pending:    make(map[uint64]*pending),
		channels:   make(map[string]*Handle),
		dispatched: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// NewSession returns a fresh, strictly increasing session token.
func (c *Client) NewSession() uint64 {
	return c.tokens.Add(1)
}

// Request sends a one-shot request and waits for its terminal reply. If ctx
// ends first a cancel is sent to the engine and ctx.Err() is returned.
func (c *Client) Request(ctx context.Context, req Request, opts ...CallOption) (json.RawMessage, error) {
	o := applyOptions(opts)
	p := &pending{
		kind:     req.Kind(),
		started:  time.Now(),
		progress: o.progress,
		result:   make(chan Reply, 1),
	}
	id, err := c.register(p)
	if err != nil {
		return nil, err
	}
	env, err := newEnvelope(id, o.session, req)
	if err != nil {
		c.unregister(id)
		return nil, err
	}
	if err := c.transport.Send(ctx, env); err != nil {
		c.unregister(id)
		requestsTotal.WithLabelValues(string(p.kind), "send_error").Inc()
		return nil, fmt.Errorf("compute: send %s: %w", p.kind, err)
	}

	select {
	case r, ok := <-p.result:
		if !ok {
			return nil, ErrClosed
		}
		requestDuration.WithLabelValues(string(p.kind)).Observe(time.Since(p.started).Seconds())
		if r.Error != "" {
			requestsTotal.WithLabelValues(string(p.kind), "engine_error").Inc()
			return nil, &EngineError{Kind: p.kind, Message: r.Error}
		}
		requestsTotal.WithLabelValues(string(p.kind), "ok").Inc()
		return r.Payload, nil
	case <-ctx.Done():
		if c.unregister(id) {
			c.sendCancel(id, o.session)
		}
		requestsTotal.WithLabelValues(string(p.kind), "cancelled").Inc()
		return nil, ctx.Err()
	}
}

// Fetch is Request with the terminal payload decoded into T.
func Fetch[T any](ctx context.Context, c *Client, req Request, opts ...CallOption) (T, error) {
	var out T
	raw, err := c.Request(ctx, req, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("compute: decode %s reply: %w", req.Kind(), err)
	}
	return out, nil
}

// Stream opens a frame channel. If channel already has an open stream it
// is stopped first, which sends its cleanup message before the new request
// goes out. The new stream takes the channel slot in the same critical
// section that releases the old one, so concurrent calls leave exactly one
// live stream per channel.
func (c *Client) Stream(ctx context.Context, channel string, req Request, onFrame FrameFunc, opts ...CallOption) (*Handle, error) {
	o := applyOptions(opts)

	h := &Handle{channel: channel, session: o.session, client: c, done: make(chan struct{}), kind: req.Kind()}
	p := &pending{
		kind:    req.Kind(),
		started: time.Now(),
		handle:  h,
		onFrame: onFrame,
	}
	id, old, err := c.registerStream(p, channel)
	if err != nil {
		return nil, err
	}
	if old != nil {
		c.log.Debug("replacing open channel", "channel", channel, "old_id", old.id)
		old.Stop()
	}

	env, err := newEnvelope(id, o.session, req)
	if err == nil {
		err = c.transport.Send(ctx, env)
	}
	if err != nil {
		c.unregister(id)
		h.finish(err)
		requestsTotal.WithLabelValues(string(p.kind), "send_error").Inc()
		return nil, fmt.Errorf("compute: open %s stream: %w", p.kind, err)
	}
	if h.stopped.Load() {
		// A later Stream on the same channel replaced this one while it
		// was being sent; make sure the engine drops it too.
		c.sendCancel(id, o.session)
	}
	return h, nil
}

// Close shuts the transport down. Outstanding calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.transport.Close()
	<-c.dispatched
	return err
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c *Client) register(p *pending) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	id := c.ids.Add(1)
	c.pending[id] = p
	return id, nil
}

// registerStream registers p and installs its handle as the open stream of
// channel, returning the stream it replaced.
func (c *Client) registerStream(p *pending, channel string) (uint64, *Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrClosed
	}
	id := c.ids.Add(1)
	p.handle.id = id
	c.pending[id] = p
	if channel == "" {
		return id, nil, nil
	}
	old := c.channels[channel]
	c.channels[channel] = p.handle
	return id, old, nil
}

// unregister removes a pending call and reports whether it was present.
func (c *Client) unregister(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	if p.handle != nil && c.channels[p.handle.channel] == p.handle {
		delete(c.channels, p.handle.channel)
	}
	return true
}

func (c *Client) sendCancel(target, session uint64) {
	env, err := newEnvelope(c.ids.Add(1), session, Cancel{Target: target})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.transport.Send(ctx, env); err != nil {
		c.log.Debug("cancel not delivered", "target", target, "error", err)
	}
}

// dispatch delivers replies in arrival order until the transport closes.
func (c *Client) dispatch() {
	defer close(c.dispatched)
	for r := range c.transport.Replies() {
		c.deliver(r)
	}

	c.mu.Lock()
	c.closed = true
	orphans := c.pending
	c.pending = make(map[uint64]*pending)
	c.channels = make(map[string]*Handle)
	c.mu.Unlock()
	for _, p := range orphans {
		if p.handle != nil {
			p.handle.finish(ErrClosed)
		} else {
			close(p.result)
		}
	}
}

func (c *Client) deliver(r Reply) {
	c.mu.Lock()
	p := c.pending[r.ID]
	c.mu.Unlock()
	if p == nil {
		droppedReplies.WithLabelValues("unknown_id").Inc()
		c.log.Debug("dropping reply for unknown request", "id", r.ID)
		return
	}
	if p.handle != nil {
		c.deliverFrame(p, r)
		return
	}

	if r.Progress != nil && !r.Done {
		if p.progress != nil {
			p.progress(*r.Progress)
		}
		return
	}
	if !r.Done {
		droppedReplies.WithLabelValues("non_terminal").Inc()
		c.log.Debug("dropping non-terminal reply without progress", "id", r.ID, "kind", p.kind)
		return
	}
	if c.unregister(r.ID) {
		p.result <- r
	}
}

func (c *Client) deliverFrame(p *pending, r Reply) {
	h := p.handle
	if h.stopped.Load() {
		droppedReplies.WithLabelValues("stopped").Inc()
		return
	}
	if r.Error != "" {
		c.unregister(r.ID)
		requestsTotal.WithLabelValues(string(p.kind), "engine_error").Inc()
		h.finish(&EngineError{Kind: p.kind, Message: r.Error})
		return
	}

	if r.Progress != nil && p.onFrame != nil {
		streamFrames.WithLabelValues(string(FrameProgress)).Inc()
		p.onFrame(r.Session, ProgressFrame{Value: r.Progress.Value, Message: r.Progress.Message})
	}
	if len(r.Payload) > 0 {
		f, err := DecodeFrame(r.Payload)
		switch {
		case err != nil:
			droppedReplies.WithLabelValues("bad_frame").Inc()
			c.log.Warn("dropping undecodable frame", "id", r.ID, "error", err)
		case f == nil:
			r.Done = true
		case p.onFrame != nil:
			streamFrames.WithLabelValues(string(f.FrameType())).Inc()
			p.onFrame(r.Session, f)
		}
	}
	if r.Done {
		c.unregister(r.ID)
		requestDuration.WithLabelValues(string(p.kind)).Observe(time.Since(p.started).Seconds())
		requestsTotal.WithLabelValues(string(p.kind), "ok").Inc()
		h.finish(nil)
	}
}

// ---------------------------------------------------------------------------
// Handle
// ---------------------------------------------------------------------------

// Handle controls an open stream.
type Handle struct {
	id      uint64
	kind    Kind
	channel string
	session uint64
	client  *Client

	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
	err     error
}

// Session returns the token the stream was opened with.
func (h *Handle) Session() uint64 { return h.session }

// Done is closed when the stream ends for any reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why the stream ended: nil when the engine closed it,
// ErrStopped after Stop, an *EngineError, or ErrClosed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the stream ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the stream locally and sends a best-effort cancel. Frames the
// engine already had in flight are dropped on arrival.
func (h *Handle) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	if h.client.unregister(h.id) {
		h.client.sendCancel(h.id, h.session)
		requestsTotal.WithLabelValues(string(h.kind), "stopped").Inc()
	}
	h.finish(ErrStopped)
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}
