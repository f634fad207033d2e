package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// Requester is the part of compute.Client the modes use.
type Requester interface {
	Request(ctx context.Context, req compute.Request, opts ...compute.CallOption) (json.RawMessage, error)
	NewSession() uint64
}

var _ Requester = (*compute.Client)(nil)

// Surface is the part of the scene a session draws on.
type Surface interface {
	scene.Picker
	scene.Highlighter
	scene.Notifier
}

// PartLister answers which parts exist.
type PartLister interface {
	Has(id part.ID) bool
	List() []part.Part
}

// Saver persists a single operation record.
type Saver interface {
	SaveOperation(ctx context.Context, op *ops.Operation) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, op *ops.Operation) error

func (f SaverFunc) SaveOperation(ctx context.Context, op *ops.Operation) error { return f(ctx, op) }

// Settings are the user preferences the modes read.
type Settings struct {
	AngleTolerance   float64
	SingleLayerOnly  bool
	IndividualSizing bool
	Indexed          bool
}

// Env bundles a manager's collaborators. Saver may be nil.
type Env struct {
	Engine   Requester
	Scene    Surface
	Parts    PartLister
	Saver    Saver
	Settings Settings
}

// Manager owns the single active selection session.
type Manager struct {
	// startMu serializes Start so the end of one session always precedes
	// the start of the next.
	startMu sync.Mutex

	mu       sync.Mutex
	active   *Session
	pipeline *ops.Pipeline
	env      Env
	log      *slog.Logger
}

// NewManager returns a manager and registers it as the pipeline's session
// canceller.
func NewManager(p *ops.Pipeline, env Env, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{pipeline: p, env: env, log: log.With("component", "selection")}
	p.OnRemove(m.EndFor)
	return m
}

// Start begins a session for op in the mode its type picks with.
func (m *Manager) Start(ctx context.Context, op *ops.Operation) (*Session, error) {
	k, ok := KindFor(op.Type.SetKey())
	if !ok {
		return nil, fmt.Errorf("selection: %s operations have no geometry to pick", op.Type)
	}
	return m.StartMode(ctx, op, k)
}

// StartMode begins a session for op in mode k. Any active session ends
// first. The mode's analysis runs in the background; Session.Ready is
// closed when it has finished or been dropped.
func (m *Manager) StartMode(ctx context.Context, op *ops.Operation, k Kind) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.pipeline.Find(op.ID) != op {
		return nil, fmt.Errorf("selection: operation %s is not in the pipeline", op.ID)
	}
	m.End()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		mgr:    m,
		op:     op,
		key:    k.SetKey(),
		mode:   newMode(k),
		token:  m.env.Engine.NewSession(),
		ctx:    sctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	s.log = m.log.With("op", op.ID, "mode", k, "token", s.token)

	m.mu.Lock()
	m.active = s
	m.mu.Unlock()

	s.mu.Lock()
	s.redraw()
	s.mu.Unlock()

	s.log.Debug("selection session started")
	go s.analyze()
	return s, nil
}

// Active returns the current session or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// End finishes the active session, if any.
func (m *Manager) End() {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()
	if s != nil {
		s.Done()
	}
}

// EndFor finishes the active session if it is bound to operation id.
func (m *Manager) EndFor(id uuid.UUID) {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s != nil && s.op.ID == id {
		s.Done()
	}
}

// State describes the active session for pipeline rendering.
func (m *Manager) State() ops.SessionState {
	s := m.Active()
	if s == nil {
		return ops.SessionState{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ops.SessionState{OpID: s.op.ID, Mode: s.mode.Kind().String(), Hover: s.hover}
}

func (m *Manager) isCurrent(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == s
}

func (m *Manager) detach(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// fetch issues req on the session's token and decodes the terminal reply.
func fetch[T any](ctx context.Context, s *Session, req compute.Request, opts ...compute.CallOption) (T, error) {
	var out T
	opts = append([]compute.CallOption{compute.WithSession(s.token)}, opts...)
	raw, err := s.mgr.env.Engine.Request(ctx, req, opts...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s reply: %w", req.Kind(), err)
	}
	return out, nil
}
