package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// hoverID is the marker id of the transient hover highlight.
const hoverID = "hover"

// ErrNotSelectable is returned when the engine answers a pick with a
// reason the element cannot be selected. The session stays open.
var ErrNotSelectable = errors.New("not selectable")

// Session is one interactive picking pass over an operation's geometry
// set. Committed subsets live in the operation itself; the session holds
// only hover state and whatever its mode learned from analysis.
type Session struct {
	mgr    *Manager
	op     *ops.Operation
	key    ops.SetKey
	mode   Mode
	token  uint64
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	log    *slog.Logger
	// progress holds math.Float64bits of the last analysis progress.
	progress atomic.Uint64

	mu     sync.Mutex
	closed bool
	failed bool
	hover  string
	// dimmed holds parts restyled for the session's duration.
	dimmed []part.ID
}

// Op returns the operation being edited.
func (s *Session) Op() *ops.Operation { return s.op }

// Kind returns the session's mode.
func (s *Session) Kind() Kind { return s.mode.Kind() }

// Token returns the session token that tags its engine requests.
func (s *Session) Token() uint64 { return s.token }

// Ready is closed once the mode's analysis has been applied or dropped.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Wait blocks until Ready or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Failed reports whether the analysis failed or found nothing.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Progress returns the last analysis progress value in [0,1].
func (s *Session) Progress() float64 {
	return math.Float64frombits(s.progress.Load())
}

// Hover hit-tests the pointer and moves the hover highlight. It never
// mutates the geometry set.
func (s *Session) Hover(p scene.Pointer) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Element{}, false
	}
	hl := s.mgr.env.Scene
	e, ok := s.mode.HitTest(s, p)
	if !ok {
		if s.hover != "" {
			hl.HideMarker(s.mode.Layer(), hoverID)
			s.hover = ""
		}
		return Element{}, false
	}
	s.hover = e.Key
	if !s.failed {
		m := s.mode.Highlight(s, e, scene.StyleHover)
		m.ID = hoverID
		hl.ShowMarker(m)
	}
	return e, true
}

// Commit toggles the element under the pointer. With the same-value
// modifier every sibling is set to the toggled element's new state.
// Hits on deleted parts are ignored.
func (s *Session) Commit(ctx context.Context, p scene.Pointer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNoSession
	}
	e, ok := s.mode.HitTest(s, p)
	s.mu.Unlock()
	if !ok || !s.mgr.env.Parts.Has(e.PartID) {
		return nil
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(s.ctx, stop)()

	state, err := s.mode.Toggle(ctx, s, e, nil)
	if err != nil {
		return s.fail(err)
	}
	if p.SameValue {
		s.mu.Lock()
		sibs := s.mode.Siblings(s, e)
		s.mu.Unlock()
		for _, sib := range sibs {
			if !s.mgr.env.Parts.Has(sib.PartID) {
				continue
			}
			if _, err := s.mode.Toggle(ctx, s, sib, &state); err != nil {
				return s.fail(err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.redraw()
	}
	return nil
}

// Done ends the session: highlights are cleared, dimmed parts restored and
// entries for deleted parts pruned. Calling it again is a no-op.
func (s *Session) Done() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()

	hl := s.mgr.env.Scene
	hl.ClearMarkers(s.mode.Layer())
	for _, id := range s.dimmed {
		hl.SetPartStyle(id, scene.DefaultPartStyle)
	}
	s.dimmed = nil
	s.hover = ""
	parts := s.mgr.env.Parts
	s.mgr.pipeline.Edit(s.op, func(o *ops.Operation) {
		if gs := o.Geometry[s.key]; gs != nil {
			gs.Prune(parts.Has)
		}
	})
	s.mu.Unlock()

	s.mgr.detach(s)
	s.log.Debug("selection session ended")
}

// Escape is Done.
func (s *Session) Escape() { s.Done() }

// Bind flushes the operation to the settings store.
func (s *Session) Bind(ctx context.Context) error {
	saver := s.mgr.env.Saver
	if saver == nil {
		return nil
	}
	var rec []byte
	var err error
	if !s.mgr.pipeline.Edit(s.op, func(o *ops.Operation) { rec, err = o.MarshalJSON() }) {
		return fmt.Errorf("selection: operation %s was removed", s.op.ID)
	}
	if err != nil {
		return err
	}
	var cp ops.Operation
	if err := cp.UnmarshalJSON(rec); err != nil {
		return err
	}
	return saver.SaveOperation(ctx, &cp)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (s *Session) analyze() {
	defer close(s.ready)
	apply, err := s.mode.Analyze(s.ctx, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.mgr.isCurrent(s) {
		compute.NoteStale()
		s.log.Debug("analysis for superseded session dropped")
		return
	}
	if err != nil {
		s.failed = true
		s.log.Warn("analysis failed", "err", err)
		s.mgr.env.Scene.Notify(scene.Notice{
			Severity: scene.SeverityWarning,
			Message:  fmt.Sprintf("%s selection: %v", s.mode.Kind(), err),
		})
		return
	}
	if apply != nil {
		apply()
		s.redraw()
	}
}

// fail reports a pick error. Engine failures end the session.
func (s *Session) fail(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrNotSelectable):
		s.mgr.env.Scene.Notify(scene.Notice{Severity: scene.SeverityWarning, Message: err.Error()})
		return err
	case errors.Is(err, ErrNoSession):
		return err
	}
	s.log.Error("pick failed", "err", err)
	s.mgr.env.Scene.Notify(scene.Notice{
		Severity: scene.SeverityError,
		Message:  fmt.Sprintf("%s selection ended: %v", s.mode.Kind(), err),
	})
	s.Done()
	return err
}

// redraw replaces the mode's markers. Caller holds s.mu.
func (s *Session) redraw() {
	if s.failed {
		return
	}
	hl := s.mgr.env.Scene
	hl.ClearMarkers(s.mode.Layer())
	for _, m := range s.mode.Markers(s) {
		hl.ShowMarker(m)
	}
}

// view runs fn on the live geometry set under the pipeline lock. Caller
// holds s.mu. fn is not called once the operation has left the pipeline.
func (s *Session) view(fn func(gs ops.GeometrySet)) {
	s.mgr.pipeline.Edit(s.op, func(o *ops.Operation) { fn(o.Set(s.key)) })
}

// edit mutates the geometry set. It takes s.mu, so modes call it only
// from Toggle.
func (s *Session) edit(fn func(gs ops.GeometrySet)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if !s.mgr.pipeline.Edit(s.op, func(o *ops.Operation) { fn(o.Set(s.key)) }) {
		return fmt.Errorf("selection: operation %s was removed: %w", s.op.ID, ErrNoSession)
	}
	return nil
}

// dim restyles a part until the session ends. Caller holds s.mu.
func (s *Session) dim(id part.ID, st scene.PartStyle) {
	s.mgr.env.Scene.SetPartStyle(id, st)
	s.dimmed = append(s.dimmed, id)
}

// setProgress records analysis progress. It runs on the client's
// dispatch goroutine and must not block.
func (s *Session) setProgress(p compute.Progress) {
	s.progress.Store(math.Float64bits(p.Value))
}
