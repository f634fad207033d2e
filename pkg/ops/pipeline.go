package ops

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/millwright/pkg/part"
)

// PartSet answers whether a part still exists.
type PartSet interface {
	Has(id part.ID) bool
}

// Pipeline is the ordered operation list. It is the single source of
// truth for order; every mutation goes through its methods.
//
// The main list holds pre-flip operations, the flip, and the clock marker.
// Post holds operations created by MirrorAfterFlip, which run on the
// flipped stock after the flip.
type Pipeline struct {
	mu    sync.Mutex
	ops   []*Operation
	post  []*Operation
	parts PartSet
	log   *slog.Logger

	// endSession is called with the id of an operation about to be
	// removed so a selection session bound to it ends first.
	endSession func(uuid.UUID)
}

// NewPipeline returns an empty pipeline whose stale-reference pruning
// consults parts.
func NewPipeline(parts PartSet, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{parts: parts, log: log.With("component", "pipeline")}
}

// OnRemove registers the session canceller. It must not call back into
// the pipeline's list editing methods.
func (p *Pipeline) OnRemove(fn func(uuid.UUID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endSession = fn
}

// ---------------------------------------------------------------------------
// Editing
// ---------------------------------------------------------------------------

// Add inserts op before the clock marker, or at the end when there is
// none. Non-flip records go before an existing flip so the flip stays the
// last non-marker entry. Adding a record already present, a second flip
// or a second marker is a no-op; the latter two return an advisory.
func (p *Pipeline) Add(op *Operation) []Advisory {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexOf(op) >= 0 || indexIn(p.post, op) >= 0 {
		return nil
	}
	switch op.Type {
	case TypeFlip:
		if p.indexOfType(TypeFlip) >= 0 {
			return []Advisory{{Code: CodeSecondFlip, OpID: op.ID, Message: "only one flip operation is allowed"}}
		}
	case TypeClock:
		if p.indexOfType(TypeClock) >= 0 {
			return []Advisory{{Code: CodeSecondMarker, OpID: op.ID, Message: "the pipeline already has a clock boundary"}}
		}
		p.ops = append(p.ops, op)
		return nil
	}

	at := len(p.ops)
	if i := p.indexOfType(TypeClock); i >= 0 && i < at {
		at = i
	}
	if op.Type != TypeFlip {
		if i := p.indexOfType(TypeFlip); i >= 0 && i < at {
			at = i
		}
	}
	p.ops = insertAt(p.ops, at, op)
	p.log.Debug("operation added", "id", op.ID, "type", op.Type, "index", at)
	return nil
}

// Remove deletes op by identity from either list, ending any selection
// session bound to it first. It reports whether op was removed. The flip
// is kept while post-flip records depend on it.
func (p *Pipeline) Remove(op *Operation) (bool, []Advisory) {
	p.mu.Lock()
	if adv := p.flipInUse(op); adv != nil {
		p.mu.Unlock()
		return false, adv
	}
	end := p.endSession
	p.mu.Unlock()
	if end != nil {
		end(op.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if adv := p.flipInUse(op); adv != nil {
		return false, adv
	}
	if i := p.indexOf(op); i >= 0 {
		p.ops = append(p.ops[:i], p.ops[i+1:]...)
		p.log.Debug("operation removed", "id", op.ID, "type", op.Type)
		return true, nil
	}
	if i := indexIn(p.post, op); i >= 0 {
		p.post = append(p.post[:i], p.post[i+1:]...)
		return true, nil
	}
	return false, nil
}

// flipInUse refuses removing the flip while post-flip records exist.
// Caller holds p.mu.
func (p *Pipeline) flipInUse(op *Operation) []Advisory {
	if op.Type != TypeFlip || len(p.post) == 0 || p.indexOf(op) < 0 {
		return nil
	}
	return []Advisory{{
		Code:    CodeFlipInUse,
		OpID:    op.ID,
		Message: fmt.Sprintf("the flip has %d mirrored operation(s) after it; remove those first", len(p.post)),
	}}
}

// Reorder replaces the main list wholesale. The caller supplies a
// permutation of the current list.
func (p *Pipeline) Reorder(seq []*Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append([]*Operation(nil), seq...)
}

// Move drops op at the candidate slot index, counted in the current list
// before op is lifted out (0 is the top, len is the bottom). It computes
// the new order and hands it to Reorder.
func (p *Pipeline) Move(op *Operation, index int) bool {
	p.mu.Lock()
	from := p.indexOf(op)
	if from < 0 {
		p.mu.Unlock()
		return false
	}
	seq := make([]*Operation, 0, len(p.ops))
	seq = append(seq, p.ops[:from]...)
	seq = append(seq, p.ops[from+1:]...)
	p.mu.Unlock()

	if index > from {
		index--
	}
	index = max(0, min(index, len(seq)))
	p.Reorder(insertAt(seq, index, op))
	return true
}

// SetDisabled sets the disabled flag of op, or with cascade of every
// record in the pipeline. The clock marker is never disabled.
func (p *Pipeline) SetDisabled(op *Operation, disabled, cascade bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !cascade {
		if !op.Type.Marker() {
			op.Disabled = disabled
		}
		return
	}
	for _, list := range [][]*Operation{p.ops, p.post} {
		for _, o := range list {
			if !o.Type.Marker() {
				o.Disabled = disabled
			}
		}
	}
}

// Duplicate inserts a deep copy of op with a new identity directly after
// it. Flip and clock records cannot be duplicated.
func (p *Pipeline) Duplicate(op *Operation) (*Operation, []Advisory) {
	if op.Type == TypeFlip || op.Type.Marker() {
		return nil, []Advisory{{Code: CodeNotDuplicable, OpID: op.ID, Message: op.Type.Label() + " cannot be duplicated"}}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := op.Clone()
	if i := p.indexOf(op); i >= 0 {
		p.ops = insertAt(p.ops, i+1, cp)
		return cp, nil
	}
	if i := indexIn(p.post, op); i >= 0 {
		p.post = insertAt(p.post, i+1, cp)
		return cp, nil
	}
	return nil, nil
}

// MirrorAfterFlip creates a post-flip copy of a pre-flip op whose geometry
// is the source's geometry by reference, so picks on either show on both.
func (p *Pipeline) MirrorAfterFlip(op *Operation) (*Operation, []Advisory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	flip := p.indexOfType(TypeFlip)
	at := p.indexOf(op)
	switch {
	case flip < 0:
		return nil, []Advisory{{Code: CodeNoFlip, OpID: op.ID, Message: "mirroring needs a flip operation"}}
	case at < 0 || at > flip || op.Type == TypeFlip || op.Type.Marker():
		return nil, []Advisory{{Code: CodeNotMirrorable, OpID: op.ID, Message: "only operations before the flip can be mirrored"}}
	}
	if op.Geometry == nil {
		op.Geometry = make(map[SetKey]GeometrySet)
	}
	m := &Operation{
		ID:       uuid.New(),
		Type:     op.Type,
		Note:     op.Note,
		Params:   cloneParams(op.Params),
		Geometry: op.Geometry,
		Mirror:   op.ID,
	}
	p.post = append(p.post, m)
	return m, nil
}

// Edit runs fn on op while holding the pipeline lock. Geometry and
// parameters are only mutated through Edit. It reports whether op is in
// the pipeline; fn is not called otherwise.
func (p *Pipeline) Edit(op *Operation, fn func(op *Operation)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexOf(op) < 0 && indexIn(p.post, op) < 0 {
		return false
	}
	fn(op)
	return true
}

// Load replaces both lists, typically with records read from storage.
// Post-flip records are re-linked to their mirror source's geometry.
func (p *Pipeline) Load(main, post []*Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append([]*Operation(nil), main...)
	p.post = append([]*Operation(nil), post...)
	byID := make(map[uuid.UUID]*Operation, len(p.ops))
	for _, o := range p.ops {
		byID[o.ID] = o
	}
	for _, m := range p.post {
		src, ok := byID[m.Mirror]
		if !ok {
			continue
		}
		if src.Geometry == nil {
			src.Geometry = make(map[SetKey]GeometrySet)
		}
		m.Geometry = src.Geometry
	}
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// List returns the main list.
func (p *Pipeline) List() []*Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Operation(nil), p.ops...)
}

// PostFlip returns the mirrored post-flip list.
func (p *Pipeline) PostFlip() []*Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Operation(nil), p.post...)
}

// Find returns the operation with the given ID from either list.
func (p *Pipeline) Find(id uuid.UUID) *Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, list := range [][]*Operation{p.ops, p.post} {
		for _, o := range list {
			if o.ID == id {
				return o
			}
		}
	}
	return nil
}

// Active returns what the engine executes, in order: enabled records up
// to the clock marker, then the enabled post-flip records when the flip
// itself ran.
func (p *Pipeline) Active() []*Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active()
}

// Program is Active as deep copies, safe to marshal for the engine.
func (p *Pipeline) Program() []*Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.active()
	for i, o := range list {
		list[i] = o.clone()
	}
	return list
}

func (p *Pipeline) active() []*Operation {
	var out []*Operation
	flipped := false
	for _, o := range p.ops {
		if o.Type.Marker() {
			break
		}
		if o.Disabled {
			continue
		}
		if o.Type == TypeFlip {
			flipped = true
		}
		out = append(out, o)
	}
	if flipped {
		for _, o := range p.post {
			if !o.Disabled {
				out = append(out, o)
			}
		}
	}
	return out
}

// Snapshot returns deep copies of both lists, keeping identities, for
// persistence or for handing to the engine.
func (p *Pipeline) Snapshot() (main, post []*Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	main = make([]*Operation, len(p.ops))
	for i, o := range p.ops {
		main[i] = o.clone()
	}
	post = make([]*Operation, len(p.post))
	for i, o := range p.post {
		post[i] = o.clone()
	}
	return main, post
}

// Prune drops geometry entries for deleted parts and returns how many part
// entries went. Shared mirror geometry is pruned once.
func (p *Pipeline) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prune()
}

func (p *Pipeline) prune() int {
	if p.parts == nil {
		return 0
	}
	n := 0
	for _, list := range [][]*Operation{p.ops, p.post} {
		for _, o := range list {
			for _, gs := range o.Geometry {
				n += gs.Prune(p.parts.Has)
			}
		}
	}
	if n > 0 {
		p.log.Debug("pruned stale part references", "count", n)
	}
	return n
}

func (p *Pipeline) indexOf(op *Operation) int { return indexIn(p.ops, op) }

func (p *Pipeline) indexOfType(t Type) int {
	for i, o := range p.ops {
		if o.Type == t {
			return i
		}
	}
	return -1
}

func indexIn(list []*Operation, op *Operation) int {
	for i, o := range list {
		if o == op {
			return i
		}
	}
	return -1
}

func insertAt(list []*Operation, i int, op *Operation) []*Operation {
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = op
	return list
}
