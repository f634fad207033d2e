package selection

import (
	"context"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// dimmedPart is how parts look while their traces are being picked.
var dimmedPart = scene.PartStyle{Visible: true, Opacity: 0.3}

type traceRef struct {
	part part.ID
	key  string
}

// traceMode picks edge traces found by trace-extract.
type traceMode struct {
	traces map[traceRef]compute.Trace
	order  []traceRef
}

func (m *traceMode) Kind() Kind         { return KindTrace }
func (m *traceMode) Layer() scene.Layer { return scene.LayerTrace }

func (m *traceMode) Analyze(ctx context.Context, s *Session) (func(), error) {
	req := compute.TraceExtract{SingleLayerOnly: s.mgr.env.Settings.SingleLayerOnly}
	res, err := fetch[[]compute.PartTraces](ctx, s, req)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, pt := range res {
		n += len(pt.Traces)
	}
	if n == 0 {
		return nil, ErrNoGeometry
	}
	return func() {
		m.traces = make(map[traceRef]compute.Trace, n)
		for _, pt := range res {
			if len(pt.Traces) == 0 {
				continue
			}
			for _, t := range pt.Traces {
				ref := traceRef{part: pt.PartID, key: t.Key}
				if _, dup := m.traces[ref]; !dup {
					m.order = append(m.order, ref)
				}
				m.traces[ref] = t
			}
			s.dim(pt.PartID, dimmedPart)
		}
	}, nil
}

func (m *traceMode) HitTest(s *Session, p scene.Pointer) (Element, bool) {
	for _, h := range hits(s, p, scene.LayerTrace) {
		ref := traceRef{part: h.PartID, key: h.Marker}
		if t, ok := m.traces[ref]; ok {
			return m.element(ref, t), true
		}
	}
	return Element{}, false
}

func (m *traceMode) element(ref traceRef, t compute.Trace) Element {
	sub := ops.Trace{ID: t.Key, Z: t.Z}
	return Element{PartID: ref.part, Key: sub.Key(), Subset: sub}
}

func (m *traceMode) Toggle(_ context.Context, s *Session, e Element, want *bool) (bool, error) {
	var state bool
	err := s.edit(func(gs ops.GeometrySet) {
		state = setMember(gs, e.PartID, e.Subset, want)
	})
	return state, err
}

func (m *traceMode) Highlight(_ *Session, e Element, st scene.Style) scene.Marker {
	t := m.traces[traceRef{part: e.PartID, key: e.Key}]
	return scene.Marker{
		ID:     e.Key,
		Layer:  scene.LayerTrace,
		PartID: e.PartID,
		Style:  st,
		Points: t.Points,
	}
}

// Siblings are the traces at the same elevation on any part.
func (m *traceMode) Siblings(_ *Session, e Element) []Element {
	tr, ok := e.Subset.(ops.Trace)
	if !ok {
		return nil
	}
	var out []Element
	for _, ref := range m.order {
		if ref.part == e.PartID && ref.key == e.Key {
			continue
		}
		if t := m.traces[ref]; sameValue(t.Z, tr.Z) {
			out = append(out, m.element(ref, t))
		}
	}
	return out
}

func (m *traceMode) Markers(s *Session) []scene.Marker {
	var out []scene.Marker
	s.view(func(gs ops.GeometrySet) {
		for _, ref := range m.order {
			st := scene.StyleCandidate
			if gs.Has(ref.part, ref.key) {
				st = scene.StyleSelected
			}
			e := m.element(ref, m.traces[ref])
			out = append(out, m.Highlight(s, e, st))
		}
	})
	return out
}
