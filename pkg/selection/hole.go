package selection

import (
	"context"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// holeMode picks detected bores. Detection registers every hole in the
// drill set unselected; picking flips the Selected flag instead of
// membership so a re-detect keeps earlier choices.
type holeMode struct{}

func (m *holeMode) Kind() Kind         { return KindHole }
func (m *holeMode) Layer() scene.Layer { return scene.LayerHole }

func (m *holeMode) Analyze(ctx context.Context, s *Session) (func(), error) {
	var snap []byte
	var err error
	s.mgr.pipeline.Edit(s.op, func(o *ops.Operation) { snap, err = o.MarshalJSON() })
	if err != nil {
		return nil, err
	}
	req := compute.HoleDetect{
		IndividualSizing: s.mgr.env.Settings.IndividualSizing,
		Operation:        snap,
	}
	res, err := fetch[compute.HoleDetectResult](ctx, s, req, compute.WithProgress(s.setProgress))
	if err != nil {
		return nil, err
	}
	n := 0
	for _, ph := range res.PerPart {
		n += len(ph.Holes)
	}
	if n == 0 {
		return nil, ErrNoGeometry
	}
	parts := s.mgr.env.Parts
	return func() {
		s.view(func(gs ops.GeometrySet) {
			for _, ph := range res.PerPart {
				if !parts.Has(ph.PartID) {
					continue
				}
				for _, h := range ph.Holes {
					hole := ops.Hole{X: h.X, Y: h.Y, Z: h.Z, Depth: h.Depth, Diameter: h.Diameter}
					if !gs.Has(ph.PartID, hole.Key()) {
						gs[ph.PartID] = append(gs[ph.PartID], hole)
					}
				}
			}
		})
	}, nil
}

func (m *holeMode) HitTest(s *Session, p scene.Pointer) (Element, bool) {
	for _, h := range hits(s, p, scene.LayerHole) {
		if sub, ok := committed(s, h.PartID, h.Marker); ok {
			return Element{PartID: h.PartID, Key: h.Marker, Subset: sub, Point: h.Point}, true
		}
	}
	return Element{}, false
}

func (m *holeMode) Toggle(_ context.Context, s *Session, e Element, want *bool) (bool, error) {
	var state bool
	err := s.edit(func(gs ops.GeometrySet) {
		hole, ok := e.Subset.(ops.Hole)
		if !ok {
			return
		}
		i := gs.Index(e.PartID, e.Key)
		if i >= 0 {
			hole = gs[e.PartID][i].(ops.Hole)
		}
		if want != nil {
			hole.Selected = *want
		} else {
			hole.Selected = !hole.Selected
		}
		if i >= 0 {
			gs.Replace(e.PartID, i, hole)
		} else {
			gs[e.PartID] = append(gs[e.PartID], hole)
		}
		state = hole.Selected
	})
	return state, err
}

func (m *holeMode) Highlight(_ *Session, e Element, st scene.Style) scene.Marker {
	hole, _ := e.Subset.(ops.Hole)
	return holeMarker(e.PartID, hole, st)
}

func holeMarker(id part.ID, h ops.Hole, st scene.Style) scene.Marker {
	return scene.Marker{
		ID:     h.Key(),
		Layer:  scene.LayerHole,
		PartID: id,
		Style:  st,
		Center: h.Center(),
		Radius: h.Diameter / 2,
	}
}

// Siblings are the holes of the same diameter on any part.
func (m *holeMode) Siblings(s *Session, e Element) []Element {
	ref, ok := e.Subset.(ops.Hole)
	if !ok {
		return nil
	}
	var out []Element
	s.view(func(gs ops.GeometrySet) {
		for _, id := range gs.PartIDs() {
			for _, sub := range gs[id] {
				h, ok := sub.(ops.Hole)
				if !ok || (id == e.PartID && h.Key() == e.Key) {
					continue
				}
				if sameValue(h.Diameter, ref.Diameter) {
					out = append(out, Element{PartID: id, Key: h.Key(), Subset: h})
				}
			}
		}
	})
	return out
}

func (m *holeMode) Markers(s *Session) []scene.Marker {
	var out []scene.Marker
	s.view(func(gs ops.GeometrySet) {
		for _, id := range gs.PartIDs() {
			for _, sub := range gs[id] {
				h, ok := sub.(ops.Hole)
				if !ok {
					continue
				}
				st := scene.StyleCandidate
				if h.Selected {
					st = scene.StyleSelected
				}
				out = append(out, holeMarker(id, h, st))
			}
		}
	})
	return out
}
