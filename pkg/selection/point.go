package selection

import (
	"context"

	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/scene"
)

// pointMode places tab anchors on part surfaces. Clicking an existing tab
// removes it.
type pointMode struct{}

func (m *pointMode) Kind() Kind         { return KindPoint }
func (m *pointMode) Layer() scene.Layer { return scene.LayerTab }

func (m *pointMode) Analyze(context.Context, *Session) (func(), error) { return nil, nil }

func (m *pointMode) HitTest(s *Session, p scene.Pointer) (Element, bool) {
	for _, h := range hits(s, p, scene.LayerTab) {
		if sub, ok := committed(s, h.PartID, h.Marker); ok {
			return Element{PartID: h.PartID, Key: h.Marker, Subset: sub, Point: h.Point}, true
		}
	}
	hs := hits(s, p, scene.LayerPart)
	if len(hs) == 0 {
		return Element{}, false
	}
	h := hs[0]
	pt := ops.Point{X: h.Point.X, Y: h.Point.Y, Z: h.Point.Z}
	return Element{PartID: h.PartID, Key: pt.Key(), Subset: pt, Face: h.Face, Point: h.Point}, true
}

func (m *pointMode) Toggle(_ context.Context, s *Session, e Element, want *bool) (bool, error) {
	var state bool
	err := s.edit(func(gs ops.GeometrySet) {
		state = setMember(gs, e.PartID, e.Subset, want)
	})
	return state, err
}

func (m *pointMode) Highlight(_ *Session, e Element, st scene.Style) scene.Marker {
	return scene.Marker{
		ID:     e.Key,
		Layer:  scene.LayerTab,
		PartID: e.PartID,
		Style:  st,
		Center: e.Point,
	}
}

func (m *pointMode) Siblings(*Session, Element) []Element { return nil }

func (m *pointMode) Markers(s *Session) []scene.Marker {
	var out []scene.Marker
	s.view(func(gs ops.GeometrySet) {
		for _, id := range gs.PartIDs() {
			for _, sub := range gs[id] {
				if pt, ok := sub.(ops.Point); ok {
					e := Element{PartID: id, Key: pt.Key(), Subset: pt, Point: pt.Vec()}
					out = append(out, m.Highlight(s, e, scene.StyleSelected))
				}
			}
		}
	})
	return out
}
