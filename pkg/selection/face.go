package selection

import (
	"context"
	"fmt"
	"sort"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/scene"
)

// faceMode picks face groups on part meshes. Surface groups are
// tolerance-grown planar regions; cylinder groups are whole bores or
// bosses. Groups are fetched from the engine on each new click.
type faceMode struct {
	kind Kind
}

func (m *faceMode) Kind() Kind         { return m.kind }
func (m *faceMode) Layer() scene.Layer { return scene.LayerPart }

func (m *faceMode) Analyze(ctx context.Context, s *Session) (func(), error) {
	if m.kind != KindSurface {
		return nil, nil
	}
	req := compute.SurfaceAnalyze{Index: s.mgr.env.Settings.Indexed}
	if _, err := fetch[compute.Ack](ctx, s, req); err != nil {
		return nil, err
	}
	return func() {}, nil
}

// HitTest resolves a part face. A face inside a committed group resolves
// to that group.
func (m *faceMode) HitTest(s *Session, p scene.Pointer) (Element, bool) {
	hs := hits(s, p, scene.LayerPart)
	if len(hs) == 0 {
		return Element{}, false
	}
	h := hs[0]
	e := Element{
		PartID: h.PartID,
		Key:    fmt.Sprintf("face:%d", h.Face),
		Face:   h.Face,
		Point:  h.Point,
	}
	s.view(func(gs ops.GeometrySet) {
		for _, sub := range gs[h.PartID] {
			if g, ok := sub.(ops.FaceGroup); ok && g.Contains(h.Face) {
				e.Key = g.Key()
				e.Subset = g
				return
			}
		}
	})
	return e, true
}

func (m *faceMode) Toggle(ctx context.Context, s *Session, e Element, want *bool) (bool, error) {
	sub := e.Subset
	if sub == nil {
		g, err := m.group(ctx, s, e)
		if err != nil {
			return false, err
		}
		sub = g
	}
	var state bool
	err := s.edit(func(gs ops.GeometrySet) {
		// A group committed while the engine was answering wins.
		for _, c := range gs[e.PartID] {
			if g, ok := c.(ops.FaceGroup); ok && g.Contains(e.Face) && e.Subset == nil {
				sub = g
				break
			}
		}
		state = setMember(gs, e.PartID, sub, want)
	})
	return state, err
}

func (m *faceMode) group(ctx context.Context, s *Session, e Element) (ops.FaceGroup, error) {
	var req compute.Request
	if m.kind == KindCylinder {
		req = compute.CylinderFaceGroup{PartID: e.PartID, FaceID: e.Face}
	} else {
		req = compute.SurfaceFaceGroup{
			PartID:         e.PartID,
			FaceID:         e.Face,
			AngleTolerance: s.mgr.env.Settings.AngleTolerance,
		}
	}
	res, err := fetch[compute.FaceGroup](ctx, s, req)
	if err != nil {
		return ops.FaceGroup{}, err
	}
	if res.Error != "" {
		return ops.FaceGroup{}, fmt.Errorf("%w: %s", ErrNotSelectable, res.Error)
	}
	if len(res.Faces) == 0 {
		return ops.FaceGroup{}, fmt.Errorf("%w: face %d of %s has no %s group", ErrNotSelectable, e.Face, e.PartID, m.kind)
	}
	faces := append([]int(nil), res.Faces...)
	sort.Ints(faces)
	return ops.FaceGroup{Faces: faces}, nil
}

func (m *faceMode) Highlight(_ *Session, e Element, st scene.Style) scene.Marker {
	faces := []int{e.Face}
	if g, ok := e.Subset.(ops.FaceGroup); ok {
		faces = g.Faces
	}
	return scene.Marker{
		ID:     string(e.PartID) + "/" + e.Key,
		Layer:  scene.LayerPart,
		PartID: e.PartID,
		Style:  st,
		Center: e.Point,
		Faces:  faces,
	}
}

func (m *faceMode) Siblings(*Session, Element) []Element { return nil }

func (m *faceMode) Markers(s *Session) []scene.Marker {
	var out []scene.Marker
	s.view(func(gs ops.GeometrySet) {
		for _, id := range gs.PartIDs() {
			for _, sub := range gs[id] {
				g, ok := sub.(ops.FaceGroup)
				if !ok {
					continue
				}
				e := Element{PartID: id, Key: g.Key(), Subset: g}
				out = append(out, m.Highlight(s, e, scene.StyleSelected))
			}
		}
	})
	return out
}
