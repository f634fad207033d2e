package selection

import (
	"math"

	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// valueTolerance is how close two elevations or diameters must be to
// count as the same value.
const valueTolerance = 5e-4

func sameValue(a, b float64) bool { return math.Abs(a-b) < valueTolerance }

// hits returns the pointer's hits on layer, nearest first. Pre-resolved
// hits from the frontend win over asking the picker.
func hits(s *Session, p scene.Pointer, layer scene.Layer) []scene.Hit {
	if p.Hits == nil {
		return s.mgr.env.Scene.Intersect(layer, p.Ray)
	}
	var out []scene.Hit
	for _, h := range p.Hits {
		if h.Layer == layer {
			out = append(out, h)
		}
	}
	return out
}

// setMember makes sub a member of the part's list, flipping it when want
// is nil, and returns the resulting membership.
func setMember(gs ops.GeometrySet, id part.ID, sub ops.Subset, want *bool) bool {
	if want == nil {
		return gs.Toggle(id, sub)
	}
	gs.Put(id, sub, *want)
	return *want
}

// committed returns the subset stored under key, if any. Caller holds
// s.mu.
func committed(s *Session, id part.ID, key string) (ops.Subset, bool) {
	var sub ops.Subset
	s.view(func(gs ops.GeometrySet) {
		if i := gs.Index(id, key); i >= 0 {
			sub = gs[id][i]
		}
	})
	return sub, sub != nil
}
