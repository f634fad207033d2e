package ops

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/part"
)

// Subset is one picked geometry element. Key is the canonical identity
// used for toggling.
type Subset interface {
	Key() string
	subset()
}

// Trace is an edge loop picked by its engine key.
type Trace struct {
	ID string  `json:"key"`
	Z  float64 `json:"z"`
}

// FaceGroup is a connected set of mesh faces.
type FaceGroup struct {
	Faces []int `json:"faces"`
}

// Hole is a detected bore. Detected holes are registered unselected and
// picking flips Selected.
type Hole struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Depth    float64 `json:"depth"`
	Diameter float64 `json:"diameter"`
	Selected bool    `json:"selected"`
}

// Point is a tab anchor.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (Trace) subset()     {}
func (FaceGroup) subset() {}
func (Hole) subset()      {}
func (Point) subset()     {}

func (t Trace) Key() string { return t.ID }

// Key is the sorted face list, so the same group found from any of its
// faces has the same key.
func (g FaceGroup) Key() string {
	faces := append([]int(nil), g.Faces...)
	sort.Ints(faces)
	parts := make([]string, len(faces))
	for i, f := range faces {
		parts[i] = strconv.Itoa(f)
	}
	return "faces:" + strings.Join(parts, ",")
}

// Contains reports whether face is a member of the group.
func (g FaceGroup) Contains(face int) bool {
	for _, f := range g.Faces {
		if f == face {
			return true
		}
	}
	return false
}

func (h Hole) Key() string { return "hole:" + h.Center().Key() }

// Center returns the top center of the bore.
func (h Hole) Center() geom.Vec3 { return geom.Vec3{X: h.X, Y: h.Y, Z: h.Z} }

func (p Point) Key() string { return p.Vec().Key() }

// Vec returns the anchor position.
func (p Point) Vec() geom.Vec3 { return geom.Vec3{X: p.X, Y: p.Y, Z: p.Z} }

// ---------------------------------------------------------------------------
// GeometrySet
// ---------------------------------------------------------------------------

// GeometrySet maps a part to the subsets picked on it.
type GeometrySet map[part.ID][]Subset

// Index returns the position of key in the part's list, or -1.
func (gs GeometrySet) Index(id part.ID, key string) int {
	for i, s := range gs[id] {
		if s.Key() == key {
			return i
		}
	}
	return -1
}

// Has reports whether key is present for the part.
func (gs GeometrySet) Has(id part.ID, key string) bool {
	return gs.Index(id, key) >= 0
}

// Put makes membership of s equal to want. It reports whether anything
// changed.
func (gs GeometrySet) Put(id part.ID, s Subset, want bool) bool {
	i := gs.Index(id, s.Key())
	switch {
	case want && i < 0:
		gs[id] = append(gs[id], s)
		return true
	case !want && i >= 0:
		gs.RemoveAt(id, i)
		return true
	}
	return false
}

// Toggle flips membership of s and returns the resulting state.
func (gs GeometrySet) Toggle(id part.ID, s Subset) bool {
	want := !gs.Has(id, s.Key())
	gs.Put(id, s, want)
	return want
}

// Replace overwrites the element at i.
func (gs GeometrySet) Replace(id part.ID, i int, s Subset) {
	gs[id][i] = s
}

// RemoveAt deletes the element at i. An emptied part entry is kept so the
// part still shows as visited; Prune removes it only if the part is gone.
func (gs GeometrySet) RemoveAt(id part.ID, i int) {
	list := gs[id]
	gs[id] = append(list[:i:i], list[i+1:]...)
}

// Len returns the number of subsets across all parts.
func (gs GeometrySet) Len() int {
	n := 0
	for _, list := range gs {
		n += len(list)
	}
	return n
}

// Prune removes entries for parts that no longer exist and returns how
// many part entries were dropped.
func (gs GeometrySet) Prune(exists func(part.ID) bool) int {
	n := 0
	for id := range gs {
		if !exists(id) {
			delete(gs, id)
			n++
		}
	}
	return n
}

// Clone deep-copies the set.
func (gs GeometrySet) Clone() GeometrySet {
	if gs == nil {
		return nil
	}
	out := make(GeometrySet, len(gs))
	for id, list := range gs {
		cp := make([]Subset, len(list))
		for i, s := range list {
			if fg, ok := s.(FaceGroup); ok {
				s = FaceGroup{Faces: append([]int(nil), fg.Faces...)}
			}
			cp[i] = s
		}
		out[id] = cp
	}
	return out
}

// PartIDs returns the parts with entries, sorted.
func (gs GeometrySet) PartIDs() []part.ID {
	ids := make([]part.ID, 0, len(gs))
	for id := range gs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// wireSubset is the tagged JSON form of a Subset.
type wireSubset struct {
	Kind     string  `json:"kind"`
	Key      string  `json:"key,omitempty"`
	Faces    []int   `json:"faces,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Z        float64 `json:"z,omitempty"`
	Depth    float64 `json:"depth,omitempty"`
	Diameter float64 `json:"diameter,omitempty"`
	Selected bool    `json:"selected,omitempty"`
}

func toWire(s Subset) wireSubset {
	switch v := s.(type) {
	case Trace:
		return wireSubset{Kind: "trace", Key: v.ID, Z: v.Z}
	case FaceGroup:
		return wireSubset{Kind: "faces", Faces: v.Faces}
	case Hole:
		return wireSubset{Kind: "hole", X: v.X, Y: v.Y, Z: v.Z, Depth: v.Depth, Diameter: v.Diameter, Selected: v.Selected}
	case Point:
		return wireSubset{Kind: "point", X: v.X, Y: v.Y, Z: v.Z}
	default:
		panic(fmt.Sprintf("ops: unknown subset %T", s))
	}
}

func fromWire(w wireSubset) (Subset, error) {
	switch w.Kind {
	case "trace":
		return Trace{ID: w.Key, Z: w.Z}, nil
	case "faces":
		return FaceGroup{Faces: w.Faces}, nil
	case "hole":
		return Hole{X: w.X, Y: w.Y, Z: w.Z, Depth: w.Depth, Diameter: w.Diameter, Selected: w.Selected}, nil
	case "point":
		return Point{X: w.X, Y: w.Y, Z: w.Z}, nil
	default:
		return nil, fmt.Errorf("unknown geometry subset kind %q", w.Kind)
	}
}

// MarshalJSON implements json.Marshaler.
func (gs GeometrySet) MarshalJSON() ([]byte, error) {
	out := make(map[part.ID][]wireSubset, len(gs))
	for id, list := range gs {
		ws := make([]wireSubset, len(list))
		for i, s := range list {
			ws[i] = toWire(s)
		}
		out[id] = ws
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (gs *GeometrySet) UnmarshalJSON(b []byte) error {
	var in map[part.ID][]wireSubset
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	out := make(GeometrySet, len(in))
	for id, ws := range in {
		list := make([]Subset, 0, len(ws))
		for _, w := range ws {
			s, err := fromWire(w)
			if err != nil {
				return fmt.Errorf("part %s: %w", id, err)
			}
			list = append(list, s)
		}
		out[id] = list
	}
	*gs = out
	return nil
}
