// Package part defines the workspace parts that operations pick geometry
// from. Parts are identified by a stable ID; geometry-set entries keyed by
// an ID that is no longer registered are stale and get pruned lazily.
package part

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/millwright/pkg/geom"
)

// ID identifies a part in the workspace.
type ID string

// Shape distinguishes the primitive a part is built from.
type Shape int

const (
	ShapeBox      Shape = iota // rectangular block, Size = x,y,z
	ShapeCylinder              // round bar standing on Z, Size.X = diameter, Size.Z = height
)

func (s Shape) String() string {
	switch s {
	case ShapeBox:
		return "box"
	case ShapeCylinder:
		return "cylinder"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Shape) UnmarshalText(b []byte) error {
	switch string(b) {
	case "box", "":
		*s = ShapeBox
	case "cylinder":
		*s = ShapeCylinder
	default:
		return fmt.Errorf("unknown part shape %q", string(b))
	}
	return nil
}

// Hole is a bore designed into a part. The reference engine reports these
// from hole detection.
type Hole struct {
	Position geom.Vec3 `json:"position" yaml:"position"` // top center, part-relative
	Diameter float64   `json:"diameter" yaml:"diameter"`
	Depth    float64   `json:"depth" yaml:"depth"`
}

// Part is one solid in the workspace.
type Part struct {
	ID       ID        `json:"id" yaml:"id"`
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Shape    Shape     `json:"shape" yaml:"shape"`
	Size     geom.Vec3 `json:"size" yaml:"size"`
	Position geom.Vec3 `json:"position" yaml:"position"` // min corner
	Holes    []Hole    `json:"holes,omitempty" yaml:"holes,omitempty"`
}

// Bounds returns the part's axis-aligned bounds in workspace coordinates.
func (p *Part) Bounds() geom.Bounds {
	size := p.Size
	if p.Shape == ShapeCylinder {
		size.Y = size.X
	}
	return geom.Bounds{Min: p.Position, Max: p.Position.Add(size)}
}

// Registry manages the parts of one workspace. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	parts map[ID]*Part
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parts: make(map[ID]*Part)}
}

// Define registers a part. IDs must be unique.
func (r *Registry) Define(p Part) error {
	if p.ID == "" {
		return fmt.Errorf("part id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.parts[p.ID]; exists {
		return fmt.Errorf("part %q already defined", p.ID)
	}
	cp := p
	cp.Holes = append([]Hole(nil), p.Holes...)
	r.parts[p.ID] = &cp
	return nil
}

// Get returns a copy of the part with the given ID.
func (r *Registry) Get(id ID) (Part, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parts[id]
	if !ok {
		return Part{}, fmt.Errorf("part %q not found", id)
	}
	return *p, nil
}

// Has reports whether the part is still registered.
func (r *Registry) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parts[id]
	return ok
}

// Delete removes a part. Operations referencing it are not touched here.
func (r *Registry) Delete(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parts[id]; !ok {
		return fmt.Errorf("part %q not found", id)
	}
	delete(r.parts, id)
	return nil
}

// List returns copies of all parts ordered by ID.
func (r *Registry) List() []Part {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Part, 0, len(r.parts))
	for _, p := range r.parts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered part IDs in order.
func (r *Registry) IDs() []ID {
	parts := r.List()
	ids := make([]ID, len(parts))
	for i, p := range parts {
		ids[i] = p.ID
	}
	return ids
}
