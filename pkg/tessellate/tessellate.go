// Package tessellate turns workspace parts, stock and tools into triangle
// meshes using a geometry kernel. One mesh is produced per part.
package tessellate

import (
	"fmt"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/part"
)

// boreClearance extends hole cutters above the part face so the
// difference does not leave a skin.
const boreClearance = 0.5

// offsetStack accumulates placements: part position, then anything
// positioned relative to the part.
type offsetStack struct {
	offsets []geom.Vec3
}

func (s *offsetStack) push(v geom.Vec3) { s.offsets = append(s.offsets, v) }

func (s *offsetStack) pop() {
	if len(s.offsets) > 0 {
		s.offsets = s.offsets[:len(s.offsets)-1]
	}
}

// sum returns the accumulated offset.
func (s *offsetStack) sum() geom.Vec3 {
	var out geom.Vec3
	for _, o := range s.offsets {
		out = out.Add(o)
	}
	return out
}

func place(k kernel.Kernel, s kernel.Solid, at geom.Vec3) kernel.Solid {
	if at == (geom.Vec3{}) {
		return s
	}
	return k.Translate(s, at.X, at.Y, at.Z)
}

// Solid builds the part's solid in workspace coordinates with its holes
// bored out.
func Solid(k kernel.Kernel, p part.Part) (kernel.Solid, error) {
	if p.Size.X <= 0 || p.Size.Z <= 0 || (p.Shape == part.ShapeBox && p.Size.Y <= 0) {
		return nil, fmt.Errorf("tessellate: part %s has non-positive size %v", p.ID, p.Size)
	}
	var ts offsetStack
	ts.push(p.Position)

	var solid kernel.Solid
	switch p.Shape {
	case part.ShapeBox:
		solid = k.Box(p.Size.X, p.Size.Y, p.Size.Z)
	case part.ShapeCylinder:
		r := p.Size.X / 2
		solid = k.Translate(k.Cylinder(p.Size.Z, r), r, r, 0)
	default:
		return nil, fmt.Errorf("tessellate: part %s has unsupported shape %s", p.ID, p.Shape)
	}
	solid = place(k, solid, ts.sum())

	for i, h := range p.Holes {
		if h.Diameter <= 0 || h.Depth <= 0 {
			return nil, fmt.Errorf("tessellate: part %s hole %d has non-positive size", p.ID, i)
		}
		ts.push(h.Position)
		at := ts.sum()
		cutter := k.Cylinder(h.Depth+boreClearance, h.Diameter/2)
		solid = k.Difference(solid, place(k, cutter, geom.Vec3{X: at.X, Y: at.Y, Z: at.Z - h.Depth}))
		ts.pop()
	}
	return solid, nil
}

// Part meshes a single part. The mesh is named after the part.
func Part(k kernel.Kernel, p part.Part) (*kernel.Mesh, error) {
	solid, err := Solid(k, p)
	if err != nil {
		return nil, err
	}
	mesh, err := k.ToMesh(solid)
	if err != nil {
		return nil, fmt.Errorf("tessellate: ToMesh failed for part %s: %w", p.ID, err)
	}
	mesh.Name = string(p.ID)
	return mesh, nil
}

// Parts meshes every part, in order.
func Parts(k kernel.Kernel, parts []part.Part) ([]*kernel.Mesh, error) {
	meshes := make([]*kernel.Mesh, 0, len(parts))
	for _, p := range parts {
		m, err := Part(k, p)
		if err != nil {
			return nil, err
		}
		meshes = append(meshes, m)
	}
	return meshes, nil
}

// Stock meshes a block covering b.
func Stock(k kernel.Kernel, b geom.Bounds) (*kernel.Mesh, error) {
	if b.IsEmpty() {
		return nil, fmt.Errorf("tessellate: empty stock bounds")
	}
	size := b.Size()
	mesh, err := k.ToMesh(place(k, k.Box(size.X, size.Y, size.Z), b.Min))
	if err != nil {
		return nil, fmt.Errorf("tessellate: ToMesh failed for stock: %w", err)
	}
	mesh.Name = "stock"
	return mesh, nil
}

// Tool meshes an end mill with its tip at the origin.
func Tool(k kernel.Kernel, diameter, length float64) (*kernel.Mesh, error) {
	if diameter <= 0 || length <= 0 {
		return nil, fmt.Errorf("tessellate: tool needs positive size, got d=%v l=%v", diameter, length)
	}
	mesh, err := k.ToMesh(k.Cylinder(length, diameter/2))
	if err != nil {
		return nil, fmt.Errorf("tessellate: ToMesh failed for tool: %w", err)
	}
	mesh.Name = "tool"
	return mesh, nil
}
