package kernel

import "testing"

// --- Mesh helper method tests ---

func TestMeshVertexCount(t *testing.T) {
	tests := []struct {
		name     string
		vertices []float32
		want     int
	}{
		{"empty", nil, 0},
		{"one vertex", []float32{1, 2, 3}, 1},
		{"four vertices", []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Mesh{Vertices: tt.vertices}
			if got := m.VertexCount(); got != tt.want {
				t.Errorf("VertexCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMeshTriangle(t *testing.T) {
	m := &Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0},
		Indices:  []uint32{2, 0, 1},
	}
	if got := m.TriangleCount(); got != 1 {
		t.Fatalf("TriangleCount() = %d, want 1", got)
	}
	a, b, c := m.Triangle(0)
	if a != [3]float32{1, 1, 0} || b != [3]float32{0, 0, 0} || c != [3]float32{1, 0, 0} {
		t.Errorf("Triangle(0) = %v %v %v, want index order 2,0,1", a, b, c)
	}
}

func TestMeshPatch(t *testing.T) {
	m := &Mesh{Vertices: []float32{1, 2, 3}, Name: "stock", Color: "#888888"}
	m.Patch(Mesh{Color: "#ff0000"})
	if m.Color != "#ff0000" {
		t.Errorf("Color = %q, want #ff0000", m.Color)
	}
	if len(m.Vertices) != 3 || m.Name != "stock" {
		t.Errorf("Patch must leave empty fields unchanged, got %+v", m)
	}
	m.Patch(Mesh{Vertices: []float32{4, 5, 6, 7, 8, 9}})
	if m.VertexCount() != 2 {
		t.Errorf("VertexCount() after patch = %d, want 2", m.VertexCount())
	}
}

// --- Compile-time interface check with a stub kernel ---

// stubSolid is a minimal Solid implementation for testing.
type stubSolid struct {
	minBB, maxBB [3]float64
}

func (s *stubSolid) BoundingBox() (min, max [3]float64) {
	return s.minBB, s.maxBB
}

// stubKernel proves the interface is satisfiable.
type stubKernel struct{}

func (k *stubKernel) Box(x, y, z float64) Solid {
	return &stubSolid{maxBB: [3]float64{x, y, z}}
}

func (k *stubKernel) Cylinder(height, radius float64) Solid {
	return &stubSolid{
		minBB: [3]float64{-radius, -radius, 0},
		maxBB: [3]float64{radius, radius, height},
	}
}

func (k *stubKernel) Union(a, _ Solid) Solid                    { return a }
func (k *stubKernel) Difference(a, _ Solid) Solid               { return a }
func (k *stubKernel) Translate(s Solid, _, _, _ float64) Solid { return s }
func (k *stubKernel) ToMesh(_ Solid) (*Mesh, error)             { return &Mesh{}, nil }

var _ Kernel = (*stubKernel)(nil)

func TestStubKernelCylinderBoundingBox(t *testing.T) {
	var k Kernel = &stubKernel{}
	min, max := k.Cylinder(30, 4).BoundingBox()
	if min != [3]float64{-4, -4, 0} {
		t.Errorf("Cylinder min = %v, want [-4 -4 0]", min)
	}
	if max != [3]float64{4, 4, 30} {
		t.Errorf("Cylinder max = %v, want [4 4 30]", max)
	}
}
