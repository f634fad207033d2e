package tessellate_test

import (
	"testing"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/kernel/sdfx"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/tessellate"
)

// newKernel returns a coarse sdfx kernel for testing.
func newKernel() kernel.Kernel {
	return sdfx.NewWithResolution(16)
}

func makeBlock(id string, x, y, z float64) part.Part {
	return part.Part{ID: part.ID(id), Shape: part.ShapeBox, Size: geom.Vec3{X: x, Y: y, Z: z}}
}

// centroid averages the mesh vertices.
func centroid(m *kernel.Mesh) (cx, cy, cz float64) {
	n := m.VertexCount()
	for i := 0; i < n; i++ {
		cx += float64(m.Vertices[i*3])
		cy += float64(m.Vertices[i*3+1])
		cz += float64(m.Vertices[i*3+2])
	}
	return cx / float64(n), cy / float64(n), cz / float64(n)
}

func TestSingleBox(t *testing.T) {
	m, err := tessellate.Part(newKernel(), makeBlock("w1", 100, 50, 20))
	if err != nil {
		t.Fatalf("Part failed: %v", err)
	}
	if m.IsEmpty() {
		t.Fatal("mesh should not be empty")
	}
	if m.Name != "w1" {
		t.Errorf("expected Name %q, got %q", "w1", m.Name)
	}
	if m.TriangleCount() == 0 {
		t.Error("mesh should have triangles")
	}
}

func TestPartPosition(t *testing.T) {
	p := makeBlock("w1", 100, 50, 20)
	p.Position = geom.Vec3{X: 200, Y: 100, Z: 10}

	m, err := tessellate.Part(newKernel(), p)
	if err != nil {
		t.Fatalf("Part failed: %v", err)
	}
	cx, cy, cz := centroid(m)
	if abs(cx-250) > 10 {
		t.Errorf("centroid X = %.1f, expected near 250", cx)
	}
	if abs(cy-125) > 10 {
		t.Errorf("centroid Y = %.1f, expected near 125", cy)
	}
	if abs(cz-20) > 5 {
		t.Errorf("centroid Z = %.1f, expected near 20", cz)
	}
}

func TestCylinderSitsOnMinCorner(t *testing.T) {
	p := part.Part{ID: "rod", Shape: part.ShapeCylinder, Size: geom.Vec3{X: 40, Z: 30}}

	m, err := tessellate.Part(newKernel(), p)
	if err != nil {
		t.Fatalf("Part failed: %v", err)
	}
	cx, cy, _ := centroid(m)
	if abs(cx-20) > 4 || abs(cy-20) > 4 {
		t.Errorf("centroid = (%.1f, %.1f), expected near (20, 20)", cx, cy)
	}
}

func TestHoleChangesMesh(t *testing.T) {
	k := newKernel()
	solid := makeBlock("w1", 100, 50, 20)
	bored := solid
	bored.Holes = []part.Hole{{Position: geom.Vec3{X: 50, Y: 25, Z: 20}, Diameter: 20, Depth: 10}}

	a, err := tessellate.Part(k, solid)
	if err != nil {
		t.Fatalf("Part failed: %v", err)
	}
	b, err := tessellate.Part(k, bored)
	if err != nil {
		t.Fatalf("Part with hole failed: %v", err)
	}
	if a.TriangleCount() == b.TriangleCount() {
		t.Errorf("expected hole to change triangle count, both %d", a.TriangleCount())
	}
}

func TestParts(t *testing.T) {
	parts := []part.Part{makeBlock("a", 40, 40, 10), makeBlock("b", 60, 30, 10)}
	meshes, err := tessellate.Parts(newKernel(), parts)
	if err != nil {
		t.Fatalf("Parts failed: %v", err)
	}
	if len(meshes) != 2 {
		t.Fatalf("expected 2 meshes, got %d", len(meshes))
	}
	for i, want := range []string{"a", "b"} {
		if meshes[i].Name != want {
			t.Errorf("mesh %d: expected Name %q, got %q", i, want, meshes[i].Name)
		}
	}
}

func TestInvalidSizes(t *testing.T) {
	k := newKernel()
	if _, err := tessellate.Part(k, makeBlock("flat", 10, 10, 0)); err == nil {
		t.Error("expected error for zero height")
	}
	bad := makeBlock("w1", 10, 10, 10)
	bad.Holes = []part.Hole{{Diameter: 0, Depth: 2}}
	if _, err := tessellate.Part(k, bad); err == nil {
		t.Error("expected error for zero hole diameter")
	}
	if _, err := tessellate.Stock(k, geom.Bounds{}); err == nil {
		t.Error("expected error for empty stock bounds")
	}
	if _, err := tessellate.Tool(k, 0, 30); err == nil {
		t.Error("expected error for zero tool diameter")
	}
}

func TestStockAndTool(t *testing.T) {
	k := newKernel()
	stock, err := tessellate.Stock(k, geom.Bounds{Max: geom.Vec3{X: 120, Y: 60, Z: 25}})
	if err != nil {
		t.Fatalf("Stock failed: %v", err)
	}
	if stock.Name != "stock" || stock.IsEmpty() {
		t.Errorf("stock mesh: name %q, empty %v", stock.Name, stock.IsEmpty())
	}
	tool, err := tessellate.Tool(k, 6, 30)
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}
	_, _, cz := centroid(tool)
	if abs(cz-15) > 3 {
		t.Errorf("tool centroid Z = %.1f, expected near 15", cz)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
