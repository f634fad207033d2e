package geomsvc

import (
	"fmt"
	"math"
	"sort"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/tessellate"
)

const (
	// defaultAngleTolerance applies when a request sends none (degrees).
	defaultAngleTolerance = 1.0
	// wallNormalZ bounds |n.z| for faces that count as side walls.
	wallNormalZ = 0.1
	// smoothAngle is the largest bend between neighbours on a cylinder.
	smoothAngle = 30.0
	// minCurvature is the normal spread a cylindrical group must show.
	minCurvature = 5.0
)

// partMesh is a tessellated part with triangle adjacency. Triangles are
// adjacent when they share an edge by vertex position.
type partMesh struct {
	source  part.Part
	mesh    *kernel.Mesh
	normals []geom.Vec3
	adj     [][]int
}

func newPartMesh(p part.Part, m *kernel.Mesh) *partMesh {
	n := m.TriangleCount()
	pm := &partMesh{source: p, mesh: m, normals: make([]geom.Vec3, n), adj: make([][]int, n)}

	edges := make(map[[2]string][]int)
	for i := 0; i < n; i++ {
		a, b, c := m.Triangle(i)
		va, vb, vc := vec(a), vec(b), vec(c)
		pm.normals[i] = vb.Sub(va).Cross(vc.Sub(va)).Normalize()
		for _, e := range [][2]geom.Vec3{{va, vb}, {vb, vc}, {vc, va}} {
			k := edgeKey(e[0], e[1])
			edges[k] = append(edges[k], i)
		}
	}
	for _, tris := range edges {
		for _, t := range tris {
			for _, u := range tris {
				if u != t {
					pm.adj[t] = append(pm.adj[t], u)
				}
			}
		}
	}
	return pm
}

func vec(v [3]float32) geom.Vec3 {
	return geom.Vec3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

func edgeKey(a, b geom.Vec3) [2]string {
	ka, kb := a.Key(), b.Key()
	if ka > kb {
		ka, kb = kb, ka
	}
	return [2]string{ka, kb}
}

// angle returns the angle between unit vectors in degrees.
func angle(a, b geom.Vec3) float64 {
	d := math.Max(-1, math.Min(1, a.Dot(b)))
	return math.Acos(d) * 180 / math.Pi
}

// grow collects the faces reachable from seed through neighbours accepted
// by keep. The result is sorted.
func (pm *partMesh) grow(seed int, keep func(from, to int) bool) []int {
	seen := map[int]bool{seed: true}
	queue := []int{seed}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for _, nb := range pm.adj[f] {
			if !seen[nb] && keep(f, nb) {
				seen[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	out := make([]int, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

// surface groups the connected faces within tol degrees of the seed
// normal.
func (pm *partMesh) surface(seed int, tol float64) compute.FaceGroup {
	if seed < 0 || seed >= len(pm.normals) {
		return compute.FaceGroup{Error: fmt.Sprintf("face %d out of range", seed)}
	}
	if tol <= 0 {
		tol = defaultAngleTolerance
	}
	n0 := pm.normals[seed]
	faces := pm.grow(seed, func(_, to int) bool { return angle(n0, pm.normals[to]) <= tol })
	return compute.FaceGroup{Faces: faces}
}

// cylinder groups the smoothly curving side-wall faces around the seed.
// A flat wall is rejected.
func (pm *partMesh) cylinder(seed int) compute.FaceGroup {
	if seed < 0 || seed >= len(pm.normals) {
		return compute.FaceGroup{Error: fmt.Sprintf("face %d out of range", seed)}
	}
	n0 := pm.normals[seed]
	if math.Abs(n0.Z) >= wallNormalZ {
		return compute.FaceGroup{Error: "not cylindrical"}
	}
	faces := pm.grow(seed, func(from, to int) bool {
		n := pm.normals[to]
		return math.Abs(n.Z) < wallNormalZ && angle(pm.normals[from], n) <= smoothAngle
	})
	spread := 0.0
	for _, f := range faces {
		spread = math.Max(spread, angle(n0, pm.normals[f]))
	}
	if spread < minCurvature {
		return compute.FaceGroup{Error: "not cylindrical"}
	}
	return compute.FaceGroup{Faces: faces}
}

// meshFor returns the cached mesh of a part, rebuilding it when the part
// changed since it was tessellated.
func (s *Service) meshFor(p part.Part) (*partMesh, error) {
	if pm, ok := s.meshes[p.ID]; ok && samePart(pm.source, p) {
		return pm, nil
	}
	m, err := tessellate.Part(s.kernel, p)
	if err != nil {
		return nil, err
	}
	pm := newPartMesh(p, m)
	s.meshes[p.ID] = pm
	return pm, nil
}

func samePart(a, b part.Part) bool {
	if a.Shape != b.Shape || a.Size != b.Size || a.Position != b.Position || len(a.Holes) != len(b.Holes) {
		return false
	}
	for i := range a.Holes {
		if a.Holes[i] != b.Holes[i] {
			return false
		}
	}
	return true
}

// analyze tessellates every part and drops meshes of removed parts.
func (s *Service) analyze() error {
	parts := s.partsByID()
	for id := range s.meshes {
		if _, ok := parts[id]; !ok {
			delete(s.meshes, id)
		}
	}
	for _, p := range s.parts.List() {
		if _, err := s.meshFor(p); err != nil {
			return fmt.Errorf("surface analysis: %w", err)
		}
	}
	return nil
}

func (s *Service) lookupMesh(id part.ID) (*partMesh, error) {
	p, ok := s.partsByID()[id]
	if !ok {
		return nil, fmt.Errorf("unknown part %q", id)
	}
	return s.meshFor(p)
}

func (s *Service) surfaceGroup(id part.ID, face int, tol float64) (compute.FaceGroup, error) {
	pm, err := s.lookupMesh(id)
	if err != nil {
		return compute.FaceGroup{}, err
	}
	return pm.surface(face, tol), nil
}

func (s *Service) cylinderGroup(id part.ID, face int) (compute.FaceGroup, error) {
	pm, err := s.lookupMesh(id)
	if err != nil {
		return compute.FaceGroup{}, err
	}
	return pm.cylinder(face), nil
}
