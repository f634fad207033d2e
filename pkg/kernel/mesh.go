package kernel

// Mesh is a triangle mesh suitable for rendering and for transport as a
// mesh frame payload. All arrays are flat: vertices has 3 floats per vertex
// (x,y,z), normals has 3 floats per vertex, indices has 3 uint32s per
// triangle. In a partial update an empty array means "unchanged".
type Mesh struct {
	Vertices []float32 `json:"vertices,omitempty"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals,omitempty"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices,omitempty"`  // [i0,i1,i2, ...] triangles
	Name     string    `json:"name,omitempty"`     // stock, tool or a part ID
	Color    string    `json:"color,omitempty"`
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Triangle returns the three vertex positions of triangle i.
func (m *Mesh) Triangle(i int) (a, b, c [3]float32) {
	at := func(idx uint32) [3]float32 {
		return [3]float32{m.Vertices[idx*3], m.Vertices[idx*3+1], m.Vertices[idx*3+2]}
	}
	return at(m.Indices[i*3]), at(m.Indices[i*3+1]), at(m.Indices[i*3+2])
}

// Patch applies a partial update: non-empty fields of p replace the
// corresponding fields of m.
func (m *Mesh) Patch(p Mesh) {
	if len(p.Vertices) > 0 {
		m.Vertices = p.Vertices
	}
	if len(p.Normals) > 0 {
		m.Normals = p.Normals
	}
	if len(p.Indices) > 0 {
		m.Indices = p.Indices
	}
	if p.Name != "" {
		m.Name = p.Name
	}
	if p.Color != "" {
		m.Color = p.Color
	}
}
