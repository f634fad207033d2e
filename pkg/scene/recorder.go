package scene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/part"
)

// Segment is one recorded path overlay line.
type Segment struct {
	From  geom.Vec3
	To    geom.Vec3
	Rapid bool
}

// Target is a pickable box registered with a Recorder.
type Target struct {
	Hit    Hit
	Bounds geom.Bounds
}

// Recorder is a headless Scene. It keeps the current visual state in
// memory and answers picks against registered targets.
type Recorder struct {
	mu       sync.Mutex
	targets  map[Layer][]Target
	markers  map[Layer]map[string]Marker
	styles   map[part.ID]PartStyle
	proxies  map[string]*RecordedProxy
	rotation float64
	path     []Segment
	progress float64
	readout  Readout
	notices  []Notice
	// clears counts ClearMarkers calls per layer.
	clears map[Layer]int
	// journal is an ordered log of side effects.
	journal []string
}

var _ Scene = (*Recorder)(nil)

// NewRecorder returns an empty scene.
func NewRecorder() *Recorder {
	return &Recorder{
		targets: make(map[Layer][]Target),
		markers: make(map[Layer]map[string]Marker),
		styles:  make(map[part.ID]PartStyle),
		proxies: make(map[string]*RecordedProxy),
		clears:  make(map[Layer]int),
	}
}

// ---------------------------------------------------------------------------
// Picker
// ---------------------------------------------------------------------------

// AddTarget registers a pickable box on a layer.
func (r *Recorder) AddTarget(layer Layer, hit Hit, b geom.Bounds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hit.Layer = layer
	r.targets[layer] = append(r.targets[layer], Target{Hit: hit, Bounds: b})
}

// ClearTargets removes every pickable on layer.
func (r *Recorder) ClearTargets(layer Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, layer)
}

// AddPart registers a part as a target on the part layer, using face 0.
func (r *Recorder) AddPart(p part.Part) {
	r.AddTarget(LayerPart, Hit{PartID: p.ID}, p.Bounds())
}

func (r *Recorder) Intersect(layer Layer, ray geom.Ray) []Hit {
	r.mu.Lock()
	defer r.mu.Unlock()
	type scored struct {
		hit  Hit
		dist float64
	}
	var found []scored
	dir := ray.Dir.Normalize()
	for _, t := range r.targets[layer] {
		d, ok := t.Bounds.IntersectRay(geom.Ray{Origin: ray.Origin, Dir: dir})
		if !ok {
			continue
		}
		h := t.Hit
		h.Point = ray.Origin.Add(dir.Scale(d))
		found = append(found, scored{hit: h, dist: d})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	hits := make([]Hit, len(found))
	for i, s := range found {
		hits[i] = s.hit
	}
	return hits
}

// ---------------------------------------------------------------------------
// Highlighter
// ---------------------------------------------------------------------------

func (r *Recorder) ShowMarker(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.markers[m.Layer]
	if byID == nil {
		byID = make(map[string]Marker)
		r.markers[m.Layer] = byID
	}
	byID[m.ID] = m
	r.journal = append(r.journal, fmt.Sprintf("show %s %s %s", m.Layer, m.ID, m.Style))
}

func (r *Recorder) HideMarker(layer Layer, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markers[layer][id]; !ok {
		return
	}
	delete(r.markers[layer], id)
	r.journal = append(r.journal, fmt.Sprintf("hide %s %s", layer, id))
}

func (r *Recorder) ClearMarkers(layer Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, layer)
	r.clears[layer]++
	r.journal = append(r.journal, "clear "+layer.String())
}

func (r *Recorder) SetPartStyle(id part.ID, s PartStyle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.styles[id] = s
	r.journal = append(r.journal, fmt.Sprintf("style %s visible=%t opacity=%.2f", id, s.Visible, s.Opacity))
}

// Markers returns the markers currently shown on layer, sorted by id.
func (r *Recorder) Markers(layer Layer) []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Marker, 0, len(r.markers[layer]))
	for _, m := range r.markers[layer] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clears reports how many times layer was cleared.
func (r *Recorder) Clears(layer Layer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears[layer]
}

// PartStyle returns the current style of a part.
func (r *Recorder) PartStyle(id part.ID) PartStyle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.styles[id]; ok {
		return s
	}
	return DefaultPartStyle
}

// ---------------------------------------------------------------------------
// Renderer
// ---------------------------------------------------------------------------

// RecordedProxy is the Recorder's proxy.
type RecordedProxy struct {
	rec *Recorder
	id  string

	Mesh      kernel.Mesh
	Position  geom.Vec3
	Angle     float64
	Destroyed bool
}

func (p *RecordedProxy) Update(patch kernel.Mesh) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.Mesh.Patch(patch)
}

func (p *RecordedProxy) Move(pos geom.Vec3) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.Position = pos
}

func (p *RecordedProxy) Rotate(angle float64) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.Angle = angle
}

func (p *RecordedProxy) Destroy() {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.Destroyed = true
	if p.rec.proxies[p.id] == p {
		delete(p.rec.proxies, p.id)
	}
	p.rec.journal = append(p.rec.journal, "destroy "+p.id)
}

func (r *Recorder) CreateProxy(id string, mesh kernel.Mesh) (Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proxies[id]; ok {
		return nil, fmt.Errorf("scene: proxy %q already exists", id)
	}
	p := &RecordedProxy{rec: r, id: id, Mesh: mesh}
	r.proxies[id] = p
	r.journal = append(r.journal, "create "+id)
	return p, nil
}

func (r *Recorder) SetGroupRotation(angle float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotation = angle
}

func (r *Recorder) AppendPath(from, to geom.Vec3, rapid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = append(r.path, Segment{From: from, To: to, Rapid: rapid})
}

func (r *Recorder) ClearPath() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = nil
}

func (r *Recorder) SetProgress(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = v
}

func (r *Recorder) SetReadout(ro Readout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readout = ro
}

// Proxy returns a live proxy by id.
func (r *Recorder) Proxy(id string) (*RecordedProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[id]
	return p, ok
}

// ProxyIDs returns the ids of live proxies, sorted.
func (r *Recorder) ProxyIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.proxies))
	for id := range r.proxies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rotation returns the group rotation.
func (r *Recorder) Rotation() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotation
}

// Path returns a copy of the path overlay.
func (r *Recorder) Path() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Segment(nil), r.path...)
}

// Progress returns the progress read-out.
func (r *Recorder) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Readout returns the machine position read-out.
func (r *Recorder) Readout() Readout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readout
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns every notice shown so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Journal returns the ordered log of marker, style and proxy side effects.
func (r *Recorder) Journal() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.journal...)
}
