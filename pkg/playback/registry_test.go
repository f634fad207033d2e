package playback

import (
	"testing"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/scene"
)

type stubProxy struct {
	destroyed bool
}

func (p *stubProxy) Update(kernel.Mesh) {}
func (p *stubProxy) Move(geom.Vec3)     {}
func (p *stubProxy) Rotate(float64)     {}
func (p *stubProxy) Destroy()           { p.destroyed = true }

func TestRegistryReusesSlots(t *testing.T) {
	r := newRegistry()
	a, b, c := &stubProxy{}, &stubProxy{}, &stubProxy{}
	r.put("a", a)
	r.put("b", b)

	if _, ok := r.drop("a"); !ok {
		t.Fatal("drop a: not found")
	}
	r.put("c", c)
	if got, want := len(r.slots), 2; got != want {
		t.Fatalf("arena size: got %d, want %d", got, want)
	}
	if p, ok := r.lookup("c"); !ok || p != c {
		t.Fatalf("lookup c: got %v %v", p, ok)
	}
	if _, ok := r.lookup("a"); ok {
		t.Fatal("lookup a after drop: still present")
	}

	r.reset()
	if r.len() != 0 {
		t.Fatalf("len after reset: got %d, want 0", r.len())
	}
	if a.destroyed {
		t.Error("dropped proxy destroyed by reset")
	}
	if !b.destroyed || !c.destroyed {
		t.Error("live proxies not destroyed by reset")
	}
}

func TestStaleFramesAreDropped(t *testing.T) {
	rec := scene.NewRecorder()
	e := NewEngine(nil, rec, Options{})
	e.token = 7

	e.apply(6, compute.MeshAdd{ID: "late"})
	e.apply(0, compute.ProgressFrame{Value: 0.9})
	if got := e.meshes.len(); got != 0 {
		t.Fatalf("meshes after stale add: got %d, want 0", got)
	}
	if got := rec.Progress(); got != 0 {
		t.Fatalf("progress after stale frame: got %v, want 0", got)
	}

	e.apply(7, compute.MeshAdd{ID: "tool"})
	e.apply(7, compute.MeshAdd{ID: "tool"})
	if got := e.meshes.len(); got != 1 {
		t.Fatalf("meshes after re-add: got %d, want 1", got)
	}
	if got := rec.ProxyIDs(); len(got) != 1 || got[0] != "tool" {
		t.Fatalf("scene proxies: got %v, want [tool]", got)
	}

	e.apply(7, compute.ProgressFrame{Value: 1.5})
	if got := e.progress; got != 1 {
		t.Fatalf("progress clamp: got %v, want 1", got)
	}
}
