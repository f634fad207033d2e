package playback_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/playback"
	"github.com/chazu/millwright/pkg/scene"
)

// ---------------------------------------------------------------------------
// Fake engine
// ---------------------------------------------------------------------------

// sim is a toolpath of total unit moves along X. Setup adds stock, tool
// and clamp meshes; the second move deletes the clamp and indexes the
// stock by 90 degrees.
type sim struct {
	total int
	delay time.Duration
	// failSetup, when set, fails setup after the stock mesh.
	failSetup string

	pos       atomic.Int32
	lastMult  atomic.Int32
	teardowns atomic.Int32
}

func (s *sim) handle(call *compute.Call) {
	req, err := call.Request()
	if err != nil {
		call.Fail(err)
		return
	}
	switch r := req.(type) {
	case *compute.PlaybackSetup:
		s.pos.Store(0)
		if s.failSetup != "" {
			_ = call.Frame(compute.MeshAdd{ID: "stock", Mesh: kernel.Mesh{Name: "stock"}})
			call.Fail(errors.New(s.failSetup))
			return
		}
		for _, id := range []string{"stock", "tool", "clamp"} {
			if call.Frame(compute.MeshAdd{ID: id, Mesh: kernel.Mesh{Name: id}}) != nil {
				return
			}
		}
		call.Close()
	case *compute.PlaybackStep:
		s.lastMult.Store(int32(r.SpeedMultiplier))
		for i := 0; i < r.StepCount; i++ {
			if s.delay > 0 {
				time.Sleep(s.delay)
			}
			p := s.pos.Add(1)
			to := geom.Vec3{X: float64(p), Y: 10, Z: 5}
			from := to.Sub(geom.Vec3{X: 1})
			if call.Frame(compute.Line{From: from, To: to}) != nil {
				return
			}
			_ = call.Frame(compute.MeshMove{ID: "tool", Position: to})
			call.Progress(float64(p)/float64(s.total), "")
			if p == 2 {
				_ = call.Frame(compute.MeshDel{ID: "clamp"})
				_ = call.Frame(compute.StockIndex{Angle: 90})
				_ = call.Frame(compute.MeshUpdate{ID: "ghost"})
			}
			if int(p) >= s.total {
				_ = call.Frame(compute.Finished{})
				break
			}
		}
		call.Close()
	case *compute.PlaybackTeardown:
		s.teardowns.Add(1)
		_ = call.Result(compute.Ack{OK: true})
	case *compute.Cancel:
	default:
		call.Fail(fmt.Errorf("unexpected %s", call.Kind))
	}
}

// tracer wraps a Recorder and logs every proxy move in order.
type tracer struct {
	*scene.Recorder
	mu    sync.Mutex
	moves []geom.Vec3
}

func (t *tracer) CreateProxy(id string, mesh kernel.Mesh) (scene.Proxy, error) {
	p, err := t.Recorder.CreateProxy(id, mesh)
	if err != nil {
		return nil, err
	}
	return &tracedProxy{Proxy: p, t: t}, nil
}

func (t *tracer) moveLog() []geom.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]geom.Vec3(nil), t.moves...)
}

type tracedProxy struct {
	scene.Proxy
	t *tracer
}

func (p *tracedProxy) Move(pos geom.Vec3) {
	p.t.mu.Lock()
	p.t.moves = append(p.t.moves, pos)
	p.t.mu.Unlock()
	p.Proxy.Move(pos)
}

type prefs struct {
	mu sync.Mutex
	m  map[string]int
}

func (p *prefs) Int(_ context.Context, key string, def int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.m[key]; ok {
		return v, nil
	}
	return def, nil
}

func (p *prefs) SetInt(_ context.Context, key string, v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = v
	return nil
}

type fixture struct {
	sim    *sim
	scene  *tracer
	prefs  *prefs
	engine *playback.Engine
}

func newFixture(t *testing.T, total int, delay time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		sim:   &sim{total: total, delay: delay},
		scene: &tracer{Recorder: scene.NewRecorder()},
		prefs: &prefs{m: map[string]int{}},
	}
	client := compute.NewClient(compute.NewLocalTransport(compute.HandlerFunc(f.sim.handle), nil), nil)
	t.Cleanup(func() { _ = client.Close() })
	f.engine = playback.NewEngine(client, f.scene, playback.Options{
		Origin: geom.Vec3{X: 0, Y: 10, Z: 0},
		Prefs:  f.prefs,
	})
	return f
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func countJournal(r *scene.Recorder, prefix string) int {
	n := 0
	for _, e := range r.Journal() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSetupCreatesEngineMeshes(t *testing.T) {
	f := newFixture(t, 10, 0)
	require.NoError(t, f.engine.Setup(testCtx(t), map[string]any{"ops": 1}, "w1"))

	assert.Equal(t, []string{"clamp", "stock", "tool"}, f.engine.MeshIDs())
	assert.Equal(t, []string{"clamp", "stock", "tool"}, f.scene.ProxyIDs())
	assert.False(t, f.scene.PartStyle("w1").Visible)
	assert.Equal(t, playback.StateStopped, f.engine.State())
}

func TestStepBeforeSetup(t *testing.T) {
	f := newFixture(t, 10, 0)
	assert.ErrorIs(t, f.engine.Step(testCtx(t)), playback.ErrNotReady)
	assert.ErrorIs(t, f.engine.Play(testCtx(t)), playback.ErrNotReady)
}

func TestFiveStepsApplyFiveMovesInOrder(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := testCtx(t)
	require.NoError(t, f.engine.Setup(ctx, nil))

	var progress []float64
	for i := 0; i < 5; i++ {
		require.NoError(t, f.engine.Step(ctx))
		assert.Equal(t, playback.StatePaused, f.engine.State())
		progress = append(progress, f.engine.Progress())
	}

	moves := f.scene.moveLog()
	require.Len(t, moves, 5)
	for i, m := range moves {
		assert.Equal(t, float64(i+1), m.X, "move %d", i)
	}
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.InDelta(t, 0.5, f.engine.Progress(), 1e-9)
	assert.Equal(t, int32(1), f.sim.lastMult.Load())

	// Read-out is the tool position minus the origin offset.
	assert.Equal(t, scene.Readout{X: 5, Y: 0, Z: 5}, f.engine.Readout())
	assert.Len(t, f.scene.Path(), 5)
}

func TestStockIndexAndMeshDel(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := testCtx(t)
	require.NoError(t, f.engine.Setup(ctx, nil))
	require.NoError(t, f.engine.Step(ctx))
	require.NoError(t, f.engine.Step(ctx))

	assert.Equal(t, 90.0, f.engine.Rotation())
	assert.Equal(t, 90.0, f.scene.Rotation())
	assert.Equal(t, []string{"stock", "tool"}, f.engine.MeshIDs())
	_, ok := f.scene.Proxy("clamp")
	assert.False(t, ok)
}

func TestPlayPausePlayDoesNotDuplicateProxies(t *testing.T) {
	f := newFixture(t, 40, 2*time.Millisecond)
	ctx := testCtx(t)
	require.NoError(t, f.engine.Setup(ctx, nil))

	require.NoError(t, f.engine.Play(ctx))
	require.Eventually(t, func() bool { return f.engine.Segments() >= 3 }, 5*time.Second, time.Millisecond)
	require.NoError(t, f.engine.Pause(ctx))
	assert.Equal(t, playback.StatePaused, f.engine.State())
	paused := f.engine.Segments()
	assert.Equal(t, paused, len(f.scene.moveLog()))

	require.NoError(t, f.engine.Play(ctx))
	require.Eventually(t, f.engine.Finished, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.engine.State() == playback.StateStopped }, time.Second, time.Millisecond)

	// Three adds, one delete, no client-side creation.
	assert.Equal(t, 3, countJournal(f.scene.Recorder, "create "))
	assert.Equal(t, 2, f.engine.Meshes())
	assert.Equal(t, []string{"stock", "tool"}, f.scene.ProxyIDs())
	assert.Equal(t, 40, f.engine.Segments())
	assert.Len(t, f.scene.moveLog(), 40)
	assert.ErrorIs(t, f.engine.Play(ctx), playback.ErrFinished)
}

func TestFastSelectsMaxSpeed(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := testCtx(t)
	require.NoError(t, f.engine.Setup(ctx, nil))

	require.NoError(t, f.engine.Fast(ctx))
	require.Eventually(t, f.engine.Finished, 5*time.Second, time.Millisecond)

	idx, mult := f.engine.Speed()
	assert.Equal(t, len(playback.DefaultLadder)-1, idx)
	assert.Equal(t, 32, mult)
	assert.Equal(t, int32(32), f.sim.lastMult.Load())
	assert.Equal(t, idx, f.prefs.m[playback.SpeedKey])
}

func TestSpeedLadderWrapsAndPersists(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := testCtx(t)

	require.NoError(t, f.engine.SetSpeed(ctx, 3))
	require.NoError(t, f.engine.Faster(ctx))
	idx, _ := f.engine.Speed()
	assert.Equal(t, 4, idx)
	require.NoError(t, f.engine.Faster(ctx))
	idx, mult := f.engine.Speed()
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, mult)
	assert.Equal(t, 0, f.prefs.m[playback.SpeedKey])

	assert.Error(t, f.engine.SetSpeed(ctx, 5))

	// A new engine restores the sticky preference.
	f.prefs.m[playback.SpeedKey] = 2
	other := playback.NewEngine(nil, f.scene, playback.Options{Prefs: f.prefs})
	require.NoError(t, other.LoadSpeed(ctx))
	idx, mult = other.Speed()
	assert.Equal(t, 2, idx)
	assert.Equal(t, 4, mult)
}

func TestTeardownResetsVisuals(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := testCtx(t)
	require.NoError(t, f.engine.Setup(ctx, nil, "w1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Step(ctx))
	}

	require.NoError(t, f.engine.Teardown(ctx))
	assert.Equal(t, int32(1), f.sim.teardowns.Load())
	assert.Zero(t, f.engine.Meshes())
	assert.Empty(t, f.scene.ProxyIDs())
	assert.Empty(t, f.scene.Path())
	assert.Zero(t, f.scene.Rotation())
	assert.Zero(t, f.scene.Progress())
	assert.Equal(t, scene.DefaultPartStyle, f.scene.PartStyle("w1"))
	assert.Equal(t, playback.StateStopped, f.engine.State())
	assert.ErrorIs(t, f.engine.Step(ctx), playback.ErrNotReady)

	// A second teardown has nothing left to do.
	require.NoError(t, f.engine.Teardown(ctx))
	assert.Equal(t, int32(1), f.sim.teardowns.Load())
}

func TestFailedSetupLeavesEngineStopped(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.sim.failSetup = "no parts to machine"
	ctx := testCtx(t)

	err := f.engine.Setup(ctx, nil, "w1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parts to machine")

	assert.Zero(t, f.engine.Meshes())
	assert.Empty(t, f.scene.ProxyIDs())
	assert.Equal(t, scene.DefaultPartStyle, f.scene.PartStyle("w1"))
	assert.Equal(t, playback.StateStopped, f.engine.State())
	assert.Equal(t, int32(1), f.sim.teardowns.Load())
	assert.ErrorIs(t, f.engine.Play(ctx), playback.ErrNotReady)
	assert.ErrorIs(t, f.engine.Step(ctx), playback.ErrNotReady)
	assert.Equal(t, playback.StateStopped, f.engine.State())
}

type visualState struct {
	Proxies  []string
	Path     int
	Rotation float64
	Progress float64
	Readout  scene.Readout
	Meshes   int
	State    playback.State
}

func snapshot(f *fixture) visualState {
	return visualState{
		Proxies:  f.scene.ProxyIDs(),
		Path:     len(f.scene.Path()),
		Rotation: f.scene.Rotation(),
		Progress: f.scene.Progress(),
		Readout:  f.scene.Readout(),
		Meshes:   f.engine.Meshes(),
		State:    f.engine.State(),
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := testCtx(t)
	require.NoError(t, f.engine.Setup(ctx, nil))
	first := snapshot(f)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.engine.Step(ctx))
	}
	require.NoError(t, f.engine.Setup(ctx, nil))
	assert.Equal(t, first, snapshot(f))

	require.NoError(t, f.engine.Teardown(ctx))
	require.NoError(t, f.engine.Setup(ctx, nil))
	assert.Equal(t, first, snapshot(f))
}
