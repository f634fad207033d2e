package geomsvc_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/geomsvc"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/kernel/sdfx"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/tessellate"
)

var (
	block = part.Part{
		ID:    "w1",
		Shape: part.ShapeBox,
		Size:  geom.Vec3{X: 100, Y: 50, Z: 20},
		Holes: []part.Hole{{Position: geom.Vec3{X: 50, Y: 25, Z: 20}, Diameter: 8, Depth: 10}},
	}
	rod = part.Part{
		ID:       "rod",
		Shape:    part.ShapeCylinder,
		Size:     geom.Vec3{X: 40, Z: 30},
		Position: geom.Vec3{X: 200},
	}
)

type fixture struct {
	kernel kernel.Kernel
	client *compute.Client
}

func newFixture(t *testing.T, opts geomsvc.Options, parts ...part.Part) *fixture {
	t.Helper()
	reg := part.NewRegistry()
	for _, p := range parts {
		require.NoError(t, reg.Define(p))
	}
	k := sdfx.NewWithResolution(16)
	svc := geomsvc.New(k, reg, opts)
	client := compute.NewClient(compute.NewLocalTransport(svc, nil), nil)
	t.Cleanup(func() { _ = client.Close() })
	return &fixture{kernel: k, client: client}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---------------------------------------------------------------------------
// Traces and holes
// ---------------------------------------------------------------------------

func TestTraceExtract(t *testing.T) {
	f := newFixture(t, geomsvc.Options{}, block, rod)
	ctx := testContext(t)

	res, err := compute.Fetch[[]compute.PartTraces](ctx, f.client, compute.TraceExtract{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, part.ID("rod"), res[0].PartID)
	assert.Equal(t, part.ID("w1"), res[1].PartID)

	w1 := res[1].Traces
	require.Len(t, w1, 3, "top outline, hole rim, bottom outline")
	assert.Equal(t, "w1/z20.000/0", w1[0].Key)
	assert.Equal(t, 20.0, w1[0].Z)
	assert.True(t, w1[0].Closed)
	assert.Equal(t, w1[0].Points[0], w1[0].Points[len(w1[0].Points)-1])
	assert.Equal(t, 20.0, w1[1].Z)
	assert.Equal(t, 0.0, w1[2].Z)

	rim := w1[1].Points[0]
	assert.InDelta(t, 54, rim.X, 1e-9)
	assert.InDelta(t, 25, rim.Y, 1e-9)

	single, err := compute.Fetch[[]compute.PartTraces](ctx, f.client, compute.TraceExtract{SingleLayerOnly: true})
	require.NoError(t, err)
	assert.Len(t, single[1].Traces, 2)
	assert.Len(t, single[0].Traces, 1)
}

func TestHoleDetect(t *testing.T) {
	f := newFixture(t, geomsvc.Options{}, block, rod)
	ctx := testContext(t)

	var mu sync.Mutex
	var progress []float64
	res, err := compute.Fetch[compute.HoleDetectResult](ctx, f.client, compute.HoleDetect{IndividualSizing: true},
		compute.WithProgress(func(p compute.Progress) {
			mu.Lock()
			progress = append(progress, p.Value)
			mu.Unlock()
		}))
	require.NoError(t, err)
	require.Len(t, res.PerPart, 1)
	assert.Equal(t, part.ID("w1"), res.PerPart[0].PartID)
	assert.Equal(t, []compute.HoleInfo{{X: 50, Y: 25, Z: 20, Depth: 10, Diameter: 8}}, res.PerPart[0].Holes)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{0.5, 1}, progress)
}

func TestHoleDetectSizesByTool(t *testing.T) {
	tools := ops.NewToolTable([]ops.Tool{{ID: 3, Name: "5mm drill", Kind: ops.ToolDrill, Diameter: 5}})
	f := newFixture(t, geomsvc.Options{Tools: tools}, block)
	ctx := testContext(t)

	snap, err := ops.New(ops.TypeDrill).MarshalJSON()
	require.NoError(t, err)
	res, err := compute.Fetch[compute.HoleDetectResult](ctx, f.client, compute.HoleDetect{Operation: snap})
	require.NoError(t, err)
	require.Len(t, res.PerPart, 1)
	assert.Equal(t, 5.0, res.PerPart[0].Holes[0].Diameter)
}

// ---------------------------------------------------------------------------
// Face groups
// ---------------------------------------------------------------------------

// findFace returns the first triangle whose normal satisfies keep.
func findFace(t *testing.T, m *kernel.Mesh, keep func(n geom.Vec3) bool) int {
	t.Helper()
	for i := 0; i < m.TriangleCount(); i++ {
		if keep(faceNormal(m, i)) {
			return i
		}
	}
	t.Fatal("no matching face")
	return -1
}

func faceNormal(m *kernel.Mesh, i int) geom.Vec3 {
	v := m.Indices[i*3] * 3
	return geom.Vec3{X: float64(m.Normals[v]), Y: float64(m.Normals[v+1]), Z: float64(m.Normals[v+2])}
}

func TestSurfaceFaceGroup(t *testing.T) {
	f := newFixture(t, geomsvc.Options{}, block)
	ctx := testContext(t)

	_, err := compute.Fetch[compute.Ack](ctx, f.client, compute.SurfaceAnalyze{})
	require.NoError(t, err)

	mesh, err := tessellate.Part(f.kernel, block)
	require.NoError(t, err)
	seed := findFace(t, mesh, func(n geom.Vec3) bool { return n.Z > 0.999 })

	g, err := compute.Fetch[compute.FaceGroup](ctx, f.client,
		compute.SurfaceFaceGroup{PartID: "w1", FaceID: seed, AngleTolerance: 2})
	require.NoError(t, err)
	require.Empty(t, g.Error)
	assert.Contains(t, g.Faces, seed)
	assert.Greater(t, len(g.Faces), 1)
	assert.IsNonDecreasing(t, g.Faces)
	for _, face := range g.Faces {
		assert.Greater(t, faceNormal(mesh, face).Z, 0.99, "face %d", face)
	}

	bad, err := compute.Fetch[compute.FaceGroup](ctx, f.client,
		compute.SurfaceFaceGroup{PartID: "w1", FaceID: mesh.TriangleCount()})
	require.NoError(t, err)
	assert.Contains(t, bad.Error, "out of range")
}

func TestCylinderFaceGroup(t *testing.T) {
	f := newFixture(t, geomsvc.Options{}, block, rod)
	ctx := testContext(t)

	mesh, err := tessellate.Part(f.kernel, rod)
	require.NoError(t, err)
	seed := findFace(t, mesh, func(n geom.Vec3) bool { return math.Abs(n.Z) < 0.01 })

	g, err := compute.Fetch[compute.FaceGroup](ctx, f.client, compute.CylinderFaceGroup{PartID: "rod", FaceID: seed})
	require.NoError(t, err)
	require.Empty(t, g.Error)
	assert.Contains(t, g.Faces, seed)
	assert.Greater(t, len(g.Faces), 8)

	blockMesh, err := tessellate.Part(f.kernel, block)
	require.NoError(t, err)
	top := findFace(t, blockMesh, func(n geom.Vec3) bool { return n.Z > 0.999 })
	flat, err := compute.Fetch[compute.FaceGroup](ctx, f.client, compute.CylinderFaceGroup{PartID: "w1", FaceID: top})
	require.NoError(t, err)
	assert.Equal(t, "not cylindrical", flat.Error)
	assert.Empty(t, flat.Faces)
}

func TestUnknownPartFails(t *testing.T) {
	f := newFixture(t, geomsvc.Options{}, block)
	ctx := testContext(t)

	_, err := compute.Fetch[compute.FaceGroup](ctx, f.client, compute.SurfaceFaceGroup{PartID: "gone"})
	var ee *compute.EngineError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Contains(t, ee.Message, "unknown part")
}

// ---------------------------------------------------------------------------
// Playback
// ---------------------------------------------------------------------------

// collector gathers stream frames; it is called on the client's dispatch
// goroutine.
type collector struct {
	mu     sync.Mutex
	frames []compute.Frame
}

func (c *collector) add(_ uint64, f compute.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collector) take() []compute.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

func stream(ctx context.Context, t *testing.T, client *compute.Client, channel string, req compute.Request, c *collector) error {
	t.Helper()
	h, err := client.Stream(ctx, channel, req, c.add)
	require.NoError(t, err)
	return h.Wait(ctx)
}

func drillSnapshot(t *testing.T) json.RawMessage {
	t.Helper()
	drill := ops.New(ops.TypeDrill)
	drill.Set(ops.SetDrills).Put("w1", ops.Hole{X: 50, Y: 25, Z: 20, Depth: 10, Diameter: 8, Selected: true}, true)
	drill.Set(ops.SetDrills).Put("w1", ops.Hole{X: 10, Y: 10, Z: 20, Depth: 5, Diameter: 8}, true)
	pocket := ops.New(ops.TypePocket)
	pocket.Disabled = true
	snap := ops.Snapshot{
		Parts:      []part.Part{block},
		Operations: []*ops.Operation{drill, ops.New(ops.TypeFlip), pocket, ops.New(ops.TypeClock)},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	return raw
}

// runToEnd steps until a Finished frame and returns every frame seen.
func runToEnd(ctx context.Context, t *testing.T, client *compute.Client, mult int) []compute.Frame {
	t.Helper()
	var c collector
	var all []compute.Frame
	for i := 0; i < 1000; i++ {
		require.NoError(t, stream(ctx, t, client, "step", compute.PlaybackStep{SpeedMultiplier: mult, StepCount: 1}, &c))
		frames := c.take()
		all = append(all, frames...)
		if _, ok := frames[len(frames)-1].(compute.Finished); ok {
			return all
		}
	}
	t.Fatal("simulation never finished")
	return nil
}

func TestPlaybackSetupSendsMeshes(t *testing.T) {
	f := newFixture(t, geomsvc.Options{})
	ctx := testContext(t)

	var c collector
	require.NoError(t, stream(ctx, t, f.client, "setup", compute.PlaybackSetup{Settings: drillSnapshot(t)}, &c))
	frames := c.take()
	require.Len(t, frames, 4)

	stock, ok := frames[0].(compute.MeshAdd)
	require.True(t, ok, "got %T", frames[0])
	assert.Equal(t, geomsvc.StockID, stock.ID)
	assert.False(t, stock.Mesh.IsEmpty())

	tool, ok := frames[1].(compute.MeshAdd)
	require.True(t, ok, "got %T", frames[1])
	assert.Equal(t, geomsvc.ToolID, tool.ID)

	home, ok := frames[2].(compute.MeshMove)
	require.True(t, ok, "got %T", frames[2])
	assert.Equal(t, geom.Vec3{X: -2, Y: -2, Z: 27}, home.Position)
}

func TestPlaybackRunsDrillAndFlip(t *testing.T) {
	f := newFixture(t, geomsvc.Options{})
	ctx := testContext(t)

	var c collector
	require.NoError(t, stream(ctx, t, f.client, "setup", compute.PlaybackSetup{Settings: drillSnapshot(t)}, &c))

	frames := runToEnd(ctx, t, f.client, 1)
	var lines []compute.Line
	var indexes []float64
	last := -1.0
	for _, fr := range frames {
		switch v := fr.(type) {
		case compute.Line:
			lines = append(lines, v)
		case compute.StockIndex:
			indexes = append(indexes, v.Angle)
		case compute.ProgressFrame:
			assert.GreaterOrEqual(t, v.Value, last)
			last = v.Value
		}
	}
	assert.Equal(t, 1.0, last)
	assert.Equal(t, []float64{180}, indexes)

	var plunges int
	for i, l := range lines {
		if i > 0 {
			assert.Equal(t, lines[i-1].To, l.From, "path is continuous at %d", i)
		}
		if !l.Rapid && l.To.Z == 10 {
			plunges++
			assert.Equal(t, 50.0, l.To.X)
		}
	}
	assert.Equal(t, 1, plunges, "only the selected hole is drilled")

	// A finished run keeps answering Finished.
	require.NoError(t, stream(ctx, t, f.client, "step", compute.PlaybackStep{SpeedMultiplier: 1, StepCount: 1}, &c))
	again := c.take()
	require.Len(t, again, 1)
	assert.IsType(t, compute.Finished{}, again[0])
}

func TestPlaybackSpeedKeepsPath(t *testing.T) {
	f := newFixture(t, geomsvc.Options{})
	ctx := testContext(t)
	var c collector

	count := func(frames []compute.Frame) (lines, moves int) {
		for _, fr := range frames {
			switch fr.(type) {
			case compute.Line:
				lines++
			case compute.MeshMove:
				moves++
			}
		}
		return lines, moves
	}

	require.NoError(t, stream(ctx, t, f.client, "setup", compute.PlaybackSetup{Settings: drillSnapshot(t)}, &c))
	slowLines, slowMoves := count(runToEnd(ctx, t, f.client, 1))

	require.NoError(t, stream(ctx, t, f.client, "setup", compute.PlaybackSetup{Settings: drillSnapshot(t)}, &c))
	fastLines, fastMoves := count(runToEnd(ctx, t, f.client, 8))

	assert.Equal(t, slowLines, fastLines)
	assert.Less(t, fastMoves, slowMoves)
}

func TestPlaybackGCodeMacros(t *testing.T) {
	f := newFixture(t, geomsvc.Options{})
	ctx := testContext(t)

	g := ops.New(ops.TypeGCode)
	g.Params["code"] = strings.Join([]string{
		"G0 X10 Y10 ; position",
		"G1 Z{(- top 1)}",
		"X20 (modal feed)",
	}, "\n")
	raw, err := json.Marshal(ops.Snapshot{Parts: []part.Part{block}, Operations: []*ops.Operation{g}})
	require.NoError(t, err)

	var c collector
	require.NoError(t, stream(ctx, t, f.client, "setup", compute.PlaybackSetup{Settings: raw}, &c))
	var lines []compute.Line
	for _, fr := range runToEnd(ctx, t, f.client, 4) {
		if l, ok := fr.(compute.Line); ok {
			lines = append(lines, l)
		}
	}
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, compute.Line{From: geom.Vec3{X: -2, Y: -2, Z: 27}, To: geom.Vec3{X: 10, Y: 10, Z: 27}, Rapid: true}, lines[0])
	assert.Equal(t, compute.Line{From: geom.Vec3{X: 10, Y: 10, Z: 27}, To: geom.Vec3{X: 10, Y: 10, Z: 21}}, lines[1])
	assert.Equal(t, compute.Line{From: geom.Vec3{X: 10, Y: 10, Z: 21}, To: geom.Vec3{X: 20, Y: 10, Z: 21}}, lines[2])
}

func TestPlaybackTeardown(t *testing.T) {
	f := newFixture(t, geomsvc.Options{})
	ctx := testContext(t)
	var c collector

	err := stream(ctx, t, f.client, "step", compute.PlaybackStep{SpeedMultiplier: 1, StepCount: 1}, &c)
	var ee *compute.EngineError
	require.True(t, errors.As(err, &ee), "step before setup: got %v", err)
	assert.Contains(t, ee.Message, geomsvc.ErrNoSimulation.Error())

	require.NoError(t, stream(ctx, t, f.client, "setup", compute.PlaybackSetup{Settings: drillSnapshot(t)}, &c))
	ack, err := compute.Fetch[compute.Ack](ctx, f.client, compute.PlaybackTeardown{})
	require.NoError(t, err)
	assert.True(t, ack.OK)

	err = stream(ctx, t, f.client, "step", compute.PlaybackStep{SpeedMultiplier: 1, StepCount: 1}, &c)
	assert.True(t, errors.As(err, &ee), "step after teardown: got %v", err)
}

func TestPlaybackSetupWithoutParts(t *testing.T) {
	f := newFixture(t, geomsvc.Options{})
	ctx := testContext(t)
	var c collector

	err := stream(ctx, t, f.client, "setup", compute.PlaybackSetup{}, &c)
	var ee *compute.EngineError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Contains(t, ee.Message, "no parts")
}
