package geomsvc

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/tessellate"
)

// Mesh ids owned by the simulation.
const (
	StockID = "stock"
	ToolID  = "tool"
)

// maxRows caps raster passes per operation.
const maxRows = 40

// move is one planned tool motion, or a stock index when index is set.
type move struct {
	to    geom.Vec3
	rapid bool
	index *float64
}

// simulation is the engine side of one playback run.
type simulation struct {
	moves    []move
	next     int
	pos      geom.Vec3
	finished bool
}

func (sim *simulation) progress() float64 {
	if len(sim.moves) == 0 {
		return 1
	}
	return float64(sim.next) / float64(len(sim.moves))
}

// setup plans the run and sends the stock and tool meshes.
func (s *Service) setup(call *compute.Call, r *compute.PlaybackSetup) error {
	var snap ops.Snapshot
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &snap); err != nil {
			return fmt.Errorf("playback setup: decode settings: %w", err)
		}
	}
	parts := snap.Parts
	if len(parts) == 0 {
		parts = s.parts.List()
	}
	var bounds geom.Bounds
	for i := range parts {
		bounds = bounds.Union(parts[i].Bounds())
	}
	if bounds.IsEmpty() {
		return fmt.Errorf("playback setup: no parts to machine")
	}
	m := s.opts.StockMargin
	bounds.Min = bounds.Min.Sub(geom.Vec3{X: m, Y: m})
	bounds.Max = bounds.Max.Add(geom.Vec3{X: m, Y: m, Z: m})

	tools := ops.NewToolTable(snap.Tools)
	pl := &planner{
		svc:    s,
		tools:  tools,
		parts:  parts,
		stock:  bounds,
		safe:   bounds.Max.Z + s.opts.SafeZ,
		macros: s.opts.Macros,
	}
	pl.pos = geom.Vec3{X: bounds.Min.X, Y: bounds.Min.Y, Z: pl.safe}
	home := pl.pos
	for i, op := range snap.Operations {
		pl.plan(i, op)
	}
	pl.to(geom.Vec3{X: home.X, Y: home.Y, Z: pl.safe}, true)

	stock, err := tessellate.Stock(s.kernel, bounds)
	if err != nil {
		return err
	}
	tool, err := tessellate.Tool(s.kernel, pl.firstToolDiameter(snap.Operations), s.opts.ToolLength)
	if err != nil {
		return err
	}

	s.sim = &simulation{moves: pl.moves, pos: home}
	s.log.Info("playback planned", "moves", len(pl.moves), "operations", len(snap.Operations))

	frames := []compute.Frame{
		compute.MeshAdd{ID: StockID, Mesh: *stock},
		compute.MeshAdd{ID: ToolID, Mesh: *tool},
		compute.MeshMove{ID: ToolID, Position: home},
		compute.ProgressFrame{Value: 0, Message: "ready"},
	}
	for _, f := range frames {
		if err := call.Frame(f); err != nil {
			return err
		}
	}
	return nil
}

// step advances the run by StepCount frames of SpeedMultiplier moves.
func (s *Service) step(call *compute.Call, r *compute.PlaybackStep) error {
	sim := s.sim
	if sim == nil {
		return ErrNoSimulation
	}
	mult := max(1, r.SpeedMultiplier)
	count := max(1, r.StepCount)

	for i := 0; i < count; i++ {
		if sim.finished {
			return call.Frame(compute.Finished{})
		}
		for j := 0; j < mult && sim.next < len(sim.moves); j++ {
			m := sim.moves[sim.next]
			sim.next++
			var f compute.Frame
			if m.index != nil {
				f = compute.StockIndex{Angle: *m.index}
			} else {
				f = compute.Line{From: sim.pos, To: m.to, Rapid: m.rapid}
				sim.pos = m.to
			}
			if err := call.Frame(f); err != nil {
				return err
			}
		}
		if err := call.Frame(compute.MeshMove{ID: ToolID, Position: sim.pos}); err != nil {
			return err
		}
		if err := call.Frame(compute.ProgressFrame{Value: sim.progress()}); err != nil {
			return err
		}
		if sim.next >= len(sim.moves) {
			sim.finished = true
			return call.Frame(compute.Finished{})
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Planning
// ---------------------------------------------------------------------------

type planner struct {
	svc      *Service
	tools    ops.ToolTable
	parts    []part.Part
	stock    geom.Bounds
	safe     float64
	rotation float64
	rapid    bool // modal motion of gcode bodies
	macros   macroExpander

	pos   geom.Vec3
	moves []move
}

func (pl *planner) to(p geom.Vec3, rapid bool) {
	if p == pl.pos {
		return
	}
	pl.moves = append(pl.moves, move{to: p, rapid: rapid})
	pl.pos = p
}

func (pl *planner) retract() {
	pl.to(geom.Vec3{X: pl.pos.X, Y: pl.pos.Y, Z: pl.safe}, true)
}

// approach retracts, rapids over p and feeds down to it.
func (pl *planner) approach(p geom.Vec3) {
	pl.retract()
	pl.to(geom.Vec3{X: p.X, Y: p.Y, Z: pl.safe}, true)
	pl.to(p, false)
}

func (pl *planner) index(angle float64) {
	pl.retract()
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	pl.rotation = a
	pl.moves = append(pl.moves, move{index: &a})
}

func param(op *ops.Operation, key string, def float64) float64 {
	if v, ok := op.Params[key].(float64); ok {
		return v
	}
	return def
}

func (pl *planner) diameter(op *ops.Operation) float64 {
	if t, ok := pl.tools.Tool(int(param(op, "tool", 0))); ok && t.Diameter > 0 {
		return t.Diameter
	}
	return defaultToolDia
}

func (pl *planner) firstToolDiameter(list []*ops.Operation) float64 {
	for _, op := range list {
		if op.Disabled {
			continue
		}
		if _, ok := op.Params["tool"]; ok {
			return pl.diameter(op)
		}
	}
	return defaultToolDia
}

// plan appends the moves of one operation.
func (pl *planner) plan(i int, op *ops.Operation) {
	if op == nil || op.Disabled || op.Type.Marker() {
		return
	}
	switch op.Type {
	case ops.TypeFlip:
		pl.index(pl.rotation + 180)
	case ops.TypeIndex:
		deg := param(op, "degrees", 0)
		if absolute, _ := op.Params["absolute"].(bool); !absolute {
			deg += pl.rotation
		}
		pl.index(deg)
	case ops.TypeLaserOn, ops.TypeLaserOff:
	case ops.TypeGCode:
		pl.gcode(i, op)
	case ops.TypeDrill:
		pl.drill(op)
	case ops.TypeTrace:
		pl.trace(op)
	case ops.TypeOutline:
		pl.outline(op)
	default:
		pl.raster(op)
	}
	pl.retract()
}

func (pl *planner) drill(op *ops.Operation) {
	for _, id := range op.Geometry[ops.SetDrills].PartIDs() {
		for _, sub := range op.Geometry[ops.SetDrills][id] {
			h, ok := sub.(ops.Hole)
			if !ok || !h.Selected {
				continue
			}
			pl.approach(geom.Vec3{X: h.X, Y: h.Y, Z: h.Z})
			pl.to(geom.Vec3{X: h.X, Y: h.Y, Z: h.Z - h.Depth}, false)
			pl.retract()
		}
	}
}

// trace follows each picked loop one step down below its elevation.
func (pl *planner) trace(op *ops.Operation) {
	down := param(op, "down", 1)
	areas := op.Geometry[ops.SetAreas]
	for _, p := range pl.parts {
		picked := areas[p.ID]
		if len(picked) == 0 {
			continue
		}
		loops := make(map[string]compute.Trace)
		for _, t := range partTraces(p, false) {
			loops[t.Key] = t
		}
		for _, sub := range picked {
			t, ok := loops[sub.Key()]
			if !ok || len(t.Points) == 0 {
				continue
			}
			pl.follow(t.Points, -down)
		}
	}
}

// outline follows the bottom footprint of every part.
func (pl *planner) outline(op *ops.Operation) {
	for _, p := range pl.targets(op) {
		pl.follow(outline(p, p.Position.Z), 0)
	}
}

func (pl *planner) follow(pts []geom.Vec3, dz float64) {
	off := geom.Vec3{Z: dz}
	pl.approach(pts[0].Add(off))
	for _, pt := range pts[1:] {
		pl.to(pt.Add(off), false)
	}
}

// targets returns the parts named in the op's own geometry set, or every
// part when it has none.
func (pl *planner) targets(op *ops.Operation) []part.Part {
	key := op.Type.SetKey()
	gs := op.Geometry[key]
	if key == "" || gs.Len() == 0 {
		return pl.parts
	}
	var out []part.Part
	for _, p := range pl.parts {
		if len(gs[p.ID]) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// raster zig-zags across the bounds of the target parts one step below
// their top.
func (pl *planner) raster(op *ops.Operation) {
	var b geom.Bounds
	for _, p := range pl.targets(op) {
		b = b.Union(p.Bounds())
	}
	if b.IsEmpty() {
		return
	}
	z := math.Max(b.Min.Z, b.Max.Z-param(op, "down", 1))
	pitch := math.Max(param(op, "stepover", 0.4)*pl.diameter(op), 1e-3)
	rows := int(math.Ceil(b.Size().Y/pitch)) + 1
	if rows > maxRows {
		rows = maxRows
		pitch = b.Size().Y / float64(rows-1)
	}

	pl.approach(geom.Vec3{X: b.Min.X, Y: b.Min.Y, Z: z})
	for r := 0; r < rows; r++ {
		y := math.Min(b.Min.Y+float64(r)*pitch, b.Max.Y)
		x := b.Max.X
		if r%2 == 1 {
			x = b.Min.X
		}
		pl.to(geom.Vec3{X: pl.pos.X, Y: y, Z: z}, false)
		pl.to(geom.Vec3{X: x, Y: y, Z: z}, false)
	}
}
