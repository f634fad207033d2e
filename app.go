package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/chazu/millwright/pkg/config"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/kernel/sdfx"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/scene"
	"github.com/chazu/millwright/pkg/selection"
	"github.com/chazu/millwright/pkg/tessellate"
	"github.com/chazu/millwright/pkg/workbench"
)

// colorPalette is a default palette used to assign distinct colors to parts.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// errNotStarted is returned by bindings called before startup finished.
var errNotStarted = errors.New("workbench is not running")

// App is the Wails backend. It exposes methods to the frontend via bindings.
type App struct {
	ctx    context.Context
	cfg    config.Config
	log    *slog.Logger
	kernel kernel.Kernel
	scene  *eventScene
	wb     *workbench.Workbench
}

// MeshData is the JSON-serializable mesh format sent to the frontend.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
	Color    string    `json:"color"`
}

// AdvisoryData is a JSON-serializable advisory for the editor form.
type AdvisoryData struct {
	Code    string `json:"code,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// OpResult is returned by bindings that create a record.
type OpResult struct {
	ID         string         `json:"id,omitempty"`
	Advisories []AdvisoryData `json:"advisories"`
}

func toMeshData(m *kernel.Mesh, color string) MeshData {
	return MeshData{
		Vertices: m.Vertices,
		Normals:  m.Normals,
		Indices:  m.Indices,
		PartName: m.Name,
		Color:    color,
	}
}

func toAdvisories(advs []ops.Advisory) []AdvisoryData {
	out := make([]AdvisoryData, 0, len(advs))
	for _, a := range advs {
		out = append(out, AdvisoryData{Code: a.Code, Field: a.Field, Message: a.Message})
	}
	return out
}

// NewApp creates a new App for cfg.
func NewApp(cfg config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{
		cfg:    cfg,
		log:    log,
		kernel: sdfx.NewWithResolution(cfg.Kernel.Cells),
	}
}

// startup is called by Wails on app startup. Scene calls become runtime
// events on the saved context.
func (a *App) startup(ctx context.Context) {
	a.start(ctx, func(name string, data ...any) { runtime.EventsEmit(ctx, name, data...) })
}

func (a *App) start(ctx context.Context, emit emitFunc) {
	a.ctx = ctx
	a.scene = newEventScene(emit)
	for _, p := range a.cfg.Parts {
		a.scene.AddPart(p)
	}
	wb, err := workbench.New(ctx, workbench.Options{Config: a.cfg, Scene: a.scene, Log: a.log})
	if err != nil {
		a.log.Error("workbench failed to start", "error", err)
		a.scene.Notify(scene.Notice{Severity: scene.SeverityError, Message: err.Error(), Sticky: true})
		return
	}
	a.wb = wb
}

// shutdown is called by Wails when the window closes.
func (a *App) shutdown(ctx context.Context) {
	if a.wb == nil {
		return
	}
	if err := a.wb.Close(ctx); err != nil {
		a.log.Warn("workbench close", "error", err)
	}
}

func (a *App) bench() (*workbench.Workbench, error) {
	if a.wb == nil {
		return nil, errNotStarted
	}
	return a.wb, nil
}

func (a *App) opID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad operation id %q: %w", id, err)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Parts
// ---------------------------------------------------------------------------

// PartMeshes tessellates the workspace parts for display.
func (a *App) PartMeshes() ([]MeshData, error) {
	wb, err := a.bench()
	if err != nil {
		return nil, err
	}
	meshes, err := tessellate.Parts(a.kernel, wb.Parts().List())
	if err != nil {
		a.log.Error("tessellate failed", "error", err)
		return nil, err
	}
	out := make([]MeshData, 0, len(meshes))
	for i, m := range meshes {
		out = append(out, toMeshData(m, colorPalette[i%len(colorPalette)]))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Operation list
// ---------------------------------------------------------------------------

// Operations returns the rendered operation list.
func (a *App) Operations() ([]ops.Row, error) {
	wb, err := a.bench()
	if err != nil {
		return nil, err
	}
	return wb.Rows(), nil
}

// OperationTypes lists the types the add menu offers.
func (a *App) OperationTypes() []string {
	types := ops.Types()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

// AddOperation adds a record of the named type.
func (a *App) AddOperation(typeName string) (OpResult, error) {
	wb, err := a.bench()
	if err != nil {
		return OpResult{}, err
	}
	t, err := ops.ParseType(typeName)
	if err != nil {
		return OpResult{}, err
	}
	op, advs, err := wb.AddOperation(a.ctx, t)
	res := OpResult{Advisories: toAdvisories(advs)}
	if op != nil {
		res.ID = op.ID.String()
	}
	return res, err
}

// RemoveOperation deletes a record. A refused removal comes back as
// advisories.
func (a *App) RemoveOperation(id string) ([]AdvisoryData, error) {
	var out []AdvisoryData
	err := a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		advs, err := wb.RemoveOperation(a.ctx, u)
		out = toAdvisories(advs)
		return err
	})
	return out, err
}

// MoveOperation drops a record at index.
func (a *App) MoveOperation(id string, index int) error {
	return a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		return wb.MoveOperation(a.ctx, u, index)
	})
}

// SetDisabled toggles a record; cascade applies to every record.
func (a *App) SetDisabled(id string, disabled, cascade bool) error {
	return a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		return wb.SetDisabled(a.ctx, u, disabled, cascade)
	})
}

// DuplicateOperation clones a record in place.
func (a *App) DuplicateOperation(id string) (OpResult, error) {
	var res OpResult
	err := a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		cp, advs, err := wb.Duplicate(a.ctx, u)
		res.Advisories = toAdvisories(advs)
		if cp != nil {
			res.ID = cp.ID.String()
		}
		return err
	})
	return res, err
}

// MirrorAfterFlip adds a post-flip record sharing the geometry of id.
func (a *App) MirrorAfterFlip(id string) (OpResult, error) {
	var res OpResult
	err := a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		m, advs, err := wb.MirrorAfterFlip(a.ctx, u)
		res.Advisories = toAdvisories(advs)
		if m != nil {
			res.ID = m.ID.String()
		}
		return err
	})
	return res, err
}

// BindField commits one editor field. A parse failure blocks the field and
// is returned as an advisory for it.
func (a *App) BindField(id, field, raw string) ([]AdvisoryData, error) {
	var out []AdvisoryData
	err := a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		advs, err := wb.Bind(a.ctx, u, field, raw)
		if errors.Is(err, ops.ErrFieldInvalid) {
			out = []AdvisoryData{{Field: field, Message: err.Error()}}
			return nil
		}
		out = toAdvisories(advs)
		return err
	})
	return out, err
}

func (a *App) withOp(id string, fn func(*workbench.Workbench, uuid.UUID) error) error {
	wb, err := a.bench()
	if err != nil {
		return err
	}
	u, err := a.opID(id)
	if err != nil {
		return err
	}
	return fn(wb, u)
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// StartSelection opens the picking session for a record.
func (a *App) StartSelection(id string) error {
	return a.withOp(id, func(wb *workbench.Workbench, u uuid.UUID) error {
		_, err := wb.Select(a.ctx, u)
		return err
	})
}

func (a *App) session() (*selection.Session, error) {
	wb, err := a.bench()
	if err != nil {
		return nil, err
	}
	s := wb.Selection().Active()
	if s == nil {
		return nil, selection.ErrNoSession
	}
	return s, nil
}

// Hover highlights what the pointer is over.
func (a *App) Hover(p scene.Pointer) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	s.Hover(p)
	return nil
}

// Click toggles what the pointer is over.
func (a *App) Click(p scene.Pointer) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	return s.Commit(a.ctx, p)
}

// FinishSelection saves the picked geometry and ends the session.
func (a *App) FinishSelection() error {
	s, err := a.session()
	if err != nil {
		return err
	}
	err = s.Bind(a.ctx)
	s.Done()
	return err
}

// Escape ends the session without an explicit save.
func (a *App) Escape() {
	if s, err := a.session(); err == nil {
		s.Escape()
	}
}

// ---------------------------------------------------------------------------
// Playback
// ---------------------------------------------------------------------------

// Preview sets playback up for the active program.
func (a *App) Preview() error {
	wb, err := a.bench()
	if err != nil {
		return err
	}
	return wb.Preview(a.ctx)
}

func (a *App) playback(fn func(context.Context, *workbench.Workbench) error) error {
	wb, err := a.bench()
	if err != nil {
		return err
	}
	return fn(a.ctx, wb)
}

// Play runs the simulation.
func (a *App) Play() error {
	return a.playback(func(ctx context.Context, wb *workbench.Workbench) error { return wb.Playback().Play(ctx) })
}

// Pause halts after the in-flight step.
func (a *App) Pause() error {
	return a.playback(func(ctx context.Context, wb *workbench.Workbench) error { return wb.Playback().Pause(ctx) })
}

// Step advances one step.
func (a *App) Step() error {
	return a.playback(func(ctx context.Context, wb *workbench.Workbench) error { return wb.Playback().Step(ctx) })
}

// Fast plays at the highest speed.
func (a *App) Fast() error {
	return a.playback(func(ctx context.Context, wb *workbench.Workbench) error { return wb.Playback().Fast(ctx) })
}

// Faster moves to the next speed, wrapping.
func (a *App) Faster() error {
	return a.playback(func(ctx context.Context, wb *workbench.Workbench) error { return wb.Playback().Faster(ctx) })
}

// StopPlayback tears the simulation down.
func (a *App) StopPlayback() error {
	return a.playback(func(ctx context.Context, wb *workbench.Workbench) error { return wb.Playback().Teardown(ctx) })
}
