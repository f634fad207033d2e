// Package workbench wires the orchestration layer together: the part
// registry, the operation pipeline, the selection manager, the playback
// engine, the compute client and the settings store. A Workbench is an
// explicit context object; several can coexist in one process.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/config"
	"github.com/chazu/millwright/pkg/geomsvc"
	"github.com/chazu/millwright/pkg/kernel/sdfx"
	"github.com/chazu/millwright/pkg/macro"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/playback"
	"github.com/chazu/millwright/pkg/scene"
	"github.com/chazu/millwright/pkg/selection"
	"github.com/chazu/millwright/pkg/store"
)

// ErrUnknownOperation is returned for ids not in the pipeline.
var ErrUnknownOperation = errors.New("unknown operation")

// Options configure New. Scene is required.
type Options struct {
	Config config.Config
	Scene  scene.Scene
	// Store overrides opening Config.Store.Path. A passed store is not
	// closed by the workbench.
	Store *store.Store
	// Transport overrides the engine transport chosen by Config.Engine.
	Transport compute.Transport
	Log       *slog.Logger
}

// Workbench owns one workspace's orchestration state.
type Workbench struct {
	cfg       config.Config
	log       *slog.Logger
	scene     scene.Scene
	parts     *part.Registry
	tools     ops.ToolTable
	macros    *macro.Expander
	pipeline  *ops.Pipeline
	selection *selection.Manager
	playback  *playback.Engine
	client    *compute.Client
	store     *store.Store
	ownStore  bool
	binder    ops.Binder
}

// New builds a workbench, loads the workspace's stored pipeline and the
// persisted playback speed.
func New(ctx context.Context, opts Options) (*Workbench, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Scene == nil {
		return nil, errors.New("workbench: scene is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("workspace", cfg.Workspace)

	w := &Workbench{
		cfg:    cfg,
		log:    log,
		scene:  opts.Scene,
		parts:  part.NewRegistry(),
		tools:  ops.NewToolTable(cfg.Tools),
		macros: macro.NewExpander(cfg.Macro.Timeout),
		store:  opts.Store,
	}
	w.binder = ops.Binder{Tools: w.tools, Macros: w.macros}
	for _, p := range cfg.Parts {
		if err := w.parts.Define(p); err != nil {
			return nil, fmt.Errorf("workbench: %w", err)
		}
	}

	if w.store == nil {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("workbench: %w", err)
		}
		w.store, w.ownStore = st, true
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = w.dial(ctx)
		if err != nil {
			_ = w.closeStore()
			return nil, err
		}
	}
	w.client = compute.NewClient(transport, log)

	w.pipeline = ops.NewPipeline(w.parts, log)
	w.selection = selection.NewManager(w.pipeline, selection.Env{
		Engine: w.client,
		Scene:  w.scene,
		Parts:  w.parts,
		Saver:  selection.SaverFunc(w.saveOperation),
		Settings: selection.Settings{
			AngleTolerance:   cfg.Selection.AngleTolerance,
			SingleLayerOnly:  cfg.Selection.SingleLayerOnly,
			IndividualSizing: cfg.Selection.IndividualSizing,
			Indexed:          cfg.Playback.Indexed,
		},
	}, log)
	w.playback = playback.NewEngine(w.client, w.scene, playback.Options{
		Ladder: cfg.Playback.Ladder,
		Origin: cfg.Playback.Origin,
		Prefs:  w.store,
		Log:    log,
	})

	main, post, err := w.store.LoadPipeline(ctx, cfg.Workspace)
	if err != nil {
		_ = w.Close(ctx)
		return nil, fmt.Errorf("workbench: %w", err)
	}
	w.pipeline.Load(main, post)
	if n := w.pipeline.Prune(); n > 0 {
		log.Info("pruned stale part references on load", "entries", n)
	}
	if err := w.playback.LoadSpeed(ctx); err != nil {
		log.Warn("could not load playback speed", "error", err)
	}
	log.Info("workbench ready", "operations", len(main)+len(post), "parts", len(cfg.Parts))
	return w, nil
}

// dial opens the configured engine transport. The local transport runs
// the reference engine in-process.
func (w *Workbench) dial(ctx context.Context) (compute.Transport, error) {
	switch w.cfg.Engine.Transport {
	case config.TransportWebsocket:
		t, err := compute.DialWS(ctx, w.cfg.Engine.URL, w.log)
		if err != nil {
			return nil, fmt.Errorf("workbench: %w", err)
		}
		return t, nil
	default:
		svc := geomsvc.New(sdfx.NewWithResolution(w.cfg.Kernel.Cells), w.parts, geomsvc.Options{
			Tools:  w.tools,
			Macros: w.macros,
			Log:    w.log,
		})
		return compute.NewLocalTransport(svc, w.log), nil
	}
}

// Close ends any selection session, tears playback down and releases the
// engine connection and the store.
func (w *Workbench) Close(ctx context.Context) error {
	w.selection.End()
	err := w.playback.Teardown(ctx)
	if cerr := w.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := w.closeStore(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (w *Workbench) closeStore() error {
	if !w.ownStore {
		return nil
	}
	w.ownStore = false
	return w.store.Close()
}

// Config returns the configuration the workbench was built with.
func (w *Workbench) Config() config.Config { return w.cfg }

func (w *Workbench) Parts() *part.Registry         { return w.parts }
func (w *Workbench) Pipeline() *ops.Pipeline       { return w.pipeline }
func (w *Workbench) Selection() *selection.Manager { return w.selection }
func (w *Workbench) Playback() *playback.Engine    { return w.playback }
func (w *Workbench) Client() *compute.Client       { return w.client }
func (w *Workbench) Tools() ops.ToolTable          { return w.tools }

// ---------------------------------------------------------------------------
// Pipeline editing
// ---------------------------------------------------------------------------

func (w *Workbench) find(id uuid.UUID) (*ops.Operation, error) {
	op := w.pipeline.Find(id)
	if op == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	return op, nil
}

// Rows renders the pipeline for the operation list.
func (w *Workbench) Rows() []ops.Row {
	return w.pipeline.Render(w.selection.State())
}

// AddOperation appends a new record of type t and saves the pipeline.
func (w *Workbench) AddOperation(ctx context.Context, t ops.Type) (*ops.Operation, []ops.Advisory, error) {
	op := ops.New(t)
	advs := w.pipeline.Add(op)
	if w.pipeline.Find(op.ID) == nil {
		return nil, advs, nil
	}
	return op, advs, w.Save(ctx)
}

// RemoveOperation removes a record, ending its selection session first. A
// refused removal is reported as advisories and nothing is saved.
func (w *Workbench) RemoveOperation(ctx context.Context, id uuid.UUID) ([]ops.Advisory, error) {
	op, err := w.find(id)
	if err != nil {
		return nil, err
	}
	removed, advs := w.pipeline.Remove(op)
	if !removed {
		return advs, nil
	}
	return advs, w.Save(ctx)
}

// MoveOperation reorders one record to index.
func (w *Workbench) MoveOperation(ctx context.Context, id uuid.UUID, index int) error {
	op, err := w.find(id)
	if err != nil {
		return err
	}
	if !w.pipeline.Move(op, index) {
		return nil
	}
	return w.Save(ctx)
}

// SetDisabled toggles one record, or every record when cascade is set.
func (w *Workbench) SetDisabled(ctx context.Context, id uuid.UUID, disabled, cascade bool) error {
	op, err := w.find(id)
	if err != nil {
		return err
	}
	w.pipeline.SetDisabled(op, disabled, cascade)
	return w.Save(ctx)
}

// Duplicate clones a record in place.
func (w *Workbench) Duplicate(ctx context.Context, id uuid.UUID) (*ops.Operation, []ops.Advisory, error) {
	op, err := w.find(id)
	if err != nil {
		return nil, nil, err
	}
	cp, advs := w.pipeline.Duplicate(op)
	if cp == nil {
		return nil, advs, nil
	}
	return cp, advs, w.Save(ctx)
}

// MirrorAfterFlip adds a post-flip record sharing op's geometry.
func (w *Workbench) MirrorAfterFlip(ctx context.Context, id uuid.UUID) (*ops.Operation, []ops.Advisory, error) {
	op, err := w.find(id)
	if err != nil {
		return nil, nil, err
	}
	m, advs := w.pipeline.MirrorAfterFlip(op)
	if m == nil {
		return nil, advs, nil
	}
	return m, advs, w.Save(ctx)
}

// Bind commits one editor field and persists the record.
func (w *Workbench) Bind(ctx context.Context, id uuid.UUID, field, raw string) ([]ops.Advisory, error) {
	op, err := w.find(id)
	if err != nil {
		return nil, err
	}
	advs, err := w.binder.Bind(w.pipeline, op, field, raw)
	if err != nil {
		return nil, err
	}
	var rec []byte
	w.pipeline.Edit(op, func(o *ops.Operation) { rec, err = o.MarshalJSON() })
	if err != nil {
		return advs, err
	}
	cp := &ops.Operation{}
	if err := cp.UnmarshalJSON(rec); err != nil {
		return advs, err
	}
	return advs, w.saveOperation(ctx, cp)
}

// Save writes the whole pipeline.
func (w *Workbench) Save(ctx context.Context) error {
	main, post := w.pipeline.Snapshot()
	return w.store.SavePipeline(ctx, w.cfg.Workspace, main, post)
}

// saveOperation rewrites one record, falling back to a full save for
// records the store has not seen yet.
func (w *Workbench) saveOperation(ctx context.Context, op *ops.Operation) error {
	err := w.store.SaveOperation(ctx, w.cfg.Workspace, op)
	if errors.Is(err, store.ErrNotFound) {
		return w.Save(ctx)
	}
	return err
}

// ---------------------------------------------------------------------------
// Parts
// ---------------------------------------------------------------------------

// DefinePart registers a new part.
func (w *Workbench) DefinePart(p part.Part) error {
	return w.parts.Define(p)
}

// DeletePart removes a part from the registry. Geometry that still names
// it stays until the next render, bind or session end prunes it.
func (w *Workbench) DeletePart(id part.ID) error {
	return w.parts.Delete(id)
}

// ---------------------------------------------------------------------------
// Selection and playback
// ---------------------------------------------------------------------------

// Select starts the picking session for a record.
func (w *Workbench) Select(ctx context.Context, id uuid.UUID) (*selection.Session, error) {
	op, err := w.find(id)
	if err != nil {
		return nil, err
	}
	return w.selection.Start(ctx, op)
}

// Program is the settings snapshot handed to the engine for playback.
func (w *Workbench) Program() ops.Snapshot {
	tools := make([]ops.Tool, 0, len(w.cfg.Tools))
	tools = append(tools, w.cfg.Tools...)
	return ops.Snapshot{
		Parts:      w.parts.List(),
		Operations: w.pipeline.Program(),
		Tools:      tools,
		Indexed:    w.cfg.Playback.Indexed,
	}
}

// Preview ends any selection session and sets playback up for the active
// program, hiding the parts while the stock is shown.
func (w *Workbench) Preview(ctx context.Context) error {
	w.selection.End()
	return w.playback.Setup(ctx, w.Program(), w.parts.IDs()...)
}
