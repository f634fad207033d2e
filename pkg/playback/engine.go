package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// State is the playback state machine.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// teardownTimeout bounds the engine teardown sent after a failed setup.
const teardownTimeout = 5 * time.Second

// SpeedKey is the preference key holding the speed index.
const SpeedKey = "playback.speed"

// DefaultLadder is the speed ladder used when none is configured. The
// last entry is "max".
var DefaultLadder = []int{1, 2, 4, 8, 32}

// Channel names of the playback streams.
const (
	channelSetup = "playback-setup"
	channelStep  = "playback-step"
)

var (
	// ErrNotReady is returned by stepping before Setup.
	ErrNotReady = errors.New("playback: not set up")
	// ErrFinished is returned by stepping after the program has ended.
	ErrFinished = errors.New("playback: program finished")
)

// Streamer is the part of compute.Client playback uses.
type Streamer interface {
	Stream(ctx context.Context, channel string, req compute.Request, onFrame compute.FrameFunc, opts ...compute.CallOption) (*compute.Handle, error)
	Request(ctx context.Context, req compute.Request, opts ...compute.CallOption) (json.RawMessage, error)
	NewSession() uint64
}

var _ Streamer = (*compute.Client)(nil)

// Prefs stores sticky integer preferences.
type Prefs interface {
	Int(ctx context.Context, key string, def int) (int, error)
	SetInt(ctx context.Context, key string, v int) error
}

// Options configure an Engine. Zero values take defaults.
type Options struct {
	Ladder []int
	// Origin is subtracted from tool positions for the machine read-out.
	Origin geom.Vec3
	Prefs  Prefs
	Log    *slog.Logger
}

// Engine replays a computed toolpath as a stream of mesh mutations. It
// exclusively owns the proxies it creates. Every mutation comes from an
// engine frame; nothing is created client-side.
type Engine struct {
	client Streamer
	scene  scene.Renderer
	ladder []int
	origin geom.Vec3
	prefs  Prefs
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	speed    int
	token    uint64 // zero when torn down
	meshes   *registry
	rotation float64
	progress float64
	readout  scene.Readout
	segments int
	finished bool
	hidden   []part.ID

	// Play loop control. loopDone is closed when the loop exits.
	pauseReq   bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewEngine returns a stopped engine drawing on r.
func NewEngine(client Streamer, r scene.Renderer, opts Options) *Engine {
	ladder := opts.Ladder
	if len(ladder) == 0 {
		ladder = DefaultLadder
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		client: client,
		scene:  r,
		ladder: append([]int(nil), ladder...),
		origin: opts.Origin,
		prefs:  opts.Prefs,
		log:    log.With("component", "playback"),
		meshes: newRegistry(),
	}
}

// ---------------------------------------------------------------------------
// Speed
// ---------------------------------------------------------------------------

// LoadSpeed restores the persisted speed index. An out-of-range value
// falls back to the slowest speed.
func (e *Engine) LoadSpeed(ctx context.Context) error {
	if e.prefs == nil {
		return nil
	}
	i, err := e.prefs.Int(ctx, SpeedKey, 0)
	if err != nil {
		return fmt.Errorf("load playback speed: %w", err)
	}
	if i < 0 || i >= len(e.ladder) {
		i = 0
	}
	e.mu.Lock()
	e.speed = i
	e.mu.Unlock()
	return nil
}

// Speed returns the ladder index and its multiplier.
func (e *Engine) Speed() (index, multiplier int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed, e.ladder[e.speed]
}

// Ladder returns a copy of the speed ladder.
func (e *Engine) Ladder() []int { return append([]int(nil), e.ladder...) }

// SetSpeed selects ladder entry i and persists it. A running loop picks up
// the new speed on its next step.
func (e *Engine) SetSpeed(ctx context.Context, i int) error {
	if i < 0 || i >= len(e.ladder) {
		return fmt.Errorf("playback: speed index %d outside ladder of %d", i, len(e.ladder))
	}
	e.mu.Lock()
	e.speed = i
	e.mu.Unlock()
	if e.prefs != nil {
		if err := e.prefs.SetInt(ctx, SpeedKey, i); err != nil {
			return fmt.Errorf("save playback speed: %w", err)
		}
	}
	return nil
}

// Faster selects the next ladder entry, wrapping to the slowest.
func (e *Engine) Faster(ctx context.Context) error {
	e.mu.Lock()
	next := (e.speed + 1) % len(e.ladder)
	e.mu.Unlock()
	return e.SetSpeed(ctx, next)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Setup opens a simulation from a settings snapshot and waits for the
// engine's initial meshes. Parts listed in hide are made invisible until
// Teardown. An existing simulation is torn down first.
func (e *Engine) Setup(ctx context.Context, settings any, hide ...part.ID) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode playback settings: %w", err)
	}
	if err := e.Teardown(ctx); err != nil {
		return err
	}

	token := e.client.NewSession()
	e.mu.Lock()
	e.token = token
	e.finished = false
	for _, id := range hide {
		e.scene.SetPartStyle(id, scene.PartStyle{Visible: false, Opacity: 1})
		e.hidden = append(e.hidden, id)
	}
	e.mu.Unlock()

	h, err := e.client.Stream(ctx, channelSetup, compute.PlaybackSetup{Settings: raw}, e.apply, compute.WithSession(token))
	if err != nil {
		e.abandon(ctx)
		return err
	}
	if err := h.Wait(ctx); err != nil {
		h.Stop()
		e.abandon(ctx)
		return fmt.Errorf("playback setup: %w", err)
	}
	e.log.Debug("playback set up", "token", token, "meshes", e.Meshes())
	return nil
}

// Step advances one engine step and leaves the engine paused. A running
// loop is paused first.
func (e *Engine) Step(ctx context.Context) error {
	if err := e.Pause(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = StateRunning
	e.mu.Unlock()

	err := e.stepOnce(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		e.state = StatePaused
		if e.finished {
			e.state = StateStopped
		}
	}
	return err
}

// Play streams steps until the program finishes or Pause is called. It
// returns once the loop is running.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return nil
	}
	if err := e.readyLocked(); err != nil {
		return err
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.state = StateRunning
	e.pauseReq = false
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})
	go e.loop(lctx, e.loopDone)
	return nil
}

// Fast selects the maximum speed and plays. The speed stays selected.
func (e *Engine) Fast(ctx context.Context) error {
	if err := e.SetSpeed(ctx, len(e.ladder)-1); err != nil {
		return err
	}
	return e.Play(ctx)
}

// Pause stops the play loop after the step in flight has landed. It
// returns when the loop has exited or ctx is done.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	done := e.loopDone
	if done == nil {
		e.mu.Unlock()
		return nil
	}
	e.pauseReq = true
	e.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Teardown discards the simulation: every proxy is destroyed, the path
// overlay cleared, rotation reset and hidden parts restored. Frames that
// arrive afterwards are dropped. Calling it on a stopped engine is a
// no-op beyond resetting the visuals.
func (e *Engine) Teardown(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.loopCancel, e.loopDone
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	token := e.token
	e.token = 0
	e.mu.Unlock()

	if token != 0 {
		if _, err := e.client.Request(ctx, compute.PlaybackTeardown{}, compute.WithSession(token)); err != nil {
			e.log.Warn("engine teardown failed", "token", token, "err", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.meshes.reset()
	e.scene.ClearPath()
	e.rotation = 0
	e.scene.SetGroupRotation(0)
	for _, id := range e.hidden {
		e.scene.SetPartStyle(id, scene.DefaultPartStyle)
	}
	e.hidden = nil
	e.progress = 0
	e.scene.SetProgress(0)
	e.readout = scene.Readout{}
	e.scene.SetReadout(e.readout)
	e.segments = 0
	e.finished = false
	e.state = StateStopped
	return nil
}

// abandon resets a setup that failed part way, so the engine is stopped
// and not ready rather than holding a session the engine never opened.
func (e *Engine) abandon(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := e.Teardown(tctx); err != nil {
		e.log.Warn("reset after failed setup", "err", err)
	}
}

// ---------------------------------------------------------------------------
// Read-outs
// ---------------------------------------------------------------------------

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Progress returns the last progress value in [0,1].
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// Readout returns the machine-relative tool position.
func (e *Engine) Readout() scene.Readout {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readout
}

// Rotation returns the indexed rotation in degrees.
func (e *Engine) Rotation() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotation
}

// Meshes returns the number of registered proxies.
func (e *Engine) Meshes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meshes.len()
}

// MeshIDs returns the registered engine mesh ids, sorted.
func (e *Engine) MeshIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meshes.ids()
}

// Segments returns the number of path segments accumulated.
func (e *Engine) Segments() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.segments
}

// Finished reports whether the finished frame has arrived.
func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (e *Engine) readyLocked() error {
	if e.token == 0 {
		return ErrNotReady
	}
	if e.finished {
		return ErrFinished
	}
	return nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		if e.state == StateRunning {
			e.state = StatePaused
			if e.finished {
				e.state = StateStopped
			}
		}
		e.loopCancel = nil
		e.loopDone = nil
		e.mu.Unlock()
		close(done)
	}()
	for {
		if err := e.stepOnce(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				e.log.Warn("playback loop stopped", "err", err)
			}
			return
		}
		e.mu.Lock()
		stop := e.pauseReq || e.finished
		e.mu.Unlock()
		if stop {
			return
		}
	}
}

// stepOnce requests one step at the current speed and waits for its
// frames.
func (e *Engine) stepOnce(ctx context.Context) error {
	e.mu.Lock()
	token, mult := e.token, e.ladder[e.speed]
	e.mu.Unlock()
	if token == 0 {
		return ErrNotReady
	}
	req := compute.PlaybackStep{SpeedMultiplier: mult, StepCount: 1}
	h, err := e.client.Stream(ctx, channelStep, req, e.apply, compute.WithSession(token))
	if err != nil {
		return err
	}
	if err := h.Wait(ctx); err != nil {
		h.Stop()
		return fmt.Errorf("playback step: %w", err)
	}
	return nil
}

// apply runs one frame against the scene. It is called from the compute
// client's dispatch goroutine, in per-stream order.
func (e *Engine) apply(session uint64, f compute.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if session == 0 || session != e.token {
		compute.NoteStale()
		e.log.Debug("stale playback frame dropped", "session", session, "token", e.token, "type", f.FrameType())
		return
	}

	switch v := f.(type) {
	case compute.MeshAdd:
		if old, ok := e.meshes.drop(v.ID); ok {
			old.Destroy()
		}
		p, err := e.scene.CreateProxy(v.ID, v.Mesh)
		if err != nil {
			e.log.Error("create proxy failed", "id", v.ID, "err", err)
			return
		}
		e.meshes.put(v.ID, p)
	case compute.MeshUpdate:
		p, ok := e.meshes.lookup(v.ID)
		if !ok {
			e.log.Warn("mesh_update for unknown mesh", "id", v.ID)
			return
		}
		p.Update(v.Mesh)
	case compute.MeshMove:
		p, ok := e.meshes.lookup(v.ID)
		if !ok {
			e.log.Warn("mesh_move for unknown mesh", "id", v.ID)
			return
		}
		p.Move(v.Position)
		rel := v.Position.Sub(e.origin)
		e.readout = scene.Readout{X: rel.X, Y: rel.Y, Z: rel.Z}
		e.scene.SetReadout(e.readout)
	case compute.MeshIndex:
		p, ok := e.meshes.lookup(v.ID)
		if !ok {
			e.log.Warn("mesh_index for unknown mesh", "id", v.ID)
			return
		}
		p.Rotate(v.Angle)
	case compute.MeshDel:
		p, ok := e.meshes.drop(v.ID)
		if !ok {
			e.log.Warn("mesh_del for unknown mesh", "id", v.ID)
			return
		}
		p.Destroy()
	case compute.StockIndex:
		e.rotation = v.Angle
		e.scene.SetGroupRotation(v.Angle)
	case compute.ProgressFrame:
		e.progress = min(max(v.Value, 0), 1)
		e.scene.SetProgress(e.progress)
	case compute.Line:
		e.scene.AppendPath(v.From, v.To, v.Rapid)
		e.segments++
	case compute.Finished:
		e.finished = true
	default:
		e.log.Warn("unhandled playback frame", "type", f.FrameType())
	}
}
