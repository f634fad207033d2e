package compute_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
)

// recorder is a thread-safe event log shared by handlers and callbacks.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newClient(t *testing.T, h compute.HandlerFunc) *compute.Client {
	t.Helper()
	c := compute.NewClient(compute.NewLocalTransport(h, nil), nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRequestProgressThenTerminal(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {
		req, err := call.Request()
		if err != nil {
			call.Fail(err)
			return
		}
		hd := req.(*compute.HoleDetect)
		call.Progress(0.5, "scanning")
		_ = call.Result(compute.HoleDetectResult{PerPart: []compute.PartHoles{{
			PartID: "w1",
			Holes:  []compute.HoleInfo{{X: 1, Y: 2, Z: 0, Depth: 5, Diameter: boolDiameter(hd.IndividualSizing)}},
		}}})
	})

	var progress []compute.Progress
	got, err := compute.Fetch[compute.HoleDetectResult](testCtx(t), c,
		compute.HoleDetect{IndividualSizing: true},
		compute.WithProgress(func(p compute.Progress) { progress = append(progress, p) }))
	require.NoError(t, err)

	require.Len(t, progress, 1)
	assert.Equal(t, 0.5, progress[0].Value)
	assert.Equal(t, "scanning", progress[0].Message)
	require.Len(t, got.PerPart, 1)
	assert.Equal(t, 6.0, got.PerPart[0].Holes[0].Diameter)
}

func boolDiameter(individual bool) float64 {
	if individual {
		return 6
	}
	return 0
}

func TestRequestEngineError(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {
		call.Fail(errors.New("face 9 is not cylindrical"))
	})

	_, err := c.Request(testCtx(t), compute.CylinderFaceGroup{PartID: "p", FaceID: 9})
	var ee *compute.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, compute.KindCylinderFaceGroup, ee.Kind)
	assert.Contains(t, err.Error(), "not cylindrical")
}

func TestRequestSessionTokenReachesEngine(t *testing.T) {
	seen := make(chan uint64, 1)
	c := newClient(t, func(call *compute.Call) {
		seen <- call.Session
		_ = call.Result(compute.Ack{OK: true})
	})

	token := c.NewSession()
	ack, err := compute.Fetch[compute.Ack](testCtx(t), c, compute.SurfaceAnalyze{}, compute.WithSession(token))
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, token, <-seen)
}

func TestNewSessionIsMonotonic(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {})
	prev := c.NewSession()
	for i := 0; i < 10; i++ {
		next := c.NewSession()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestRequestCancelNotifiesEngine(t *testing.T) {
	cancelled := make(chan struct{})
	c := newClient(t, func(call *compute.Call) {
		<-call.Context().Done()
		close(cancelled)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, compute.TraceExtract{})
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the cancel notice")
	}
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {
		req, _ := call.Request()
		step := req.(*compute.PlaybackStep)
		for i := 0; i < step.StepCount; i++ {
			if err := call.Frame(compute.MeshMove{ID: "tool", Position: geom.Vec3{X: float64(i)}}); err != nil {
				return
			}
		}
	})

	var xs []float64
	h, err := c.Stream(testCtx(t), "step", compute.PlaybackStep{SpeedMultiplier: 1, StepCount: 20},
		func(_ uint64, f compute.Frame) {
			xs = append(xs, f.(compute.MeshMove).Position.X)
		})
	require.NoError(t, err)
	require.NoError(t, h.Wait(testCtx(t)))

	require.Len(t, xs, 20)
	for i, x := range xs {
		assert.Equal(t, float64(i), x)
	}
}

func TestStreamProgressBecomesFrame(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {
		call.Progress(0.25, "")
		_ = call.Frame(compute.Finished{})
	})

	var types []compute.FrameType
	h, err := c.Stream(testCtx(t), "", compute.PlaybackStep{StepCount: 1}, func(_ uint64, f compute.Frame) {
		types = append(types, f.FrameType())
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait(testCtx(t)))
	assert.Equal(t, []compute.FrameType{compute.FrameProgress, compute.FrameFinished}, types)
}

func TestStreamEngineErrorEndsOnlyThatStream(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {
		if call.Kind == compute.KindPlaybackSetup {
			call.Fail(errors.New("no stock"))
			return
		}
		_ = call.Result(compute.Ack{OK: true})
	})

	h, err := c.Stream(testCtx(t), "playback", compute.PlaybackSetup{}, nil)
	require.NoError(t, err)
	var ee *compute.EngineError
	require.ErrorAs(t, h.Wait(testCtx(t)), &ee)

	ack, err := compute.Fetch[compute.Ack](testCtx(t), c, compute.PlaybackTeardown{})
	require.NoError(t, err)
	assert.True(t, ack.OK)
}

func TestStreamOnSameChannelTearsDownOldFirst(t *testing.T) {
	log := &recorder{}
	first := make(chan struct{})
	c := newClient(t, func(call *compute.Call) {
		log.add("start " + string(call.Kind))
		_ = call.Frame(compute.MeshAdd{ID: "stock"})
		if call.ID == 1 {
			close(first)
			<-call.Context().Done()
			log.add("cancelled")
		}
	})

	ctx := testCtx(t)
	old, err := c.Stream(ctx, "playback", compute.PlaybackSetup{}, nil)
	require.NoError(t, err)
	<-first

	fresh, err := c.Stream(ctx, "playback", compute.PlaybackSetup{}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, old.Wait(ctx), compute.ErrStopped)
	require.NoError(t, fresh.Wait(ctx))
	assert.Equal(t, []string{
		"start playback-setup",
		"cancelled",
		"start playback-setup",
	}, log.list())
}

func TestConcurrentStreamsLeaveOneOpenChannel(t *testing.T) {
	c := newClient(t, func(call *compute.Call) {
		<-call.Context().Done()
	})

	ctx := testCtx(t)
	const n = 8
	handles := make([]*compute.Handle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Stream(ctx, "playback", compute.PlaybackSetup{}, nil)
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	open := 0
	for _, h := range handles {
		require.NotNil(t, h)
		select {
		case <-h.Done():
			assert.ErrorIs(t, h.Err(), compute.ErrStopped)
		default:
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestStopDropsLateFrames(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, func(call *compute.Call) {
		_ = call.Frame(compute.StockIndex{Angle: 90})
		<-release
		// Already cancelled: these never reach the client.
		_ = call.Frame(compute.StockIndex{Angle: 180})
	})

	var mu sync.Mutex
	var angles []float64
	got := make(chan struct{}, 1)
	h, err := c.Stream(testCtx(t), "", compute.PlaybackStep{StepCount: 2}, func(_ uint64, f compute.Frame) {
		mu.Lock()
		angles = append(angles, f.(compute.StockIndex).Angle)
		mu.Unlock()
		got <- struct{}{}
	})
	require.NoError(t, err)
	<-got
	h.Stop()
	close(release)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{90}, angles)
	assert.ErrorIs(t, h.Err(), compute.ErrStopped)
}

func TestCloseFailsPendingRequests(t *testing.T) {
	c := compute.NewClient(compute.NewLocalTransport(compute.HandlerFunc(func(call *compute.Call) {
		<-call.Context().Done()
	}), nil), nil)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), compute.TraceExtract{})
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, <-errc, compute.ErrClosed)
	_, err := c.Request(context.Background(), compute.TraceExtract{})
	assert.ErrorIs(t, err, compute.ErrClosed)
}
