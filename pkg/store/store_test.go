package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/store"
)

func openStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "millwright.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenIsIdempotent(t *testing.T) {
	s, path := openStore(t)
	require.NoError(t, s.Close())

	again, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestPipelineRoundTrip(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	rough := ops.New(ops.TypeRough)
	rough.Note = "#first"
	drill := ops.New(ops.TypeDrill)
	drill.Set(ops.SetDrills).Put("w1", ops.Hole{X: 1, Y: 2, Depth: 5, Diameter: 6, Selected: true}, true)
	flip := ops.New(ops.TypeFlip)
	mirror := ops.New(ops.TypeDrill)
	mirror.Mirror = drill.ID

	require.NoError(t, s.SavePipeline(ctx, "shop", []*ops.Operation{rough, drill, flip}, []*ops.Operation{mirror}))

	main, post, err := s.LoadPipeline(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, main, 3)
	require.Len(t, post, 1)
	assert.Equal(t, rough.ID, main[0].ID)
	assert.Equal(t, "first", main[0].Alias())
	assert.Equal(t, drill.Geometry, main[1].Geometry)
	assert.Equal(t, drill.ID, post[0].Mirror)

	other, _, err := s.LoadPipeline(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Empty(t, other)

	ws, err := s.Workspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, ws)
}

func TestSaveReplacesPreviousLists(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	a, b := ops.New(ops.TypeLevel), ops.New(ops.TypeRough)

	require.NoError(t, s.SavePipeline(ctx, "w", []*ops.Operation{a, b}, nil))
	require.NoError(t, s.SavePipeline(ctx, "w", []*ops.Operation{b}, nil))

	main, _, err := s.LoadPipeline(ctx, "w")
	require.NoError(t, err)
	require.Len(t, main, 1)
	assert.Equal(t, b.ID, main[0].ID)
}

func TestSaveOperationUpdatesInPlace(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	op := ops.New(ops.TypeTrace)
	require.NoError(t, s.SavePipeline(ctx, "w", []*ops.Operation{op}, nil))

	op.Set(ops.SetAreas).Put("w1", ops.Trace{ID: "w1-0", Z: 3}, true)
	require.NoError(t, s.SaveOperation(ctx, "w", op))

	main, _, err := s.LoadPipeline(ctx, "w")
	require.NoError(t, err)
	assert.True(t, main[0].Geometry[ops.SetAreas].Has("w1", "w1-0"))

	err = s.SaveOperation(ctx, "w", ops.New(ops.TypeTrace))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadFillsTemplateAndKeepsUnknown(t *testing.T) {
	s, path := openStore(t)
	ctx := context.Background()
	op := ops.New(ops.TypeDrill)
	op.Params = map[string]any{"dwell": 0.25}
	require.NoError(t, s.SavePipeline(ctx, "w", []*ops.Operation{op}, nil))
	require.NoError(t, s.Close())

	raw, err := store.Open(path)
	require.NoError(t, err)
	defer raw.Close()
	main, _, err := raw.LoadPipeline(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 0.25, main[0].Params["dwell"])
	assert.Equal(t, 2.0, main[0].Params["lift"])
}

func TestPreferences(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	v, err := s.Int(ctx, "playback.speed", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	require.NoError(t, s.SetInt(ctx, "playback.speed", 4))
	require.NoError(t, s.SetInt(ctx, "playback.speed", 3))
	v, err = s.Int(ctx, "playback.speed", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, s.SetString(ctx, "playback.speed", "fast"))
	v, err = s.Int(ctx, "playback.speed", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
