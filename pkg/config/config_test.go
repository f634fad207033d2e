package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/config"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{1, 2, 4, 8, 32}, cfg.Playback.Ladder)
	assert.Equal(t, config.TransportLocal, cfg.Engine.Transport)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
workspace: shop
engine:
  transport: websocket
  url: ws://127.0.0.1:7878/engine
playback:
  ladder: [1, 3, 10]
  origin: {x: 0, y: 0, z: 25}
macro:
  timeout: 500ms
parts:
  - id: w1
    shape: box
    size: {x: 100, y: 50, z: 20}
    holes:
      - position: {x: 10, y: 10, z: 20}
        diameter: 6
        depth: 5
  - id: bar
    shape: cylinder
    size: {x: 20, z: 60}
tools:
  - id: 1
    name: 6mm end
    kind: endmill
    diameter: 6
  - id: 3
    name: 6mm drill
    kind: drill
    diameter: 6
`))
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Workspace)
	assert.Equal(t, []int{1, 3, 10}, cfg.Playback.Ladder)
	assert.Equal(t, 25.0, cfg.Playback.Origin.Z)
	assert.Equal(t, 500*time.Millisecond, cfg.Macro.Timeout)
	assert.Equal(t, 64, cfg.Kernel.Cells, "unset keys keep defaults")
	require.Len(t, cfg.Parts, 2)
	assert.Equal(t, part.ShapeCylinder, cfg.Parts[1].Shape)
	assert.Len(t, cfg.Parts[0].Holes, 1)
	assert.Equal(t, ops.ToolDrill, cfg.Tools[1].Kind)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad transport":      "engine: {transport: pigeon}",
		"websocket no url":   "engine: {transport: websocket}",
		"empty ladder":       "playback: {ladder: []}",
		"zero speed":         "playback: {ladder: [1, 0]}",
		"tolerance":          "selection: {angle_tolerance: 120}",
		"duplicate part":     "parts: [{id: a, size: {x: 1, y: 1, z: 1}}, {id: a, size: {x: 1, y: 1, z: 1}}]",
		"flat part":          "parts: [{id: a, size: {x: 1, y: 0, z: 1}}]",
		"tool without name":  "tools: [{id: 1, diameter: 3}]",
		"unknown tool kind":  "tools: [{id: 1, name: x, kind: spoon, diameter: 3}]",
		"kernel too coarse":  "kernel: {cells: 2}",
		"missing store path": "store: {path: ''}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "millwright.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workspace: garage\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "garage", cfg.Workspace)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	cfg.LogLevel = "debug"
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	cfg.LogLevel = "warn"
	assert.Equal(t, slog.LevelWarn, cfg.Level())
}
