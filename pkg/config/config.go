// Package config loads the millwright YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
)

// Transports for reaching the geometry engine.
const (
	TransportLocal     = "local"
	TransportWebsocket = "websocket"
)

// Config is the full configuration.
type Config struct {
	Workspace string          `yaml:"workspace" validate:"required"`
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	Engine    EngineConfig    `yaml:"engine"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Selection SelectionConfig `yaml:"selection"`
	Store     StoreConfig     `yaml:"store"`
	Macro     MacroConfig     `yaml:"macro"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Parts     []part.Part     `yaml:"parts" validate:"dive"`
	Tools     []ops.Tool      `yaml:"tools" validate:"dive"`
}

// EngineConfig selects how the orchestrator reaches the engine.
type EngineConfig struct {
	Transport string `yaml:"transport" validate:"oneof=local websocket"`
	URL       string `yaml:"url" validate:"omitempty,url"`
	// Listen is the address serve-engine binds.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

// PlaybackConfig tunes the playback engine.
type PlaybackConfig struct {
	// Ladder is the speed multipliers; the last entry is "max".
	Ladder []int `yaml:"ladder" validate:"min=1,dive,gt=0"`
	// Origin is subtracted from tool positions for the read-outs.
	Origin  geom.Vec3 `yaml:"origin"`
	Indexed bool      `yaml:"indexed"`
}

// SelectionConfig tunes the selection modes.
type SelectionConfig struct {
	AngleTolerance   float64 `yaml:"angle_tolerance" validate:"gte=0,lte=90"`
	SingleLayerOnly  bool    `yaml:"single_layer_only"`
	IndividualSizing bool    `yaml:"individual_sizing"`
}

// StoreConfig locates the settings database.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// MacroConfig bounds gcode macro evaluation.
type MacroConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// KernelConfig sets the reference engine's mesh resolution.
type KernelConfig struct {
	Cells int `yaml:"cells" validate:"gte=8,lte=512"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Workspace: "default",
		LogLevel:  "info",
		Engine: EngineConfig{
			Transport: TransportLocal,
			Listen:    "127.0.0.1:7878",
		},
		Playback: PlaybackConfig{
			Ladder: []int{1, 2, 4, 8, 32},
		},
		Selection: SelectionConfig{
			AngleTolerance:   5,
			IndividualSizing: true,
		},
		Store: StoreConfig{Path: "millwright.db"},
		Macro: MacroConfig{Timeout: 2 * time.Second},
		Kernel: KernelConfig{Cells: 64},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if c.Engine.Transport == TransportWebsocket && c.Engine.URL == "" {
		errs = append(errs, errors.New("engine.url is required for the websocket transport"))
	}
	seen := make(map[part.ID]bool, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.ID == "":
			errs = append(errs, errors.New("parts: part with empty id"))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("parts: duplicate id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Size.X <= 0 || p.Size.Z <= 0 || (p.Shape == part.ShapeBox && p.Size.Y <= 0) {
			errs = append(errs, fmt.Errorf("parts: %q has a non-positive size", p.ID))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns LogLevel as a slog level, info when unset.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
