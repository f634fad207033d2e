// Package geomsvc is the reference geometry engine. It answers every
// compute request kind from a part source and a geometry kernel: traces are
// part outlines, face groups come from tessellated meshes, hole detection
// reports the bores designed into parts, and playback moves a tool over a
// simple path derived from the operation list.
//
// One Service holds the state of one engine connection. Its Handle method
// runs on the compute server's single worker goroutine, so the state needs
// no locking.
package geomsvc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/macro"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
)

// PartSource supplies the current workspace parts.
type PartSource interface {
	List() []part.Part
}

// ErrNoSimulation is returned for steps sent before a setup.
var ErrNoSimulation = errors.New("no simulation is set up")

// Options configure a Service. Zero values select defaults.
type Options struct {
	// Tools resolves the op tool when hole sizing is not individual.
	Tools ops.ToolLookup
	// Macros expands gcode bodies during playback planning.
	Macros *macro.Expander
	// SafeZ is the rapid clearance above the stock top.
	SafeZ float64
	// StockMargin pads the part bounds on every side.
	StockMargin float64
	// ToolLength is the length of the tool mesh.
	ToolLength float64
	Log        *slog.Logger
}

const (
	defaultSafeZ       = 5.0
	defaultStockMargin = 2.0
	defaultToolLength  = 30.0
	defaultToolDia     = 6.0
)

// Service implements compute.Handler.
type Service struct {
	kernel kernel.Kernel
	parts  PartSource
	opts   Options
	log    *slog.Logger

	meshes map[part.ID]*partMesh
	sim    *simulation
}

var _ compute.Handler = (*Service)(nil)

// New returns a Service for one connection.
func New(k kernel.Kernel, parts PartSource, opts Options) *Service {
	if opts.SafeZ <= 0 {
		opts.SafeZ = defaultSafeZ
	}
	if opts.StockMargin < 0 {
		opts.StockMargin = 0
	} else if opts.StockMargin == 0 {
		opts.StockMargin = defaultStockMargin
	}
	if opts.ToolLength <= 0 {
		opts.ToolLength = defaultToolLength
	}
	if opts.Macros == nil {
		opts.Macros = macro.NewExpander(0)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		kernel: k,
		parts:  parts,
		opts:   opts,
		log:    log.With("component", "geomsvc"),
		meshes: make(map[part.ID]*partMesh),
	}
}

// Handle serves one call.
func (s *Service) Handle(call *compute.Call) {
	req, err := call.Request()
	if err != nil {
		call.Fail(err)
		return
	}
	s.log.Debug("serving", "id", call.ID, "kind", call.Kind, "session", call.Session)

	switch r := req.(type) {
	case *compute.TraceExtract:
		_ = call.Result(s.traces(r.SingleLayerOnly))
	case *compute.SurfaceAnalyze:
		err = s.analyze()
		if err == nil {
			_ = call.Result(compute.Ack{OK: true})
		}
	case *compute.SurfaceFaceGroup:
		var g compute.FaceGroup
		g, err = s.surfaceGroup(r.PartID, r.FaceID, r.AngleTolerance)
		if err == nil {
			_ = call.Result(g)
		}
	case *compute.CylinderFaceGroup:
		var g compute.FaceGroup
		g, err = s.cylinderGroup(r.PartID, r.FaceID)
		if err == nil {
			_ = call.Result(g)
		}
	case *compute.HoleDetect:
		var res compute.HoleDetectResult
		res, err = s.detectHoles(call, r)
		if err == nil {
			_ = call.Result(res)
		}
	case *compute.PlaybackSetup:
		err = s.setup(call, r)
	case *compute.PlaybackStep:
		err = s.step(call, r)
	case *compute.PlaybackTeardown:
		s.sim = nil
		_ = call.Result(compute.Ack{OK: true})
	default:
		err = fmt.Errorf("unsupported request kind %q", call.Kind)
	}

	if err != nil {
		if call.Context().Err() != nil {
			return
		}
		s.log.Warn("request failed", "id", call.ID, "kind", call.Kind, "error", err)
		call.Fail(err)
	}
}

// partsByID indexes the current parts.
func (s *Service) partsByID() map[part.ID]part.Part {
	list := s.parts.List()
	out := make(map[part.ID]part.Part, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out
}
