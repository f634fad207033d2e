package compute

import (
	"encoding/json"
	"fmt"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/part"
)

// Kind names a request on the wire.
type Kind string

const (
	KindTraceExtract      Kind = "trace-extract"
	KindSurfaceAnalyze    Kind = "surface-analyze"
	KindSurfaceFaceGroup  Kind = "surface-face-group"
	KindCylinderFaceGroup Kind = "cylinder-face-group"
	KindHoleDetect        Kind = "hole-detect"
	KindPlaybackSetup     Kind = "playback-setup"
	KindPlaybackStep      Kind = "playback-step"
	KindPlaybackTeardown  Kind = "playback-teardown"
	KindCancel            Kind = "cancel"
)

// Request is the closed set of request payloads. Each payload type reports
// its own kind, so adding a kind means adding a type and a DecodeRequest
// case.
type Request interface {
	Kind() Kind
}

// TraceExtract asks for edge traces of every part.
type TraceExtract struct {
	SingleLayerOnly bool `json:"singleLayerOnly"`
}

// SurfaceAnalyze prepares face adjacency for subsequent face-group lookups.
type SurfaceAnalyze struct {
	Index bool `json:"index,omitempty"`
}

// SurfaceFaceGroup asks for the connected faces around FaceID whose normals
// are within AngleTolerance degrees of it.
type SurfaceFaceGroup struct {
	PartID         part.ID `json:"partId"`
	FaceID         int     `json:"faceId"`
	AngleTolerance float64 `json:"angleTolerance"`
}

// CylinderFaceGroup asks for the cylindrical face group containing FaceID.
type CylinderFaceGroup struct {
	PartID part.ID `json:"partId"`
	FaceID int     `json:"faceId"`
}

// HoleDetect asks for the bores of every part.
type HoleDetect struct {
	IndividualSizing bool            `json:"individualSizing"`
	Operation        json.RawMessage `json:"operationSnapshot,omitempty"`
}

// PlaybackSetup opens a simulation with a settings snapshot. The engine
// answers with mesh_add frames and closes the channel.
type PlaybackSetup struct {
	Settings json.RawMessage `json:"settingsSnapshot"`
}

// PlaybackStep advances the simulation by StepCount frames, each moving
// the tool SpeedMultiplier path segments.
type PlaybackStep struct {
	SpeedMultiplier int `json:"speedMultiplier"`
	StepCount       int `json:"stepCount"`
}

// PlaybackTeardown discards the engine-side simulation.
type PlaybackTeardown struct{}

// Cancel tells the engine to abandon request Target. It is also the
// cleanup message sent before a channel is re-established.
type Cancel struct {
	Target uint64 `json:"target"`
}

func (TraceExtract) Kind() Kind      { return KindTraceExtract }
func (SurfaceAnalyze) Kind() Kind    { return KindSurfaceAnalyze }
func (SurfaceFaceGroup) Kind() Kind  { return KindSurfaceFaceGroup }
func (CylinderFaceGroup) Kind() Kind { return KindCylinderFaceGroup }
func (HoleDetect) Kind() Kind        { return KindHoleDetect }
func (PlaybackSetup) Kind() Kind     { return KindPlaybackSetup }
func (PlaybackStep) Kind() Kind      { return KindPlaybackStep }
func (PlaybackTeardown) Kind() Kind  { return KindPlaybackTeardown }
func (Cancel) Kind() Kind            { return KindCancel }

// DecodeRequest turns an envelope back into its typed request.
func DecodeRequest(env Envelope) (Request, error) {
	var req Request
	switch env.Kind {
	case KindTraceExtract:
		req = &TraceExtract{}
	case KindSurfaceAnalyze:
		req = &SurfaceAnalyze{}
	case KindSurfaceFaceGroup:
		req = &SurfaceFaceGroup{}
	case KindCylinderFaceGroup:
		req = &CylinderFaceGroup{}
	case KindHoleDetect:
		req = &HoleDetect{}
	case KindPlaybackSetup:
		req = &PlaybackSetup{}
	case KindPlaybackStep:
		req = &PlaybackStep{}
	case KindPlaybackTeardown:
		req = &PlaybackTeardown{}
	case KindCancel:
		req = &Cancel{}
	default:
		return nil, fmt.Errorf("compute: unknown request kind %q", env.Kind)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, req); err != nil {
			return nil, fmt.Errorf("compute: decode %s payload: %w", env.Kind, err)
		}
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Terminal payloads
// ---------------------------------------------------------------------------

// Trace is one edge loop of a part at elevation Z.
type Trace struct {
	Key    string      `json:"key"`
	Z      float64     `json:"z"`
	Points []geom.Vec3 `json:"points"`
	Closed bool        `json:"closed"`
}

// PartTraces is one element of the trace-extract reply.
type PartTraces struct {
	PartID part.ID `json:"partId"`
	Traces []Trace `json:"traces"`
}

// FaceGroup is the reply to both face-group lookups.
type FaceGroup struct {
	Faces []int  `json:"faces"`
	Error string `json:"error,omitempty"`
}

// HoleInfo is a detected bore.
type HoleInfo struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Depth    float64 `json:"depth"`
	Diameter float64 `json:"diameter"`
}

// PartHoles groups detected holes by part.
type PartHoles struct {
	PartID part.ID    `json:"partId"`
	Holes  []HoleInfo `json:"holes"`
}

// HoleDetectResult is the terminal hole-detect reply.
type HoleDetectResult struct {
	PerPart []PartHoles `json:"perPart"`
}

// Ack is the empty terminal reply.
type Ack struct {
	OK bool `json:"ok"`
}
