package compute

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
)

// FrameType names a stream frame on the wire.
type FrameType string

const (
	FrameMeshAdd    FrameType = "mesh_add"
	FrameMeshUpdate FrameType = "mesh_update"
	FrameMeshMove   FrameType = "mesh_move"
	FrameMeshIndex  FrameType = "mesh_index"
	FrameMeshDel    FrameType = "mesh_del"
	FrameStockIndex FrameType = "stock_index"
	FrameProgress   FrameType = "progress"
	FrameLine       FrameType = "line"
	FrameFinished   FrameType = "finished"
)

// Frame is the closed set of stream frames.
type Frame interface {
	FrameType() FrameType
}

// MeshAdd creates a visual proxy under an engine-assigned id.
type MeshAdd struct {
	ID   string
	Mesh kernel.Mesh
}

// MeshUpdate patches an existing proxy; empty mesh fields are unchanged.
type MeshUpdate struct {
	ID   string
	Mesh kernel.Mesh
}

// MeshMove repositions a proxy.
type MeshMove struct {
	ID       string
	Position geom.Vec3
}

// MeshIndex rotates one proxy about the indexing axis (degrees).
type MeshIndex struct {
	ID    string
	Angle float64
}

// MeshDel destroys a proxy.
type MeshDel struct {
	ID string
}

// StockIndex sets the shared indexed rotation of the stock (degrees).
type StockIndex struct {
	Angle float64
}

// ProgressFrame reports overall completion in [0,1].
type ProgressFrame struct {
	Value   float64
	Message string
}

// Line is one tool path segment for the path-trace overlay.
type Line struct {
	From  geom.Vec3
	To    geom.Vec3
	Rapid bool
}

// Finished marks the end of the simulated program.
type Finished struct{}

func (MeshAdd) FrameType() FrameType       { return FrameMeshAdd }
func (MeshUpdate) FrameType() FrameType    { return FrameMeshUpdate }
func (MeshMove) FrameType() FrameType      { return FrameMeshMove }
func (MeshIndex) FrameType() FrameType     { return FrameMeshIndex }
func (MeshDel) FrameType() FrameType       { return FrameMeshDel }
func (StockIndex) FrameType() FrameType    { return FrameStockIndex }
func (ProgressFrame) FrameType() FrameType { return FrameProgress }
func (Line) FrameType() FrameType          { return FrameLine }
func (Finished) FrameType() FrameType      { return FrameFinished }

// wireFrame is the flat JSON shape shared by all frames.
type wireFrame struct {
	Type     FrameType    `json:"type"`
	ID       string       `json:"id,omitempty"`
	Mesh     *kernel.Mesh `json:"mesh,omitempty"`
	Position *geom.Vec3   `json:"position,omitempty"`
	Angle    float64      `json:"angle,omitempty"`
	Value    float64      `json:"value,omitempty"`
	Message  string       `json:"message,omitempty"`
	From     *geom.Vec3   `json:"from,omitempty"`
	To       *geom.Vec3   `json:"to,omitempty"`
	Rapid    bool         `json:"rapid,omitempty"`
}

// EncodeFrame renders a frame in its wire form.
func EncodeFrame(f Frame) (json.RawMessage, error) {
	w := wireFrame{Type: f.FrameType()}
	switch v := f.(type) {
	case MeshAdd:
		w.ID, w.Mesh = v.ID, &v.Mesh
	case MeshUpdate:
		w.ID, w.Mesh = v.ID, &v.Mesh
	case MeshMove:
		w.ID, w.Position = v.ID, &v.Position
	case MeshIndex:
		w.ID, w.Angle = v.ID, v.Angle
	case MeshDel:
		w.ID = v.ID
	case StockIndex:
		w.Angle = v.Angle
	case ProgressFrame:
		w.Value, w.Message = v.Value, v.Message
	case Line:
		w.From, w.To, w.Rapid = &v.From, &v.To, v.Rapid
	case Finished:
	default:
		return nil, fmt.Errorf("compute: cannot encode frame %T", f)
	}
	return json.Marshal(w)
}

// DecodeFrame parses a wire frame. An empty or null payload is the channel
// terminator and decodes to (nil, nil).
func DecodeFrame(raw json.RawMessage) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var w wireFrame
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("compute: decode frame: %w", err)
	}
	vec := func(p *geom.Vec3) geom.Vec3 {
		if p == nil {
			return geom.Vec3{}
		}
		return *p
	}
	mesh := func() kernel.Mesh {
		if w.Mesh == nil {
			return kernel.Mesh{}
		}
		return *w.Mesh
	}
	switch w.Type {
	case FrameMeshAdd:
		return MeshAdd{ID: w.ID, Mesh: mesh()}, nil
	case FrameMeshUpdate:
		return MeshUpdate{ID: w.ID, Mesh: mesh()}, nil
	case FrameMeshMove:
		return MeshMove{ID: w.ID, Position: vec(w.Position)}, nil
	case FrameMeshIndex:
		return MeshIndex{ID: w.ID, Angle: w.Angle}, nil
	case FrameMeshDel:
		return MeshDel{ID: w.ID}, nil
	case FrameStockIndex:
		return StockIndex{Angle: w.Angle}, nil
	case FrameProgress:
		return ProgressFrame{Value: w.Value, Message: w.Message}, nil
	case FrameLine:
		return Line{From: vec(w.From), To: vec(w.To), Rapid: w.Rapid}, nil
	case FrameFinished:
		return Finished{}, nil
	default:
		return nil, fmt.Errorf("compute: unknown frame type %q", w.Type)
	}
}
