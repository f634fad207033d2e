package geomsvc

import (
	"encoding/json"
	"fmt"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/ops"
)

// detectHoles reports the bores of every part in workspace coordinates,
// with progress after each part. Unless sizing is individual, every hole
// reports the diameter of the requesting operation's tool when it is
// known.
func (s *Service) detectHoles(call *compute.Call, r *compute.HoleDetect) (compute.HoleDetectResult, error) {
	sized := 0.0
	if !r.IndividualSizing && len(r.Operation) > 0 {
		var op ops.Operation
		if err := json.Unmarshal(r.Operation, &op); err != nil {
			return compute.HoleDetectResult{}, fmt.Errorf("hole detect: decode operation: %w", err)
		}
		sized = s.toolDiameter(&op)
	}

	parts := s.parts.List()
	res := compute.HoleDetectResult{PerPart: []compute.PartHoles{}}
	for i, p := range parts {
		if err := call.Context().Err(); err != nil {
			return compute.HoleDetectResult{}, err
		}
		top := p.Position.Z + p.Size.Z
		ph := compute.PartHoles{PartID: p.ID}
		for _, h := range p.Holes {
			c := p.Position.Add(h.Position)
			d := h.Diameter
			if sized > 0 {
				d = sized
			}
			ph.Holes = append(ph.Holes, compute.HoleInfo{X: c.X, Y: c.Y, Z: top, Depth: h.Depth, Diameter: d})
		}
		if len(ph.Holes) > 0 {
			res.PerPart = append(res.PerPart, ph)
		}
		call.Progress(float64(i+1)/float64(len(parts)), string(p.ID))
	}
	return res, nil
}

// toolDiameter resolves the op's tool param, or 0.
func (s *Service) toolDiameter(op *ops.Operation) float64 {
	if s.opts.Tools == nil {
		return 0
	}
	id, ok := op.Params["tool"].(float64)
	if !ok {
		return 0
	}
	if t, ok := s.opts.Tools.Tool(int(id)); ok {
		return t.Diameter
	}
	return 0
}
