package geomsvc

import (
	"fmt"
	"math"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/part"
)

// circleSegments is the polygon resolution of round outlines.
const circleSegments = 32

// traceKey names loop i of a part at elevation z.
func traceKey(id part.ID, z float64, i int) string {
	return fmt.Sprintf("%s/z%.3f/%d", id, z, i)
}

// traces returns the outline loops of every part: the top face outline and
// hole rims at the top, then the bottom outline unless singleLayer is set.
func (s *Service) traces(singleLayer bool) []compute.PartTraces {
	var out []compute.PartTraces
	for _, p := range s.parts.List() {
		out = append(out, compute.PartTraces{PartID: p.ID, Traces: partTraces(p, singleLayer)})
	}
	return out
}

func partTraces(p part.Part, singleLayer bool) []compute.Trace {
	top := p.Position.Z + p.Size.Z
	var ts []compute.Trace
	add := func(z float64, pts []geom.Vec3) {
		ts = append(ts, compute.Trace{Key: traceKey(p.ID, z, len(ts)), Z: z, Points: pts, Closed: true})
	}

	add(top, outline(p, top))
	for _, h := range p.Holes {
		c := p.Position.Add(h.Position)
		add(top, circle(c.X, c.Y, top, h.Diameter/2))
	}
	if !singleLayer {
		add(p.Position.Z, outline(p, p.Position.Z))
	}
	return ts
}

// outline is the part's footprint at elevation z.
func outline(p part.Part, z float64) []geom.Vec3 {
	if p.Shape == part.ShapeCylinder {
		r := p.Size.X / 2
		return circle(p.Position.X+r, p.Position.Y+r, z, r)
	}
	x0, y0 := p.Position.X, p.Position.Y
	x1, y1 := x0+p.Size.X, y0+p.Size.Y
	return []geom.Vec3{
		{X: x0, Y: y0, Z: z},
		{X: x1, Y: y0, Z: z},
		{X: x1, Y: y1, Z: z},
		{X: x0, Y: y1, Z: z},
		{X: x0, Y: y0, Z: z},
	}
}

// circle is a closed polygon; the last point repeats the first.
func circle(cx, cy, z, r float64) []geom.Vec3 {
	pts := make([]geom.Vec3, 0, circleSegments+1)
	for i := 0; i <= circleSegments; i++ {
		a := 2 * math.Pi * float64(i%circleSegments) / circleSegments
		pts = append(pts, geom.Vec3{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a), Z: z})
	}
	return pts
}
