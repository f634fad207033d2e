package geomsvc

import (
	"strconv"
	"strings"

	"github.com/chazu/millwright/pkg/macro"
	"github.com/chazu/millwright/pkg/ops"
)

type macroExpander interface {
	Expand(code string, vars macro.Vars) (string, []macro.Error, error)
}

// gcode expands the op's body and follows its G0/G1 moves. Coordinates
// are absolute and modal; unknown words are ignored.
func (pl *planner) gcode(i int, op *ops.Operation) {
	code, _ := op.Params["code"].(string)
	if strings.TrimSpace(code) == "" {
		return
	}
	vars := macro.Vars{
		"tool":     param(op, "tool", 0),
		"feed":     param(op, "feed", 0),
		"speed":    param(op, "speed", 0),
		"diameter": pl.diameter(op),
		"x":        pl.pos.X,
		"y":        pl.pos.Y,
		"z":        pl.pos.Z,
		"top":      pl.stock.Max.Z,
		"bottom":   pl.stock.Min.Z,
		"index":    float64(i),
	}
	text, errs, err := pl.macros.Expand(code, vars)
	if err != nil || len(errs) > 0 {
		if err == nil {
			err = errs[0]
		}
		pl.svc.log.Warn("skipping gcode operation", "index", i, "error", err)
		return
	}
	pl.rapid = true
	for _, line := range strings.Split(text, "\n") {
		pl.gcodeLine(line)
	}
}

func (pl *planner) gcodeLine(line string) {
	if j := strings.IndexByte(line, ';'); j >= 0 {
		line = line[:j]
	}
	if j := strings.IndexByte(line, '('); j >= 0 {
		if k := strings.IndexByte(line[j:], ')'); k >= 0 {
			line = line[:j] + line[j+k+1:]
		}
	}

	rapid, motion := pl.rapid, false
	to := pl.pos
	for _, word := range strings.Fields(strings.ToUpper(line)) {
		if len(word) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(word[1:], 64)
		if err != nil {
			continue
		}
		switch word[0] {
		case 'G':
			switch v {
			case 0:
				rapid = true
			case 1:
				rapid = false
			}
		case 'X':
			to.X, motion = v, true
		case 'Y':
			to.Y, motion = v, true
		case 'Z':
			to.Z, motion = v, true
		}
	}
	pl.rapid = rapid
	if motion {
		pl.to(to, rapid)
	}
}
