package ops

import (
	"fmt"
	"strconv"
	"strings"
)

// MacroChecker validates the macro expressions in a gcode body.
type MacroChecker interface {
	Check(code string) error
}

// Binder connects editor fields to operation records.
type Binder struct {
	Tools  ToolLookup
	Macros MacroChecker
}

// Bind parses raw for one field and commits it to op. A parse failure
// returns ErrFieldInvalid and leaves op untouched; everything else is
// reported as advisories. Stale part references are pruned first.
func (b Binder) Bind(p *Pipeline, op *Operation, field, raw string) ([]Advisory, error) {
	p.Prune()

	var apply func(o *Operation)
	if field == "note" {
		apply = func(o *Operation) { o.Note = raw }
	} else {
		v, err := parseField(op, field, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFieldInvalid, field, err)
		}
		apply = func(o *Operation) {
			if o.Params == nil {
				o.Params = make(map[string]any)
			}
			o.Params[field] = v
		}
	}
	if !p.Edit(op, apply) {
		apply(op)
	}

	var advs []Advisory
	p.Edit(op, func(o *Operation) { advs = b.check(o) })
	for i := range advs {
		if advs[i].Field == "" {
			advs[i].Field = field
		}
	}
	return advs, nil
}

// Check returns the advisories for op as it stands.
func (b Binder) Check(p *Pipeline, op *Operation) []Advisory {
	var advs []Advisory
	if !p.Edit(op, func(o *Operation) { advs = b.check(o) }) {
		advs = b.check(op)
	}
	return advs
}

func (b Binder) check(o *Operation) []Advisory {
	var advs []Advisory
	if v, ok := o.Params["tool"].(float64); ok && b.Tools != nil {
		tool, found := b.Tools.Tool(int(v))
		switch {
		case !found:
			advs = append(advs, Advisory{Code: CodeUnknownTool, OpID: o.ID, Field: "tool",
				Message: fmt.Sprintf("tool %d is not in the tool table", int(v))})
		case tool.Kind == ToolDrill && o.Type != TypeDrill && o.Type != TypeRegister:
			advs = append(advs, Advisory{Code: CodeDrillTool, OpID: o.ID, Field: "tool",
				Message: "drill tool used for a non-drilling operation"})
		}
	}
	if key := o.Type.SetKey(); key != "" && selectedCount(o.Geometry[key]) == 0 {
		advs = append(advs, Advisory{Code: CodeEmptyGeometry, OpID: o.ID,
			Message: fmt.Sprintf("%s has no %s selected", o.Label(), key)})
	}
	if code, ok := o.Params["code"].(string); ok && o.Type == TypeGCode && b.Macros != nil {
		if err := b.Macros.Check(code); err != nil {
			advs = append(advs, Advisory{Code: CodeMacro, OpID: o.ID, Field: "code", Message: err.Error()})
		}
	}
	return advs
}

// selectedCount counts picked subsets; detected holes count only when
// selected.
func selectedCount(gs GeometrySet) int {
	n := 0
	for _, list := range gs {
		for _, s := range list {
			if h, ok := s.(Hole); ok && !h.Selected {
				continue
			}
			n++
		}
	}
	return n
}

func parseField(op *Operation, field, raw string) (any, error) {
	proto, ok := Template(op.Type)[field]
	if !ok {
		proto = op.Params[field]
	}
	raw = strings.TrimSpace(raw)
	switch proto.(type) {
	case float64:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	case nil:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}
