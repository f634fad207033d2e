// Package macro expands {expr} macros in custom gcode bodies. Each
// expression is a zygomys form evaluated in a fresh sandbox with the
// operation's variables bound, e.g. "G0 Z{(+ z 2)} F{feed}".
package macro

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"
)

// DefaultTimeout is the hard limit for expanding one body.
const DefaultTimeout = 2 * time.Second

// Vars are the numeric variables visible to expressions.
type Vars map[string]float64

// DefaultVars lists every variable name the pipeline binds, at zero. Check
// uses it so that references to known names do not fail.
func DefaultVars() Vars {
	return Vars{
		"tool": 0, "feed": 0, "speed": 0, "diameter": 0,
		"x": 0, "y": 0, "z": 0, "top": 0, "bottom": 0,
		"layer": 0, "index": 0,
	}
}

// Error is a failure in one expression.
type Error struct {
	Line    int
	Col     int
	Expr    string
	Message string
}

func (e Error) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("line %d col %d: {%s}: %s", e.Line, e.Col, e.Expr, e.Message)
	}
	return fmt.Sprintf("line %d col %d: %s", e.Line, e.Col, e.Message)
}

// Expander evaluates macros. It is safe for concurrent use; every
// expression gets its own sandbox.
type Expander struct {
	mu         sync.Mutex
	generation uint64
	timeout    time.Duration
}

// NewExpander returns an expander; timeout <= 0 selects DefaultTimeout.
func NewExpander(timeout time.Duration) *Expander {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Expander{timeout: timeout}
}

// Expand substitutes every {expr} in code.
//
// Return semantics:
//   - On success: expanded text, nil, nil
//   - On expression failure: "", expression errors, nil
//   - On timeout or a newer call superseding this one: "", nil, error
func (e *Expander) Expand(code string, vars Vars) (string, []Error, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan expandResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- expandResult{err: fmt.Errorf("panic during macro expansion: %v", r)}
			}
		}()
		text, errs := expand(code, vars)
		ch <- expandResult{text: text, errors: errs}
	}()

	return waitWithTimeout(ch, gen, e.timeout, &e.mu, &e.generation)
}

// Check reports the first problem in code with DefaultVars bound, or nil.
func (e *Expander) Check(code string) error {
	_, errs, err := e.Expand(code, DefaultVars())
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expansion
// ---------------------------------------------------------------------------

type segment struct {
	text      string
	expr      bool
	line, col int
}

// split cuts code into literal and expression segments. Braces do not nest.
func split(code string) ([]segment, []Error) {
	var segs []segment
	var lit strings.Builder
	line, col := 1, 1
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch c {
		case '{':
			end := strings.IndexByte(code[i+1:], '}')
			if end < 0 {
				return nil, []Error{{Line: line, Col: col, Message: "unterminated {"}}
			}
			if lit.Len() > 0 {
				segs = append(segs, segment{text: lit.String()})
				lit.Reset()
			}
			body := code[i+1 : i+1+end]
			if strings.ContainsAny(body, "{\n") {
				return nil, []Error{{Line: line, Col: col, Expr: body, Message: "expression spans a line or nests"}}
			}
			segs = append(segs, segment{text: body, expr: true, line: line, col: col})
			i += end + 1
			col += end + 2
			continue
		case '}':
			return nil, []Error{{Line: line, Col: col, Message: "unmatched }"}}
		case '\n':
			line++
			col = 0
		}
		lit.WriteByte(c)
		col++
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{text: lit.String()})
	}
	return segs, nil
}

func expand(code string, vars Vars) (string, []Error) {
	segs, errs := split(code)
	if errs != nil {
		return "", errs
	}
	preamble := bindings(vars)

	var out strings.Builder
	for _, s := range segs {
		if !s.expr {
			out.WriteString(s.text)
			continue
		}
		v, err := eval(preamble, s.text)
		if err != nil {
			errs = append(errs, Error{Line: s.line, Col: s.col, Expr: s.text, Message: err.Error()})
			continue
		}
		out.WriteString(v)
	}
	if len(errs) > 0 {
		return "", errs
	}
	return out.String(), nil
}

// bindings renders vars as def forms, sorted for determinism.
func bindings(vars Vars) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "(def %s %s)\n", name, floatLiteral(vars[name]))
	}
	return b.String()
}

func floatLiteral(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func eval(preamble, expr string) (string, error) {
	if strings.TrimSpace(expr) == "" {
		return "", fmt.Errorf("empty expression")
	}
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env)

	if err := env.LoadString(preamble + expr); err != nil {
		return "", cleanError(err)
	}
	res, err := env.Run()
	if err != nil {
		return "", cleanError(err)
	}
	return format(res)
}

// format renders a result for gcode: numbers to at most four decimals.
func format(s zygo.Sexp) (string, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return strconv.FormatInt(v.Val, 10), nil
	case *zygo.SexpFloat:
		if math.IsNaN(v.Val) || math.IsInf(v.Val, 0) {
			return "", fmt.Errorf("result is not a finite number")
		}
		return strconv.FormatFloat(math.Round(v.Val*1e4)/1e4, 'f', -1, 64), nil
	case *zygo.SexpStr:
		return v.S, nil
	}
	return "", fmt.Errorf("expected number or string, got %s", s.SexpString(nil))
}

var linePattern = regexp.MustCompile(`(?i)(?:error )?on line \d+:\s*(.*)`)

// cleanError strips the preamble's line numbering from zygomys messages.
func cleanError(err error) error {
	msg := strings.TrimSpace(err.Error())
	if m := linePattern.FindStringSubmatch(msg); m != nil {
		msg = strings.TrimSpace(m[1])
	}
	return fmt.Errorf("%s", msg)
}
