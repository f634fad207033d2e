package macro

import (
	"fmt"
	"math"

	zygo "github.com/glycerine/zygomys/zygo"
)

// registerBuiltins adds the numeric helpers gcode bodies use.
func registerBuiltins(env *zygo.Zlisp) {
	// (clamp v lo hi)
	env.AddFunction("clamp", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("clamp requires exactly 3 arguments, got %d", len(args))
		}
		v, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("clamp: value: %w", err)
		}
		lo, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("clamp: lo: %w", err)
		}
		hi, err := toFloat64(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("clamp: hi: %w", err)
		}
		return &zygo.SexpFloat{Val: math.Max(lo, math.Min(hi, v))}, nil
	})

	// (round_to v places)
	env.AddFunction("round_to", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("round_to requires exactly 2 arguments, got %d", len(args))
		}
		v, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("round_to: value: %w", err)
		}
		places, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("round_to: places: %w", err)
		}
		scale := math.Pow(10, math.Floor(places))
		return &zygo.SexpFloat{Val: math.Round(v*scale) / scale}, nil
	})
}

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}
