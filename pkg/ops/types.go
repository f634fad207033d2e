package ops

import (
	"fmt"
	"strings"
)

// Type is the kind of a machining operation.
type Type int

const (
	TypeLevel Type = iota
	TypeRough
	TypeOutline
	TypeContour
	TypeLathe
	TypeTrace
	TypePocket
	TypeDrill
	TypeRegister
	TypeHelical
	TypeFlip
	TypeIndex
	TypeGCode
	TypeLaserOn
	TypeLaserOff
	TypeClock // clock-boundary marker
)

var typeNames = [...]string{
	TypeLevel:    "level",
	TypeRough:    "rough",
	TypeOutline:  "outline",
	TypeContour:  "contour",
	TypeLathe:    "lathe",
	TypeTrace:    "trace",
	TypePocket:   "pocket",
	TypeDrill:    "drill",
	TypeRegister: "register",
	TypeHelical:  "helical",
	TypeFlip:     "flip",
	TypeIndex:    "index",
	TypeGCode:    "gcode",
	TypeLaserOn:  "laser-on",
	TypeLaserOff: "laser-off",
	TypeClock:    "clock",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// ParseType is the inverse of String.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation type %q", s)
}

// Types returns every operation type in declaration order.
func Types() []Type {
	out := make([]Type, len(typeNames))
	for i := range typeNames {
		out[i] = Type(i)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(typeNames) {
		return nil, fmt.Errorf("unknown operation type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// SetKey names the geometry set an operation type picks into.
type SetKey string

const (
	SetAreas     SetKey = "areas"     // edge traces
	SetSurfaces  SetKey = "surfaces"  // surface face groups
	SetCylinders SetKey = "cylinders" // cylindrical face groups
	SetDrills    SetKey = "drills"    // detected holes
	SetTabs      SetKey = "tabs"      // tab anchor points
)

// SetKey returns the geometry set the type picks into, or "" when the type
// has no interactive picking.
func (t Type) SetKey() SetKey {
	switch t {
	case TypeTrace:
		return SetAreas
	case TypePocket:
		return SetSurfaces
	case TypeHelical:
		return SetCylinders
	case TypeDrill:
		return SetDrills
	case TypeOutline:
		return SetTabs
	default:
		return ""
	}
}

// Marker reports whether the type is the clock-boundary marker.
func (t Type) Marker() bool { return t == TypeClock }

// Label is the display name used for rows without an alias.
func (t Type) Label() string {
	switch t {
	case TypeGCode:
		return "GCode"
	case TypeLaserOn:
		return "Laser On"
	case TypeLaserOff:
		return "Laser Off"
	case TypeClock:
		return "Clock Boundary"
	default:
		s := t.String()
		return strings.ToUpper(s[:1]) + s[1:]
	}
}
