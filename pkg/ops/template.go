package ops

// templates hold the default parameters per type. Values use JSON types
// (float64, bool, string) so records read back from storage compare equal.
var templates = map[Type]map[string]any{
	TypeLevel:    {"tool": 1.0, "stepover": 0.5, "down": 0.0, "feed": 1000.0, "speed": 10000.0},
	TypeRough:    {"tool": 1.0, "stepover": 0.4, "down": 2.0, "leave": 0.5, "feed": 1000.0, "speed": 10000.0},
	TypeOutline:  {"tool": 1.0, "stepover": 0.4, "down": 2.0, "tabWidth": 5.0, "tabHeight": 2.0, "feed": 800.0, "speed": 10000.0},
	TypeContour:  {"tool": 2.0, "stepover": 0.2, "angle": 85.0, "axis": "x", "feed": 800.0, "speed": 10000.0},
	TypeLathe:    {"tool": 2.0, "step": 1.0, "angle": 1.0, "feed": 600.0, "speed": 10000.0},
	TypeTrace:    {"tool": 1.0, "down": 1.0, "offset": "none", "feed": 800.0, "speed": 10000.0},
	TypePocket:   {"tool": 1.0, "stepover": 0.4, "down": 1.0, "expand": 0.0, "feed": 800.0, "speed": 10000.0},
	TypeDrill:    {"tool": 3.0, "down": 2.0, "dwell": 0.0, "lift": 2.0, "feed": 200.0},
	TypeRegister: {"tool": 3.0, "axis": "x", "points": 2.0, "feed": 200.0},
	TypeHelical:  {"tool": 1.0, "down": 1.0, "feed": 600.0, "speed": 10000.0},
	TypeFlip:     {"axis": "x", "invert": false},
	TypeIndex:    {"degrees": 0.0, "absolute": true},
	TypeGCode:    {"code": ""},
	TypeLaserOn:  {"power": 100.0},
	TypeLaserOff: {},
	TypeClock:    {},
}

// Template returns a fresh copy of the default parameters for t.
func Template(t Type) map[string]any {
	return cloneParams(templates[t])
}
