package ops

import "fmt"

// ToolKind classifies a cutter.
type ToolKind int

const (
	ToolEndmill ToolKind = iota
	ToolBallmill
	ToolTaper
	ToolDrill
	ToolLaser
)

var toolKindNames = [...]string{"endmill", "ballmill", "taper", "drill", "laser"}

func (k ToolKind) String() string {
	if k >= 0 && int(k) < len(toolKindNames) {
		return toolKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k ToolKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ToolKind) UnmarshalText(b []byte) error {
	for i, name := range toolKindNames {
		if name == string(b) {
			*k = ToolKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tool kind %q", string(b))
}

// Tool is one entry of the tool table.
type Tool struct {
	ID       int      `json:"id" yaml:"id" validate:"gt=0"`
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Kind     ToolKind `json:"kind" yaml:"kind"`
	Diameter float64  `json:"diameter" yaml:"diameter" validate:"gt=0"`
}

// ToolLookup resolves tool references.
type ToolLookup interface {
	Tool(id int) (Tool, bool)
}

// ToolTable is a ToolLookup backed by a map.
type ToolTable map[int]Tool

func (t ToolTable) Tool(id int) (Tool, bool) {
	tool, ok := t[id]
	return tool, ok
}

// NewToolTable indexes tools by id.
func NewToolTable(tools []Tool) ToolTable {
	t := make(ToolTable, len(tools))
	for _, tool := range tools {
		t[tool.ID] = tool
	}
	return t
}
