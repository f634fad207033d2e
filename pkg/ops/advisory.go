package ops

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Advisory codes.
const (
	CodeSecondFlip    = "SECOND_FLIP"
	CodeSecondMarker  = "SECOND_MARKER"
	CodeNotDuplicable = "NOT_DUPLICABLE"
	CodeNoFlip        = "NO_FLIP"
	CodeNotMirrorable = "NOT_MIRRORABLE"
	CodeFlipInUse     = "FLIP_IN_USE"
	CodeDrillTool     = "DRILL_TOOL_MISUSE"
	CodeUnknownTool   = "UNKNOWN_TOOL"
	CodeEmptyGeometry = "EMPTY_GEOMETRY"
	CodeMacro         = "MACRO_ERROR"
)

// Advisory is a non-fatal validation notice. The operation stays usable.
type Advisory struct {
	Code    string
	Message string
	OpID    uuid.UUID
	Field   string
}

func (a Advisory) Error() string {
	if a.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", a.Code, a.Message, a.Field)
	}
	return fmt.Sprintf("%s: %s", a.Code, a.Message)
}

// ErrFieldInvalid is returned when an editor value cannot be parsed. Only
// that field's commit is blocked.
var ErrFieldInvalid = errors.New("invalid field value")
