package ops

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Operation is one machining step. Identity is the pointer; ID is the
// persisted identity and survives save/load.
type Operation struct {
	ID       uuid.UUID
	Type     Type
	Disabled bool
	Note     string
	Params   map[string]any
	Geometry map[SetKey]GeometrySet
	// Mirror is the ID of the operation whose geometry this one shares,
	// set only on records created by MirrorAfterFlip.
	Mirror uuid.UUID
	// Extra holds unknown top-level fields from a newer writer.
	Extra map[string]json.RawMessage
}

// New returns an operation of type t with a fresh identity and default
// parameters.
func New(t Type) *Operation {
	return &Operation{
		ID:     uuid.New(),
		Type:   t,
		Params: Template(t),
	}
}

// Alias returns the leading "#word" of the note without the hash, or "".
func (o *Operation) Alias() string {
	note := strings.TrimSpace(o.Note)
	if !strings.HasPrefix(note, "#") {
		return ""
	}
	word, _, _ := strings.Cut(note[1:], " ")
	return word
}

// Label is the row title: the alias when there is one, else the type name.
func (o *Operation) Label() string {
	if a := o.Alias(); a != "" {
		return a
	}
	return o.Type.Label()
}

// Set returns the geometry set for key, creating it if needed.
func (o *Operation) Set(key SetKey) GeometrySet {
	if o.Geometry == nil {
		o.Geometry = make(map[SetKey]GeometrySet)
	}
	gs := o.Geometry[key]
	if gs == nil {
		gs = make(GeometrySet)
		o.Geometry[key] = gs
	}
	return gs
}

// Picked returns the number of subsets in the type's own geometry set.
func (o *Operation) Picked() int {
	key := o.Type.SetKey()
	if key == "" {
		return 0
	}
	return o.Geometry[key].Len()
}

// Clone deep-copies the operation under a fresh identity. The copy never
// shares geometry with the original.
func (o *Operation) Clone() *Operation {
	cp := o.clone()
	cp.ID = uuid.New()
	cp.Mirror = uuid.Nil
	return cp
}

// clone deep-copies keeping the identity.
func (o *Operation) clone() *Operation {
	cp := &Operation{
		ID:       o.ID,
		Type:     o.Type,
		Disabled: o.Disabled,
		Note:     o.Note,
		Params:   cloneParams(o.Params),
		Mirror:   o.Mirror,
	}
	if o.Geometry != nil {
		cp.Geometry = make(map[SetKey]GeometrySet, len(o.Geometry))
		for k, gs := range o.Geometry {
			cp.Geometry[k] = gs.Clone()
		}
	}
	if o.Extra != nil {
		cp.Extra = make(map[string]json.RawMessage, len(o.Extra))
		for k, v := range o.Extra {
			cp.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return cp
}

// FillDefaults sets any template parameter the record is missing.
func (o *Operation) FillDefaults() {
	if o.Params == nil {
		o.Params = make(map[string]any)
	}
	for k, v := range Template(o.Type) {
		if _, ok := o.Params[k]; !ok {
			o.Params[k] = v
		}
	}
}

func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

var knownFields = map[string]bool{
	"id": true, "type": true, "disabled": true, "note": true,
	"params": true, "geometry": true, "mirror": true,
}

// MarshalJSON writes the known fields over any preserved unknown ones.
func (o *Operation) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(o.Extra)+len(knownFields))
	for k, v := range o.Extra {
		out[k] = v
	}
	put := func(k string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("operation %s field %s: %w", o.ID, k, err)
		}
		out[k] = raw
		return nil
	}
	if err := put("id", o.ID); err != nil {
		return nil, err
	}
	if err := put("type", o.Type); err != nil {
		return nil, err
	}
	if o.Disabled {
		if err := put("disabled", true); err != nil {
			return nil, err
		}
	}
	if o.Note != "" {
		if err := put("note", o.Note); err != nil {
			return nil, err
		}
	}
	if len(o.Params) > 0 {
		if err := put("params", o.Params); err != nil {
			return nil, err
		}
	}
	if len(o.Geometry) > 0 {
		if err := put("geometry", o.Geometry); err != nil {
			return nil, err
		}
	}
	if o.Mirror != uuid.Nil {
		if err := put("mirror", o.Mirror); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and keeps the rest in Extra. A missing
// id gets a fresh one.
func (o *Operation) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var rec struct {
		ID       uuid.UUID              `json:"id"`
		Type     Type                   `json:"type"`
		Disabled bool                   `json:"disabled"`
		Note     string                 `json:"note"`
		Params   map[string]any         `json:"params"`
		Geometry map[SetKey]GeometrySet `json:"geometry"`
		Mirror   uuid.UUID              `json:"mirror"`
	}
	if _, ok := raw["type"]; !ok {
		return fmt.Errorf("operation record has no type")
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	*o = Operation{
		ID:       rec.ID,
		Type:     rec.Type,
		Disabled: rec.Disabled,
		Note:     rec.Note,
		Params:   rec.Params,
		Geometry: rec.Geometry,
		Mirror:   rec.Mirror,
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]json.RawMessage)
		}
		o.Extra[k] = v
	}
	return nil
}
