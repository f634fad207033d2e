package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// Kind identifies a selection mode.
type Kind int

const (
	KindTrace Kind = iota
	KindSurface
	KindCylinder
	KindHole
	KindPoint
)

var kindNames = [...]string{"trace", "surface", "cylinder", "hole", "point"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// KindFor returns the mode that picks into the given geometry set.
func KindFor(key ops.SetKey) (Kind, bool) {
	switch key {
	case ops.SetAreas:
		return KindTrace, true
	case ops.SetSurfaces:
		return KindSurface, true
	case ops.SetCylinders:
		return KindCylinder, true
	case ops.SetDrills:
		return KindHole, true
	case ops.SetTabs:
		return KindPoint, true
	default:
		return 0, false
	}
}

// SetKey is the geometry set a mode edits.
func (k Kind) SetKey() ops.SetKey {
	switch k {
	case KindTrace:
		return ops.SetAreas
	case KindSurface:
		return ops.SetSurfaces
	case KindCylinder:
		return ops.SetCylinders
	case KindHole:
		return ops.SetDrills
	default:
		return ops.SetTabs
	}
}

// ErrNoGeometry is returned by an analysis that found nothing to pick.
var ErrNoGeometry = errors.New("no selectable geometry")

// ErrNoSession is returned when an operation needs an active session.
var ErrNoSession = errors.New("no active selection session")

// Element is a pickable thing under the pointer.
type Element struct {
	PartID part.ID
	// Key is the canonical key of Subset, or of the hit face when the
	// subset is not known until the engine answers.
	Key    string
	Subset ops.Subset
	Face   int
	Point  geom.Vec3
}

// Mode is the capability set that differs between selection modes. A mode
// value belongs to one session; its state is guarded by the session lock
// except where noted.
type Mode interface {
	Kind() Kind
	// Layer is the overlay layer the mode's markers live on.
	Layer() scene.Layer
	// Analyze runs the upfront engine pass without the session lock held.
	// The returned apply func installs the result and is called under the
	// lock, only if the session is still current. A nil apply with a nil
	// error means the mode has no upfront pass.
	Analyze(ctx context.Context, s *Session) (apply func(), err error)
	// HitTest resolves the pointer to an element.
	HitTest(s *Session, p scene.Pointer) (Element, bool)
	// Toggle flips e's membership, or sets it to *want, and returns the
	// resulting state. It is called without the session lock and mutates
	// through Session.edit.
	Toggle(ctx context.Context, s *Session, e Element, want *bool) (bool, error)
	// Highlight builds the marker for e in style st.
	Highlight(s *Session, e Element, st scene.Style) scene.Marker
	// Siblings returns the elements that share e's value.
	Siblings(s *Session, e Element) []Element
	// Markers returns the full marker set for the current state.
	Markers(s *Session) []scene.Marker
}

func newMode(k Kind) Mode {
	switch k {
	case KindTrace:
		return &traceMode{}
	case KindSurface:
		return &faceMode{kind: KindSurface}
	case KindCylinder:
		return &faceMode{kind: KindCylinder}
	case KindHole:
		return &holeMode{}
	default:
		return &pointMode{}
	}
}
