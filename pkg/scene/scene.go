// Package scene declares the rendering, picking and notification
// collaborators the orchestrator drives. The 3D substrate itself lives
// elsewhere; Recorder is an in-memory implementation used headless.
package scene

import (
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/part"
)

// Layer names a pickable overlay.
type Layer int

const (
	LayerPart Layer = iota
	LayerTrace
	LayerTab
	LayerHole
)

func (l Layer) String() string {
	switch l {
	case LayerPart:
		return "part"
	case LayerTrace:
		return "trace"
	case LayerTab:
		return "tab"
	case LayerHole:
		return "hole"
	default:
		return "unknown"
	}
}

// Style is how a transient marker is drawn.
type Style int

const (
	StyleCandidate Style = iota
	StyleHover
	StyleSelected
)

func (s Style) String() string {
	switch s {
	case StyleCandidate:
		return "candidate"
	case StyleHover:
		return "hover"
	case StyleSelected:
		return "selected"
	default:
		return "unknown"
	}
}

// Hit is one pointer-ray intersection.
type Hit struct {
	Layer  Layer     `json:"layer"`
	PartID part.ID   `json:"partId"`
	Face   int       `json:"face"`
	Point  geom.Vec3 `json:"point"`
	// Marker is the id of the overlay marker hit, for non-part layers.
	Marker string `json:"marker,omitempty"`
}

// Pointer is one pointer event. Hits may be pre-resolved by the frontend;
// when nil the Picker is asked.
type Pointer struct {
	Ray       geom.Ray `json:"ray"`
	SameValue bool     `json:"sameValue"`
	Hits      []Hit    `json:"hits,omitempty"`
}

// Marker is a transient highlight.
type Marker struct {
	ID     string      `json:"id"`
	Layer  Layer       `json:"layer"`
	PartID part.ID     `json:"partId"`
	Style  Style       `json:"style"`
	Points []geom.Vec3 `json:"points,omitempty"`
	Center geom.Vec3   `json:"center"`
	Radius float64     `json:"radius,omitempty"`
	Faces  []int       `json:"faces,omitempty"`
}

// PartStyle is the visibility of a part mesh.
type PartStyle struct {
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
	Color   string  `json:"color,omitempty"`
}

// DefaultPartStyle is the style parts have when nothing dims them.
var DefaultPartStyle = PartStyle{Visible: true, Opacity: 1}

// Picker intersects a ray with a named layer, nearest hit first.
type Picker interface {
	Intersect(layer Layer, ray geom.Ray) []Hit
}

// Highlighter draws transient markers and restyles parts.
type Highlighter interface {
	ShowMarker(m Marker)
	HideMarker(layer Layer, id string)
	ClearMarkers(layer Layer)
	SetPartStyle(id part.ID, s PartStyle)
}

// Proxy is a visual stand-in for an engine mesh.
type Proxy interface {
	Update(patch kernel.Mesh)
	Move(pos geom.Vec3)
	Rotate(angle float64)
	Destroy()
}

// Readout is the machine position display.
type Readout struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Renderer owns the playback visuals.
type Renderer interface {
	CreateProxy(id string, mesh kernel.Mesh) (Proxy, error)
	// SetGroupRotation rotates the active part group and the path overlay.
	SetGroupRotation(angle float64)
	AppendPath(from, to geom.Vec3, rapid bool)
	ClearPath()
	SetPartStyle(id part.ID, s PartStyle)
	SetProgress(v float64)
	SetReadout(r Readout)
}

// Severity ranks a notice.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a user-visible message. Sticky notices stay until dismissed.
type Notice struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Sticky   bool     `json:"sticky,omitempty"`
}

// Notifier shows notices. It never blocks interaction.
type Notifier interface {
	Notify(n Notice)
}

// Scene is everything the orchestrator needs from the substrate.
type Scene interface {
	Picker
	Highlighter
	Renderer
	Notifier
}
