package ops

import "github.com/chazu/millwright/pkg/part"

// Snapshot is the settings payload handed to the engine when playback is
// set up, and the operation snapshot sent with hole detection.
type Snapshot struct {
	Parts      []part.Part  `json:"parts"`
	Operations []*Operation `json:"operations"`
	Tools      []Tool       `json:"tools,omitempty"`
	// Indexed enables the rotary indexing axis.
	Indexed bool `json:"indexed,omitempty"`
}
