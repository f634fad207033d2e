package compute

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is one request on the wire.
type Envelope struct {
	ID      uint64          `json:"id"`
	Session uint64          `json:"session,omitempty"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Progress is the non-terminal progress envelope.
type Progress struct {
	Value   float64 `json:"value"`
	Message string  `json:"message,omitempty"`
}

// Reply is one response on the wire. For a request, Done marks the single
// terminal reply. For a stream, each reply without Done carries one frame
// and Done closes the channel.
type Reply struct {
	ID       uint64          `json:"id"`
	Session  uint64          `json:"session,omitempty"`
	Progress *Progress       `json:"progress,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Done     bool            `json:"done,omitempty"`
	Error    string          `json:"error,omitempty"`
}

var (
	// ErrClosed is returned once the client or its transport has shut down.
	ErrClosed = errors.New("compute: client closed")
	// ErrStopped is the result of a stream stopped by its caller.
	ErrStopped = errors.New("compute: stream stopped")
)

// EngineError is a terminal error reported by the geometry engine. It ends
// the request or stream that produced it and nothing else.
type EngineError struct {
	Kind    Kind
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("geometry engine %s: %s", e.Kind, e.Message)
}

func newEnvelope(id, session uint64, req Request) (Envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("compute: encode %s payload: %w", req.Kind(), err)
	}
	return Envelope{ID: id, Session: session, Kind: req.Kind(), Payload: payload}, nil
}
