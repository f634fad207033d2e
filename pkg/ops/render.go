package ops

import "github.com/google/uuid"

// SessionState is what render needs to know about the selection session.
type SessionState struct {
	OpID  uuid.UUID // zero when no session is active
	Mode  string
	Hover string // canonical key under the pointer, if any
}

// Row is the view model of one pipeline entry.
type Row struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	Label     string    `json:"label"`
	Alias     string    `json:"alias,omitempty"`
	Note      string    `json:"note,omitempty"`
	Picked    int       `json:"picked"`
	Disabled  bool      `json:"disabled"`
	Deletable bool      `json:"deletable"`
	Editing   bool      `json:"editing"`
	Hover     string    `json:"hover,omitempty"`
	// Inert rows sit after the clock marker and are not executed.
	Inert bool `json:"inert"`
	// PostFlip rows come from MirrorAfterFlip.
	PostFlip bool `json:"postFlip,omitempty"`
	Mirror   bool `json:"mirror,omitempty"`
}

// Render projects the pipeline and session state to rows. Stale part
// references are pruned first; calling it again without changes yields
// the same rows.
func (p *Pipeline) Render(s SessionState) []Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune()

	rows := make([]Row, 0, len(p.ops)+len(p.post))
	inert := false
	for _, o := range p.ops {
		r := p.row(o, s)
		r.Inert = inert
		if o.Type == TypeFlip {
			r.Deletable = len(p.post) == 0
		}
		if o.Type.Marker() {
			inert = true
		}
		rows = append(rows, r)
	}
	for _, o := range p.post {
		r := p.row(o, s)
		r.PostFlip = true
		r.Inert = inert
		rows = append(rows, r)
	}
	return rows
}

func (p *Pipeline) row(o *Operation, s SessionState) Row {
	r := Row{
		ID:        o.ID,
		Type:      o.Type,
		Label:     o.Label(),
		Alias:     o.Alias(),
		Note:      o.Note,
		Picked:    o.Picked(),
		Disabled:  o.Disabled,
		Deletable: true,
		Mirror:    o.Mirror != uuid.Nil,
	}
	if s.OpID != uuid.Nil && s.OpID == o.ID {
		r.Editing = true
		r.Hover = s.Hover
	}
	return r
}
