package present

import (
	"github.com/bnema/dreampipe/internal/output"
)

// OutputStats is a snapshot of one live output
type OutputStats struct {
	ID      output.Identity `json:"id"`
	Card    int             `json:"card"`
	Crtc    uint32          `json:"crtc"`
	Mode    string          `json:"mode"`
	X       int32           `json:"x"`
	Y       int32           `json:"y"`
	State   State           `json:"state"`
	Flips   uint64          `json:"flips"`
	Dropped uint64          `json:"dropped"`
	Cursor  bool            `json:"cursor"`
	Planes  int             `json:"planes"`
}

// Stats is a snapshot of a compositor, safe to hand to another goroutine
type Stats struct {
	Devices int           `json:"devices"`
	Frames  uint64        `json:"frames"`
	Outputs []OutputStats `json:"outputs"`
}

// Stats snapshots the live outputs of the pipeline
func (p *Pipeline) Stats() []OutputStats {
	stats := make([]OutputStats, 0, len(p.live))
	for _, e := range p.live {
		x, y := e.out.Position()
		stats = append(stats, OutputStats{
			ID:      e.out.ID,
			Card:    e.out.Card,
			Crtc:    uint32(e.out.Crtc),
			Mode:    e.out.Mode.String(),
			X:       x,
			Y:       y,
			State:   e.state,
			Flips:   e.flips,
			Dropped: e.dropped,
			Cursor:  e.out.Cursor != nil,
			Planes:  len(e.out.Chains()),
		})
	}
	return stats
}

// Frames is the number of page flips handled
func (p *Pipeline) Frames() uint64 {
	return p.frames
}
