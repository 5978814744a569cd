// Package present drives outputs through modeset and page flips. A Pipeline
// owns the outputs of one device; a Compositor services several devices.
package present

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/layout"
	"github.com/bnema/dreampipe/internal/logger"
	"github.com/bnema/dreampipe/internal/output"
)

// State is the presentation state of an output
type State int

const (
	StateAcquired State = iota
	StateCommitted
	StateAwaitingFlip
	StateAdvanced
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateAcquired:
		return "acquired"
	case StateCommitted:
		return "committed"
	case StateAwaitingFlip:
		return "awaiting-flip"
	case StateAdvanced:
		return "advanced"
	case StateTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for c := StateAcquired; c <= StateTornDown; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown output state %q", text)
}

// Layout supplies position hints for outputs, e.g. from the configuration
type Layout interface {
	Placement(id string) (x, y int32, ok bool)
}

type entry struct {
	out     *output.Output
	state   State
	flips   uint64
	dropped uint64

	// retry is set when the last flip commit was refused; no event will
	// arrive for the CRTC until a later commit goes through
	retry bool
}

// Pipeline presents the outputs of one device. It is not safe for
// concurrent use.
type Pipeline struct {
	dev    kms.Device
	deps   output.Deps
	hints  Layout
	live   []*entry
	frames uint64
	log    *log.Logger
}

// NewPipeline returns a pipeline with no outputs; call Rescan to find them
func NewPipeline(dev kms.Device, deps output.Deps) *Pipeline {
	return &Pipeline{
		dev:  dev,
		deps: deps,
		log:  logger.With("card", dev.Index()),
	}
}

// Device returns the device the pipeline drives
func (p *Pipeline) Device() kms.Device {
	return p.dev
}

// SetLayout sets the source of position hints used by the next arrangement
func (p *Pipeline) SetLayout(hints Layout) {
	p.hints = hints
}

// Acquire commits the initial modeset of out and adds it to the live set.
// On failure out is released and not added.
func (p *Pipeline) Acquire(out *output.Output) error {
	e := &entry{out: out, state: StateAcquired}

	req, err := out.ModesetRequest(p.dev)
	if err == nil {
		err = req.Commit(p.dev, kms.ModesetFlags)
	}
	if err != nil {
		out.Destroy(p.dev)
		return fmt.Errorf("modeset of %s: %w", out.ID, err)
	}
	out.MarkCommitted()

	// The modeset requested a page-flip event; nothing advances before it
	e.state = StateCommitted
	p.live = append(p.live, e)
	p.log.Info("Output acquired", "output", out.ID, "crtc", out.Crtc, "mode", out.Mode)
	return nil
}

// Tick drains the device's events and flips every output whose previous
// flip completed. It never blocks. A non-nil error means the device can no
// longer be read.
func (p *Pipeline) Tick() error {
	events, err := p.dev.ReceiveEvents()
	if errors.Is(err, kms.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read events from card%d: %w", p.dev.Index(), err)
	}

	for _, ev := range events {
		switch ev.Kind {
		case kms.EventPageFlip:
			p.pageFlip(ev.Crtc)
		default:
			p.log.Debug("Ignoring event", "kind", ev.Kind, "crtc", ev.Crtc, "sequence", ev.Sequence)
		}
	}
	return nil
}

func (p *Pipeline) pageFlip(crtc kms.CrtcHandle) {
	var gone []*entry
	for _, e := range p.live {
		if e.out.Crtc != crtc {
			continue
		}
		e.out.Advance()
		e.state = StateAdvanced
		p.frames++

		if !p.present(e) {
			gone = append(gone, e)
		}
	}
	for _, e := range gone {
		p.teardown(e)
	}
}

// RetryFlips commits a fresh flip request for every output whose last flip
// was refused, since no page-flip event will come for its CRTC. The
// swapchain is not advanced: the draw buffer never reached the screen. It
// returns the number of outputs retried.
func (p *Pipeline) RetryFlips() int {
	var retried, gone []*entry
	for _, e := range p.live {
		if e.retry {
			retried = append(retried, e)
		}
	}
	for _, e := range retried {
		if !p.present(e) {
			gone = append(gone, e)
		}
	}
	for _, e := range gone {
		p.teardown(e)
	}
	return len(retried)
}

// present commits the draw buffer of e. A refused commit drops the frame
// and marks e for a retry; it returns false when the connector is gone and
// e must be torn down.
func (p *Pipeline) present(e *entry) bool {
	if err := p.flip(e); err != nil {
		e.dropped++
		if p.disconnected(e.out) {
			p.log.Warn("Output disconnected", "output", e.out.ID, "error", err)
			return false
		}
		if e.retry {
			p.log.Debug("Page flip retry failed", "output", e.out.ID, "crtc", e.out.Crtc, "error", err)
		} else {
			p.log.Error("Page flip failed", "output", e.out.ID, "crtc", e.out.Crtc, "error", err)
		}
		e.retry = true
		return true
	}
	e.retry = false
	e.flips++
	e.state = StateAwaitingFlip
	return true
}

func (p *Pipeline) flip(e *entry) error {
	req, err := e.out.FlipRequest()
	if err != nil {
		return err
	}
	if err := req.Commit(p.dev, kms.FlipFlags); err != nil {
		return err
	}
	e.out.MarkCommitted()
	return nil
}

func (p *Pipeline) disconnected(out *output.Output) bool {
	info, err := p.dev.GetConnector(out.Connector, true)
	if err != nil {
		// Keep the output; a later flip will ask again
		p.log.Warn("Failed to query connector", "output", out.ID, "error", err)
		return false
	}
	return info.State != kms.Connected
}

// teardown releases an output and drops it from the live set
func (p *Pipeline) teardown(e *entry) {
	e.out.Destroy(p.dev)
	e.state = StateTornDown
	for i, l := range p.live {
		if l == e {
			p.live = append(p.live[:i], p.live[i+1:]...)
			break
		}
	}
	p.log.Info("Output torn down", "output", e.out.ID)
}

// Rescan discovers outputs connected since the last pass, acquires them and
// re-arranges the layout. It returns the number of outputs added.
func (p *Pipeline) Rescan() (int, error) {
	ignore := make(map[output.Identity]bool, len(p.live))
	for _, e := range p.live {
		ignore[e.out.ID] = true
	}

	deps := p.deps
	deps.Live = p.Outputs()
	d, err := output.Discover(p.dev, deps, ignore)
	if errors.Is(err, output.ErrNoQualifiedConnectors) {
		if len(p.live) == 0 {
			p.log.Debug("No connected outputs")
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	added := 0
	for _, out := range d.Outputs {
		if err := p.Acquire(out); err != nil {
			p.log.Error("Failed to acquire output", "output", out.ID, "error", err)
			continue
		}
		added++
	}
	if added > 0 {
		p.Arrange()
	}
	return added, nil
}

// Arrange positions every live output from the layout hints
func (p *Pipeline) Arrange() {
	items := make([]layout.Item, 0, len(p.live))
	for _, e := range p.live {
		w, h := e.out.Size()
		it := layout.Item{ID: string(e.out.ID), Width: w, Height: h}
		if p.hints != nil {
			if x, y, ok := p.hints.Placement(string(e.out.ID)); ok {
				it.HintX, it.HintY = x, y
			}
		}
		items = append(items, it)
	}
	arr := layout.Arrange(items)
	for _, e := range p.live {
		if x, y, ok := arr.Placement(string(e.out.ID)); ok {
			e.out.SetPosition(x, y)
		}
	}
}

// Outputs returns the live outputs in acquisition order
func (p *Pipeline) Outputs() []*output.Output {
	outs := make([]*output.Output, len(p.live))
	for i, e := range p.live {
		outs[i] = e.out
	}
	return outs
}

// State returns the state of a live output
func (p *Pipeline) State(id output.Identity) (State, bool) {
	for _, e := range p.live {
		if e.out.ID == id {
			return e.state, true
		}
	}
	return StateTornDown, false
}

// Close tears down every live output
func (p *Pipeline) Close() {
	for len(p.live) > 0 {
		p.teardown(p.live[0])
	}
}
