package present

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/logger"
	"github.com/bnema/dreampipe/internal/output"
)

// Compositor services the pipelines of several devices in turn. Devices
// are held in a registry that only grows; pipelines refer to them by index.
type Compositor struct {
	devices   []kms.Device
	pipelines []*Pipeline
	stopped   []bool
	hints     Layout
}

// NewCompositor returns an empty compositor
func NewCompositor() *Compositor {
	return &Compositor{}
}

// AddDevice registers dev and creates its pipeline. It returns the device's
// registry index.
func (c *Compositor) AddDevice(dev kms.Device, deps output.Deps) int {
	c.devices = append(c.devices, dev)
	p := NewPipeline(dev, deps)
	p.SetLayout(c.hints)
	c.pipelines = append(c.pipelines, p)
	c.stopped = append(c.stopped, false)
	return len(c.devices) - 1
}

// Device returns a registered device by index
func (c *Compositor) Device(index int) kms.Device {
	return c.devices[index]
}

// Pipeline returns the pipeline of a registered device
func (c *Compositor) Pipeline(index int) *Pipeline {
	return c.pipelines[index]
}

// Len returns the number of registered devices
func (c *Compositor) Len() int {
	return len(c.devices)
}

// SetLayout sets the position hints of every pipeline and re-arranges
func (c *Compositor) SetLayout(hints Layout) {
	c.hints = hints
	for _, p := range c.pipelines {
		p.SetLayout(hints)
		p.Arrange()
	}
}

// Tick services each running pipeline once: refused flips from the last
// tick are retried, then events are dispatched. A pipeline whose events can
// no longer be read is stopped and its outputs released.
func (c *Compositor) Tick() {
	for i, p := range c.pipelines {
		if c.stopped[i] {
			continue
		}
		p.RetryFlips()
		if err := p.Tick(); err != nil {
			logger.Error("Stopping device", "card", p.dev.Index(), "error", err)
			p.Close()
			c.stopped[i] = true
		}
	}
}

// Rescan looks for new outputs on every running device
func (c *Compositor) Rescan() int {
	added := 0
	for i, p := range c.pipelines {
		if c.stopped[i] {
			continue
		}
		n, err := p.Rescan()
		if err != nil {
			logger.Warn("Rescan failed", "card", p.dev.Index(), "error", err)
			continue
		}
		added += n
	}
	return added
}

// Running reports whether any device is still serviced
func (c *Compositor) Running() bool {
	for _, s := range c.stopped {
		if !s {
			return true
		}
	}
	return false
}

// Stats snapshots every pipeline
func (c *Compositor) Stats() Stats {
	s := Stats{Devices: len(c.devices)}
	for _, p := range c.pipelines {
		s.Frames += p.Frames()
		s.Outputs = append(s.Outputs, p.Stats()...)
	}
	return s
}

// Close releases every output and closes every device
func (c *Compositor) Close() error {
	var errs error
	for i, p := range c.pipelines {
		p.Close()
		if err := c.devices[i].Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close card%d: %w", c.devices[i].Index(), err))
		}
	}
	return errs
}
