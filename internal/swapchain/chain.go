package swapchain

import (
	"fmt"

	"github.com/bnema/dreampipe/internal/gbm"
	"github.com/bnema/dreampipe/internal/gpu"
	"github.com/bnema/dreampipe/internal/kms"
)

// Chain binds a swapchain to the hardware plane that scans it out
type Chain struct {
	Plane   kms.PlaneHandle
	Props   kms.PropertyMap
	Role    Role
	Width   uint32
	Height  uint32
	Buffers *TripleBuffer

	x, y  int32
	dirty bool
}

// PlaneProperties are the plane properties written by modeset and flip
// requests
var PlaneProperties = []string{
	"FB_ID", "CRTC_ID",
	"SRC_X", "SRC_Y", "SRC_W", "SRC_H",
	"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
}

// NewChain resolves the plane's properties and allocates its buffers
func NewChain(dev kms.Device, alloc gbm.Allocator, bridge *gpu.Bridge, plane kms.PlaneHandle, role Role, width, height uint32) (*Chain, error) {
	props, err := kms.GetPropertyMap(dev, uint32(plane), kms.ObjectPlane)
	if err != nil {
		return nil, fmt.Errorf("plane %d: %w", plane, err)
	}
	if err := props.Require(PlaneProperties...); err != nil {
		return nil, fmt.Errorf("plane %d: %w", plane, err)
	}
	buffers, err := NewTripleBuffer(dev, alloc, bridge, role, width, height)
	if err != nil {
		return nil, fmt.Errorf("%s plane %d: %w", role, plane, err)
	}
	return &Chain{
		Plane:   plane,
		Props:   props,
		Role:    role,
		Width:   width,
		Height:  height,
		Buffers: buffers,
	}, nil
}

// Position is the top-left corner of the plane within its CRTC
func (c *Chain) Position() (x, y int32) {
	return c.x, c.y
}

// MoveTo places the plane at x, y on the next flip
func (c *Chain) MoveTo(x, y int32) {
	if x == c.x && y == c.y {
		return
	}
	c.x, c.y = x, y
	c.dirty = true
}

// Dirty reports whether the plane rectangle changed since the last commit
func (c *Chain) Dirty() bool {
	return c.dirty
}

// MarkCommitted clears the dirty rectangle once a commit carrying it has
// been accepted
func (c *Chain) MarkCommitted() {
	c.dirty = false
}

// ModesetProperties queues the full plane state: slot 0 framebuffer, CRTC
// binding, source and destination rectangles.
func (c *Chain) ModesetProperties(req *kms.AtomicRequest, crtc kms.CrtcHandle) error {
	obj := uint32(c.Plane)
	writes := []struct {
		name  string
		value uint64
	}{
		{"FB_ID", uint64(c.Buffers.Slot(0).Framebuffer)},
		{"CRTC_ID", uint64(crtc)},
		{"SRC_X", 0},
		{"SRC_Y", 0},
		{"SRC_W", uint64(c.Width) << 16},
		{"SRC_H", uint64(c.Height) << 16},
	}
	for _, w := range writes {
		if err := req.AddNamed(obj, c.Props, w.name, w.value); err != nil {
			return fmt.Errorf("plane %d: %w", c.Plane, err)
		}
	}
	return c.rectProperties(req)
}

// FlipProperties queues the draw framebuffer and, if the plane moved, its
// new rectangle
func (c *Chain) FlipProperties(req *kms.AtomicRequest) error {
	if err := req.AddNamed(uint32(c.Plane), c.Props, "FB_ID", uint64(c.Buffers.DrawFramebuffer())); err != nil {
		return fmt.Errorf("plane %d: %w", c.Plane, err)
	}
	if !c.dirty {
		return nil
	}
	return c.rectProperties(req)
}

func (c *Chain) rectProperties(req *kms.AtomicRequest) error {
	obj := uint32(c.Plane)
	writes := []struct {
		name  string
		value uint64
	}{
		// CRTC_X/Y are signed ranges, passed as two's complement
		{"CRTC_X", uint64(int64(c.x))},
		{"CRTC_Y", uint64(int64(c.y))},
		{"CRTC_W", uint64(c.Width)},
		{"CRTC_H", uint64(c.Height)},
	}
	for _, w := range writes {
		if err := req.AddNamed(obj, c.Props, w.name, w.value); err != nil {
			return fmt.Errorf("plane %d: %w", c.Plane, err)
		}
	}
	return nil
}

// Destroy releases the chain's buffers
func (c *Chain) Destroy(dev kms.Device) {
	c.Buffers.Destroy(dev)
}
