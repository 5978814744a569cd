// Package swapchain cycles three scanout buffers per hardware plane.
package swapchain

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/multierr"

	"github.com/bnema/dreampipe/internal/fourcc"
	"github.com/bnema/dreampipe/internal/gbm"
	"github.com/bnema/dreampipe/internal/gpu"
	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/logger"
)

// Slots is the number of buffers in a swapchain
const Slots = 3

// Format is the pixel format of every scanout buffer
var Format = fourcc.XRGB8888

// ErrAddFramebuffer is returned when a buffer cannot be registered as a
// framebuffer
var ErrAddFramebuffer = errors.New("swapchain: failed to add framebuffer")

// Role is the plane role a chain is allocated for
type Role int

const (
	RolePrimary Role = iota
	RoleCursor
	RoleOverlay
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleCursor:
		return "cursor"
	case RoleOverlay:
		return "overlay"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// PlaneType returns the value of the plane "type" property matching r
func (r Role) PlaneType() kms.PlaneType {
	switch r {
	case RoleCursor:
		return kms.PlaneCursor
	case RoleOverlay:
		return kms.PlaneOverlay
	default:
		return kms.PlanePrimary
	}
}

func (r Role) usage() gbm.Usage {
	if r == RoleCursor {
		return gbm.UsageCursor | gbm.UsageRendering
	}
	return gbm.UsageScanout | gbm.UsageRendering
}

// Slot is one buffer of a swapchain with its framebuffer and, when a bridge
// was given, its imported texture
type Slot struct {
	Buffer      gbm.BufferObject
	Framebuffer kms.FramebufferHandle
	Texture     *gpu.ImportedTexture
}

// TripleBuffer owns three buffers and tracks which one is being scanned out
// and which one is being drawn.
type TripleBuffer struct {
	ID    uint64
	Role  Role
	slots [Slots]Slot

	draw int
	scan int

	bridge    *gpu.Bridge
	destroyed bool
}

// NewTripleBuffer allocates three buffers of width x height, one framebuffer
// per buffer and, if bridge is not nil, one imported texture per buffer.
// Allocation is all-or-nothing.
func NewTripleBuffer(dev kms.Device, alloc gbm.Allocator, bridge *gpu.Bridge, role Role, width, height uint32) (*TripleBuffer, error) {
	tb := &TripleBuffer{
		ID:     rand.Uint64(),
		Role:   role,
		bridge: bridge,
	}

	for i := range tb.slots {
		bo, err := alloc.CreateBufferObject(width, height, Format, role.usage())
		if err != nil {
			return nil, tb.abort(dev, err)
		}
		tb.slots[i].Buffer = bo
	}

	for i := range tb.slots {
		fb, err := dev.AddFramebuffer(gbm.FramebufferSpec(tb.slots[i].Buffer))
		if err != nil {
			return nil, tb.abort(dev, fmt.Errorf("%w: slot %d: %w", ErrAddFramebuffer, i, err))
		}
		tb.slots[i].Framebuffer = fb
	}

	if bridge != nil {
		for i := range tb.slots {
			tex, err := bridge.Import(tb.slots[i].Buffer, tb.Label(i))
			if err != nil {
				return nil, tb.abort(dev, err)
			}
			tb.slots[i].Texture = tex
		}
	}

	logger.Debug("Allocated swapchain", "id", tb.ID, "role", role, "width", width, "height", height,
		"fbs", tb.Framebuffers())
	return tb, nil
}

// abort releases what a failed allocation created and returns err combined
// with any framebuffer release failure
func (tb *TripleBuffer) abort(dev kms.Device, err error) error {
	return multierr.Append(err, tb.release(dev))
}

// Label is the debug label of the texture in slot
func (tb *TripleBuffer) Label(slot int) string {
	return fmt.Sprintf("DMA-BUF Texture %d-%d", tb.ID, slot)
}

// Advance promotes the draw buffer to scanout and moves drawing to the next
// slot. Call it only after the page flip that displayed the previous draw
// buffer has completed.
func (tb *TripleBuffer) Advance() {
	tb.scan = tb.draw
	tb.draw = (tb.draw + 1) % Slots
}

// Indices returns the draw and scan slots
func (tb *TripleBuffer) Indices() (draw, scan int) {
	return tb.draw, tb.scan
}

func (tb *TripleBuffer) Slot(i int) Slot {
	return tb.slots[i]
}

func (tb *TripleBuffer) DrawFramebuffer() kms.FramebufferHandle {
	return tb.slots[tb.draw].Framebuffer
}

func (tb *TripleBuffer) ScanFramebuffer() kms.FramebufferHandle {
	return tb.slots[tb.scan].Framebuffer
}

// DrawTexture returns the render target of the draw slot, nil without a bridge
func (tb *TripleBuffer) DrawTexture() *gpu.Texture {
	if t := tb.slots[tb.draw].Texture; t != nil {
		return t.Texture
	}
	return nil
}

// Framebuffers lists the framebuffer of every slot
func (tb *TripleBuffer) Framebuffers() []kms.FramebufferHandle {
	fbs := make([]kms.FramebufferHandle, 0, Slots)
	for _, s := range tb.slots {
		if s.Framebuffer != 0 {
			fbs = append(fbs, s.Framebuffer)
		}
	}
	return fbs
}

// Destroy releases every framebuffer, texture and buffer. Framebuffer
// release failures are logged. Destroying twice is a no-op.
func (tb *TripleBuffer) Destroy(dev kms.Device) {
	if err := tb.release(dev); err != nil {
		logger.Warn("Failed to release swapchain framebuffers", "id", tb.ID, "error", err)
	}
}

func (tb *TripleBuffer) release(dev kms.Device) error {
	if tb.destroyed {
		return nil
	}
	tb.destroyed = true

	var errs error
	for i := range tb.slots {
		if fb := tb.slots[i].Framebuffer; fb != 0 {
			if err := dev.DestroyFramebuffer(fb); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("framebuffer %d: %w", fb, err))
			}
			tb.slots[i].Framebuffer = 0
		}
	}
	for i := range tb.slots {
		if tex := tb.slots[i].Texture; tex != nil {
			tb.bridge.Release(tex)
			tb.slots[i].Texture = nil
		}
	}
	for i := range tb.slots {
		if bo := tb.slots[i].Buffer; bo != nil {
			bo.Destroy()
			tb.slots[i].Buffer = nil
		}
	}
	return errs
}
