// Package output resolves connected displays into outputs: a connector, a
// CRTC driving it and the hardware planes with their swapchains.
package output

import (
	"errors"
	"fmt"

	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/logger"
	"github.com/bnema/dreampipe/internal/swapchain"
)

var (
	ErrNoQualifiedConnectors    = errors.New("output: no connected connector with modes")
	ErrNoCompatiblePrimaryPlane = errors.New("output: no compatible primary plane")
)

// Identity names an output across discovery passes, e.g. "card0-HDMI-A-1"
type Identity string

// IdentityOf returns the identity of a connector on card
func IdentityOf(card int, conn *kms.ConnectorInfo) Identity {
	return Identity(kms.IdentityOf(card, conn))
}

// Output is one driven display
type Output struct {
	ID        Identity
	Card      int
	Connector kms.ConnectorHandle
	Crtc      kms.CrtcHandle
	Mode      kms.Mode

	ConnectorProps kms.PropertyMap
	CrtcProps      kms.PropertyMap

	Primary  *swapchain.Chain
	Cursor   *swapchain.Chain // nil when the CRTC has no cursor plane
	Overlays []*swapchain.Chain

	modeBlob kms.BlobHandle // 0 until a modeset request is built
	x, y     int32
}

// Size is the active resolution
func (o *Output) Size() (width, height uint32) {
	return o.Mode.Size()
}

// Position is the output's top-left corner in the global layout
func (o *Output) Position() (x, y int32) {
	return o.x, o.y
}

func (o *Output) SetPosition(x, y int32) {
	o.x, o.y = x, y
}

// Chains returns primary, cursor and overlay chains in that order
func (o *Output) Chains() []*swapchain.Chain {
	chains := []*swapchain.Chain{o.Primary}
	if o.Cursor != nil {
		chains = append(chains, o.Cursor)
	}
	return append(chains, o.Overlays...)
}

// MoveCursor places the cursor plane at x, y within the output
func (o *Output) MoveCursor(x, y int32) {
	if o.Cursor != nil {
		o.Cursor.MoveTo(x, y)
	}
}

// Advance rotates the primary swapchain after a completed page flip
func (o *Output) Advance() {
	o.Primary.Buffers.Advance()
}

// ModesetRequest builds the request that lights up the output: connector
// routed to the CRTC, mode blob, CRTC active and every plane fully placed.
// The mode blob is owned by the output and released by Destroy.
func (o *Output) ModesetRequest(dev kms.Device) (*kms.AtomicRequest, error) {
	req := kms.NewAtomicRequest()

	if err := req.AddNamed(uint32(o.Connector), o.ConnectorProps, "CRTC_ID", uint64(o.Crtc)); err != nil {
		return nil, fmt.Errorf("connector %d: %w", o.Connector, err)
	}

	o.releaseModeBlob(dev)
	blob, err := dev.CreateModeBlob(o.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create mode blob for %s: %w", o.Mode, err)
	}
	o.modeBlob = blob

	if err := o.addModeset(req, blob); err != nil {
		o.releaseModeBlob(dev)
		return nil, err
	}
	return req, nil
}

func (o *Output) addModeset(req *kms.AtomicRequest, blob kms.BlobHandle) error {
	if err := req.AddNamed(uint32(o.Crtc), o.CrtcProps, "MODE_ID", uint64(blob)); err != nil {
		return fmt.Errorf("crtc %d: %w", o.Crtc, err)
	}
	if err := req.AddNamed(uint32(o.Crtc), o.CrtcProps, "ACTIVE", 1); err != nil {
		return fmt.Errorf("crtc %d: %w", o.Crtc, err)
	}
	for _, c := range o.Chains() {
		if err := c.ModesetProperties(req, o.Crtc); err != nil {
			return err
		}
	}
	return nil
}

func (o *Output) releaseModeBlob(dev kms.Device) {
	if o.modeBlob == 0 {
		return
	}
	if err := dev.DestroyModeBlob(o.modeBlob); err != nil {
		logger.Warn("Failed to destroy mode blob", "output", o.ID, "blob", o.modeBlob, "error", err)
	}
	o.modeBlob = 0
}

// FlipRequest builds the request presenting the primary draw buffer, plus
// the rectangle of any plane that moved
func (o *Output) FlipRequest() (*kms.AtomicRequest, error) {
	req := kms.NewAtomicRequest()
	if err := o.Primary.FlipProperties(req); err != nil {
		return nil, err
	}
	for _, c := range o.Chains()[1:] {
		if !c.Dirty() {
			continue
		}
		if err := c.FlipProperties(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// MarkCommitted records that the last built request was accepted
func (o *Output) MarkCommitted() {
	for _, c := range o.Chains() {
		c.MarkCommitted()
	}
}

// Framebuffers lists the framebuffers of every chain
func (o *Output) Framebuffers() []kms.FramebufferHandle {
	var fbs []kms.FramebufferHandle
	for _, c := range o.Chains() {
		fbs = append(fbs, c.Buffers.Framebuffers()...)
	}
	return fbs
}

// Destroy releases every chain and the mode blob. Release failures are
// logged.
func (o *Output) Destroy(dev kms.Device) {
	for _, c := range o.Chains() {
		c.Destroy(dev)
	}
	o.releaseModeBlob(dev)
	logger.Debug("Released output", "output", o.ID, "crtc", o.Crtc)
}
