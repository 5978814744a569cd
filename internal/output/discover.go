package output

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/bnema/dreampipe/internal/gbm"
	"github.com/bnema/dreampipe/internal/gpu"
	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/logger"
	"github.com/bnema/dreampipe/internal/swapchain"
)

// DefaultCursorSize is the edge length of cursor buffers
const DefaultCursorSize = 128

// Deps are the allocators shared by every output of a device
type Deps struct {
	Allocator gbm.Allocator
	// Bridge imports buffers into the renderer; nil skips texture import
	Bridge     *gpu.Bridge
	CursorSize uint32
	// Overlays is the maximum number of overlay planes claimed per output
	Overlays int
	// Live outputs keep their CRTCs and planes; discovery never hands
	// them out again
	Live []*Output
}

// Discovery is the result of one discovery pass
type Discovery struct {
	Outputs []*Output
	// Failures combines the errors of outputs that could not be built
	Failures error
}

// Connector summarises a connector for listing
type Connector struct {
	ID        Identity
	Handle    kms.ConnectorHandle
	State     kms.ConnectorState
	Modes     []kms.Mode
	Qualified bool
}

// Probe lists the connectors of dev without claiming or allocating anything
func Probe(dev kms.Device) ([]Connector, error) {
	res, err := dev.ResourceHandles()
	if err != nil {
		return nil, fmt.Errorf("failed to get resources of card%d: %w", dev.Index(), err)
	}
	var out []Connector
	for _, h := range res.Connectors {
		info, err := dev.GetConnector(h, false)
		if err != nil {
			logger.Debug("Skipping connector", "card", dev.Index(), "connector", h, "error", err)
			continue
		}
		out = append(out, Connector{
			ID:        IdentityOf(dev.Index(), info),
			Handle:    h,
			State:     info.State,
			Modes:     info.Modes,
			Qualified: qualified(info),
		})
	}
	return out, nil
}

func qualified(info *kms.ConnectorInfo) bool {
	return info.State == kms.Connected && len(info.Modes) > 0
}

// Discover builds an output for every connected connector of dev that has
// a mode, a free CRTC and a primary plane, skipping identities in ignore.
// Remaining connectors are paired with free CRTCs in enumeration order.
// Errors affecting the whole device are returned; errors of a single output
// are collected in Discovery.Failures.
func Discover(dev kms.Device, deps Deps, ignore map[Identity]bool) (*Discovery, error) {
	log := logger.With("card", dev.Index())

	for _, capability := range []kms.Capability{kms.CapUniversalPlanes, kms.CapAtomic} {
		if err := dev.SetClientCapability(capability, true); err != nil {
			return nil, err
		}
	}

	res, err := dev.ResourceHandles()
	if err != nil {
		return nil, fmt.Errorf("failed to get resources of card%d: %w", dev.Index(), err)
	}

	var connected []*kms.ConnectorInfo
	for _, h := range res.Connectors {
		info, err := dev.GetConnector(h, true)
		if err != nil {
			log.Debug("Skipping connector", "connector", h, "error", err)
			continue
		}
		if qualified(info) {
			connected = append(connected, info)
		}
	}
	if len(connected) == 0 {
		return nil, ErrNoQualifiedConnectors
	}

	pool, err := NewPlanePool(dev, res)
	if err != nil {
		return nil, err
	}

	busy := make(map[kms.CrtcHandle]bool, len(deps.Live))
	for _, out := range deps.Live {
		busy[out.Crtc] = true
		for _, c := range out.Chains() {
			pool.Exclude(c.Plane)
		}
	}
	var crtcs []kms.CrtcHandle
	for _, crtc := range res.Crtcs {
		if !busy[crtc] {
			crtcs = append(crtcs, crtc)
		}
	}

	var pending []*kms.ConnectorInfo
	for _, conn := range connected {
		if !ignore[IdentityOf(dev.Index(), conn)] {
			pending = append(pending, conn)
		}
	}

	if deps.CursorSize == 0 {
		deps.CursorSize = DefaultCursorSize
	}

	d := &Discovery{}
	n := min(len(crtcs), len(pending))
	for i := 0; i < n; i++ {
		conn, crtc := pending[i], crtcs[i]
		id := IdentityOf(dev.Index(), conn)

		out, err := build(dev, deps, pool, id, conn, crtc)
		if err != nil {
			log.Warn("Failed to set up output", "output", id, "crtc", crtc, "error", err)
			d.Failures = multierr.Append(d.Failures, fmt.Errorf("%s: %w", id, err))
			continue
		}
		log.Info("Found output", "output", id, "crtc", crtc, "mode", out.Mode,
			"primary", out.Primary.Plane, "cursor", out.Cursor != nil, "overlays", len(out.Overlays))
		d.Outputs = append(d.Outputs, out)
	}
	return d, nil
}

// build claims planes for one connector/CRTC pair and allocates its
// chains. On failure claimed planes go back to the pool and nothing stays
// allocated.
func build(dev kms.Device, deps Deps, pool *PlanePool, id Identity, conn *kms.ConnectorInfo, crtc kms.CrtcHandle) (out *Output, err error) {
	mode := conn.Modes[0]
	width, height := mode.Size()

	o := &Output{
		ID:        id,
		Card:      dev.Index(),
		Connector: conn.Handle,
		Crtc:      crtc,
		Mode:      mode,
	}

	var claimed []kms.PlaneHandle
	defer func() {
		if err != nil {
			for _, c := range o.Chains() {
				if c != nil {
					c.Destroy(dev)
				}
			}
			pool.Release(claimed...)
		}
	}()

	primary, ok := pool.Claim(crtc, kms.PlanePrimary)
	if !ok {
		return nil, fmt.Errorf("%w for crtc %d", ErrNoCompatiblePrimaryPlane, crtc)
	}
	claimed = append(claimed, primary)
	cursor, hasCursor := pool.Claim(crtc, kms.PlaneCursor)
	if hasCursor {
		claimed = append(claimed, cursor)
	}
	var overlays []kms.PlaneHandle
	for len(overlays) < deps.Overlays {
		plane, ok := pool.Claim(crtc, kms.PlaneOverlay)
		if !ok {
			break
		}
		claimed = append(claimed, plane)
		overlays = append(overlays, plane)
	}

	if o.ConnectorProps, err = kms.GetPropertyMap(dev, uint32(conn.Handle), kms.ObjectConnector); err != nil {
		return nil, err
	}
	if o.CrtcProps, err = kms.GetPropertyMap(dev, uint32(crtc), kms.ObjectCrtc); err != nil {
		return nil, err
	}
	if err = o.ConnectorProps.Require("CRTC_ID"); err != nil {
		return nil, fmt.Errorf("connector %d: %w", conn.Handle, err)
	}
	if err = o.CrtcProps.Require("MODE_ID", "ACTIVE"); err != nil {
		return nil, fmt.Errorf("crtc %d: %w", crtc, err)
	}

	if o.Primary, err = swapchain.NewChain(dev, deps.Allocator, deps.Bridge, primary, swapchain.RolePrimary, width, height); err != nil {
		return nil, err
	}
	if hasCursor {
		size := deps.CursorSize
		if o.Cursor, err = swapchain.NewChain(dev, deps.Allocator, deps.Bridge, cursor, swapchain.RoleCursor, size, size); err != nil {
			return nil, err
		}
	}
	for _, plane := range overlays {
		chain, err := swapchain.NewChain(dev, deps.Allocator, deps.Bridge, plane, swapchain.RoleOverlay, width, height)
		if err != nil {
			return nil, err
		}
		o.Overlays = append(o.Overlays, chain)
	}
	return o, nil
}
