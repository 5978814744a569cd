// Package kms exposes the kernel mode-setting objects of a DRM device:
// connectors, CRTCs, planes, properties, framebuffers and atomic commits.
package kms

import (
	"fmt"

	"github.com/bnema/dreampipe/internal/fourcc"
)

// Object handles. All KMS objects share one 32-bit id space per device.
type (
	ConnectorHandle   uint32
	CrtcHandle        uint32
	PlaneHandle       uint32
	FramebufferHandle uint32
	PropertyHandle    uint32
	BlobHandle        uint32
)

// ObjectType tags an object id for property queries
type ObjectType uint32

const (
	ObjectCrtc      ObjectType = 0xcccccccc
	ObjectConnector ObjectType = 0xc0c0c0c0
	ObjectPlane     ObjectType = 0xeeeeeeee
)

// Capability is a DRM client capability
type Capability uint64

const (
	CapStereo3D        Capability = 1
	CapUniversalPlanes Capability = 2
	CapAtomic          Capability = 3
)

func (c Capability) String() string {
	switch c {
	case CapStereo3D:
		return "Stereo3D"
	case CapUniversalPlanes:
		return "UniversalPlanes"
	case CapAtomic:
		return "Atomic"
	default:
		return fmt.Sprintf("Capability(%d)", uint64(c))
	}
}

// CommitFlags are the flags of an atomic commit
type CommitFlags uint32

const (
	CommitPageFlipEvent CommitFlags = 0x01
	CommitTestOnly      CommitFlags = 0x0100
	CommitNonBlock      CommitFlags = 0x0200
	CommitAllowModeset  CommitFlags = 0x0400

	// ModesetFlags is used once per output to program mode and planes
	ModesetFlags = CommitAllowModeset | CommitNonBlock | CommitPageFlipEvent
	// FlipFlags is used for every frame after the modeset
	FlipFlags = CommitNonBlock | CommitPageFlipEvent
)

// ConnectorState is the connection status reported by the kernel
type ConnectorState uint8

const (
	Connected         ConnectorState = 1
	Disconnected      ConnectorState = 2
	UnknownConnection ConnectorState = 3
)

func (s ConnectorState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PlaneType is the value of a plane's "type" property
type PlaneType uint64

const (
	PlaneOverlay PlaneType = 0
	PlanePrimary PlaneType = 1
	PlaneCursor  PlaneType = 2
)

func (t PlaneType) String() string {
	switch t {
	case PlaneOverlay:
		return "overlay"
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	default:
		return fmt.Sprintf("PlaneType(%d)", uint64(t))
	}
}

// Mode is a display timing, laid out like struct drm_mode_modeinfo
type Mode struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16
	Vrefresh                                      uint32
	Flags                                         uint32
	Type                                          uint32
	Name                                          string
}

// Size returns the active resolution of the mode
func (m Mode) Size() (width, height uint32) {
	return uint32(m.Hdisplay), uint32(m.Vdisplay)
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Hdisplay, m.Vdisplay, m.Vrefresh)
}

// Resources lists the connectors and CRTCs of a device. The position of a
// CRTC in Crtcs is its index for possible-CRTC bitmasks.
type Resources struct {
	Connectors []ConnectorHandle
	Crtcs      []CrtcHandle
}

// CrtcIndex returns the index of crtc in the resources, or -1
func (r *Resources) CrtcIndex(crtc CrtcHandle) int {
	for i, c := range r.Crtcs {
		if c == crtc {
			return i
		}
	}
	return -1
}

// ConnectorInfo describes a connector
type ConnectorInfo struct {
	Handle      ConnectorHandle
	Interface   string // e.g. "HDMI-A", "DP", "eDP"
	InterfaceID uint32
	State       ConnectorState
	Modes       []Mode
}

// PlaneInfo describes a plane
type PlaneInfo struct {
	Handle        PlaneHandle
	PossibleCrtcs uint32
	Formats       []fourcc.Format
}

// PropertyInfo names a property
type PropertyInfo struct {
	Handle PropertyHandle
	Name   string
}

// FramebufferSpec describes a buffer object to wrap in a framebuffer
type FramebufferSpec struct {
	Width    uint32
	Height   uint32
	Format   fourcc.Format
	Modifier uint64
	Handles  [4]uint32
	Pitches  [4]uint32
	Offsets  [4]uint32
	Planes   int
}

// EventKind classifies device events
type EventKind int

const (
	EventUnknown EventKind = iota
	EventVBlank
	EventPageFlip
)

func (k EventKind) String() string {
	switch k {
	case EventVBlank:
		return "vblank"
	case EventPageFlip:
		return "page-flip"
	default:
		return "unknown"
	}
}

// Event is one entry of the device event stream
type Event struct {
	Kind     EventKind
	Crtc     CrtcHandle
	Sequence uint32
}
