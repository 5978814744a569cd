// Package kmstest provides an in-memory kms.Device that records every call,
// for tests of the presentation pipeline.
package kmstest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bnema/dreampipe/internal/kms"
)

// ErrUnknownObject is returned for handles the fake does not know about
var ErrUnknownObject = errors.New("kmstest: no such object")

// Standard property sets created for each object kind
var (
	connectorProps = []string{"CRTC_ID", "DPMS", "EDID"}
	crtcProps      = []string{"MODE_ID", "ACTIVE", "VRR_ENABLED"}
	planeProps     = []string{"type", "FB_ID", "CRTC_ID", "SRC_X", "SRC_Y", "SRC_W", "SRC_H",
		"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H", "IN_FORMATS"}
)

// Commit is a recorded atomic commit
type Commit struct {
	Flags kms.CommitFlags
	Props []kms.AtomicProperty
}

// Value returns the value written to object/prop in the commit
func (c Commit) Value(object uint32, prop kms.PropertyHandle) (uint64, bool) {
	for _, p := range c.Props {
		if p.Object == object && p.Property == prop {
			return p.Value, true
		}
	}
	return 0, false
}

// Device is a fake kms.Device. The zero value is not usable; call New.
type Device struct {
	Card int

	connectors     map[kms.ConnectorHandle]*kms.ConnectorInfo
	connectorOrder []kms.ConnectorHandle
	crtcs          []kms.CrtcHandle
	planes         map[kms.PlaneHandle]*kms.PlaneInfo
	values         map[uint32]map[kms.PropertyHandle]uint64
	propNames      map[kms.PropertyHandle]string
	propHandles    map[string]kms.PropertyHandle
	liveFBs        map[kms.FramebufferHandle]bool
	liveBlobs      map[kms.BlobHandle]bool
	nextID         uint32

	// Recorded calls
	Capabilities   map[kms.Capability]bool
	Commits        []Commit
	AddedFBs       []kms.FramebufferHandle
	DestroyedFBs   []kms.FramebufferHandle
	Blobs          []kms.Mode
	DestroyedBlobs []kms.BlobHandle
	Closed         bool

	// Pending event batches; each ReceiveEvents call pops one batch
	events [][]kms.Event

	// Failure injection
	FailCapability error
	FailAddFB      func(spec kms.FramebufferSpec) error
	FailCommit     func(flags kms.CommitFlags, props []kms.AtomicProperty) error
	FailEvents     error
	FailConnector  error
}

// New returns an empty fake card
func New(card int) *Device {
	return &Device{
		Card:         card,
		connectors:   make(map[kms.ConnectorHandle]*kms.ConnectorInfo),
		planes:       make(map[kms.PlaneHandle]*kms.PlaneInfo),
		values:       make(map[uint32]map[kms.PropertyHandle]uint64),
		propNames:    make(map[kms.PropertyHandle]string),
		propHandles:  make(map[string]kms.PropertyHandle),
		liveFBs:      make(map[kms.FramebufferHandle]bool),
		Capabilities: make(map[kms.Capability]bool),
		nextID:       100,
	}
}

func (d *Device) id() uint32 {
	d.nextID++
	return d.nextID
}

func (d *Device) propHandle(name string) kms.PropertyHandle {
	if h, ok := d.propHandles[name]; ok {
		return h
	}
	h := kms.PropertyHandle(d.id())
	d.propHandles[name] = h
	d.propNames[h] = name
	return h
}

func (d *Device) attach(object uint32, names []string) {
	vals := make(map[kms.PropertyHandle]uint64, len(names))
	for _, name := range names {
		vals[d.propHandle(name)] = 0
	}
	d.values[object] = vals
}

// Prop returns the handle of a property name, allocating it if needed
func (d *Device) Prop(name string) kms.PropertyHandle {
	return d.propHandle(name)
}

// Mode returns a simple mode of the given size
func Mode(width, height uint16) kms.Mode {
	return kms.Mode{
		Hdisplay: width,
		Vdisplay: height,
		Vrefresh: 60,
		Name:     fmt.Sprintf("%dx%d", width, height),
	}
}

// AddConnector adds a connector with the given interface name and id
func (d *Device) AddConnector(iface string, ifaceID uint32, state kms.ConnectorState, modes ...kms.Mode) kms.ConnectorHandle {
	h := kms.ConnectorHandle(d.id())
	d.connectors[h] = &kms.ConnectorInfo{
		Handle:      h,
		Interface:   iface,
		InterfaceID: ifaceID,
		State:       state,
		Modes:       modes,
	}
	d.connectorOrder = append(d.connectorOrder, h)
	d.attach(uint32(h), connectorProps)
	return h
}

// SetConnectorState changes what the next GetConnector reports
func (d *Device) SetConnectorState(h kms.ConnectorHandle, state kms.ConnectorState) {
	if c, ok := d.connectors[h]; ok {
		c.State = state
	}
}

// AddCrtc adds a CRTC
func (d *Device) AddCrtc() kms.CrtcHandle {
	h := kms.CrtcHandle(d.id())
	d.crtcs = append(d.crtcs, h)
	d.attach(uint32(h), crtcProps)
	return h
}

// AddPlane adds a plane of the given type usable by the CRTCs in mask
func (d *Device) AddPlane(typ kms.PlaneType, possibleCrtcs uint32) kms.PlaneHandle {
	h := kms.PlaneHandle(d.id())
	d.planes[h] = &kms.PlaneInfo{Handle: h, PossibleCrtcs: possibleCrtcs}
	d.attach(uint32(h), planeProps)
	d.values[uint32(h)][d.propHandle("type")] = uint64(typ)
	return h
}

// QueueEvents appends one batch of events to the stream
func (d *Device) QueueEvents(events ...kms.Event) {
	d.events = append(d.events, events)
}

// QueuePageFlip queues a single page-flip event for crtc
func (d *Device) QueuePageFlip(crtc kms.CrtcHandle) {
	d.QueueEvents(kms.Event{Kind: kms.EventPageFlip, Crtc: crtc})
}

// LiveFramebuffers returns the framebuffers added and not yet destroyed
func (d *Device) LiveFramebuffers() []kms.FramebufferHandle {
	var out []kms.FramebufferHandle
	for fb, live := range d.liveFBs {
		if live {
			out = append(out, fb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LastCommit returns the most recent commit
func (d *Device) LastCommit() (Commit, bool) {
	if len(d.Commits) == 0 {
		return Commit{}, false
	}
	return d.Commits[len(d.Commits)-1], true
}

func (d *Device) Index() int {
	return d.Card
}

func (d *Device) SetClientCapability(capability kms.Capability, enable bool) error {
	if d.FailCapability != nil {
		return fmt.Errorf("%w: %s: %w", kms.ErrClientCapability, capability, d.FailCapability)
	}
	d.Capabilities[capability] = enable
	return nil
}

func (d *Device) ResourceHandles() (*kms.Resources, error) {
	res := &kms.Resources{}
	res.Connectors = append(res.Connectors, d.connectorOrder...)
	res.Crtcs = append(res.Crtcs, d.crtcs...)
	return res, nil
}

func (d *Device) PlaneHandles() ([]kms.PlaneHandle, error) {
	out := make([]kms.PlaneHandle, 0, len(d.planes))
	for h := range d.planes {
		out = append(out, h)
	}
	// Map order is random; the real kernel list is not sorted either
	return out, nil
}

func (d *Device) GetConnector(handle kms.ConnectorHandle, force bool) (*kms.ConnectorInfo, error) {
	if d.FailConnector != nil {
		return nil, d.FailConnector
	}
	c, ok := d.connectors[handle]
	if !ok {
		return nil, fmt.Errorf("connector %d: %w", handle, ErrUnknownObject)
	}
	info := *c
	info.Modes = append([]kms.Mode(nil), c.Modes...)
	return &info, nil
}

func (d *Device) GetPlane(handle kms.PlaneHandle) (*kms.PlaneInfo, error) {
	p, ok := d.planes[handle]
	if !ok {
		return nil, fmt.Errorf("plane %d: %w", handle, ErrUnknownObject)
	}
	info := *p
	return &info, nil
}

func (d *Device) GetProperties(object uint32, objType kms.ObjectType) (map[kms.PropertyHandle]uint64, error) {
	vals, ok := d.values[object]
	if !ok {
		return nil, fmt.Errorf("object %d: %w", object, ErrUnknownObject)
	}
	out := make(map[kms.PropertyHandle]uint64, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out, nil
}

func (d *Device) GetProperty(handle kms.PropertyHandle) (*kms.PropertyInfo, error) {
	name, ok := d.propNames[handle]
	if !ok {
		return nil, fmt.Errorf("property %d: %w", handle, ErrUnknownObject)
	}
	return &kms.PropertyInfo{Handle: handle, Name: name}, nil
}

func (d *Device) AddFramebuffer(spec kms.FramebufferSpec) (kms.FramebufferHandle, error) {
	if d.FailAddFB != nil {
		if err := d.FailAddFB(spec); err != nil {
			return 0, err
		}
	}
	fb := kms.FramebufferHandle(d.id())
	d.liveFBs[fb] = true
	d.AddedFBs = append(d.AddedFBs, fb)
	return fb, nil
}

func (d *Device) DestroyFramebuffer(fb kms.FramebufferHandle) error {
	if !d.liveFBs[fb] {
		return fmt.Errorf("framebuffer %d: %w", fb, ErrUnknownObject)
	}
	d.liveFBs[fb] = false
	d.DestroyedFBs = append(d.DestroyedFBs, fb)
	return nil
}

func (d *Device) CreateModeBlob(mode kms.Mode) (kms.BlobHandle, error) {
	d.Blobs = append(d.Blobs, mode)
	blob := kms.BlobHandle(d.id())
	if d.liveBlobs == nil {
		d.liveBlobs = make(map[kms.BlobHandle]bool)
	}
	d.liveBlobs[blob] = true
	return blob, nil
}

func (d *Device) DestroyModeBlob(blob kms.BlobHandle) error {
	if !d.liveBlobs[blob] {
		return fmt.Errorf("blob %d: %w", blob, ErrUnknownObject)
	}
	delete(d.liveBlobs, blob)
	d.DestroyedBlobs = append(d.DestroyedBlobs, blob)
	return nil
}

// LiveBlobs is the number of mode blobs created and not destroyed
func (d *Device) LiveBlobs() int {
	return len(d.liveBlobs)
}

func (d *Device) AtomicCommit(flags kms.CommitFlags, props []kms.AtomicProperty) error {
	if d.FailCommit != nil {
		if err := d.FailCommit(flags, props); err != nil {
			return err
		}
	}
	d.Commits = append(d.Commits, Commit{Flags: flags, Props: append([]kms.AtomicProperty(nil), props...)})
	return nil
}

func (d *Device) ReceiveEvents() ([]kms.Event, error) {
	if d.FailEvents != nil {
		return nil, d.FailEvents
	}
	if len(d.events) == 0 {
		return nil, kms.ErrWouldBlock
	}
	batch := d.events[0]
	d.events = d.events[1:]
	return batch, nil
}

func (d *Device) Close() error {
	d.Closed = true
	return nil
}

var _ kms.Device = (*Device)(nil)
