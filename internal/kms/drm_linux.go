package kms

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"

	"github.com/bnema/dreampipe/internal/fourcc"
	"github.com/bnema/dreampipe/internal/logger"
)

const (
	drmEventVBlank       = 0x01
	drmEventFlipComplete = 0x02

	// struct drm_event_vblank
	drmEventVBlankSize = 32

	fbModifiers = 1 << 1

	// DRM_FORMAT_MOD_INVALID
	modInvalid = 0x00ffffffffffffff
)

// Names from the kernel's drm_connector_enum_list, indexed by connector type
var connectorNames = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO",
	"LVDS", "Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP",
	"Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

func connectorName(typ uint32) string {
	if int(typ) < len(connectorNames) {
		return connectorNames[typ]
	}
	return "Unknown"
}

// card is a Device backed by a /dev/dri/card* node
type card struct {
	file      *os.File
	index     int
	modifiers bool
	buf       []byte
}

// openFlags keeps event reads from ever waiting on the kernel
const openFlags = os.O_RDWR | unix.O_NONBLOCK | unix.O_CLOEXEC

// CardPath returns the device node path of a card index
func CardPath(index int) string {
	return fmt.Sprintf("/dev/dri/card%d", index)
}

// Open opens a card by index for mode-setting
func Open(index int) (Device, error) {
	path := CardPath(index)
	file, err := os.OpenFile(path, openFlags, 0)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrOpenCard, path, err)
	}

	c := &card{
		file:  file,
		index: index,
		buf:   make([]byte, 4096),
	}
	if val, err := drm.GetCap(file, drm.CapAddFB2Modifiers); err == nil && val != 0 {
		c.modifiers = true
	}
	return c, nil
}

// PCIIDs reads the vendor and device ids of a card from sysfs
func PCIIDs(index int) (vendor, device uint32, err error) {
	base := fmt.Sprintf("/sys/class/drm/card%d/device", index)
	read := func(name string) (uint32, error) {
		raw, err := os.ReadFile(base + "/" + name)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"), 16, 32)
		return uint32(v), err
	}
	if vendor, err = read("vendor"); err != nil {
		return 0, 0, err
	}
	if device, err = read("device"); err != nil {
		return 0, 0, err
	}
	return vendor, device, nil
}

// OpenAll opens every card with an index below max that reports PCI ids.
// Cards that fail to open are skipped.
func OpenAll(max int) []Device {
	var devices []Device
	for i := 0; i < max; i++ {
		if _, err := os.Stat(CardPath(i)); err != nil {
			continue
		}
		dev, err := Open(i)
		if err != nil {
			logger.Debug("Skipping card", "card", i, "err", err)
			continue
		}
		vendor, device, err := PCIIDs(i)
		if err != nil {
			logger.Debug("Skipping card without PCI ids", "card", i, "err", err)
			dev.Close()
			continue
		}
		logger.Infof("Opened card%d: vendor=0x%x, device=0x%x", i, vendor, device)
		devices = append(devices, dev)
	}
	return devices
}

func (c *card) Index() int {
	return c.index
}

// Fd exposes the card descriptor to GBM
func (c *card) Fd() int {
	return int(c.file.Fd())
}

func (c *card) SetClientCapability(capability Capability, enable bool) error {
	var value uint64
	if enable {
		value = 1
	}
	if err := mode.SetClientCap(c.file, uint64(capability), value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrClientCapability, capability, err)
	}
	return nil
}

func (c *card) ResourceHandles() (*Resources, error) {
	res, err := mode.GetResources(c.file)
	if err != nil {
		return nil, fmt.Errorf("could not load resource ids: %w", err)
	}
	out := &Resources{}
	for _, id := range res.Connectors {
		out.Connectors = append(out.Connectors, ConnectorHandle(id))
	}
	for _, id := range res.Crtcs {
		out.Crtcs = append(out.Crtcs, CrtcHandle(id))
	}
	return out, nil
}

func (c *card) PlaneHandles() ([]PlaneHandle, error) {
	res, err := mode.GetPlaneResources(c.file)
	if err != nil {
		return nil, fmt.Errorf("failed to get planes: %w", err)
	}
	planes := make([]PlaneHandle, 0, len(res.Planes))
	for _, id := range res.Planes {
		planes = append(planes, PlaneHandle(id))
	}
	return planes, nil
}

// GetConnector queries connector state. The legacy GETCONNECTOR ioctl always
// probes, so force only matters for the debug trail.
func (c *card) GetConnector(handle ConnectorHandle, force bool) (*ConnectorInfo, error) {
	conn, err := mode.GetConnector(c.file, uint32(handle))
	if err != nil {
		return nil, fmt.Errorf("failed to get info for connector %d: %w", handle, err)
	}
	info := &ConnectorInfo{
		Handle:      handle,
		Interface:   connectorName(conn.Type),
		InterfaceID: conn.TypeID,
		State:       ConnectorState(conn.Connection),
	}
	for _, m := range conn.Modes {
		info.Modes = append(info.Modes, modeFromInfo(m))
	}
	logger.Debug("Queried connector", "connector", handle, "force", force, "state", info.State)
	return info, nil
}

func (c *card) GetPlane(handle PlaneHandle) (*PlaneInfo, error) {
	p, err := mode.GetPlane(c.file, uint32(handle))
	if err != nil {
		return nil, fmt.Errorf("failed to get plane %d: %w", handle, err)
	}
	info := &PlaneInfo{
		Handle:        handle,
		PossibleCrtcs: p.PossibleCrtcs,
	}
	for _, f := range p.FormatTypes {
		info.Formats = append(info.Formats, fourcc.Format(f))
	}
	return info, nil
}

func (c *card) GetProperties(object uint32, objType ObjectType) (map[PropertyHandle]uint64, error) {
	props, err := mode.GetProperties(c.file, object, uint32(objType))
	if err != nil {
		return nil, err
	}
	values := make(map[PropertyHandle]uint64, len(props.Props))
	for i, id := range props.Props {
		values[PropertyHandle(id)] = props.PropValues[i]
	}
	return values, nil
}

func (c *card) GetProperty(handle PropertyHandle) (*PropertyInfo, error) {
	p, err := mode.GetProperty(c.file, uint32(handle))
	if err != nil {
		return nil, err
	}
	return &PropertyInfo{Handle: handle, Name: p.Name}, nil
}

func (c *card) AddFramebuffer(spec FramebufferSpec) (FramebufferHandle, error) {
	planes := spec.Planes
	if planes < 1 {
		planes = 1
	}

	var flags uint32
	var modifiers []uint64
	if c.modifiers && spec.Modifier != modInvalid {
		flags |= fbModifiers
		modifiers = make([]uint64, planes)
		for i := range modifiers {
			modifiers[i] = spec.Modifier
		}
	}

	id, err := mode.AddFB2(c.file, uint16(spec.Width), uint16(spec.Height), uint32(spec.Format), flags,
		spec.Pitches[:planes], spec.Offsets[:planes], spec.Handles[:planes], modifiers)
	if err == nil {
		return FramebufferHandle(id), nil
	}
	if planes > 1 || !spec.Format.Known() {
		return 0, err
	}

	// Drivers without ADDFB2 still accept the legacy depth/bpp call
	logger.Debug("ADDFB2 failed, falling back to ADDFB", "format", spec.Format, "err", err)
	id, legacyErr := mode.AddFB(c.file, uint16(spec.Width), uint16(spec.Height),
		uint8(spec.Format.Depth()), uint8(spec.Format.Bpp()), spec.Pitches[0], spec.Handles[0])
	if legacyErr != nil {
		return 0, errors.Join(err, legacyErr)
	}
	return FramebufferHandle(id), nil
}

func (c *card) DestroyFramebuffer(fb FramebufferHandle) error {
	return mode.RmFB(c.file, uint32(fb))
}

func (c *card) CreateModeBlob(m Mode) (BlobHandle, error) {
	id, err := mode.CreateInfoBlob(c.file, infoFromMode(m))
	if err != nil {
		return 0, fmt.Errorf("failed to create mode blob: %w", err)
	}
	return BlobHandle(id), nil
}

func (c *card) DestroyModeBlob(blob BlobHandle) error {
	if err := mode.DestroyBlob(c.file, uint32(blob)); err != nil {
		return fmt.Errorf("failed to destroy mode blob %d: %w", blob, err)
	}
	return nil
}

func (c *card) AtomicCommit(flags CommitFlags, props []AtomicProperty) error {
	req := make([]mode.AtomicProperty, 0, len(props))
	for _, p := range props {
		req = append(req, mode.AtomicProperty{
			ObjectID:   p.Object,
			PropertyID: uint32(p.Property),
			Value:      p.Value,
		})
	}
	return mode.Atomic(c.file, uint32(flags), req)
}

// ReceiveEvents polls the card with a zero timeout so the read below never
// waits for the next vblank.
func (c *card) ReceiveEvents() ([]Event, error) {
	fd := int(c.file.Fd())
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("failed to poll card%d: %w", c.index, err)
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		return nil, ErrWouldBlock
	}

	read, err := unix.Read(fd, c.buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("failed to read events from card%d: %w", c.index, err)
	}
	return parseEvents(c.buf[:read]), nil
}

func (c *card) Close() error {
	return c.file.Close()
}

// parseEvents decodes a buffer of struct drm_event records
func parseEvents(buf []byte) []Event {
	var events []Event
	for len(buf) >= 8 {
		typ := binary.NativeEndian.Uint32(buf[0:4])
		length := int(binary.NativeEndian.Uint32(buf[4:8]))
		if length < 8 || length > len(buf) {
			break
		}

		ev := Event{Kind: EventUnknown}
		if (typ == drmEventVBlank || typ == drmEventFlipComplete) && length >= drmEventVBlankSize {
			ev.Sequence = binary.NativeEndian.Uint32(buf[24:28])
			ev.Crtc = CrtcHandle(binary.NativeEndian.Uint32(buf[28:32]))
			if typ == drmEventFlipComplete {
				ev.Kind = EventPageFlip
			} else {
				ev.Kind = EventVBlank
			}
		}
		events = append(events, ev)
		buf = buf[length:]
	}
	return events
}

func modeFromInfo(info mode.Info) Mode {
	return Mode{
		Clock:      info.Clock,
		Hdisplay:   info.Hdisplay,
		HsyncStart: info.HsyncStart,
		HsyncEnd:   info.HsyncEnd,
		Htotal:     info.Htotal,
		Hskew:      info.Hskew,
		Vdisplay:   info.Vdisplay,
		VsyncStart: info.VsyncStart,
		VsyncEnd:   info.VsyncEnd,
		Vtotal:     info.Vtotal,
		Vscan:      info.Vscan,
		Vrefresh:   info.Vrefresh,
		Flags:      info.Flags,
		Type:       info.Type,
		Name:       string(bytes.TrimRight(info.Name[:], "\x00")),
	}
}

func infoFromMode(m Mode) mode.Info {
	info := mode.Info{
		Clock:      m.Clock,
		Hdisplay:   m.Hdisplay,
		HsyncStart: m.HsyncStart,
		HsyncEnd:   m.HsyncEnd,
		Htotal:     m.Htotal,
		Hskew:      m.Hskew,
		Vdisplay:   m.Vdisplay,
		VsyncStart: m.VsyncStart,
		VsyncEnd:   m.VsyncEnd,
		Vtotal:     m.Vtotal,
		Vscan:      m.Vscan,
		Vrefresh:   m.Vrefresh,
		Flags:      m.Flags,
		Type:       m.Type,
	}
	copy(info.Name[:], m.Name)
	return info
}
