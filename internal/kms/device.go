package kms

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned by ReceiveEvents when no event is pending
	ErrWouldBlock = errors.New("kms: no events ready")
	// ErrOpenCard is returned when a card node cannot be opened
	ErrOpenCard = errors.New("kms: unable to open card")
	// ErrClientCapability is returned when a client capability is refused
	ErrClientCapability = errors.New("kms: client capability refused")
	// ErrCommit is returned when the kernel rejects an atomic commit
	ErrCommit = errors.New("kms: atomic commit failed")
	// ErrRequestConsumed is returned when committing a request twice
	ErrRequestConsumed = errors.New("kms: atomic request already committed")
	// ErrMissingProperty is returned when an object lacks a required property
	ErrMissingProperty = errors.New("kms: missing property")
)

// Device is an open DRM device. Implementations are not safe for concurrent
// use; the presentation loop is the only caller.
type Device interface {
	// Index is the card number, used in output identities
	Index() int

	SetClientCapability(capability Capability, enable bool) error
	ResourceHandles() (*Resources, error)
	PlaneHandles() ([]PlaneHandle, error)

	// GetConnector returns connector info. force asks the kernel to probe
	// the connector again instead of returning cached state.
	GetConnector(handle ConnectorHandle, force bool) (*ConnectorInfo, error)
	GetPlane(handle PlaneHandle) (*PlaneInfo, error)

	// GetProperties returns the property values of an object
	GetProperties(object uint32, objType ObjectType) (map[PropertyHandle]uint64, error)
	GetProperty(handle PropertyHandle) (*PropertyInfo, error)

	AddFramebuffer(spec FramebufferSpec) (FramebufferHandle, error)
	DestroyFramebuffer(fb FramebufferHandle) error
	CreateModeBlob(mode Mode) (BlobHandle, error)
	DestroyModeBlob(blob BlobHandle) error

	AtomicCommit(flags CommitFlags, props []AtomicProperty) error

	// ReceiveEvents drains pending events without blocking. It returns
	// ErrWouldBlock when nothing is ready.
	ReceiveEvents() ([]Event, error)

	Close() error
}

// PropertyMap maps property names to their info for one object
type PropertyMap map[string]PropertyInfo

// Handle returns the property handle for name
func (m PropertyMap) Handle(name string) (PropertyHandle, error) {
	info, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrMissingProperty, name)
	}
	return info.Handle, nil
}

// Require returns ErrMissingProperty for the first name not in the map
func (m PropertyMap) Require(names ...string) error {
	for _, name := range names {
		if _, ok := m[name]; !ok {
			return fmt.Errorf("%w %q", ErrMissingProperty, name)
		}
	}
	return nil
}

// GetPropertyMap resolves the property names of an object
func GetPropertyMap(dev Device, object uint32, objType ObjectType) (PropertyMap, error) {
	values, err := dev.GetProperties(object, objType)
	if err != nil {
		return nil, fmt.Errorf("failed to get properties of object %d: %w", object, err)
	}

	props := make(PropertyMap, len(values))
	for handle := range values {
		info, err := dev.GetProperty(handle)
		if err != nil {
			return nil, fmt.Errorf("failed to get property %d: %w", handle, err)
		}
		props[info.Name] = *info
	}
	return props, nil
}

// PropertyValue returns the current value of the named property of an object
func PropertyValue(dev Device, object uint32, objType ObjectType, name string) (uint64, error) {
	values, err := dev.GetProperties(object, objType)
	if err != nil {
		return 0, fmt.Errorf("failed to get properties of object %d: %w", object, err)
	}
	for handle, value := range values {
		info, err := dev.GetProperty(handle)
		if err != nil {
			continue
		}
		if info.Name == name {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w %q on object %d", ErrMissingProperty, name, object)
}

// IdentityOf formats the stable identity string of a connector on a device
func IdentityOf(device int, conn *ConnectorInfo) string {
	return fmt.Sprintf("card%d-%s-%d", device, conn.Interface, conn.InterfaceID)
}
