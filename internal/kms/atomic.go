package kms

import "fmt"

// AtomicProperty is one (object, property, value) triple of a commit
type AtomicProperty struct {
	Object   uint32
	Property PropertyHandle
	Value    uint64
}

// AtomicRequest accumulates property writes for a single atomic commit.
// A request is consumed by Commit and cannot be reused; build a fresh one
// for the next attempt.
type AtomicRequest struct {
	props     []AtomicProperty
	committed bool
}

// NewAtomicRequest returns an empty request
func NewAtomicRequest() *AtomicRequest {
	return &AtomicRequest{}
}

// AddProperty queues a property write. A later write to the same object and
// property replaces the earlier one.
func (r *AtomicRequest) AddProperty(object uint32, prop PropertyHandle, value uint64) {
	for i := range r.props {
		if r.props[i].Object == object && r.props[i].Property == prop {
			r.props[i].Value = value
			return
		}
	}
	r.props = append(r.props, AtomicProperty{Object: object, Property: prop, Value: value})
}

// AddNamed resolves name in props and queues the write
func (r *AtomicRequest) AddNamed(object uint32, props PropertyMap, name string, value uint64) error {
	handle, err := props.Handle(name)
	if err != nil {
		return err
	}
	r.AddProperty(object, handle, value)
	return nil
}

// Len returns the number of queued writes
func (r *AtomicRequest) Len() int {
	return len(r.props)
}

// Properties returns a copy of the queued writes
func (r *AtomicRequest) Properties() []AtomicProperty {
	out := make([]AtomicProperty, len(r.props))
	copy(out, r.props)
	return out
}

// Commit sends the request to the device. The request is consumed whether
// or not the kernel accepts it.
func (r *AtomicRequest) Commit(dev Device, flags CommitFlags) error {
	if r.committed {
		return ErrRequestConsumed
	}
	r.committed = true

	props := r.props
	r.props = nil
	if err := dev.AtomicCommit(flags, props); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	return nil
}
