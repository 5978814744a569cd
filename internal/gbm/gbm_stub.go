//go:build !cgo || !linux
// +build !cgo !linux

package gbm

import "github.com/bnema/dreampipe/internal/kms"

// NewAllocator stub for when CGO is disabled
func NewAllocator(dev kms.Device) (Allocator, error) {
	return nil, ErrUnavailable
}
