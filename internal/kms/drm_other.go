//go:build !linux

package kms

import (
	"fmt"
	"runtime"
)

// CardPath returns the device node path of a card index
func CardPath(index int) string {
	return fmt.Sprintf("/dev/dri/card%d", index)
}

// Open is only supported on Linux
func Open(index int) (Device, error) {
	return nil, fmt.Errorf("%w at %s: unsupported on %s", ErrOpenCard, CardPath(index), runtime.GOOS)
}

// OpenAll returns no devices outside Linux
func OpenAll(max int) []Device {
	return nil
}
