//go:build cgo && linux
// +build cgo,linux

package gbm

/*
#cgo pkg-config: gbm
#include <gbm.h>
#include <stdint.h>

static uint32_t bo_handle_for_plane(struct gbm_bo *bo, int plane) {
    return gbm_bo_get_handle_for_plane(bo, plane).u32;
}
*/
import "C"

import (
	"fmt"

	"github.com/bnema/dreampipe/internal/fourcc"
	"github.com/bnema/dreampipe/internal/kms"
)

type fdDevice interface {
	Fd() int
}

// device wraps a struct gbm_device created on a card's descriptor
type device struct {
	raw *C.struct_gbm_device
}

// NewAllocator creates a GBM device on the card behind dev
func NewAllocator(dev kms.Device) (Allocator, error) {
	f, ok := dev.(fdDevice)
	if !ok {
		return nil, fmt.Errorf("gbm: device %d has no file descriptor", dev.Index())
	}
	raw := C.gbm_create_device(C.int(f.Fd()))
	if raw == nil {
		return nil, fmt.Errorf("gbm: failed to create device on card%d", dev.Index())
	}
	return &device{raw: raw}, nil
}

func (d *device) CreateBufferObject(width, height uint32, format fourcc.Format, usage Usage) (BufferObject, error) {
	bo := C.gbm_bo_create(d.raw, C.uint32_t(width), C.uint32_t(height), C.uint32_t(format), C.uint32_t(usage))
	if bo == nil {
		return nil, fmt.Errorf("%w: %dx%d %s", ErrCreateBuffer, width, height, format)
	}
	return &bufferObject{raw: bo}, nil
}

func (d *device) Close() error {
	if d.raw != nil {
		C.gbm_device_destroy(d.raw)
		d.raw = nil
	}
	return nil
}

type bufferObject struct {
	raw *C.struct_gbm_bo
}

func (b *bufferObject) Width() uint32 {
	return uint32(C.gbm_bo_get_width(b.raw))
}

func (b *bufferObject) Height() uint32 {
	return uint32(C.gbm_bo_get_height(b.raw))
}

func (b *bufferObject) Format() fourcc.Format {
	return fourcc.Format(C.gbm_bo_get_format(b.raw))
}

func (b *bufferObject) Modifier() uint64 {
	return uint64(C.gbm_bo_get_modifier(b.raw))
}

func (b *bufferObject) PlaneCount() int {
	return int(C.gbm_bo_get_plane_count(b.raw))
}

func (b *bufferObject) Offset(plane int) uint32 {
	return uint32(C.gbm_bo_get_offset(b.raw, C.int(plane)))
}

func (b *bufferObject) Stride(plane int) uint32 {
	return uint32(C.gbm_bo_get_stride_for_plane(b.raw, C.int(plane)))
}

func (b *bufferObject) Handle(plane int) uint32 {
	return uint32(C.bo_handle_for_plane(b.raw, C.int(plane)))
}

// FD returns a fresh dma-buf descriptor; gbm_bo_get_fd dups on every call
func (b *bufferObject) FD() (int, error) {
	fd := int(C.gbm_bo_get_fd(b.raw))
	if fd < 0 {
		return -1, ErrBufferFd
	}
	return fd, nil
}

func (b *bufferObject) Destroy() {
	if b.raw != nil {
		C.gbm_bo_destroy(b.raw)
		b.raw = nil
	}
}
