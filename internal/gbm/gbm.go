// Package gbm allocates GPU buffer objects usable both for rendering and for
// kernel scanout.
package gbm

import (
	"errors"

	"github.com/bnema/dreampipe/internal/fourcc"
	"github.com/bnema/dreampipe/internal/kms"
)

var (
	// ErrCreateBuffer is returned when a buffer object cannot be allocated
	ErrCreateBuffer = errors.New("gbm: failed to create buffer object")
	// ErrBufferFd is returned when a buffer cannot be exported as a dma-buf
	ErrBufferFd = errors.New("gbm: invalid buffer fd")
	// ErrUnavailable is returned when the binary was built without libgbm
	ErrUnavailable = errors.New("gbm: not available (build with CGO enabled)")
)

// Usage flags, matching enum gbm_bo_flags
type Usage uint32

const (
	UsageScanout   Usage = 1 << 0
	UsageCursor    Usage = 1 << 1
	UsageRendering Usage = 1 << 2
	UsageWrite     Usage = 1 << 3
	UsageLinear    Usage = 1 << 4
)

// BufferObject is an allocated buffer. Plane indices run from 0 to
// PlaneCount()-1.
type BufferObject interface {
	Width() uint32
	Height() uint32
	Format() fourcc.Format
	Modifier() uint64
	PlaneCount() int
	Offset(plane int) uint32
	Stride(plane int) uint32
	Handle(plane int) uint32

	// FD exports the buffer as a new dma-buf descriptor owned by the caller
	FD() (int, error)

	Destroy()
}

// Allocator creates buffer objects on one device
type Allocator interface {
	CreateBufferObject(width, height uint32, format fourcc.Format, usage Usage) (BufferObject, error)
	Close() error
}

// FramebufferSpec describes bo for kms.Device.AddFramebuffer
func FramebufferSpec(bo BufferObject) kms.FramebufferSpec {
	spec := kms.FramebufferSpec{
		Width:    bo.Width(),
		Height:   bo.Height(),
		Format:   bo.Format(),
		Modifier: bo.Modifier(),
		Planes:   bo.PlaneCount(),
	}
	if spec.Planes > len(spec.Handles) {
		spec.Planes = len(spec.Handles)
	}
	for i := 0; i < spec.Planes; i++ {
		spec.Handles[i] = bo.Handle(i)
		spec.Pitches[i] = bo.Stride(i)
		spec.Offsets[i] = bo.Offset(i)
	}
	return spec
}
