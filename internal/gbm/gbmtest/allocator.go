// Package gbmtest provides a fake gbm.Allocator with failure injection.
package gbmtest

import (
	"fmt"

	"github.com/bnema/dreampipe/internal/fourcc"
	"github.com/bnema/dreampipe/internal/gbm"
)

// Allocator hands out fake buffer objects and tracks which are alive
type Allocator struct {
	Created []*BufferObject
	Usages  []gbm.Usage

	// Modifier and Planes are applied to every new buffer
	Modifier uint64
	Planes   int

	// FailAfter makes the n-th creation (0-based) fail; negative disables
	FailAfter int

	nextHandle uint32
	nextFd     int
	Closed     bool
}

// New returns an allocator producing single-plane linear buffers
func New() *Allocator {
	return &Allocator{FailAfter: -1, Planes: 1, nextHandle: 1, nextFd: 1000}
}

func (a *Allocator) CreateBufferObject(width, height uint32, format fourcc.Format, usage gbm.Usage) (gbm.BufferObject, error) {
	if a.FailAfter >= 0 && len(a.Created) == a.FailAfter {
		return nil, fmt.Errorf("%w: injected", gbm.ErrCreateBuffer)
	}
	bo := &BufferObject{
		width:    width,
		height:   height,
		format:   format,
		modifier: a.Modifier,
		planes:   a.Planes,
		handle:   a.nextHandle,
		alloc:    a,
	}
	a.nextHandle++
	a.Created = append(a.Created, bo)
	a.Usages = append(a.Usages, usage)
	return bo, nil
}

func (a *Allocator) Close() error {
	a.Closed = true
	return nil
}

// Live counts buffers not yet destroyed
func (a *Allocator) Live() int {
	n := 0
	for _, bo := range a.Created {
		if !bo.Destroyed {
			n++
		}
	}
	return n
}

// BufferObject is a fake buffer; each plane is stride*height bytes apart
type BufferObject struct {
	width, height uint32
	format        fourcc.Format
	modifier      uint64
	planes        int
	handle        uint32
	alloc         *Allocator

	// Fds lists every descriptor exported by FD
	Fds       []int
	FailFD    error
	Destroyed bool
}

func (b *BufferObject) Width() uint32 { return b.width }
func (b *BufferObject) Height() uint32 { return b.height }
func (b *BufferObject) Format() fourcc.Format { return b.format }
func (b *BufferObject) Modifier() uint64 { return b.modifier }
func (b *BufferObject) PlaneCount() int { return b.planes }
func (b *BufferObject) Handle(plane int) uint32 { return b.handle }

func (b *BufferObject) Stride(plane int) uint32 {
	return b.width * 4
}

func (b *BufferObject) Offset(plane int) uint32 {
	return uint32(plane) * b.width * 4 * b.height
}

func (b *BufferObject) FD() (int, error) {
	if b.FailFD != nil {
		return -1, b.FailFD
	}
	fd := b.alloc.nextFd
	b.alloc.nextFd++
	b.Fds = append(b.Fds, fd)
	return fd, nil
}

func (b *BufferObject) Destroy() {
	b.Destroyed = true
}

var _ gbm.Allocator = (*Allocator)(nil)
