package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"golang.org/x/sys/unix"

	"github.com/bnema/dreampipe/internal/gbm"
	"github.com/bnema/dreampipe/internal/logger"
)

var (
	ErrImageDimensions = errors.New("gpu: invalid DMA-BUF dimensions")
	ErrImageCreate     = errors.New("gpu: failed to create image")
	ErrMemoryTypeIndex = errors.New("gpu: no suitable memory type for DMA-BUF")
	ErrMemoryImport    = errors.New("gpu: failed to import DMA-BUF memory")
	ErrBindMemory      = errors.New("gpu: failed to bind image memory")
	ErrWrapTexture     = errors.New("gpu: failed to wrap image as texture")
	ErrUnavailable     = errors.New("gpu: Vulkan driver not available (build with -tags vulkan)")
)

// closeFd is replaced in tests so fake descriptors never reach the kernel
var closeFd = unix.Close

// ImportedTexture owns the native image and memory behind one swapchain slot
type ImportedTexture struct {
	Image   Image
	Memory  DeviceMemory
	Texture *Texture

	released bool
}

// Bridge imports buffer objects into a Driver
type Bridge struct {
	driver Driver
}

// NewBridge returns a bridge over driver
func NewBridge(driver Driver) *Bridge {
	return &Bridge{driver: driver}
}

// Import exposes bo as a renderable texture labelled label. Every step is
// attempted once; on failure everything created by this call is released
// and bo is left untouched.
func (b *Bridge) Import(bo gbm.BufferObject, label string) (*ImportedTexture, error) {
	width, height := bo.Width(), bo.Height()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageDimensions, width, height)
	}

	planes := make([]PlaneLayout, bo.PlaneCount())
	for i := range planes {
		planes[i] = PlaneLayout{
			Offset:   uint64(bo.Offset(i)),
			RowPitch: uint64(bo.Stride(i)),
		}
	}

	img, err := b.driver.CreateImage(&ImageCreateInfo{
		Width:          width,
		Height:         height,
		Format:         bo.Format(),
		Modifier:       bo.Modifier(),
		Planes:         planes,
		ExternalMemory: ExternalMemoryDmaBuf,
		Usage:          ImageUsageSampled | ImageUsageColorAttachment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageCreate, err)
	}

	reqs := b.driver.ImageMemoryRequirements(img)

	// The fd handed to the driver is a fresh export, never the caller's
	fd, err := bo.FD()
	if err != nil {
		b.driver.DestroyImage(img)
		return nil, fmt.Errorf("%w: %w", gbm.ErrBufferFd, err)
	}

	typeIndex, ok := FindMemoryType(b.driver.MemoryTypes(), reqs.TypeBits, MemoryDeviceLocal)
	if !ok {
		closeFd(fd)
		b.driver.DestroyImage(img)
		return nil, fmt.Errorf("%w: type bits 0x%x", ErrMemoryTypeIndex, reqs.TypeBits)
	}

	mem, err := b.driver.ImportMemory(reqs.Size, typeIndex, ExternalMemoryDmaBuf, fd)
	if err != nil {
		closeFd(fd)
		b.driver.DestroyImage(img)
		return nil, fmt.Errorf("%w: %w", ErrMemoryImport, err)
	}

	if err := b.driver.BindImageMemory(img, mem, 0); err != nil {
		b.driver.DestroyImage(img)
		b.driver.FreeMemory(mem)
		return nil, fmt.Errorf("%w: %w", ErrBindMemory, err)
	}

	tex, err := b.driver.TextureFromRaw(img, &TextureDescriptor{
		Label: label,
		Size: gputypes.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		b.driver.DestroyImage(img)
		b.driver.FreeMemory(mem)
		return nil, fmt.Errorf("%w: %w", ErrWrapTexture, err)
	}

	logger.Debug("Imported DMA-BUF", "label", label, "size", reqs.Size, "memory_type", typeIndex,
		"modifier", fmt.Sprintf("0x%x", bo.Modifier()), "planes", len(planes))

	return &ImportedTexture{
		Image:   img,
		Memory:  mem,
		Texture: tex,
	}, nil
}

// Release destroys the image and its memory. The renderer texture must not
// be used afterwards. Releasing twice is a no-op.
func (b *Bridge) Release(t *ImportedTexture) {
	if t == nil || t.released {
		return
	}
	t.released = true
	b.driver.DestroyImage(t.Image)
	b.driver.FreeMemory(t.Memory)
}

// FindMemoryType returns the first memory type allowed by typeBits that has
// all of the wanted properties
func FindMemoryType(types []MemoryType, typeBits uint32, want MemoryProperty) (uint32, bool) {
	for i, t := range types {
		if i >= 32 {
			break
		}
		if typeBits&(1<<uint(i)) != 0 && t.Properties&want == want {
			return uint32(i), true
		}
	}
	return 0, false
}
