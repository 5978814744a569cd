// Package gpu imports kernel scanout buffers into the GPU driver so the
// renderer can draw into them directly.
package gpu

import (
	"github.com/bnema/dreampipe/internal/fourcc"
	"github.com/gogpu/gputypes"
)

// Native object handles, as returned by the driver
type (
	Image        uint64
	DeviceMemory uint64
)

// ImageUsage flags, matching VkImageUsageFlagBits
type ImageUsage uint32

const (
	ImageUsageTransferSrc     ImageUsage = 0x01
	ImageUsageTransferDst     ImageUsage = 0x02
	ImageUsageSampled         ImageUsage = 0x04
	ImageUsageColorAttachment ImageUsage = 0x10
)

// ExternalMemory identifies the memory-sharing mechanism of an import
type ExternalMemory uint32

// ExternalMemoryDmaBuf is VK_EXTERNAL_MEMORY_HANDLE_TYPE_DMA_BUF_BIT_EXT
const ExternalMemoryDmaBuf ExternalMemory = 0x200

// MemoryProperty flags, matching VkMemoryPropertyFlagBits
type MemoryProperty uint32

const (
	MemoryDeviceLocal  MemoryProperty = 0x01
	MemoryHostVisible  MemoryProperty = 0x02
	MemoryHostCoherent MemoryProperty = 0x04
	MemoryHostCached   MemoryProperty = 0x08
)

// PlaneLayout is the memory layout of one plane of a buffer
type PlaneLayout struct {
	Offset   uint64
	RowPitch uint64
}

// ImageCreateInfo describes an image backed by an explicit-modifier layout
type ImageCreateInfo struct {
	Width          uint32
	Height         uint32
	Format         fourcc.Format
	Modifier       uint64
	Planes         []PlaneLayout
	ExternalMemory ExternalMemory
	Usage          ImageUsage
}

// MemoryRequirements of an image
type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	TypeBits  uint32
}

// MemoryType is one entry of the device's memory type table
type MemoryType struct {
	Properties MemoryProperty
	HeapIndex  uint32
}

// TextureDescriptor describes the renderer-level view of an imported image
type TextureDescriptor struct {
	Label         string
	Size          gputypes.Extent3D
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     gputypes.TextureDimension
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
}

// Texture is a render target handed to the renderer. It borrows Image; the
// owning ImportedTexture destroys the image.
type Texture struct {
	Descriptor TextureDescriptor
	Image      Image
	Raw        any
}

// Label returns the debug label of the texture
func (t *Texture) Label() string {
	return t.Descriptor.Label
}

// Driver is the subset of a Vulkan-style device the bridge needs
type Driver interface {
	CreateImage(info *ImageCreateInfo) (Image, error)
	ImageMemoryRequirements(img Image) MemoryRequirements
	MemoryTypes() []MemoryType

	// ImportMemory allocates memory backed by fd. On success the driver
	// owns fd; on failure the caller still does.
	ImportMemory(size uint64, typeIndex uint32, handleType ExternalMemory, fd int) (DeviceMemory, error)
	BindImageMemory(img Image, mem DeviceMemory, offset uint64) error

	DestroyImage(img Image)
	FreeMemory(mem DeviceMemory)

	// TextureFromRaw wraps img for the renderer without taking ownership
	TextureFromRaw(img Image, desc *TextureDescriptor) (*Texture, error)

	Close() error
}
