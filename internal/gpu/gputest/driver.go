// Package gputest provides a recording fake gpu.Driver.
package gputest

import (
	"fmt"

	"github.com/bnema/dreampipe/internal/gpu"
)

// Driver records every image and memory allocation. Failure hooks are
// consulted before the corresponding call takes effect.
type Driver struct {
	Types        []gpu.MemoryType
	Requirements gpu.MemoryRequirements

	FailCreateImage error
	FailImport      error
	FailBind        error
	FailWrap        error

	Images    map[gpu.Image]*gpu.ImageCreateInfo
	Memories  map[gpu.DeviceMemory]int
	Imported  []int
	Wrapped   []*gpu.TextureDescriptor
	Destroyed []gpu.Image
	Freed     []gpu.DeviceMemory
	Closed    bool

	next uint64
}

// New returns a driver with one host-visible and one device-local memory type
func New() *Driver {
	return &Driver{
		Types: []gpu.MemoryType{
			{Properties: gpu.MemoryHostVisible | gpu.MemoryHostCoherent},
			{Properties: gpu.MemoryDeviceLocal},
		},
		Requirements: gpu.MemoryRequirements{Size: 1 << 20, Alignment: 4096, TypeBits: 0b11},
		Images:       make(map[gpu.Image]*gpu.ImageCreateInfo),
		Memories:     make(map[gpu.DeviceMemory]int),
		next:         1,
	}
}

func (d *Driver) CreateImage(info *gpu.ImageCreateInfo) (gpu.Image, error) {
	if d.FailCreateImage != nil {
		return 0, d.FailCreateImage
	}
	img := gpu.Image(d.next)
	d.next++
	copied := *info
	copied.Planes = append([]gpu.PlaneLayout(nil), info.Planes...)
	d.Images[img] = &copied
	return img, nil
}

func (d *Driver) ImageMemoryRequirements(gpu.Image) gpu.MemoryRequirements {
	return d.Requirements
}

func (d *Driver) MemoryTypes() []gpu.MemoryType {
	return d.Types
}

func (d *Driver) ImportMemory(size uint64, typeIndex uint32, handleType gpu.ExternalMemory, fd int) (gpu.DeviceMemory, error) {
	if d.FailImport != nil {
		return 0, d.FailImport
	}
	if int(typeIndex) >= len(d.Types) {
		return 0, fmt.Errorf("memory type %d out of range", typeIndex)
	}
	mem := gpu.DeviceMemory(d.next)
	d.next++
	d.Memories[mem] = fd
	d.Imported = append(d.Imported, fd)
	return mem, nil
}

func (d *Driver) BindImageMemory(img gpu.Image, mem gpu.DeviceMemory, offset uint64) error {
	if d.FailBind != nil {
		return d.FailBind
	}
	if _, ok := d.Images[img]; !ok {
		return fmt.Errorf("unknown image %d", img)
	}
	if _, ok := d.Memories[mem]; !ok {
		return fmt.Errorf("unknown memory %d", mem)
	}
	return nil
}

func (d *Driver) DestroyImage(img gpu.Image) {
	delete(d.Images, img)
	d.Destroyed = append(d.Destroyed, img)
}

func (d *Driver) FreeMemory(mem gpu.DeviceMemory) {
	delete(d.Memories, mem)
	d.Freed = append(d.Freed, mem)
}

func (d *Driver) TextureFromRaw(img gpu.Image, desc *gpu.TextureDescriptor) (*gpu.Texture, error) {
	if d.FailWrap != nil {
		return nil, d.FailWrap
	}
	d.Wrapped = append(d.Wrapped, desc)
	return &gpu.Texture{Descriptor: *desc, Image: img}, nil
}

func (d *Driver) Close() error {
	d.Closed = true
	return nil
}

// Live reports the number of images and memories not yet released
func (d *Driver) Live() (images, memories int) {
	return len(d.Images), len(d.Memories)
}
