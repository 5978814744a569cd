//go:build cgo && linux && vulkan
// +build cgo,linux,vulkan

package gpu

/*
#cgo pkg-config: vulkan
#include <vulkan/vulkan.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    VkInstance instance;
    VkPhysicalDevice phys;
    VkDevice device;
} dp_vk;

static VkResult dp_vk_open(dp_vk *vk) {
    VkApplicationInfo app = {
        .sType = VK_STRUCTURE_TYPE_APPLICATION_INFO,
        .pApplicationName = "dreampipe",
        .apiVersion = VK_API_VERSION_1_2,
    };
    VkInstanceCreateInfo ici = {
        .sType = VK_STRUCTURE_TYPE_INSTANCE_CREATE_INFO,
        .pApplicationInfo = &app,
    };
    VkResult r = vkCreateInstance(&ici, NULL, &vk->instance);
    if (r != VK_SUCCESS) {
        return r;
    }

    uint32_t count = 1;
    r = vkEnumeratePhysicalDevices(vk->instance, &count, &vk->phys);
    if (r < 0 || count == 0) {
        vkDestroyInstance(vk->instance, NULL);
        return r < 0 ? r : VK_ERROR_INITIALIZATION_FAILED;
    }

    float priority = 1.0f;
    VkDeviceQueueCreateInfo queue = {
        .sType = VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO,
        .queueFamilyIndex = 0,
        .queueCount = 1,
        .pQueuePriorities = &priority,
    };
    const char *exts[] = {
        VK_KHR_EXTERNAL_MEMORY_FD_EXTENSION_NAME,
        VK_EXT_EXTERNAL_MEMORY_DMA_BUF_EXTENSION_NAME,
        VK_EXT_IMAGE_DRM_FORMAT_MODIFIER_EXTENSION_NAME,
    };
    VkDeviceCreateInfo dci = {
        .sType = VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO,
        .queueCreateInfoCount = 1,
        .pQueueCreateInfos = &queue,
        .enabledExtensionCount = 3,
        .ppEnabledExtensionNames = exts,
    };
    r = vkCreateDevice(vk->phys, &dci, NULL, &vk->device);
    if (r != VK_SUCCESS) {
        vkDestroyInstance(vk->instance, NULL);
    }
    return r;
}

static void dp_vk_close(dp_vk *vk) {
    vkDeviceWaitIdle(vk->device);
    vkDestroyDevice(vk->device, NULL);
    vkDestroyInstance(vk->instance, NULL);
}

static VkResult dp_vk_create_image(dp_vk *vk, uint32_t width, uint32_t height, int32_t format,
        uint64_t modifier, uint32_t nplanes, const uint64_t *offsets, const uint64_t *pitches,
        uint32_t handle_types, uint32_t usage, uint64_t *out) {
    VkSubresourceLayout layouts[4];
    memset(layouts, 0, sizeof(layouts));
    if (nplanes > 4) {
        nplanes = 4;
    }
    for (uint32_t i = 0; i < nplanes; i++) {
        layouts[i].offset = offsets[i];
        layouts[i].rowPitch = pitches[i];
    }
    VkImageDrmFormatModifierExplicitCreateInfoEXT mod = {
        .sType = VK_STRUCTURE_TYPE_IMAGE_DRM_FORMAT_MODIFIER_EXPLICIT_CREATE_INFO_EXT,
        .drmFormatModifier = modifier,
        .drmFormatModifierPlaneCount = nplanes,
        .pPlaneLayouts = layouts,
    };
    VkExternalMemoryImageCreateInfo ext = {
        .sType = VK_STRUCTURE_TYPE_EXTERNAL_MEMORY_IMAGE_CREATE_INFO,
        .pNext = &mod,
        .handleTypes = handle_types,
    };
    VkImageCreateInfo ici = {
        .sType = VK_STRUCTURE_TYPE_IMAGE_CREATE_INFO,
        .pNext = &ext,
        .imageType = VK_IMAGE_TYPE_2D,
        .format = (VkFormat)format,
        .extent = { width, height, 1 },
        .mipLevels = 1,
        .arrayLayers = 1,
        .samples = VK_SAMPLE_COUNT_1_BIT,
        .tiling = VK_IMAGE_TILING_DRM_FORMAT_MODIFIER_EXT,
        .usage = usage,
        .sharingMode = VK_SHARING_MODE_EXCLUSIVE,
        .initialLayout = VK_IMAGE_LAYOUT_UNDEFINED,
    };
    VkImage img;
    VkResult r = vkCreateImage(vk->device, &ici, NULL, &img);
    if (r == VK_SUCCESS) {
        *out = (uint64_t)(uintptr_t)img;
    }
    return r;
}

static void dp_vk_image_requirements(dp_vk *vk, uint64_t img, uint64_t *size, uint64_t *align, uint32_t *bits) {
    VkMemoryRequirements req;
    vkGetImageMemoryRequirements(vk->device, (VkImage)(uintptr_t)img, &req);
    *size = req.size;
    *align = req.alignment;
    *bits = req.memoryTypeBits;
}

static uint32_t dp_vk_memory_types(dp_vk *vk, uint32_t *flags, uint32_t *heaps) {
    VkPhysicalDeviceMemoryProperties props;
    vkGetPhysicalDeviceMemoryProperties(vk->phys, &props);
    for (uint32_t i = 0; i < props.memoryTypeCount; i++) {
        flags[i] = props.memoryTypes[i].propertyFlags;
        heaps[i] = props.memoryTypes[i].heapIndex;
    }
    return props.memoryTypeCount;
}

static VkResult dp_vk_import_memory(dp_vk *vk, uint64_t size, uint32_t type_index, uint32_t handle_type, int fd, uint64_t *out) {
    VkImportMemoryFdInfoKHR import = {
        .sType = VK_STRUCTURE_TYPE_IMPORT_MEMORY_FD_INFO_KHR,
        .handleType = (VkExternalMemoryHandleTypeFlagBits)handle_type,
        .fd = fd,
    };
    VkMemoryAllocateInfo info = {
        .sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO,
        .pNext = &import,
        .allocationSize = size,
        .memoryTypeIndex = type_index,
    };
    VkDeviceMemory mem;
    VkResult r = vkAllocateMemory(vk->device, &info, NULL, &mem);
    if (r == VK_SUCCESS) {
        *out = (uint64_t)(uintptr_t)mem;
    }
    return r;
}

static VkResult dp_vk_bind(dp_vk *vk, uint64_t img, uint64_t mem, uint64_t offset) {
    return vkBindImageMemory(vk->device, (VkImage)(uintptr_t)img, (VkDeviceMemory)(uintptr_t)mem, offset);
}

static void dp_vk_destroy_image(dp_vk *vk, uint64_t img) {
    vkDestroyImage(vk->device, (VkImage)(uintptr_t)img, NULL);
}

static void dp_vk_free_memory(dp_vk *vk, uint64_t mem) {
    vkFreeMemory(vk->device, (VkDeviceMemory)(uintptr_t)mem, NULL);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/bnema/dreampipe/internal/fourcc"
)

// VkFormat values for the scanout formats we allocate
var vkFormats = map[fourcc.Format]int32{
	fourcc.XRGB8888:    44, // VK_FORMAT_B8G8R8A8_UNORM
	fourcc.ARGB8888:    44,
	fourcc.XBGR8888:    37, // VK_FORMAT_R8G8B8A8_UNORM
	fourcc.ABGR8888:    37,
	fourcc.RGB565:      4,  // VK_FORMAT_R5G6B5_UNORM_PACK16
	fourcc.XRGB2101010: 58, // VK_FORMAT_A2R10G10B10_UNORM_PACK32
	fourcc.ARGB2101010: 58,
}

type vkResult C.VkResult

func (r vkResult) Error() string {
	return fmt.Sprintf("VkResult(%d)", int32(r))
}

type vulkanDriver struct {
	vk *C.dp_vk
}

// NewVulkanDriver opens the first physical device with the dma-buf import
// extensions enabled
func NewVulkanDriver() (Driver, error) {
	vk := (*C.dp_vk)(C.calloc(1, C.sizeof_dp_vk))
	if r := C.dp_vk_open(vk); r != C.VK_SUCCESS {
		C.free(unsafe.Pointer(vk))
		return nil, fmt.Errorf("gpu: failed to open Vulkan device: %w", vkResult(r))
	}
	return &vulkanDriver{vk: vk}, nil
}

func (d *vulkanDriver) CreateImage(info *ImageCreateInfo) (Image, error) {
	format, ok := vkFormats[info.Format]
	if !ok {
		return 0, fmt.Errorf("unsupported format %s", info.Format)
	}
	var offsets, pitches [4]C.uint64_t
	n := len(info.Planes)
	if n > 4 {
		n = 4
	}
	for i := 0; i < n; i++ {
		offsets[i] = C.uint64_t(info.Planes[i].Offset)
		pitches[i] = C.uint64_t(info.Planes[i].RowPitch)
	}
	var out C.uint64_t
	r := C.dp_vk_create_image(d.vk, C.uint32_t(info.Width), C.uint32_t(info.Height), C.int32_t(format),
		C.uint64_t(info.Modifier), C.uint32_t(n), &offsets[0], &pitches[0],
		C.uint32_t(info.ExternalMemory), C.uint32_t(info.Usage), &out)
	if r != C.VK_SUCCESS {
		return 0, vkResult(r)
	}
	return Image(out), nil
}

func (d *vulkanDriver) ImageMemoryRequirements(img Image) MemoryRequirements {
	var size, align C.uint64_t
	var bits C.uint32_t
	C.dp_vk_image_requirements(d.vk, C.uint64_t(img), &size, &align, &bits)
	return MemoryRequirements{Size: uint64(size), Alignment: uint64(align), TypeBits: uint32(bits)}
}

func (d *vulkanDriver) MemoryTypes() []MemoryType {
	var flags, heaps [C.VK_MAX_MEMORY_TYPES]C.uint32_t
	n := int(C.dp_vk_memory_types(d.vk, &flags[0], &heaps[0]))
	types := make([]MemoryType, n)
	for i := range types {
		types[i] = MemoryType{Properties: MemoryProperty(flags[i]), HeapIndex: uint32(heaps[i])}
	}
	return types
}

func (d *vulkanDriver) ImportMemory(size uint64, typeIndex uint32, handleType ExternalMemory, fd int) (DeviceMemory, error) {
	var out C.uint64_t
	r := C.dp_vk_import_memory(d.vk, C.uint64_t(size), C.uint32_t(typeIndex), C.uint32_t(handleType), C.int(fd), &out)
	if r != C.VK_SUCCESS {
		return 0, vkResult(r)
	}
	return DeviceMemory(out), nil
}

func (d *vulkanDriver) BindImageMemory(img Image, mem DeviceMemory, offset uint64) error {
	if r := C.dp_vk_bind(d.vk, C.uint64_t(img), C.uint64_t(mem), C.uint64_t(offset)); r != C.VK_SUCCESS {
		return vkResult(r)
	}
	return nil
}

func (d *vulkanDriver) DestroyImage(img Image) {
	C.dp_vk_destroy_image(d.vk, C.uint64_t(img))
}

func (d *vulkanDriver) FreeMemory(mem DeviceMemory) {
	C.dp_vk_free_memory(d.vk, C.uint64_t(mem))
}

// TextureFromRaw hands the raw VkImage to the renderer. Raw holds the
// handle as a uint64 for renderers that wrap external images themselves.
func (d *vulkanDriver) TextureFromRaw(img Image, desc *TextureDescriptor) (*Texture, error) {
	return &Texture{Descriptor: *desc, Image: img, Raw: uint64(img)}, nil
}

func (d *vulkanDriver) Close() error {
	if d.vk != nil {
		C.dp_vk_close(d.vk)
		C.free(unsafe.Pointer(d.vk))
		d.vk = nil
	}
	return nil
}
