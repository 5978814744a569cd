//go:build !(cgo && linux && vulkan)

package gpu

// NewVulkanDriver is unavailable in this build
func NewVulkanDriver() (Driver, error) {
	return nil, ErrUnavailable
}
