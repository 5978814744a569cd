package output

import (
	"fmt"
	"sort"

	"github.com/bnema/dreampipe/internal/kms"
)

// PlanePool holds the planes not yet claimed during one discovery pass
type PlanePool struct {
	dev    kms.Device
	res    *kms.Resources
	planes []kms.PlaneHandle
}

// NewPlanePool lists every plane of dev, sorted by handle
func NewPlanePool(dev kms.Device, res *kms.Resources) (*PlanePool, error) {
	planes, err := dev.PlaneHandles()
	if err != nil {
		return nil, fmt.Errorf("failed to list planes: %w", err)
	}
	sorted := append([]kms.PlaneHandle(nil), planes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &PlanePool{dev: dev, res: res, planes: sorted}, nil
}

// Len returns the number of unclaimed planes
func (p *PlanePool) Len() int {
	return len(p.planes)
}

// Exclude removes planes from the pool
func (p *PlanePool) Exclude(planes ...kms.PlaneHandle) {
	for _, plane := range planes {
		for i, h := range p.planes {
			if h == plane {
				p.planes = append(p.planes[:i], p.planes[i+1:]...)
				break
			}
		}
	}
}

// Compatible reports whether plane can be attached to crtc
func (p *PlanePool) Compatible(plane kms.PlaneHandle, crtc kms.CrtcHandle) bool {
	idx := p.res.CrtcIndex(crtc)
	if idx < 0 || idx >= 32 {
		return false
	}
	info, err := p.dev.GetPlane(plane)
	if err != nil {
		return false
	}
	return info.PossibleCrtcs&(1<<uint(idx)) != 0
}

// Claim takes the first unclaimed plane of type typ that crtc can use
func (p *PlanePool) Claim(crtc kms.CrtcHandle, typ kms.PlaneType) (kms.PlaneHandle, bool) {
	for i, plane := range p.planes {
		if !p.Compatible(plane, crtc) {
			continue
		}
		value, err := kms.PropertyValue(p.dev, uint32(plane), kms.ObjectPlane, "type")
		if err != nil || kms.PlaneType(value) != typ {
			continue
		}
		p.planes = append(p.planes[:i], p.planes[i+1:]...)
		return plane, true
	}
	return 0, false
}

// Release returns planes to the pool
func (p *PlanePool) Release(planes ...kms.PlaneHandle) {
	p.planes = append(p.planes, planes...)
	sort.Slice(p.planes, func(i, j int) bool { return p.planes[i] < p.planes[j] })
}
