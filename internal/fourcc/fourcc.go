// Package fourcc describes DRM pixel formats by their four character codes.
package fourcc

import "fmt"

// Format is a DRM fourcc pixel format code
type Format uint32

func code(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Common formats. The list is not exhaustive; Depth and Bpp report 0 for
// formats outside the table.
var (
	C8            = code('C', '8', ' ', ' ')
	R8            = code('R', '8', ' ', ' ')
	R16           = code('R', '1', '6', ' ')
	RG88          = code('R', 'G', '8', '8')
	GR88          = code('G', 'R', '8', '8')
	RGB332        = code('R', 'G', 'B', '8')
	BGR233        = code('B', 'G', 'R', '8')
	XRGB4444      = code('X', 'R', '1', '2')
	ARGB4444      = code('A', 'R', '1', '2')
	XRGB1555      = code('X', 'R', '1', '5')
	ARGB1555      = code('A', 'R', '1', '5')
	RGB565        = code('R', 'G', '1', '6')
	BGR565        = code('B', 'G', '1', '6')
	RGB888        = code('R', 'G', '2', '4')
	BGR888        = code('B', 'G', '2', '4')
	XRGB8888      = code('X', 'R', '2', '4')
	XBGR8888      = code('X', 'B', '2', '4')
	RGBX8888      = code('R', 'X', '2', '4')
	BGRX8888      = code('B', 'X', '2', '4')
	ARGB8888      = code('A', 'R', '2', '4')
	ABGR8888      = code('A', 'B', '2', '4')
	RGBA8888      = code('R', 'A', '2', '4')
	BGRA8888      = code('B', 'A', '2', '4')
	XRGB2101010   = code('X', 'R', '3', '0')
	XBGR2101010   = code('X', 'B', '3', '0')
	ARGB2101010   = code('A', 'R', '3', '0')
	ABGR2101010   = code('A', 'B', '3', '0')
	XRGB16161616F = code('X', 'R', '4', 'H')
	ARGB16161616F = code('A', 'R', '4', 'H')
	YUYV          = code('Y', 'U', 'Y', 'V')
	UYVY          = code('U', 'Y', 'V', 'Y')
	NV12          = code('N', 'V', '1', '2')
	NV21          = code('N', 'V', '2', '1')
	NV16          = code('N', 'V', '1', '6')
	NV24          = code('N', 'V', '2', '4')
	P010          = code('P', '0', '1', '0')
	YUV420        = code('Y', 'U', '1', '2')
	YVU420        = code('Y', 'V', '1', '2')
)

// info holds the legacy AddFB parameters for a format. depth is the number
// of bits carrying colour, bpp the storage size per pixel.
type info struct {
	depth uint32
	bpp   uint32
}

var table = map[Format]info{
	C8:            {8, 8},
	R8:            {8, 8},
	RGB332:        {8, 8},
	BGR233:        {8, 8},
	NV12:          {12, 8},
	NV21:          {12, 8},
	YUV420:        {12, 8},
	YVU420:        {12, 8},
	P010:          {15, 16},
	R16:           {16, 16},
	RG88:          {16, 16},
	GR88:          {16, 16},
	XRGB4444:      {12, 16},
	ARGB4444:      {16, 16},
	XRGB1555:      {15, 16},
	ARGB1555:      {16, 16},
	RGB565:        {16, 16},
	BGR565:        {16, 16},
	YUYV:          {16, 16},
	UYVY:          {16, 16},
	NV16:          {16, 8},
	NV24:          {24, 8},
	RGB888:        {24, 24},
	BGR888:        {24, 24},
	XRGB8888:      {24, 32},
	XBGR8888:      {24, 32},
	RGBX8888:      {24, 32},
	BGRX8888:      {24, 32},
	ARGB8888:      {32, 32},
	ABGR8888:      {32, 32},
	RGBA8888:      {32, 32},
	BGRA8888:      {32, 32},
	XRGB2101010:   {30, 32},
	XBGR2101010:   {30, 32},
	ARGB2101010:   {32, 32},
	ABGR2101010:   {32, 32},
	XRGB16161616F: {48, 64},
	ARGB16161616F: {64, 64},
}

// Depth returns the colour depth in bits, 0 if unknown
func (f Format) Depth() uint32 {
	return table[f].depth
}

// Bpp returns the bits per pixel of the first plane, 0 if unknown
func (f Format) Bpp() uint32 {
	return table[f].bpp
}

// Known reports whether f is in the format table
func (f Format) Known() bool {
	_, ok := table[f]
	return ok
}

func (f Format) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}
