package fourcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCodes(t *testing.T) {
	// Values from drm_fourcc.h
	assert.Equal(t, Format(0x34325258), XRGB8888)
	assert.Equal(t, Format(0x34325241), ARGB8888)
	assert.Equal(t, Format(0x3231564e), NV12)
}

func TestDepthBpp(t *testing.T) {
	tests := []struct {
		format Format
		depth  uint32
		bpp    uint32
	}{
		{XRGB8888, 24, 32},
		{ARGB8888, 32, 32},
		{RGB565, 16, 16},
		{XRGB2101010, 30, 32},
		{C8, 8, 8},
		{Format(0), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.depth, tt.format.Depth())
			assert.Equal(t, tt.bpp, tt.format.Bpp())
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "XR24", XRGB8888.String())
	assert.Equal(t, "0x00000000", Format(0).String())
	assert.True(t, XRGB8888.Known())
	assert.False(t, Format(1).Known())
}
