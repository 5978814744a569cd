package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every config lookup at a fresh temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("SUDO_USER", "")
	viper.Reset()
	SetConfigPath("")
	Set(nil)
	t.Cleanup(func() {
		viper.Reset()
		SetConfigPath("")
		Set(nil)
	})
	return dir
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		isolate(t)
		oldWd, _ := os.Getwd()
		require.NoError(t, os.Chdir(t.TempDir()))
		defer os.Chdir(oldWd)

		require.NoError(t, Init())

		config := Get()
		require.NotNil(t, config)
		assert.Equal(t, 16, config.Devices.MaxCards)
		assert.Empty(t, config.Devices.Cards)
		assert.Equal(t, 128, config.Swapchain.CursorSize)
		assert.Equal(t, 0, config.Swapchain.Overlays)
		assert.True(t, config.Swapchain.ImportTextures)
		assert.Equal(t, 16*time.Millisecond, config.Loop.TickInterval)
		assert.Equal(t, 2*time.Second, config.Loop.RescanInterval)
		assert.Zero(t, config.Loop.Duration)
		assert.NotNil(t, config.Outputs)
	})

	t.Run("reads values from file", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "custom.toml")
		content := `[devices]
cards = [1]

[swapchain]
cursor_size = 64
overlays = 2
import_textures = false

[loop]
tick_interval = "4ms"
duration = "10s"

[outputs.card1-DP-3]
x = 1
y = 0
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		SetConfigPath(path)

		require.NoError(t, Init())

		config := Get()
		assert.Equal(t, []int{1}, config.Devices.Cards)
		assert.Equal(t, 16, config.Devices.MaxCards, "unset keys keep their default")
		assert.Equal(t, 64, config.Swapchain.CursorSize)
		assert.Equal(t, 2, config.Swapchain.Overlays)
		assert.False(t, config.Swapchain.ImportTextures)
		assert.Equal(t, 4*time.Millisecond, config.Loop.TickInterval)
		assert.Equal(t, 10*time.Second, config.Loop.Duration)

		x, y, ok := config.Placement("card1-DP-3")
		assert.True(t, ok)
		assert.Equal(t, int32(1), x)
		assert.Equal(t, int32(0), y)
	})

	t.Run("returns error on invalid TOML", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "broken.toml")
		require.NoError(t, os.WriteFile(path, []byte("[devices\nmax_cards = 4"), 0644))
		SetConfigPath(path)

		err := Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}

func TestGetWithoutInit(t *testing.T) {
	isolate(t)
	assert.Same(t, &DefaultConfig, Get())
}

func TestConfigPathResolution(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		override     string
		expectedPath string
	}{
		{
			name:         "xdg config home",
			env:          map[string]string{"XDG_CONFIG_HOME": "/home/testuser/.xdg"},
			expectedPath: "/home/testuser/.xdg/dreampipe/dreampipe.toml",
		},
		{
			name:         "home fallback",
			env:          map[string]string{"XDG_CONFIG_HOME": "", "HOME": "/home/testuser"},
			expectedPath: "/home/testuser/.config/dreampipe/dreampipe.toml",
		},
		{
			name:         "running with sudo",
			env:          map[string]string{"SUDO_USER": "testuser"},
			expectedPath: "/home/testuser/.config/dreampipe/dreampipe.toml",
		},
		{
			name:         "explicit override",
			override:     "/tmp/dp.toml",
			expectedPath: "/tmp/dp.toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			SetConfigPath(tt.override)

			assert.Equal(t, tt.expectedPath, GetConfigPath())
		})
	}
}

func TestPlacement(t *testing.T) {
	c := &Config{Outputs: map[string]OutputConfig{
		"card0-hdmi-a-1": {X: 0, Y: 1},
	}}

	x, y, ok := c.Placement("card0-HDMI-A-1")
	assert.True(t, ok)
	assert.Equal(t, int32(0), x)
	assert.Equal(t, int32(1), y)

	_, _, ok = c.Placement("card0-DP-1")
	assert.False(t, ok)
}

func TestSetOutputPosition(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "dreampipe.toml")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	SetConfigPath(path)
	require.NoError(t, Init())

	require.NoError(t, SetOutputPosition("card0-DP-1", 2, 1))

	x, y, ok := Get().Placement("card0-DP-1")
	require.True(t, ok)
	assert.Equal(t, int32(2), x)
	assert.Equal(t, int32(1), y)
	assert.Empty(t, DefaultConfig.Outputs, "defaults must not be modified")

	// The value survives a reload from disk
	viper.Reset()
	require.NoError(t, Init())
	x, y, ok = Get().Placement("card0-DP-1")
	require.True(t, ok)
	assert.Equal(t, int32(2), x)
	assert.Equal(t, int32(1), y)
}

func TestInitExplicitMissingFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "new", "dreampipe.toml")
	SetConfigPath(path)

	require.NoError(t, Init())
	assert.Equal(t, 128, Get().Swapchain.CursorSize)

	require.NoError(t, Save())
	assert.FileExists(t, path)
}
