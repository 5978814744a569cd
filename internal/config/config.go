// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Devices   DevicesConfig   `mapstructure:"devices"`
	Swapchain SwapchainConfig `mapstructure:"swapchain"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// Per-output position hints, keyed by output identity
	Outputs map[string]OutputConfig `mapstructure:"outputs"`
}

// DevicesConfig selects the DRM cards to drive
type DevicesConfig struct {
	MaxCards int   `mapstructure:"max_cards"` // Highest card index scanned is max_cards-1
	Cards    []int `mapstructure:"cards"`     // Explicit card indices; empty scans all
}

// SwapchainConfig contains buffer allocation settings
type SwapchainConfig struct {
	CursorSize     int  `mapstructure:"cursor_size"`
	Overlays       int  `mapstructure:"overlays"`        // Overlay planes claimed per output
	ImportTextures bool `mapstructure:"import_textures"` // Import buffers into the GPU renderer
}

// LoopConfig contains presentation loop timing
type LoopConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RescanInterval time.Duration `mapstructure:"rescan_interval"`
	Duration       time.Duration `mapstructure:"duration"` // 0 runs until interrupted
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"` // Override LOG_LEVEL env var
}

// OutputConfig positions one output in the layout
type OutputConfig struct {
	X int32 `mapstructure:"x"`
	Y int32 `mapstructure:"y"`
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Devices: DevicesConfig{
			MaxCards: 16,
			Cards:    []int{},
		},
		Swapchain: SwapchainConfig{
			CursorSize:     128,
			Overlays:       0,
			ImportTextures: true,
		},
		Loop: LoopConfig{
			TickInterval:   16 * time.Millisecond,
			RescanInterval: 2 * time.Second,
			Duration:       0,
		},
		Logging: LoggingConfig{
			Level: "", // Empty means use LOG_LEVEL env var
		},
		Outputs: map[string]OutputConfig{},
	}

	// Global config instance
	cfg *Config
	mu  sync.RWMutex

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("dreampipe")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath(userConfigDir())
		viper.AddConfigPath("/etc/dreampipe")
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("devices.max_cards", DefaultConfig.Devices.MaxCards)
	viper.SetDefault("devices.cards", DefaultConfig.Devices.Cards)

	viper.SetDefault("swapchain.cursor_size", DefaultConfig.Swapchain.CursorSize)
	viper.SetDefault("swapchain.overlays", DefaultConfig.Swapchain.Overlays)
	viper.SetDefault("swapchain.import_textures", DefaultConfig.Swapchain.ImportTextures)

	viper.SetDefault("loop.tick_interval", DefaultConfig.Loop.TickInterval.String())
	viper.SetDefault("loop.rescan_interval", DefaultConfig.Loop.RescanInterval.String())
	viper.SetDefault("loop.duration", DefaultConfig.Loop.Duration.String())

	viper.SetDefault("logging.level", DefaultConfig.Logging.Level)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		// An explicit path that does not exist yet is created by Save
		if !notFound && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return reload()
}

func reload() error {
	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if c.Outputs == nil {
		c.Outputs = map[string]OutputConfig{}
	}
	Set(c)
	return nil
}

// Get returns the current configuration
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	mu.Lock()
	cfg = c
	mu.Unlock()
}

// Watch reloads the configuration whenever the file changes and passes the
// new value to fn. fn runs on the watcher goroutine.
func Watch(fn func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := reload(); err != nil {
			return
		}
		fn(Get())
	})
	viper.WatchConfig()
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		// If we can't create it (e.g., /etc/dreampipe needs sudo), provide helpful message
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	// If override is set, use that
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	return filepath.Join(userConfigDir(), "dreampipe.toml")
}

// userConfigDir resolves $XDG_CONFIG_HOME/dreampipe, following SUDO_USER
// when running under sudo
func userConfigDir() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		return filepath.Join("/home", sudoUser, ".config", "dreampipe")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dreampipe")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "dreampipe")
	}
	return "/etc/dreampipe"
}

// outputKey is the viper key of an output. Viper keys are case-insensitive.
func outputKey(id string) string {
	return "outputs." + strings.ToLower(id)
}

// Placement returns the configured position hint of an output
func (c *Config) Placement(id string) (x, y int32, ok bool) {
	if o, found := c.Outputs[strings.ToLower(id)]; found {
		return o.X, o.Y, true
	}
	return 0, 0, false
}

// SetOutputPosition stores the position hint of an output and saves the file
func SetOutputPosition(id string, x, y int32) error {
	key := outputKey(id)
	viper.Set(key+".x", x)
	viper.Set(key+".y", y)

	c := *Get()
	c.Outputs = make(map[string]OutputConfig, len(c.Outputs)+1)
	for k, v := range Get().Outputs {
		c.Outputs[k] = v
	}
	c.Outputs[strings.ToLower(id)] = OutputConfig{X: x, Y: y}
	Set(&c)
	return Save()
}

