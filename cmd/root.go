package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/dreampipe/internal/config"
	"github.com/bnema/dreampipe/internal/logger"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "dreampipe",
		Short: "Dreampipe - DRM/KMS presentation backend",
		Long: `Dreampipe drives every connected display of the DRM cards it finds.
It claims a CRTC and planes for each connector, allocates triple-buffered
scanout buffers, and keeps them flipping through atomic commits.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/dreampipe/dreampipe.toml)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		config.SetConfigPath(configPath)
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level := config.Get().Logging.Level; level != "" {
		logger.SetLevel(level)
	}
	return nil
}
