package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/dreampipe/internal/config"
	"github.com/bnema/dreampipe/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dreampipe configuration",
	Long:  `Manage dreampipe configuration including output placements and loop timing.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Config file: %s\n\n", config.GetConfigPath())

		fmt.Fprintln(out, "[devices]")
		fmt.Fprintf(out, "  max_cards = %d\n", cfg.Devices.MaxCards)
		fmt.Fprintf(out, "  cards = %v\n", cfg.Devices.Cards)

		fmt.Fprintln(out, "\n[swapchain]")
		fmt.Fprintf(out, "  cursor_size = %d\n", cfg.Swapchain.CursorSize)
		fmt.Fprintf(out, "  overlays = %d\n", cfg.Swapchain.Overlays)
		fmt.Fprintf(out, "  import_textures = %v\n", cfg.Swapchain.ImportTextures)

		fmt.Fprintln(out, "\n[loop]")
		fmt.Fprintf(out, "  tick_interval = %s\n", cfg.Loop.TickInterval)
		fmt.Fprintf(out, "  rescan_interval = %s\n", cfg.Loop.RescanInterval)
		fmt.Fprintf(out, "  duration = %s\n", cfg.Loop.Duration)

		fmt.Fprintln(out, "\n[logging]")
		fmt.Fprintf(out, "  level = %q\n", cfg.Logging.Level)

		if len(cfg.Outputs) > 0 {
			fmt.Fprintln(out, "\n[outputs]")
			ids := make([]string, 0, len(cfg.Outputs))
			for id := range cfg.Outputs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				o := cfg.Outputs[id]
				fmt.Fprintf(out, "  %s = %d,%d\n", id, o.X, o.Y)
			}
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save current configuration to file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", config.GetConfigPath())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Write a configuration file. Without --yes an interactive form asks for
the swapchain and loop settings first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			if err := promptSettings(config.Get()); err != nil {
				return err
			}
		}

		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration initialized at: %s", configPath)
		return nil
	},
}

var configPositionCmd = &cobra.Command{
	Use:   "position <output> <x> <y>",
	Short: "Set the position hint of an output",
	Long: `Store a layout hint for an output, e.g. "dreampipe config position card0-DP-1 2560 0".
Outputs sharing a y hint form a row ordered by their x hint.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := parseCoord(args[1])
		if err != nil {
			return err
		}
		y, err := parseCoord(args[2])
		if err != nil {
			return err
		}
		if err := config.SetOutputPosition(args[0], x, y); err != nil {
			return err
		}
		logger.Infof("Output %s positioned at %d,%d", args[0], x, y)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSaveCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPositionCmd)

	configInitCmd.Flags().Bool("force", false, "Force overwrite existing configuration")
	configInitCmd.Flags().BoolP("yes", "y", false, "Write the current settings without prompting")

	rootCmd.AddCommand(configCmd)
}

func parseCoord(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate %q: %w", s, err)
	}
	return int32(v), nil
}

// promptSettings asks for the settings that matter on a new machine and
// stores the answers in viper
func promptSettings(cfg *config.Config) error {
	cursor := cfg.Swapchain.CursorSize
	overlays := strconv.Itoa(cfg.Swapchain.Overlays)
	importTextures := cfg.Swapchain.ImportTextures
	tick := cfg.Loop.TickInterval.String()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Cursor plane size").
				Description("Most drivers accept 64; recent hardware supports 128 or 256").
				Options(
					huh.NewOption("64x64", 64),
					huh.NewOption("128x128", 128),
					huh.NewOption("256x256", 256),
				).
				Value(&cursor),
			huh.NewInput().
				Title("Overlay planes per output").
				Value(&overlays).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 0 {
						return fmt.Errorf("enter a non-negative number")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Import buffers into the GPU renderer?").
				Description("Requires a build with the vulkan tag").
				Value(&importTextures),
			huh.NewInput().
				Title("Event poll interval").
				Value(&tick).
				Validate(func(s string) error {
					d, err := time.ParseDuration(s)
					if err != nil || d <= 0 {
						return fmt.Errorf("enter a positive duration, e.g. 16ms")
					}
					return nil
				}),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	n, _ := strconv.Atoi(overlays)
	viper.Set("swapchain.cursor_size", cursor)
	viper.Set("swapchain.overlays", n)
	viper.Set("swapchain.import_textures", importTextures)
	viper.Set("loop.tick_interval", tick)
	return nil
}
