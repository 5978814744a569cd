package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/bnema/dreampipe/internal/config"
	"github.com/bnema/dreampipe/internal/gbm"
	"github.com/bnema/dreampipe/internal/gpu"
	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/logger"
	"github.com/bnema/dreampipe/internal/output"
	"github.com/bnema/dreampipe/internal/present"
	"github.com/bnema/dreampipe/internal/ui"
)

var (
	errNoCards    = errors.New("no usable DRM card found")
	errAllStopped = errors.New("every device stopped")
)

var (
	runTUI      bool
	runJSON     bool
	runDuration time.Duration
	runCards    []int

	// statsInterval paces snapshots sent to the status view
	statsInterval = 250 * time.Millisecond

	// Replaced in tests
	openCards    = openCardDevices
	newAllocator = gbm.NewAllocator
	newGPUDriver = gpu.NewVulkanDriver
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive every connected output",
	Long: `Open the DRM cards, acquire every connected output and keep the
triple-buffered swapchains flipping until interrupted or until --duration
has elapsed. Hot-plugged connectors are picked up on the next rescan.`,
	RunE: runPresent,
}

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the inline status view")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the final statistics as JSON")
	runCmd.Flags().IntSliceVar(&runCards, "card", nil, "Card index to drive (repeatable, default scans all)")

	// Bind flags to viper
	viper.BindPFlag("loop.duration", runCmd.Flags().Lookup("duration"))
	viper.BindPFlag("devices.cards", runCmd.Flags().Lookup("card"))

	rootCmd.AddCommand(runCmd)
}

func runPresent(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	devices := openCards(cfg.Devices.Cards, cfg.Devices.MaxCards)
	if len(devices) == 0 {
		return errNoCards
	}

	comp, cleanup, err := buildCompositor(cfg, devices)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.Loop.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Loop.Duration)
		defer cancel()
	}

	reload := make(chan *config.Config, 1)
	if _, err := os.Stat(config.GetConfigPath()); err == nil {
		config.Watch(func(c *config.Config) {
			select {
			case reload <- c:
			default:
			}
		})
	}

	l := &loop{
		comp:   comp,
		tick:   orDefault(cfg.Loop.TickInterval, config.DefaultConfig.Loop.TickInterval),
		rescan: orDefault(cfg.Loop.RescanInterval, config.DefaultConfig.Loop.RescanInterval),
		reload: reload,
	}

	if !runTUI {
		err = l.run(ctx)
		return multierr.Append(err, writeStats(cmd.OutOrStdout(), comp.Stats(), runJSON))
	}
	return runWithStatus(ctx, cancel, l)
}

func writeStats(w io.Writer, stats present.Stats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintln(w, ui.OutputsTable(stats.Outputs))
	fmt.Fprintln(w, ui.Summary(stats))
	return nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// runWithStatus runs the loop on its own goroutine while the status view
// owns the terminal. Logs are redirected under the status bar and the
// view's rescan key goes through a controller back to the loop.
func runWithStatus(ctx context.Context, cancel context.CancelFunc, l *loop) error {
	ctrl := newController()
	defer ctrl.stop()
	l.requests = ctrl.requests

	model := ui.NewStatusModel()
	model.SetRescan(func() (int, error) {
		return ctrl.Rescan(ctx)
	})
	runner := ui.NewProgramRunner(model, os.Stdin, os.Stdout)
	logger.SetOutput(ui.NewLogWriter(runner))
	defer logger.SetOutput(os.Stderr)

	l.notify = func(stats present.Stats) {
		runner.Send(ui.StatsMsg{Stats: stats})
	}

	done := make(chan error, 1)
	go func() {
		err := l.run(ctx)
		ctrl.stop()
		runner.Send(ui.StoppedMsg{Err: err})
		done <- err
	}()

	uiErr := runner.Run(ctx)
	cancel()
	return multierr.Append(<-done, uiErr)
}

// openCardDevices opens the listed cards, or scans indices below max when
// none are listed
func openCardDevices(cards []int, max int) []kms.Device {
	if len(cards) == 0 {
		return kms.OpenAll(max)
	}
	var devices []kms.Device
	for _, index := range cards {
		dev, err := kms.Open(index)
		if err != nil {
			logger.Warn("Skipping card", "card", index, "error", err)
			continue
		}
		devices = append(devices, dev)
	}
	return devices
}

// buildCompositor gives every device an allocator and a pipeline. Devices
// without a buffer allocator are closed and skipped. The returned cleanup
// releases outputs before the allocators and the GPU driver they use.
func buildCompositor(cfg *config.Config, devices []kms.Device) (*present.Compositor, func(), error) {
	var bridge *gpu.Bridge
	var driver gpu.Driver
	if cfg.Swapchain.ImportTextures {
		d, err := newGPUDriver()
		if err != nil {
			logger.Warn("Texture import disabled", "error", err)
		} else {
			driver = d
			bridge = gpu.NewBridge(d)
		}
	}

	comp := present.NewCompositor()
	var allocators []gbm.Allocator
	for _, dev := range devices {
		alloc, err := newAllocator(dev)
		if err != nil {
			logger.Warn("Skipping card without buffer allocator", "card", dev.Index(), "error", err)
			dev.Close()
			continue
		}
		allocators = append(allocators, alloc)
		comp.AddDevice(dev, output.Deps{
			Allocator:  alloc,
			Bridge:     bridge,
			CursorSize: uint32(cfg.Swapchain.CursorSize),
			Overlays:   cfg.Swapchain.Overlays,
		})
	}
	comp.SetLayout(cfg)

	cleanup := func() {
		err := comp.Close()
		for _, alloc := range allocators {
			err = multierr.Append(err, alloc.Close())
		}
		if driver != nil {
			err = multierr.Append(err, driver.Close())
		}
		if err != nil {
			logger.Warn("Shutdown incomplete", "error", err)
		}
	}

	if comp.Len() == 0 {
		cleanup()
		return nil, nil, errNoCards
	}
	return comp, cleanup, nil
}

// loop polls every device on a fixed tick and rescans connectors on a
// slower one. It is the only goroutine touching the compositor.
type loop struct {
	comp     *present.Compositor
	tick     time.Duration
	rescan   time.Duration
	reload   <-chan *config.Config
	requests <-chan rescanRequest
	notify   func(present.Stats)
}

func (l *loop) run(ctx context.Context) error {
	added := l.comp.Rescan()
	logger.Info("Presentation started", "cards", l.comp.Len(), "outputs", added)

	tick := time.NewTicker(l.tick)
	defer tick.Stop()
	rescan := time.NewTicker(l.rescan)
	defer rescan.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	l.publish()
	for {
		select {
		case <-ctx.Done():
			s := l.comp.Stats()
			logger.Info("Presentation stopped", "frames", s.Frames, "outputs", len(s.Outputs))
			return nil

		case <-tick.C:
			l.comp.Tick()
			if !l.comp.Running() {
				l.publish()
				return errAllStopped
			}

		case <-rescan.C:
			if n := l.comp.Rescan(); n > 0 {
				logger.Info("Acquired new outputs", "count", n)
			}

		case <-stats.C:
			l.publish()

		case req := <-l.requests:
			n := l.comp.Rescan()
			l.publish()
			req.reply <- n

		case c := <-l.reload:
			logger.Info("Configuration changed, re-arranging outputs")
			if c.Logging.Level != "" {
				logger.SetLevel(c.Logging.Level)
			}
			l.comp.SetLayout(c)
		}
	}
}

func (l *loop) publish() {
	if l.notify != nil {
		l.notify(l.comp.Stats())
	}
}
