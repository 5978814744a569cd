package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bnema/dreampipe/internal/config"
	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/logger"
	"github.com/bnema/dreampipe/internal/output"
	"github.com/bnema/dreampipe/internal/ui"
)

var outputsJSON bool

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List the connectors of every card",
	Long: `Probe the connectors of every DRM card without claiming any resource.
Qualified connectors (connected, with at least one mode) are the ones run
will drive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		devices := openCards(cfg.Devices.Cards, cfg.Devices.MaxCards)
		if len(devices) == 0 {
			return errNoCards
		}
		defer func() {
			for _, dev := range devices {
				if err := dev.Close(); err != nil {
					logger.Debug("Failed to close card", "card", dev.Index(), "error", err)
				}
			}
		}()

		conns := probeAll(devices)
		if outputsJSON {
			return writeConnectorsJSON(cmd.OutOrStdout(), conns)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.ConnectorsTable(conns))
		return nil
	},
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Print connectors as JSON")
	rootCmd.AddCommand(outputsCmd)
}

func probeAll(devices []kms.Device) []output.Connector {
	var conns []output.Connector
	for _, dev := range devices {
		found, err := output.Probe(dev)
		if err != nil {
			logger.Warn("Failed to probe card", "card", dev.Index(), "error", err)
			continue
		}
		conns = append(conns, found...)
	}
	return conns
}

// ConnectorJSON is the machine readable form of a probed connector
type ConnectorJSON struct {
	ID        string   `json:"id"`
	State     string   `json:"state"`
	Qualified bool     `json:"qualified"`
	Modes     []string `json:"modes"`
}

func writeConnectorsJSON(w io.Writer, conns []output.Connector) error {
	out := make([]ConnectorJSON, 0, len(conns))
	for _, c := range conns {
		modes := make([]string, 0, len(c.Modes))
		for _, m := range c.Modes {
			modes = append(modes, m.String())
		}
		out = append(out, ConnectorJSON{
			ID:        string(c.ID),
			State:     c.State.String(),
			Qualified: c.Qualified,
			Modes:     modes,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
