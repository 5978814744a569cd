package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/bnema/dreampipe/internal/kms"
	"github.com/bnema/dreampipe/internal/output"
	"github.com/bnema/dreampipe/internal/present"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		Headers(headers...)
}

func cellStyle(style lipgloss.Style) lipgloss.Style {
	return style.Padding(0, 1)
}

// ConnectorsTable renders the probed connectors of one or more cards
func ConnectorsTable(conns []output.Connector) string {
	rows := make([][]string, 0, len(conns))
	for _, c := range conns {
		mode := "-"
		if len(c.Modes) > 0 {
			mode = c.Modes[0].String()
		}
		rows = append(rows, []string{
			string(c.ID),
			c.State.String(),
			mode,
			fmt.Sprintf("%d", len(c.Modes)),
		})
	}

	t := newTable("CONNECTOR", "STATE", "PREFERRED", "MODES").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return cellStyle(HeaderStyle)
			case col == 1 && conns[row].State == kms.Connected:
				return cellStyle(SuccessStyle)
			case col == 1:
				return cellStyle(SubtleStyle)
			case col == 0 && conns[row].Qualified:
				return cellStyle(InfoStyle.Bold(true))
			default:
				return cellStyle(TextStyle)
			}
		}).
		Rows(rows...)
	return t.String()
}

// OutputsTable renders live output statistics
func OutputsTable(outputs []present.OutputStats) string {
	rows := make([][]string, 0, len(outputs))
	for _, o := range outputs {
		planes := fmt.Sprintf("%d", o.Planes)
		if o.Cursor {
			planes += " +cursor"
		}
		rows = append(rows, []string{
			string(o.ID),
			o.Mode,
			fmt.Sprintf("%d,%d", o.X, o.Y),
			o.State.String(),
			fmt.Sprintf("%d", o.Flips),
			fmt.Sprintf("%d", o.Dropped),
			planes,
		})
	}

	t := newTable("OUTPUT", "MODE", "POSITION", "STATE", "FLIPS", "DROPPED", "PLANES").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return cellStyle(HeaderStyle)
			case col == 3:
				return cellStyle(StateStyle(outputs[row].State))
			case col == 5 && outputs[row].Dropped > 0:
				return cellStyle(WarningStyle)
			default:
				return cellStyle(TextStyle)
			}
		}).
		Rows(rows...)
	return t.String()
}

// Summary is the one-line footer under an outputs table
func Summary(stats present.Stats) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d card(s)", stats.Devices))
	parts = append(parts, fmt.Sprintf("%d output(s)", len(stats.Outputs)))
	parts = append(parts, fmt.Sprintf("%d frame(s)", stats.Frames))
	return SubtleStyle.Render(strings.Join(parts, ", "))
}
