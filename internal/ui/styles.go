// Package ui provides consistent styling and terminal views for the dreampipe CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/dreampipe/internal/present"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText      = lipgloss.Color("252")
	ColorSubtle    = lipgloss.Color("241")
	ColorMuted     = lipgloss.Color("238")
	ColorHighlight = lipgloss.Color("255")
)

var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	NameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)
)

// Icons
var (
	IconConnected    = "●"
	IconDisconnected = "○"
	IconSuccess      = "✓"
	IconError        = "✗"
)

// StateStyle colors an output state: flipping outputs are green, outputs
// still waiting on their modeset are cyan and torn down ones are red.
func StateStyle(s present.State) lipgloss.Style {
	switch s {
	case present.StateAwaitingFlip, present.StateAdvanced:
		return SuccessStyle
	case present.StateAcquired, present.StateCommitted:
		return InfoStyle
	case present.StateTornDown:
		return ErrorStyle
	default:
		return SubtleStyle
	}
}

// FormatStatus renders an indicator followed by status
func FormatStatus(connected bool, status string) string {
	if connected {
		return SuccessStyle.Render(IconConnected) + " " + status
	}
	return ErrorStyle.Render(IconDisconnected) + " " + status
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}
	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}

// joinParts joins status bar segments the same way everywhere
func joinParts(parts []string) string {
	separator := MutedStyle.Render(" │ ")
	return strings.Join(parts, separator)
}
