package ui

import (
	"github.com/charmbracelet/lipgloss"

	"coddy/internal/store"
)

// Theme colors used throughout the UI
const (
	ColorAccent    = "86"  // Cyan/green - for titles, highlights
	ColorHighlight = "205" // Magenta - for borders
	ColorDanger    = "196" // Red - for failures
	ColorMuted     = "241" // Gray - for dimmed text, hints
	ColorText      = "252" // Light gray - for normal text
	ColorWarning   = "208" // Orange - for waiting states
	ColorSuccess   = "42"  // Green - for done
)

// Styles contains shared style definitions used across views.
var Styles = struct {
	Title  lipgloss.Style
	Box    lipgloss.Style
	Muted  lipgloss.Style
	Normal lipgloss.Style
	Hint   lipgloss.Style
	Empty  lipgloss.Style
	Error  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
}{
	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorAccent)),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorHighlight)).
		Padding(0, 1),
	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorMuted)),
	Normal: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorText)),
	Hint: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorMuted)),
	Empty: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorMuted)).
		Italic(true),
	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorDanger)),
	Header: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorAccent)).
		Padding(0, 1),
	Cell: lipgloss.NewStyle().
		Padding(0, 1),
}

// StatusStyle colours a record status.
func StatusStyle(s store.Status) lipgloss.Style {
	switch s {
	case store.StatusDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess))
	case store.StatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDanger))
	case store.StatusInProgress, store.StatusQueued:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	case store.StatusPendingPlan, store.StatusWaitingConfirmation:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning))
	default:
		return Styles.Muted
	}
}
