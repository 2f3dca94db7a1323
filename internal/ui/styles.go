// Package ui holds the lipgloss styles shared by the terminal client.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#FF0000")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
)

// Base styles reused by UI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	LiveBadgeStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ScrollBadgeStyle = lipgloss.NewStyle().
				Foreground(ColorYellow).
				Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	BarFilledStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	BarConcatStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	BarEmptyStyle = lipgloss.NewStyle().
			Foreground(ColorGray)
)

// Run status badges, keyed by status name.
var statusStyles = map[string]lipgloss.Style{
	"idle":         lipgloss.NewStyle().Foreground(ColorGray),
	"preparing":    lipgloss.NewStyle().Foreground(ColorMagenta).Bold(true),
	"transcribing": lipgloss.NewStyle().Foreground(ColorGreen).Bold(true),
	"paused":       lipgloss.NewStyle().Foreground(ColorYellow).Bold(true),
	"completed":    lipgloss.NewStyle().Foreground(ColorCyan).Bold(true),
	"failed":       lipgloss.NewStyle().Foreground(ColorRed).Bold(true),
	"cancelled":    lipgloss.NewStyle().Foreground(ColorRed),
}

var statusGlyphs = map[string]string{
	"idle":         "○",
	"preparing":    "⟳",
	"transcribing": "●",
	"paused":       "‖",
	"completed":    "✓",
	"failed":       "✗",
	"cancelled":    "■",
}

// StatusBadge renders a status name with its glyph and color.
func StatusBadge(status string) string {
	style, ok := statusStyles[status]
	if !ok {
		style = DimStyle
	}
	glyph := statusGlyphs[status]
	if glyph == "" {
		glyph = "?"
	}
	return style.Render(glyph + " " + strings.ToUpper(status))
}
