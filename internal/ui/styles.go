// Package ui provides consistent styling for the waydisplay CLI
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary = lipgloss.Color("39")  // Bright blue
	ColorSuccess = lipgloss.Color("82")  // Green
	ColorWarning = lipgloss.Color("214") // Orange
	ColorError   = lipgloss.Color("196") // Red
	ColorInfo    = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray
)

// Base styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	KeyStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorText)
)

// Icons
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconRunning = "●"
	IconStopped = "○"
	IconItem    = "•"
)

// FormatHeader renders a section title over a separator.
func FormatHeader(title string) string {
	return HeaderStyle.Render(title) + "\n" + CreateSeparator(50, "─")
}

// FormatField renders an aligned "key  value" line.
func FormatField(key string, value any) string {
	return "  " + KeyStyle.Render(key) + ValueStyle.Render(fmt.Sprint(value))
}

// FormatState renders a lifecycle state with a colored indicator.
func FormatState(state string) string {
	switch state {
	case "running", "reconfiguring":
		return SuccessStyle.Render(IconRunning) + " " + state
	case "error-stopped":
		return ErrorStyle.Render(IconError) + " " + state
	case "":
		return SubtleStyle.Render(IconStopped + " unknown")
	default:
		return WarningStyle.Render(IconStopped) + " " + state
	}
}

// FormatListItem renders an indented bullet.
func FormatListItem(item string, muted bool) string {
	style := TextStyle
	if muted {
		style = SubtleStyle
	}
	return "    " + InfoStyle.Render(IconItem) + " " + style.Render(item)
}

// FormatResult renders a success or failure line for a step.
func FormatResult(success bool, step, message string) string {
	icon := ErrorStyle.Render(IconError)
	style := ErrorStyle
	if success {
		icon = SuccessStyle.Render(IconSuccess)
		style = SuccessStyle
	}
	line := "  " + icon + " " + step
	if message != "" {
		line += " - " + style.Render(message)
	}
	return line
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
