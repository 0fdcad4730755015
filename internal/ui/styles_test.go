package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFormatField(t *testing.T) {
	tests := []struct {
		key   string
		value any
		want  string
	}{
		{"socket", "wayland-1", "wayland-1"},
		{"sequence", uint64(42), "42"},
		{"clients", 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := FormatField(tt.key, tt.value)
			assert.Contains(t, got, tt.key)
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestFormatState(t *testing.T) {
	tests := []struct {
		state string
		icon  string
	}{
		{"running", IconRunning},
		{"reconfiguring", IconRunning},
		{"stopped", IconStopped},
		{"error-stopped", IconError},
		{"", IconStopped},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got := FormatState(tt.state)
			assert.Contains(t, got, tt.icon)
			assert.Contains(t, got, tt.state)
		})
	}
}

func TestFormatResult(t *testing.T) {
	ok := FormatResult(true, "render node", "/dev/dri/renderD128")
	assert.Contains(t, ok, IconSuccess)
	assert.Contains(t, ok, "/dev/dri/renderD128")

	failed := FormatResult(false, "uinput", "")
	assert.Contains(t, failed, IconError)
	assert.NotContains(t, failed, " - ")
}

func TestCreateSeparator(t *testing.T) {
	tests := []struct {
		name  string
		width int
		char  string
		want  int
	}{
		{"default width", 0, "", 50},
		{"custom", 10, "=", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CreateSeparator(tt.width, tt.char)
			assert.Equal(t, tt.want, lipgloss.Width(got))
		})
	}
}

func TestFormatHeader(t *testing.T) {
	got := FormatHeader("Display")
	lines := strings.Split(got, "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Display")
}
