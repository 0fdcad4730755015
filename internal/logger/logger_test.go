package logger

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("") })

	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"warning", log.WarnLevel},
		{"Error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			SetLevel(tt.in)
			assert.Equal(t, tt.want, Logger.GetLevel())
		})
	}
}

func TestSlogWritesThroughPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	old := Logger
	Logger = log.New(&buf)
	t.Cleanup(func() { Logger = old })

	Slog().Info("frame exported", "seq", 7)
	assert.Contains(t, buf.String(), "frame exported")
	assert.Contains(t, buf.String(), "seq=7")
}
