package vinput

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInput lays out sysfs input entries and their /dev nodes.
func fakeInput(t *testing.T, names map[string]string, withDev bool) Roots {
	t.Helper()
	roots := Roots{Sys: t.TempDir(), Dev: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(roots.Dev, "input"), 0755))
	for event, name := range names {
		dir := filepath.Join(roots.Sys, "class", "input", event, "device")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte(name+"\n"), 0644))
		if withDev {
			require.NoError(t, os.WriteFile(filepath.Join(roots.Dev, "input", event), nil, 0600))
		}
	}
	return roots
}

func TestFindEventNode(t *testing.T) {
	roots := fakeInput(t, map[string]string{
		"event3": "AT Translated Set 2 keyboard",
		"event7": "waydisplay Mouse",
		"event8": "waydisplay Keyboard",
	}, true)

	tests := []struct {
		name string
		want string
	}{
		{"waydisplay Mouse", filepath.Join(roots.Dev, "input", "event7")},
		{"waydisplay Keyboard", filepath.Join(roots.Dev, "input", "event8")},
		{"waydisplay", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindEventNode(roots, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWaitEventNodeTimesOut(t *testing.T) {
	roots := fakeInput(t, map[string]string{"event7": "waydisplay Mouse"}, false)

	start := time.Now()
	_, err := WaitEventNode(roots, "waydisplay Mouse", 60*time.Millisecond)
	assert.ErrorIs(t, err, ErrNodeNotFound, "sysfs entry without a /dev node")
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWaitEventNodeSeesLateNode(t *testing.T) {
	roots := fakeInput(t, map[string]string{"event7": "waydisplay Mouse"}, false)

	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(filepath.Join(roots.Dev, "input", "event7"), nil, 0600)
	}()
	node, err := WaitEventNode(roots, "waydisplay Mouse", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(roots.Dev, "input", "event7"), node)
}

func TestCreate(t *testing.T) {
	f, err := os.OpenFile(DefaultUinput, os.O_WRONLY, 0)
	if err != nil {
		t.Skipf("no writable %s: %v", DefaultUinput, err)
	}
	f.Close()

	d, err := Create("", "waydisplay-test", 2*time.Second)
	require.NoError(t, err)
	defer d.Close()

	assert.Len(t, d.Nodes(), 2)
	assert.NoError(t, d.Nudge(5))
	assert.NoError(t, d.Close())
	assert.NoError(t, d.Close(), "closing twice is harmless")
}
