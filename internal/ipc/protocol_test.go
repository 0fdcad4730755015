package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestStatusResponseRoundTrip(t *testing.T) {
	status := &Status{
		State:    "running",
		Socket:   "wayland-1",
		Caps:     "video/x-raw,format=RGBx,width=1280,height=720,framerate=60/1",
		Sequence: 1234,
		Pushed:   1234,
		Dropped:  17,
		Clients:  2,
		Devices:  []string{"/dev/dri/renderD128", "/dev/dri/card0"},
		Env:      []string{"WAYLAND_DISPLAY=wayland-1", "XDG_RUNTIME_DIR=/run/user/1000"},
		Inputs: []Input{
			{Path: "/dev/input/event5", Name: "virtual mouse", Kinds: "pointer"},
			{Path: "/dev/input/event6", Name: "virtual keyboard", Kinds: "keyboard", Lost: true},
		},
		Digest: "ab12",
	}

	got, err := Unmarshal(NewStatusResponse(status).Marshal())
	require.NoError(t, err)
	assert.Equal(t, MessageStatusResponse, got.Type)
	assert.Equal(t, status, got.Status)
}

func TestZeroValuesAreOmitted(t *testing.T) {
	b := NewStatusResponse(&Status{}).Marshal()
	// type tag + varint, status tag + empty length
	assert.Len(t, b, 4)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, &Status{}, got.Status)
}

func TestErrorMessage(t *testing.T) {
	got, err := Unmarshal(NewErrorMessage("display %s", "stopped").Marshal())
	require.NoError(t, err)
	assert.Equal(t, MessageError, got.Type)
	assert.Equal(t, "display stopped", got.Error)
	assert.Nil(t, got.Status)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := NewStatusQuery().Marshal()
	b = protowire.AppendTag(b, 42, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	b = protowire.AppendTag(b, 43, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, MessageStatusQuery, got.Type)
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated varint", []byte{0x08, 0x80}},
		{"truncated bytes", []byte{0x08, 0x02, 0x12, 0x05, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, errMalformed)
		})
	}
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "status-query", MessageStatusQuery.String())
	assert.Equal(t, "unknown(9)", MessageType(9).String())
}
