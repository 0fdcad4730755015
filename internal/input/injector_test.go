package input

import (
	"testing"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	letters := []int{evdev.KEY_Q, evdev.KEY_W, evdev.KEY_A, evdev.KEY_S, evdev.KEY_Z, evdev.KEY_X}

	tests := []struct {
		name string
		caps map[int][]int
		want Kind
	}{
		{
			name: "relative mouse",
			caps: map[int][]int{
				evdev.EV_REL: {evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL},
				evdev.EV_KEY: {evdev.BTN_LEFT, evdev.BTN_RIGHT},
			},
			want: KindPointer,
		},
		{
			name: "keyboard",
			caps: map[int][]int{evdev.EV_KEY: letters},
			want: KindKeyboard,
		},
		{
			name: "tablet in absolute mode",
			caps: map[int][]int{
				evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y},
				evdev.EV_KEY: {evdev.BTN_LEFT},
			},
			want: KindPointer,
		},
		{
			name: "touchscreen",
			caps: map[int][]int{
				evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y, evdev.ABS_MT_POSITION_X, evdev.ABS_MT_POSITION_Y, evdev.ABS_MT_SLOT},
				evdev.EV_KEY: {evdev.BTN_TOUCH},
			},
			want: KindTouch,
		},
		{
			name: "keyboard with touchpad",
			caps: map[int][]int{
				evdev.EV_REL: {evdev.REL_X, evdev.REL_Y},
				evdev.EV_KEY: append([]int{evdev.BTN_LEFT}, letters...),
			},
			want: KindPointer | KindKeyboard,
		},
		{
			name: "power button",
			caps: map[int][]int{evdev.EV_KEY: {evdev.KEY_POWER}},
			want: 0,
		},
		{
			name: "absolute axes without buttons",
			caps: map[int][]int{evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y}},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.caps))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "none", Kind(0).String())
	assert.Equal(t, "pointer+keyboard", (KindPointer | KindKeyboard).String())
}

func TestAddMissingDevice(t *testing.T) {
	inj := NewInjector(4)
	defer inj.Close()

	err := inj.Add("/dev/input/eventNONEXISTENT")
	assert.ErrorIs(t, err, ErrDevice)
	assert.Empty(t, inj.Devices())
}

func TestAddAfterClose(t *testing.T) {
	inj := NewInjector(1)
	inj.Close()
	inj.Close()
	assert.ErrorIs(t, inj.Add("/dev/input/event0"), ErrDevice)

	_, open := <-inj.Frames()
	assert.False(t, open)
}

func TestAbsRangeNormalize(t *testing.T) {
	r := absRange{min: 0, max: 1000}
	assert.Equal(t, 0.0, r.normalize(-10))
	assert.Equal(t, 0.5, r.normalize(500))
	assert.Equal(t, 1.0, r.normalize(2000))
	assert.Equal(t, 0.0, absRange{}.normalize(5))
}

func TestEviocgabs(t *testing.T) {
	// EVIOCGABS(ABS_X) from linux/input.h on every 64-bit target
	assert.Equal(t, uintptr(0x80184540), eviocgabs(evdev.ABS_X))
	assert.Equal(t, uintptr(0x80184575), eviocgabs(evdev.ABS_MT_POSITION_X))
}

func raw(typ, code uint16, value int32) evdev.InputEvent {
	return evdev.InputEvent{Type: typ, Code: code, Value: value}
}

func syn() evdev.InputEvent { return raw(evdev.EV_SYN, evdev.SYN_REPORT, 0) }

func feedAll(t *testing.T, tr *translator, evs ...evdev.InputEvent) [][]Event {
	t.Helper()
	var frames [][]Event
	for _, ev := range evs {
		if out, ok := tr.feed(ev); ok {
			frames = append(frames, out)
		}
	}
	return frames
}

func TestTranslatePointer(t *testing.T) {
	tr := newTranslator(KindPointer, nil)
	frames := feedAll(t, tr,
		raw(evdev.EV_REL, evdev.REL_X, 3),
		raw(evdev.EV_REL, evdev.REL_Y, -2),
		raw(evdev.EV_REL, evdev.REL_X, 1),
		syn(),
		raw(evdev.EV_KEY, evdev.BTN_LEFT, 1),
		raw(evdev.EV_REL, evdev.REL_WHEEL, 1),
		syn(),
		syn(),
	)
	require.Len(t, frames, 2, "empty reports must not produce frames")

	assert.Equal(t, []Event{{Type: EventMotion, DX: 4, DY: -2}}, frames[0])
	assert.Equal(t, []Event{
		{Type: EventButton, Code: evdev.BTN_LEFT, Pressed: true},
		{Type: EventAxis, Axis: AxisVertical, Value: -scrollStep},
	}, frames[1])
}

func TestTranslateAbsolutePointer(t *testing.T) {
	tr := newTranslator(KindPointer, map[uint16]absRange{
		evdev.ABS_X: {min: 0, max: 100},
		evdev.ABS_Y: {min: 0, max: 200},
	})
	frames := feedAll(t, tr,
		raw(evdev.EV_ABS, evdev.ABS_X, 25),
		raw(evdev.EV_ABS, evdev.ABS_Y, 50),
		syn(),
	)
	require.Len(t, frames, 1)
	assert.Equal(t, []Event{{Type: EventMotionAbsolute, X: 0.25, Y: 0.25}}, frames[0])
}

func TestTranslateKeyboardSkipsRepeat(t *testing.T) {
	tr := newTranslator(KindKeyboard, nil)
	frames := feedAll(t, tr,
		raw(evdev.EV_KEY, evdev.KEY_A, 1),
		syn(),
		raw(evdev.EV_KEY, evdev.KEY_A, 2),
		syn(),
		raw(evdev.EV_KEY, evdev.KEY_A, 0),
		syn(),
	)
	require.Len(t, frames, 2)
	assert.Equal(t, []Event{{Type: EventKey, Code: evdev.KEY_A, Pressed: true}}, frames[0])
	assert.Equal(t, []Event{{Type: EventKey, Code: evdev.KEY_A, Pressed: false}}, frames[1])
}

func TestTranslateDropped(t *testing.T) {
	tr := newTranslator(KindPointer, nil)
	frames := feedAll(t, tr,
		raw(evdev.EV_REL, evdev.REL_X, 5),
		raw(evdev.EV_SYN, evdev.SYN_DROPPED, 0),
		raw(evdev.EV_REL, evdev.REL_X, 7),
		syn(),
		raw(evdev.EV_REL, evdev.REL_X, 1),
		syn(),
	)
	require.Len(t, frames, 1)
	assert.Equal(t, []Event{{Type: EventMotion, DX: 1}}, frames[0])
}

func TestTranslateTouch(t *testing.T) {
	tr := newTranslator(KindTouch, map[uint16]absRange{
		evdev.ABS_MT_POSITION_X: {min: 0, max: 100},
		evdev.ABS_MT_POSITION_Y: {min: 0, max: 100},
	})
	frames := feedAll(t, tr,
		raw(evdev.EV_ABS, evdev.ABS_MT_SLOT, 0),
		raw(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, 42),
		raw(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, 10),
		raw(evdev.EV_ABS, evdev.ABS_MT_POSITION_Y, 20),
		raw(evdev.EV_KEY, evdev.BTN_TOUCH, 1),
		syn(),
		raw(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, 30),
		syn(),
		raw(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, -1),
		raw(evdev.EV_KEY, evdev.BTN_TOUCH, 0),
		syn(),
	)
	require.Len(t, frames, 3)
	assert.Equal(t, []Event{
		{Type: EventTouchDown, Slot: 0, X: 0.1, Y: 0.2},
		{Type: EventTouchFrame},
	}, frames[0])
	assert.Equal(t, []Event{
		{Type: EventTouchMotion, Slot: 0, X: 0.3, Y: 0.2},
		{Type: EventTouchFrame},
	}, frames[1])
	assert.Equal(t, []Event{
		{Type: EventTouchUp, Slot: 0},
		{Type: EventTouchFrame},
	}, frames[2])
}
