package input

import (
	"sort"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

// EventType is a seat primitive.
type EventType int

const (
	EventMotion         EventType = iota // relative motion in DX/DY
	EventMotionAbsolute                  // X/Y normalised to [0,1]
	EventButton
	EventAxis
	EventKey
	EventTouchDown
	EventTouchMotion
	EventTouchUp
	EventTouchFrame
)

// Axis identifies a scroll axis, numbered as wl_pointer.axis.
type Axis uint32

const (
	AxisVertical Axis = iota
	AxisHorizontal
)

// scrollStep is the scroll distance of one wheel detent in surface units.
const scrollStep = 15.0

// Event is one translated input event.
type Event struct {
	Type    EventType
	Code    uint32 // evdev key or button code
	Pressed bool
	DX, DY  float64
	X, Y    float64
	Axis    Axis
	Value   float64
	Slot    int32
}

// Frame is the set of events between two SYN_REPORTs of one device.
type Frame struct {
	Device string
	Time   time.Time
	Events []Event
}

type touchPoint struct {
	active  bool
	up      bool // lifted in this frame
	moved   bool
	x, y    float64
	pending bool // tracking id assigned but not yet reported
}

// translator turns a raw evdev stream into frames. It carries the
// per-device state between reports.
type translator struct {
	kinds Kind
	abs   map[uint16]absRange

	dropping bool
	events   []Event
	dx, dy   float64
	absX     float64
	absY     float64
	absMoved bool

	slot    int32
	touches map[int32]*touchPoint
}

func newTranslator(kinds Kind, abs map[uint16]absRange) *translator {
	if abs == nil {
		abs = map[uint16]absRange{}
	}
	return &translator{kinds: kinds, abs: abs, touches: map[int32]*touchPoint{}}
}

// feed consumes one raw event and returns the completed frame's events on
// SYN_REPORT. ok is false while a frame is still being assembled or when
// the report carried nothing.
func (t *translator) feed(ev evdev.InputEvent) (events []Event, ok bool) {
	switch ev.Type {
	case evdev.EV_SYN:
		switch ev.Code {
		case evdev.SYN_DROPPED:
			t.reset()
			t.dropping = true
		case evdev.SYN_REPORT:
			if t.dropping {
				t.dropping = false
				t.reset()
				return nil, false
			}
			return t.flush()
		}
	case evdev.EV_REL:
		if t.dropping {
			return nil, false
		}
		t.rel(ev.Code, ev.Value)
	case evdev.EV_ABS:
		if t.dropping {
			return nil, false
		}
		t.absolute(ev.Code, ev.Value)
	case evdev.EV_KEY:
		if t.dropping {
			return nil, false
		}
		t.key(ev.Code, ev.Value)
	}
	return nil, false
}

func (t *translator) rel(code uint16, v int32) {
	switch code {
	case evdev.REL_X:
		t.dx += float64(v)
	case evdev.REL_Y:
		t.dy += float64(v)
	case evdev.REL_WHEEL:
		// evdev counts wheel-up as positive, wl_pointer as negative.
		t.events = append(t.events, Event{Type: EventAxis, Axis: AxisVertical, Value: -float64(v) * scrollStep})
	case evdev.REL_HWHEEL:
		t.events = append(t.events, Event{Type: EventAxis, Axis: AxisHorizontal, Value: float64(v) * scrollStep})
	}
}

func (t *translator) absolute(code uint16, v int32) {
	switch code {
	case evdev.ABS_X:
		if t.kinds.Has(KindPointer) {
			t.absX = t.abs[code].normalize(v)
			t.absMoved = true
		}
	case evdev.ABS_Y:
		if t.kinds.Has(KindPointer) {
			t.absY = t.abs[code].normalize(v)
			t.absMoved = true
		}
	case evdev.ABS_MT_SLOT:
		t.slot = v
	case evdev.ABS_MT_TRACKING_ID:
		tp := t.touch(t.slot)
		if v < 0 {
			if tp.active {
				tp.up = true
			}
			tp.active, tp.pending = false, false
		} else {
			if tp.active {
				// new contact replaces the old one without a lift
				tp.up = true
				tp.active = false
			}
			tp.pending = true
		}
	case evdev.ABS_MT_POSITION_X:
		tp := t.touch(t.slot)
		tp.x = t.abs[code].normalize(v)
		tp.moved = true
	case evdev.ABS_MT_POSITION_Y:
		tp := t.touch(t.slot)
		tp.y = t.abs[code].normalize(v)
		tp.moved = true
	}
}

func (t *translator) key(code uint16, v int32) {
	if v == 2 {
		// autorepeat is the client's job
		return
	}
	switch {
	case code == evdev.BTN_TOUCH || code >= evdev.BTN_TOOL_PEN && code <= evdev.BTN_TOOL_QUADTAP:
		// implied by the MT tracking ids
	case code >= evdev.BTN_MISC && code < evdev.KEY_OK:
		t.events = append(t.events, Event{Type: EventButton, Code: uint32(code), Pressed: v == 1})
	default:
		t.events = append(t.events, Event{Type: EventKey, Code: uint32(code), Pressed: v == 1})
	}
}

func (t *translator) touch(slot int32) *touchPoint {
	tp, ok := t.touches[slot]
	if !ok {
		tp = &touchPoint{}
		t.touches[slot] = tp
	}
	return tp
}

func (t *translator) flush() ([]Event, bool) {
	var out []Event
	if t.dx != 0 || t.dy != 0 {
		out = append(out, Event{Type: EventMotion, DX: t.dx, DY: t.dy})
	}
	if t.absMoved {
		out = append(out, Event{Type: EventMotionAbsolute, X: t.absX, Y: t.absY})
	}
	out = append(out, t.events...)

	slots := make([]int32, 0, len(t.touches))
	for s := range t.touches {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	touched := false
	for _, s := range slots {
		tp := t.touches[s]
		switch {
		case tp.pending:
			if tp.up {
				out = append(out, Event{Type: EventTouchUp, Slot: s})
			}
			out = append(out, Event{Type: EventTouchDown, Slot: s, X: tp.x, Y: tp.y})
			tp.active, tp.pending = true, false
			touched = true
		case tp.up:
			out = append(out, Event{Type: EventTouchUp, Slot: s})
			touched = true
		case tp.active && tp.moved:
			out = append(out, Event{Type: EventTouchMotion, Slot: s, X: tp.x, Y: tp.y})
			touched = true
		}
		tp.up, tp.moved = false, false
		if !tp.active {
			delete(t.touches, s)
		}
	}
	if touched {
		out = append(out, Event{Type: EventTouchFrame})
	}

	t.dx, t.dy = 0, 0
	t.absMoved = false
	t.events = t.events[:0]
	return out, len(out) > 0
}

// reset drops the partially assembled frame after SYN_DROPPED. Touch
// contacts stay known so a later lift is still reported.
func (t *translator) reset() {
	t.dx, t.dy = 0, 0
	t.absMoved = false
	t.events = t.events[:0]
}
