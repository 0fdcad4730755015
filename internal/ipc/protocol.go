package ipc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType identifies a control message.
type MessageType uint64

const (
	MessageStatusQuery    MessageType = 1
	MessageStatusResponse MessageType = 2
	MessageError          MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MessageStatusQuery:
		return "status-query"
	case MessageStatusResponse:
		return "status-response"
	case MessageError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(t))
	}
}

// Field numbers of the envelope.
const (
	fieldType   protowire.Number = 1
	fieldStatus protowire.Number = 2
	fieldError  protowire.Number = 3
)

// Field numbers of Status.
const (
	statusState    protowire.Number = 1
	statusSocket   protowire.Number = 2
	statusCaps     protowire.Number = 3
	statusSequence protowire.Number = 4
	statusPushed   protowire.Number = 5
	statusDropped  protowire.Number = 6
	statusClients  protowire.Number = 7
	statusDevices  protowire.Number = 8
	statusEnv      protowire.Number = 9
	statusInputs   protowire.Number = 10
	statusDigest   protowire.Number = 11
)

// Field numbers of Input.
const (
	inputPath  protowire.Number = 1
	inputName  protowire.Number = 2
	inputKinds protowire.Number = 3
	inputLost  protowire.Number = 4
)

var errMalformed = errors.New("malformed message")

// Message is the envelope exchanged on the control socket.
type Message struct {
	Type   MessageType
	Status *Status
	Error  string
}

// Status describes a running display.
type Status struct {
	State    string
	Socket   string
	Caps     string
	Sequence uint64
	Pushed   uint64
	Dropped  uint64
	Clients  uint64
	Devices  []string
	Env      []string
	Inputs   []Input
	Digest   string
}

// Input is one attached input device.
type Input struct {
	Path  string
	Name  string
	Kinds string
	Lost  bool
}

// NewStatusQuery returns a status request.
func NewStatusQuery() *Message {
	return &Message{Type: MessageStatusQuery}
}

// NewStatusResponse wraps s.
func NewStatusResponse(s *Status) *Message {
	return &Message{Type: MessageStatusResponse, Status: s}
}

// NewErrorMessage returns an error reply.
func NewErrorMessage(format string, args ...any) *Message {
	return &Message{Type: MessageError, Error: fmt.Sprintf(format, args...)}
}

// Marshal encodes m in protobuf wire format.
func (m *Message) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Status != nil {
		b = protowire.AppendTag(b, fieldStatus, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Status.marshal())
	}
	if m.Error != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, m.Error)
	}
	return b
}

func (s *Status) marshal() []byte {
	var b []byte
	b = appendString(b, statusState, s.State)
	b = appendString(b, statusSocket, s.Socket)
	b = appendString(b, statusCaps, s.Caps)
	b = appendVarint(b, statusSequence, s.Sequence)
	b = appendVarint(b, statusPushed, s.Pushed)
	b = appendVarint(b, statusDropped, s.Dropped)
	b = appendVarint(b, statusClients, s.Clients)
	for _, d := range s.Devices {
		b = protowire.AppendTag(b, statusDevices, protowire.BytesType)
		b = protowire.AppendString(b, d)
	}
	for _, e := range s.Env {
		b = protowire.AppendTag(b, statusEnv, protowire.BytesType)
		b = protowire.AppendString(b, e)
	}
	for _, in := range s.Inputs {
		var ib []byte
		ib = appendString(ib, inputPath, in.Path)
		ib = appendString(ib, inputName, in.Name)
		ib = appendString(ib, inputKinds, in.Kinds)
		if in.Lost {
			ib = appendVarint(ib, inputLost, 1)
		}
		b = protowire.AppendTag(b, statusInputs, protowire.BytesType)
		b = protowire.AppendBytes(b, ib)
	}
	b = appendString(b, statusDigest, s.Digest)
	return b
}

// appendString skips empty strings, as proto3 does for default values.
func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal decodes a message. Unknown fields are skipped.
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == fieldType && typ == protowire.VarintType:
			m.Type = MessageType(v)
		case num == fieldStatus && typ == protowire.BytesType:
			s, err := unmarshalStatus(raw)
			if err != nil {
				return err
			}
			m.Status = s
		case num == fieldError && typ == protowire.BytesType:
			m.Error = string(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Type == 0 {
		return nil, fmt.Errorf("%w: missing type", errMalformed)
	}
	return m, nil
}

func unmarshalStatus(b []byte) (*Status, error) {
	s := &Status{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		if typ == protowire.VarintType {
			switch num {
			case statusSequence:
				s.Sequence = v
			case statusPushed:
				s.Pushed = v
			case statusDropped:
				s.Dropped = v
			case statusClients:
				s.Clients = v
			}
			return nil
		}
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case statusState:
			s.State = string(raw)
		case statusSocket:
			s.Socket = string(raw)
		case statusCaps:
			s.Caps = string(raw)
		case statusDevices:
			s.Devices = append(s.Devices, string(raw))
		case statusEnv:
			s.Env = append(s.Env, string(raw))
		case statusDigest:
			s.Digest = string(raw)
		case statusInputs:
			in, err := unmarshalInput(raw)
			if err != nil {
				return err
			}
			s.Inputs = append(s.Inputs, in)
		}
		return nil
	})
	return s, err
}

func unmarshalInput(b []byte) (Input, error) {
	var in Input
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case inputPath:
			in.Path = string(raw)
		case inputName:
			in.Name = string(raw)
		case inputKinds:
			in.Kinds = string(raw)
		case inputLost:
			in.Lost = typ == protowire.VarintType && v != 0
		}
		return nil
	})
	return in, err
}

// walk calls fn for every field of b. Varint fields carry their value in v,
// length-delimited fields in raw; other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.VarintType || typ == protowire.BytesType {
			if err := fn(num, typ, v, raw); err != nil {
				return err
			}
		}
	}
	return nil
}
