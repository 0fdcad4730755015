package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"

	"golang.org/x/sys/unix"
)

const (
	headerSize = 8
	// maxMessage is the largest message the size field can describe.
	maxMessage = 1<<16 - 1
	// maxFDs bounds the descriptors accepted in one recvmsg.
	maxFDs = 28
)

var (
	errShortMessage = errors.New("truncated wayland message")
	errBadSize      = errors.New("invalid wayland message size")
)

// Message is one request received from a client.
type Message struct {
	Object uint32
	Opcode uint16
	Args   []byte
}

// batch is what a single recvmsg produced: the complete messages plus the
// file descriptors that arrived with them.
type batch struct {
	msgs []Message
	fds  []int
}

// reader splits a client stream into messages. It keeps the partial tail of
// the last read between calls.
type reader struct {
	conn *net.UnixConn
	buf  []byte
	n    int
	oob  []byte
}

func newReader(conn *net.UnixConn) *reader {
	return &reader{
		conn: conn,
		buf:  make([]byte, 4*maxMessage),
		oob:  make([]byte, unix.CmsgSpace(maxFDs*4)),
	}
}

// next blocks for the next read and returns whatever became complete.
func (r *reader) next() (batch, error) {
	n, oobn, _, _, err := r.conn.ReadMsgUnix(r.buf[r.n:], r.oob)
	var b batch
	if oobn > 0 {
		b.fds = parseRights(r.oob[:oobn])
	}
	if err != nil {
		return b, err
	}
	if n == 0 && oobn == 0 {
		return b, net.ErrClosed
	}
	r.n += n

	off := 0
	for r.n-off >= headerSize {
		size := int(binary.LittleEndian.Uint32(r.buf[off+4:]) >> 16)
		if size < headerSize || size%4 != 0 {
			return b, fmt.Errorf("%w: %d", errBadSize, size)
		}
		if r.n-off < size {
			break
		}
		m := Message{
			Object: binary.LittleEndian.Uint32(r.buf[off:]),
			Opcode: uint16(binary.LittleEndian.Uint32(r.buf[off+4:])),
			Args:   append([]byte(nil), r.buf[off+headerSize:off+size]...),
		}
		b.msgs = append(b.msgs, m)
		off += size
	}
	copy(r.buf, r.buf[off:r.n])
	r.n -= off
	return b, nil
}

func parseRights(oob []byte) []int {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for _, m := range msgs {
		rights, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds
}

// args decodes request arguments in order. The first failure sticks and is
// reported by Err.
type args struct {
	data []byte
	err  error
}

func newArgs(b []byte) *args {
	return &args{data: b}
}

func (a *args) take(n int) []byte {
	if a.err != nil {
		return nil
	}
	if len(a.data) < n {
		a.err = errShortMessage
		return nil
	}
	b := a.data[:n]
	a.data = a.data[n:]
	return b
}

func (a *args) Uint() uint32 {
	b := a.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (a *args) Int() int32 {
	return int32(a.Uint())
}

// Fixed decodes a 24.8 signed fixed point value.
func (a *args) Fixed() float64 {
	return float64(a.Int()) / 256
}

func (a *args) String() string {
	n := int(a.Uint())
	if n == 0 {
		return ""
	}
	b := a.take(pad(n))
	if b == nil {
		return ""
	}
	if b[n-1] != 0 {
		a.err = errors.New("string argument is not NUL terminated")
		return ""
	}
	return string(b[:n-1])
}

func (a *args) Array() []byte {
	n := int(a.Uint())
	b := a.take(pad(n))
	if b == nil {
		return nil
	}
	return b[:n]
}

func (a *args) Err() error {
	return a.err
}

func pad(n int) int {
	return (n + 3) &^ 3
}

// event encodes one message to a client.
type event struct {
	buf []byte
	fds []int
}

func newEvent(object uint32, opcode uint16) *event {
	e := &event{buf: make([]byte, headerSize, 64)}
	binary.LittleEndian.PutUint32(e.buf, object)
	binary.LittleEndian.PutUint32(e.buf[4:], uint32(opcode))
	return e
}

func (e *event) Uint(v uint32) *event {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *event) Int(v int32) *event {
	return e.Uint(uint32(v))
}

func (e *event) Fixed(v float64) *event {
	return e.Int(int32(math.Round(v * 256)))
}

func (e *event) String(s string) *event {
	e.Uint(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, make([]byte, pad(len(s)+1)-len(s))...)
	return e
}

func (e *event) Array(b []byte) *event {
	e.Uint(uint32(len(b)))
	e.buf = append(e.buf, b...)
	e.buf = append(e.buf, make([]byte, pad(len(b))-len(b))...)
	return e
}

// FD attaches a descriptor; it travels out of band.
func (e *event) FD(fd int) *event {
	e.fds = append(e.fds, fd)
	return e
}

// bytes finalises the size field.
func (e *event) bytes() []byte {
	h := binary.LittleEndian.Uint32(e.buf[4:]) & 0xffff
	binary.LittleEndian.PutUint32(e.buf[4:], uint32(len(e.buf))<<16|h)
	return e.buf
}

func uint32Array(vals ...uint32) []byte {
	b := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}
