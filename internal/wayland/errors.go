package wayland

import "fmt"

// wl_display error codes.
const (
	errInvalidObject  = 0
	errInvalidMethod  = 1
	errNoMemory       = 2
	errImplementation = 3
)

// ProtocolError is a client fault. It is reported through wl_display.error
// and the client is disconnected; other clients are unaffected.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

func protocolErr(object, code uint32, format string, a ...any) *ProtocolError {
	return &ProtocolError{Object: object, Code: code, Message: fmt.Sprintf(format, a...)}
}
