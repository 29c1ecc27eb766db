package wsconn

import (
	"errors"

	"github.com/yourusername/wsclient/internal/wsframe"
)

var (
	ErrNotConnected    = errors.New("wsconn: not connected")
	ErrInvalidState    = errors.New("wsconn: operation not valid in current state")
	ErrConnectionClosed = errors.New("wsconn: connection closed")
	ErrUnexpectedOpcode = errors.New("wsconn: unexpected opcode for fragmentation state")
)

// ProtocolError wraps a locally detected protocol violation together with
// the close code it provoked.
type ProtocolError struct {
	Code   uint16
	Reason string
}

func (e *ProtocolError) Error() string { return "wsconn: protocol error: " + e.Reason }

func newProtocolError(code uint16, reason string) *ProtocolError {
	return &ProtocolError{Code: code, Reason: reason}
}

// TransportError wraps a transport-level failure as terminal.
type TransportError struct {
	Underlying error
}

func (e *TransportError) Error() string { return "wsconn: transport: " + e.Underlying.Error() }
func (e *TransportError) Unwrap() error { return e.Underlying }

func isProtocolShapeError(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return true
	}
	switch {
	case errors.Is(err, wsframe.ErrInvalidOpcode),
		errors.Is(err, wsframe.ErrReservedBitSet),
		errors.Is(err, wsframe.ErrFragmentedControl),
		errors.Is(err, ErrUnexpectedOpcode):
		return true
	}
	return false
}

func isInvalidUTF8Error(err error) bool {
	return errors.Is(err, wsframe.ErrInvalidUTF8)
}

func isTooLargeError(err error) bool {
	return errors.Is(err, wsframe.ErrFrameTooLarge) || errors.Is(err, wsframe.ErrControlFrameTooBig)
}
