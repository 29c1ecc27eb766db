package wsconn

import "encoding/binary"

// Close status codes named in RFC 6455 §7.4 that this implementation issues
// or recognizes by name.
const (
	CloseNormalClosure   uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseNoStatus        uint16 = 1005 // local-only sentinel, never on the wire
	CloseAbnormal        uint16 = 1006 // local-only sentinel, never on the wire
	CloseInvalidPayload  uint16 = 1007
	ClosePolicyViolation uint16 = 1008
	CloseMessageTooBig   uint16 = 1009
	CloseMandatoryExt    uint16 = 1010
	CloseInternalError   uint16 = 1011
	CloseTLSHandshake    uint16 = 1015 // local-only sentinel, never on the wire
)

// validOnWireCloseCode reports whether code may legally appear in a Close
// frame payload, either sent or received.
func validOnWireCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// outgoingCloseCode substitutes an invalid caller-supplied code with 1000,
// per the outgoing-close substitution rule.
func outgoingCloseCode(code uint16) uint16 {
	if code == 0 {
		return CloseNormalClosure
	}
	if !validOnWireCloseCode(code) {
		return CloseNormalClosure
	}
	return code
}

// buildClosePayload renders a Close frame payload: a 2-byte big-endian code
// followed by a UTF-8 reason, truncated on a codepoint boundary (or dropped
// entirely) if it would exceed maxSize.
func buildClosePayload(code uint16, reason string, maxSize uint64) []byte {
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	payload = append(payload, reason...)

	if uint64(len(payload)) <= maxSize {
		return payload
	}
	if maxSize < 2 {
		return payload[:0] // caller should not ask for this; defensive no-op
	}

	budget := int(maxSize) - 2
	truncated := truncateUTF8(reason, budget)
	out := make([]byte, 2, 2+len(truncated))
	binary.BigEndian.PutUint16(out, code)
	return append(out, truncated...)
}

// truncateUTF8 cuts s to at most budget bytes without splitting a codepoint.
func truncateUTF8(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(s) <= budget {
		return s
	}
	b := s[:budget]
	for len(b) > 0 {
		if isUTF8Boundary(b, s) {
			return b
		}
		b = b[:len(b)-1]
	}
	return ""
}

// isUTF8Boundary reports whether cutting s at len(b) lands on a rune
// boundary, by checking that the next byte (if any) is not a UTF-8
// continuation byte.
func isUTF8Boundary(b, s string) bool {
	if len(b) == len(s) {
		return true
	}
	next := s[len(b)]
	return next&0xC0 != 0x80
}

// parseCloseCode extracts a 16-bit big-endian code from the first two bytes
// of payload. Callers must ensure len(payload) >= 2.
func parseCloseCode(payload []byte) uint16 {
	return binary.BigEndian.Uint16(payload[:2])
}

// closeCodeForError maps a decode/protocol error to the outbound close
// status it triggers, per the error-handling policy.
func closeCodeForError(err error) uint16 {
	switch {
	case isProtocolShapeError(err):
		return CloseProtocolError
	case isInvalidUTF8Error(err):
		return CloseInvalidPayload
	case isTooLargeError(err):
		return CloseMessageTooBig
	default:
		return CloseInternalError
	}
}
