package wsconn

import (
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
	"github.com/yourusername/wsclient/internal/wsframe"
)

// fragmentState is the connection's fragmentation buffer: either Idle, or
// Collecting an in-progress Text/Binary message. The accumulation buffer is
// pooled (bytebufferpool) since most connections spend most of their time
// Idle and only need the buffer while a fragmented message is in flight.
type fragmentState struct {
	active bool
	opcode wsframe.Opcode
	buf    *bytebufferpool.ByteBuffer
	utf8   incrementalUTF8
}

var payloadBufferPool bytebufferpool.Pool

func (fs *fragmentState) start(opcode wsframe.Opcode) {
	fs.active = true
	fs.opcode = opcode
	fs.buf = payloadBufferPool.Get()
	fs.utf8 = incrementalUTF8{}
}

func (fs *fragmentState) reset() {
	if fs.buf != nil {
		payloadBufferPool.Put(fs.buf)
	}
	*fs = fragmentState{}
}

// append adds payload to the accumulation buffer, validating UTF-8
// incrementally if the message is Text. A split multibyte codepoint at a
// fragment boundary is carried forward rather than rejected.
func (fs *fragmentState) append(payload []byte) error {
	if fs.opcode == wsframe.OpcodeText {
		if err := fs.utf8.push(payload); err != nil {
			return err
		}
	}
	fs.buf.Write(payload)
	return nil
}

// finish validates that no incomplete codepoint remains (for Text messages)
// and returns the assembled payload. The caller must copy it out before the
// fragmentState is reset, since reset returns the buffer to the pool.
func (fs *fragmentState) finish() ([]byte, error) {
	if fs.opcode == wsframe.OpcodeText {
		if err := fs.utf8.finish(); err != nil {
			return nil, err
		}
	}
	return fs.buf.B, nil
}

// incrementalUTF8 validates a byte stream split across arbitrary chunk
// boundaries, carrying a possibly-incomplete trailing codepoint from one
// push to the next. This replaces validating each frame on its own, which
// rejects legal text: UTF-8 text split anywhere between frames is
// accepted, not just text that happens to be split on rune boundaries.
type incrementalUTF8 struct {
	pending []byte
}

func (v *incrementalUTF8) push(data []byte) error {
	var combined []byte
	if len(v.pending) == 0 {
		combined = data
	} else {
		combined = make([]byte, 0, len(v.pending)+len(data))
		combined = append(combined, v.pending...)
		combined = append(combined, data...)
	}

	complete, incomplete := splitTrailingIncomplete(combined)
	if !utf8.Valid(complete) {
		return wsframe.ErrInvalidUTF8
	}

	if len(incomplete) == 0 {
		v.pending = nil
	} else {
		v.pending = append([]byte(nil), incomplete...)
	}
	return nil
}

// finish is called when the message is complete (fin=true): any still
// pending partial codepoint means the stream ended mid-sequence, which is
// invalid UTF-8.
func (v *incrementalUTF8) finish() error {
	if len(v.pending) != 0 {
		return wsframe.ErrInvalidUTF8
	}
	return nil
}

// splitTrailingIncomplete returns data split into a prefix safe to validate
// now and a suffix that might be the start of a codepoint continued in a
// future chunk. It only ever holds back bytes when the tail looks like a
// truncated multibyte lead sequence; otherwise the whole input is "complete"
// (even if invalid, in which case the validator below will reject it).
func splitTrailingIncomplete(data []byte) (complete, incomplete []byte) {
	n := len(data)
	if n == 0 {
		return data, nil
	}

	limit := utf8.UTFMax - 1
	if limit > n {
		limit = n
	}
	for i := 1; i <= limit; i++ {
		b := data[n-i]
		if b < 0x80 {
			// ASCII byte: whatever is after it (if anything) is already a
			// complete run we've examined; stop looking further back.
			break
		}
		if b&0xC0 == 0x80 {
			// Continuation byte: keep looking back for its lead byte.
			continue
		}
		// Lead byte for a multibyte sequence.
		want := leadByteSize(b)
		if want == 0 {
			// Not a valid lead byte at all; let utf8.Valid reject it.
			break
		}
		if want > i {
			return data[:n-i], data[n-i:]
		}
		break
	}
	return data, nil
}

// leadByteSize returns the total encoded length implied by a UTF-8 lead
// byte, or 0 if b cannot start a valid sequence.
func leadByteSize(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}
