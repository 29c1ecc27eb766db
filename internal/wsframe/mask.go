package wsframe

import "golang.org/x/sys/cpu"

// MaskKeySize is the fixed length of a WebSocket masking key (RFC 6455 §5.2).
const MaskKeySize = 4

// hasFastPath reports whether the 8-byte-at-a-time unrolled mask loop is
// worth the setup cost on this architecture. x/sys/cpu is consulted rather
// than a GOARCH build tag so the decision also accounts for the CPU actually
// running, not just the compile target.
var hasFastPath = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD

// ApplyMask XORs payload against key, cycling the 4-byte key over the
// payload. It is its own inverse: applying the same key twice restores the
// original bytes. key must be exactly MaskKeySize bytes; callers within this
// module always pass a fixed-size array, so that precondition is never
// violated in practice.
func ApplyMask(payload []byte, key [MaskKeySize]byte) {
	if hasFastPath && len(payload) >= 8 {
		applyMaskWide(payload, key)
		return
	}
	applyMaskScalar(payload, key)
}

func applyMaskScalar(payload []byte, key [MaskKeySize]byte) {
	for i := range payload {
		payload[i] ^= key[i%MaskKeySize]
	}
}

// applyMaskWide XORs 8 bytes at a time via a single widened key, falling
// back to the scalar loop for the remainder. This is the same transform as
// applyMaskScalar, just batched to cut per-byte loop overhead.
func applyMaskWide(payload []byte, key [MaskKeySize]byte) {
	var wide uint64
	for i := 0; i < 8; i++ {
		wide |= uint64(key[i%MaskKeySize]) << (8 * uint(i))
	}

	i := 0
	for ; i+8 <= len(payload); i += 8 {
		v := uint64(payload[i]) |
			uint64(payload[i+1])<<8 |
			uint64(payload[i+2])<<16 |
			uint64(payload[i+3])<<24 |
			uint64(payload[i+4])<<32 |
			uint64(payload[i+5])<<40 |
			uint64(payload[i+6])<<48 |
			uint64(payload[i+7])<<56
		v ^= wide
		payload[i] = byte(v)
		payload[i+1] = byte(v >> 8)
		payload[i+2] = byte(v >> 16)
		payload[i+3] = byte(v >> 24)
		payload[i+4] = byte(v >> 32)
		payload[i+5] = byte(v >> 40)
		payload[i+6] = byte(v >> 48)
		payload[i+7] = byte(v >> 56)
	}
	for ; i < len(payload); i++ {
		payload[i] ^= key[i%MaskKeySize]
	}
}
