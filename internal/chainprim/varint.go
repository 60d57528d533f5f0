package chainprim

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Varint thresholds per §3.1: a single byte n <= 249 encodes n directly;
// 250/251/252 prefix a little-endian 2/4/8-byte unsigned integer.
const (
	varint2ByteMarker = 250
	varint4ByteMarker = 251
	varint8ByteMarker = 252
)

const maxInlineVarint = 249

// ErrVarintTruncated is returned when the buffer ends before a varint's
// declared width is satisfied.
var ErrVarintTruncated = errors.New("chainprim: truncated varint")

// EncodeVarint appends the varint encoding of n to buf and returns the
// result.
func EncodeVarint(buf []byte, n uint64) []byte {
	switch {
	case n <= maxInlineVarint:
		return append(buf, byte(n))
	case n <= 0xFFFF:
		out := append(buf, varint2ByteMarker)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(n))
		return append(out, tmp[:]...)
	case n <= 0xFFFFFFFF:
		out := append(buf, varint4ByteMarker)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(n))
		return append(out, tmp[:]...)
	default:
		out := append(buf, varint8ByteMarker)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], n)
		return append(out, tmp[:]...)
	}
}

// DecodeVarint reads a varint starting at buf[0], returning the decoded
// value and the number of bytes it occupied.
func DecodeVarint(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrVarintTruncated
	}
	marker := buf[0]
	switch {
	case marker <= maxInlineVarint:
		return uint64(marker), 1, nil
	case marker == varint2ByteMarker:
		if len(buf) < 3 {
			return 0, 0, ErrVarintTruncated
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case marker == varint4ByteMarker:
		if len(buf) < 5 {
			return 0, 0, ErrVarintTruncated
		}
		return uint64(binary.LittleEndian.Uint32(buf[1:5])), 5, nil
	case marker == varint8ByteMarker:
		if len(buf) < 9 {
			return 0, 0, ErrVarintTruncated
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	default:
		return 0, 0, fmt.Errorf("chainprim: invalid varint marker %d", marker)
	}
}

// VarintLen returns the number of bytes EncodeVarint would produce for n,
// without allocating.
func VarintLen(n uint64) int {
	switch {
	case n <= maxInlineVarint:
		return 1
	case n <= 0xFFFF:
		return 3
	case n <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}

// DescendingCounter encodes the bitwise complement (^counter) of counter
// as an 8-byte big-endian integer, so that an ascending byte-order scan over keys
// suffixed with this encoding yields newest-first ordering (§4.2, §6.2).
func DescendingCounter(counter uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, ^counter)
	return out
}

// DecodeDescendingCounter inverts DescendingCounter.
func DecodeDescendingCounter(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.New("chainprim: descending counter must be 8 bytes")
	}
	return ^binary.BigEndian.Uint64(b), nil
}
