// Package chainprim holds the primitive identifiers shared by every layer
// of the node: block/tx hashes, addresses, on-disk positions and the
// variable-length integer codec used by the block wire format.
package chainprim

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/mr-tron/base58"
)

// HashSize is the length in bytes of a double-SHA256 digest.
const HashSize = 32

// Hash is an opaque 32-byte block or transaction identifier.
type Hash [HashSize]byte

// ZeroHash is the genesis sentinel — a block whose hash is all zero bytes.
var ZeroHash Hash

// DoubleSHA256 hashes b with SHA-256 twice, matching the wire format's hash
// derivation for block and transaction identifiers.
func DoubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

// IsZero reports whether h is the genesis sentinel.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes returns a copy of the hash's underlying bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// String renders the hash as lowercase hex, the conventional display form
// used throughout the query surface (§6.5).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Base58 renders the hash using base58, for compact log lines.
func (h Hash) Base58() string {
	return base58.Encode(h[:])
}

// MarshalText implements encoding.TextMarshaler, so a Hash serialises as
// hex in JSON rows and responses rather than base64 of the raw bytes.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashFromBytes copies b into a Hash. It errors if b is not exactly
// HashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.New("chainprim: hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a lowercase-or-uppercase hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(b)
}

// Less provides a deterministic lexicographic ordering over hashes, used by
// the tip tie-break rule (§4.6).
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}
