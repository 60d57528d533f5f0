package chainprim

import (
	"encoding/hex"
	"errors"

	"github.com/mr-tron/base58"
)

// AddressSize is the length in bytes of an address (§3.1).
const AddressSize = 25

// Address is a 25-byte identifier derived from a public key by an external
// collaborator (§6, "cryptographic primitives ... treated as libraries").
type Address [AddressSize]byte

// EmptyAddress is the sentinel used when a transaction carries no public key
// (pubkey_len == 0, §4.3).
var EmptyAddress Address

// initialWalletMarker is the first byte tag used by the producer to flag the
// sentinel address that represents genesis/initial-distribution funds. The
// exact encoding is an implementation detail of the upstream key-to-address
// function (external collaborator); this node only needs to recognise it.
const initialWalletMarker = 0xFF

// addrKindScript and addrKindToken tag the address kind in its second byte,
// set by the external key-to-address function for script (contract) and
// token addresses respectively. Ordinary wallet addresses leave this byte
// zero (addrKindWallet).
const (
	addrKindWallet = 0x00
	addrKindScript = 0x01
	addrKindToken  = 0x02
)

// IsEmpty reports whether a is the empty sentinel.
func (a Address) IsEmpty() bool {
	return a == EmptyAddress
}

// IsInitialWallet reports whether a is the sentinel address used for
// genesis/initial-distribution funds (§3.2).
func (a Address) IsInitialWallet() bool {
	return a[0] == initialWalletMarker
}

// IsScript reports whether a identifies a deployed contract.
func (a Address) IsScript() bool {
	return !a.IsEmpty() && a[1] == addrKindScript
}

// IsToken reports whether a identifies a token pseudo-account.
func (a Address) IsToken() bool {
	return !a.IsEmpty() && a[1] == addrKindToken
}

// Bytes returns a copy of the address's underlying bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressSize)
	copy(out, a[:])
	return out
}

// String renders the address as lowercase hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Base58 renders the address using base58, the conventional
// human-legible form for wallet identifiers.
func (a Address) Base58() string {
	return base58.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler so an Address can be used
// as a JSON object key (e.g. BalanceInfo.TokenBalances) and in JSON values.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromBytes copies b into an Address, requiring exactly AddressSize
// bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, errors.New("chainprim: address must be 25 bytes")
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromHex parses a hex-encoded address.
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	return AddressFromBytes(b)
}

// KeyToAddress is the external collaborator contract (§6) that derives an
// address from a raw public key. Implementations live outside this package;
// DefaultKeyToAddress provides a deterministic concrete implementation so
// the node is runnable standalone.
type KeyToAddress func(pubKey []byte) Address

// DefaultKeyToAddress derives an address by double-hashing the public key
// and truncating to AddressSize bytes, tagging the kind byte as a wallet.
// Real deployments may substitute a project-specific derivation (e.g. a
// version byte + RIPEMD160(SHA256(pubkey)) + checksum) via KeyToAddress;
// this default only needs to be deterministic and collision-resistant for
// the parser and tests in this repository.
func DefaultKeyToAddress(pubKey []byte) Address {
	if len(pubKey) == 0 {
		return EmptyAddress
	}
	h := DoubleSHA256(pubKey)
	var a Address
	copy(a[:], h[:AddressSize])
	a[1] = addrKindWallet
	return a
}
