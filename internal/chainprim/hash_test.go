package chainprim

import "testing"

func TestHashLessTieBreak(t *testing.T) {
	h1, err := HashFromHex("0100000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	h2, err := HashFromHex("0200000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	if !h1.Less(h2) {
		t.Fatalf("expected h1 < h2")
	}
	if h2.Less(h1) {
		t.Fatalf("expected h2 not < h1")
	}
}

func TestDoubleSHA256Deterministic(t *testing.T) {
	a := DoubleSHA256([]byte("block-bytes"))
	b := DoubleSHA256([]byte("block-bytes"))
	if a != b {
		t.Fatalf("DoubleSHA256 must be deterministic")
	}
	c := DoubleSHA256([]byte("different"))
	if a == c {
		t.Fatalf("different input produced same hash")
	}
}

func TestAddressPredicates(t *testing.T) {
	if !EmptyAddress.IsEmpty() {
		t.Fatalf("EmptyAddress.IsEmpty() should be true")
	}
	a := DefaultKeyToAddress([]byte("some-public-key"))
	if a.IsEmpty() {
		t.Fatalf("derived address should not be empty")
	}
	if a.IsInitialWallet() {
		t.Fatalf("ordinary derived address should not be the initial-wallet sentinel")
	}
}
