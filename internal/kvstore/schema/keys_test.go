package schema

import (
	"bytes"
	"testing"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

func TestAddressCounterKeyOrdering(t *testing.T) {
	var addr chainprim.Address
	addr[0] = 0x01
	k0 := AddressCounterKey(PrefixAddressInfo, addr, 0)
	k1 := AddressCounterKey(PrefixAddressInfo, addr, 1)
	// Ascending byte order must place the higher counter first: newest-first.
	if bytes.Compare(k1, k0) >= 0 {
		t.Fatalf("expected key for counter 1 to sort before counter 0: %x vs %x", k1, k0)
	}
}

func TestAddressPrefixMatchesCounterKeys(t *testing.T) {
	var addr chainprim.Address
	addr[3] = 0x9
	prefix := AddressPrefix(PrefixAddressInfo, addr)
	key := AddressCounterKey(PrefixAddressInfo, addr, 42)
	if !bytes.HasPrefix(key, prefix) {
		t.Fatalf("expected %x to have prefix %x", key, prefix)
	}
}

func TestDelegationPairKeyLIFOOrdering(t *testing.T) {
	var from, to chainprim.Address
	from[0], to[0] = 1, 2
	k1 := DelegationPairKey(from, to, 1)
	k2 := DelegationPairKey(from, to, 2)
	if bytes.Compare(k2, k1) >= 0 {
		t.Fatalf("expected later push to sort first")
	}
	prefix := DelegationPairPrefix(from, to)
	if !bytes.HasPrefix(k1, prefix) || !bytes.HasPrefix(k2, prefix) {
		t.Fatalf("expected both keys under shared prefix")
	}
}

func TestDayKeyNewestFirstOrdering(t *testing.T) {
	var addr chainprim.Address
	addr[0] = 0x5
	k1 := DayKey(PrefixNodeTest, addr, 1)
	k2 := DayKey(PrefixNodeTest, addr, 2)
	// Ascending byte order must place the higher day number first, so a
	// single seek at the prefix returns the latest day (§6.2, §4.9).
	if bytes.Compare(k2, k1) >= 0 {
		t.Fatalf("expected key for day 2 to sort before day 1: %x vs %x", k2, k1)
	}
	prefix := AddressPrefix(PrefixNodeTest, addr)
	if !bytes.HasPrefix(k1, prefix) || !bytes.HasPrefix(k2, prefix) {
		t.Fatalf("expected both day keys under shared address prefix")
	}
}

func TestDayOnlyKeyNewestFirstOrdering(t *testing.T) {
	k1 := DayOnlyKey(PrefixAllNodesCount, 1)
	k2 := DayOnlyKey(PrefixAllNodesCount, 2)
	if bytes.Compare(k2, k1) >= 0 {
		t.Fatalf("expected key for day 2 to sort before day 1: %x vs %x", k2, k1)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	in := BalanceInfo{
		Received: 100,
		Spent:    40,
		Delegated: &DelegatedInfo{
			DelegateOut: 10,
		},
		TokenBalances: map[chainprim.Address]uint64{},
	}
	data, err := Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out BalanceInfo
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Received != in.Received || out.Spent != in.Spent {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if out.Balance() != 60 {
		t.Fatalf("Balance() = %d, want 60", out.Balance())
	}
	if out.Delegated == nil || out.Delegated.DelegateOut != 10 {
		t.Fatalf("delegated sub-record lost: %+v", out.Delegated)
	}
}
