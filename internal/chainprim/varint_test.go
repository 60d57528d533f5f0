package chainprim

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []struct {
		n        uint64
		wantLen  int
	}{
		{0, 1},
		{249, 1},
		{250, 3},
		{65535, 3},
		{65536, 5},
		{4294967295, 5},
		{4294967296, 9},
		{18446744073709551615, 9},
	}
	for _, tc := range cases {
		buf := EncodeVarint(nil, tc.n)
		if len(buf) != tc.wantLen {
			t.Fatalf("n=%d: encoded length = %d, want %d", tc.n, len(buf), tc.wantLen)
		}
		got, n, err := DecodeVarint(buf)
		if err != nil {
			t.Fatalf("n=%d: decode error: %v", tc.n, err)
		}
		if n != tc.wantLen {
			t.Fatalf("n=%d: consumed %d bytes, want %d", tc.n, n, tc.wantLen)
		}
		if got != tc.n {
			t.Fatalf("round trip: got %d, want %d", got, tc.n)
		}
		if VarintLen(tc.n) != tc.wantLen {
			t.Fatalf("VarintLen(%d) = %d, want %d", tc.n, VarintLen(tc.n), tc.wantLen)
		}
	}
}

func TestVarintTruncated(t *testing.T) {
	if _, _, err := DecodeVarint(nil); err != ErrVarintTruncated {
		t.Fatalf("expected ErrVarintTruncated for empty buffer, got %v", err)
	}
	if _, _, err := DecodeVarint([]byte{250, 1}); err != ErrVarintTruncated {
		t.Fatalf("expected ErrVarintTruncated for short 2-byte varint, got %v", err)
	}
}

func TestDescendingCounterOrdering(t *testing.T) {
	a := DescendingCounter(1)
	b := DescendingCounter(2)
	// Ascending byte comparison of a, b must put the *newer* counter (2) first.
	less := false
	for i := range a {
		if a[i] != b[i] {
			less = a[i] < b[i]
			break
		}
	}
	if !less {
		t.Fatalf("DescendingCounter(2) should sort before DescendingCounter(1) in ascending scan")
	}
	got, err := DecodeDescendingCounter(b)
	if err != nil || got != 2 {
		t.Fatalf("DecodeDescendingCounter round trip failed: got %d, err %v", got, err)
	}
}
