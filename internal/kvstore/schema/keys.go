package schema

import "github.com/metahash-oss/torrentnode/internal/chainprim"

// AddressCounterKey builds a multi-valued key: prefix || address || '!' ||
// descending-counter, so ascending scans over AddressCounterKey(prefix, a, _)
// read newest-first (§6.2, §4.2).
func AddressCounterKey(prefix []byte, addr chainprim.Address, counter uint64) []byte {
	key := make([]byte, 0, len(prefix)+chainprim.AddressSize+1+8)
	key = append(key, prefix...)
	key = append(key, addr.Bytes()...)
	key = append(key, '!')
	key = append(key, chainprim.DescendingCounter(counter)...)
	return key
}

// AddressPrefix builds the scan prefix for all counter-suffixed rows under
// an address (used with Store.ScanPrefix to enumerate newest-first).
func AddressPrefix(prefix []byte, addr chainprim.Address) []byte {
	key := make([]byte, 0, len(prefix)+chainprim.AddressSize+1)
	key = append(key, prefix...)
	key = append(key, addr.Bytes()...)
	key = append(key, '!')
	return key
}

// SimpleKey builds a single-valued key: prefix || body.
func SimpleKey(prefix []byte, body []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(body))
	key = append(key, prefix...)
	key = append(key, body...)
	return key
}

// DelegationPairKey builds the key for an active delegation stack entry
// between from and to, suffixed by a descending counter so the most recent
// push scans first (LIFO pop order, Testable Property 6).
func DelegationPairKey(from, to chainprim.Address, counter uint64) []byte {
	key := make([]byte, 0, len(PrefixDelegate)+2*chainprim.AddressSize+1+8)
	key = append(key, PrefixDelegate...)
	key = append(key, from.Bytes()...)
	key = append(key, to.Bytes()...)
	key = append(key, '!')
	key = append(key, chainprim.DescendingCounter(counter)...)
	return key
}

// DelegationPairPrefix builds the scan prefix for all active delegation
// records between from and to.
func DelegationPairPrefix(from, to chainprim.Address) []byte {
	key := make([]byte, 0, len(PrefixDelegate)+2*chainprim.AddressSize+1)
	key = append(key, PrefixDelegate...)
	key = append(key, from.Bytes()...)
	key = append(key, to.Bytes()...)
	key = append(key, '!')
	return key
}

// DayKey builds a key suffixed by a descending day number, so ascending
// scans over DayKey(prefix, addr, _) read newest-day-first — a single seek
// for "latest day" queries (§3.2, §4.9, §6.2).
func DayKey(prefix []byte, addr chainprim.Address, day uint32) []byte {
	key := make([]byte, 0, len(prefix)+chainprim.AddressSize+1+8)
	key = append(key, prefix...)
	key = append(key, addr.Bytes()...)
	key = append(key, '!')
	key = append(key, chainprim.DescendingCounter(uint64(day))...)
	return key
}

// BlockNumberKey builds a key suffixed by a big-endian block number, so
// ascending scans read oldest-first (the natural order for a number-keyed
// index, unlike the descending-counter multi-valued keys above).
func BlockNumberKey(prefix []byte, number uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	key = append(key, byte(number>>56), byte(number>>48), byte(number>>40), byte(number>>32),
		byte(number>>24), byte(number>>16), byte(number>>8), byte(number))
	return key
}

// DayOnlyKey builds a key suffixed by a bare descending day number, with no
// address component (used for the per-day all-tested-nodes snapshot, §4.9),
// so ascending scans again read newest-day-first.
func DayOnlyKey(prefix []byte, day uint32) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	key = append(key, chainprim.DescendingCounter(uint64(day))...)
	return key
}
