// Package timeline implements C6: an ordered log of observed blocks (main
// and sign) and an index from a sign block's prev-hash (the main block it
// attests) to the sign block itself (§4.5 design, GLOSSARY "Sign block").
package timeline

import (
	"fmt"
	"sync"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// Entry is one record in the interleaved main+sign observation log.
type Entry struct {
	Hash   chainprim.Hash
	IsSign bool
	// PrevHash is the attested main block's hash when IsSign is true.
	PrevHash chainprim.Hash
}

// Timeline holds the append-order log plus the prev-hash→sign-block
// index, guarded by a single mutex (§5). Load runs once on startup and
// sets an initialized flag; AppendMain and AppendSign panic while it is
// unset, while SignBlockFor, Entries and Len do not check it.
type Timeline struct {
	mu          sync.Mutex
	entries     []Entry
	byPrevHash  map[chainprim.Hash]chainprim.Hash // main-block hash -> attesting sign-block hash
	initialized bool
}

// New builds an empty, uninitialized Timeline.
func New() *Timeline {
	return &Timeline{byPrevHash: make(map[chainprim.Hash]chainprim.Hash)}
}

// Load bulk-deserializes a previously persisted entry list on startup and
// flips the initialized flag. Calling Load twice is an error.
func (t *Timeline) Load(entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return fmt.Errorf("timeline: already initialized")
	}
	for _, e := range entries {
		t.entries = append(t.entries, e)
		if e.IsSign {
			t.byPrevHash[e.PrevHash] = e.Hash
		}
	}
	t.initialized = true
	return nil
}

// AppendMain records an observed main block.
func (t *Timeline) AppendMain(hash chainprim.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assertInitialized()
	t.entries = append(t.entries, Entry{Hash: hash})
}

// AppendSign records an observed sign block attesting prevHash (the main
// block it signs).
func (t *Timeline) AppendSign(hash, prevHash chainprim.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assertInitialized()
	t.entries = append(t.entries, Entry{Hash: hash, IsSign: true, PrevHash: prevHash})
	t.byPrevHash[prevHash] = hash
}

// assertInitialized panics if Load has never been called. Only the append
// methods call it; the read methods do not. Callers must call Load (even
// with a nil/empty slice) exactly once during startup before using the
// timeline.
func (t *Timeline) assertInitialized() {
	if !t.initialized {
		panic("timeline: used before Load")
	}
}

// SignBlockFor returns the sign-block hash attesting the main block
// identified by mainHash, if one has been observed.
func (t *Timeline) SignBlockFor(mainHash chainprim.Hash) (chainprim.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byPrevHash[mainHash]
	return h, ok
}

// Entries returns a copy of the full append-order log.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries observed.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
