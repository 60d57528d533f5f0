// Package chainindex implements C5: the in-memory hash→header map and
// number→header vector, built from out-of-order arrivals by a topological
// walk of prev-hash links (§4.5).
package chainindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// ErrNoStateBlock is returned by GetLastStateBlock when none has been
// observed yet (§4.5).
var ErrNoStateBlock = errors.New("chainindex: no state block seen yet")

// ErrNotFound is returned when a hash or number has no corresponding
// header.
var ErrNotFound = errors.New("chainindex: not found")

// Header is the minimal linkable header the index needs: enough to walk
// prev-hash chains and assign numbers. Callers store their own richer
// header type keyed by the same Hash; Index only needs this shape.
type Header struct {
	Hash        chainprim.Hash
	PrevHash    chainprim.Hash
	BlockNumber *uint64
	IsState     bool
}

// Index is C5's state: blocks keyed by hash, a parallel number→hash
// vector, and the last-seen state-block number. Per Design Note "Cyclic /
// self-referential headers", the vector stores hashes (indices into the
// map) rather than borrowed references, sidestepping the lifetime issue
// the source's std::vector<BlockHeader&> has.
type Index struct {
	mu             sync.RWMutex
	blocks         map[chainprim.Hash]*Header
	hashes         []chainprim.Hash // hashes[i].BlockNumber == i
	lastStateBlock *uint64
}

// New builds an Index with the genesis sentinel pre-registered: hash all
// zero, block number 0 (§4.5).
func New() *Index {
	genesisNum := uint64(0)
	genesis := &Header{Hash: chainprim.ZeroHash, BlockNumber: &genesisNum}
	return &Index{
		blocks: map[chainprim.Hash]*Header{chainprim.ZeroHash: genesis},
		hashes: []chainprim.Hash{chainprim.ZeroHash},
	}
}

// AddWithoutCalc inserts h into the hash map if absent, without assigning
// a block number. Returns whether the header already existed.
func (idx *Index) AddWithoutCalc(h Header) (alreadyExisted bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.blocks[h.Hash]; ok {
		return true
	}
	cp := h
	idx.blocks[h.Hash] = &cp
	return false
}

// CalcBlockchain walks prev-hash links starting at lastHash, numbering any
// unnumbered headers it finds until it reaches either a numbered anchor
// or a dangling prev-hash (an orphan still missing its parent). It returns
// the count of newly linked headers, or 0 if the walk could not reach an
// anchor (not yet linkable — every temporary assignment is rolled back).
func (idx *Index) CalcBlockchain(lastHash chainprim.Hash) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var stack []*Header
	cursor := lastHash
	for {
		h, ok := idx.blocks[cursor]
		if !ok {
			// Orphan: the walk dangles before reaching a numbered anchor.
			return 0, nil
		}
		if h.BlockNumber != nil {
			// Anchor found.
			break
		}
		stack = append(stack, h)
		cursor = h.PrevHash
	}

	anchor := idx.blocks[cursor]
	anchorNum := *anchor.BlockNumber

	// stack is ordered tip-first (stack[0] is lastHash's header); the
	// i-th element from the top gets number anchorNum + (len(stack) - i).
	for i, h := range stack {
		h.BlockNumber = u64ptr(anchorNum + uint64(len(stack)-i))
	}

	// Append in ascending-number order (reverse of stack, which is
	// tip-first) and verify no gap opens against the existing vector.
	for i := len(stack) - 1; i >= 0; i-- {
		h := stack[i]
		if *h.BlockNumber != uint64(len(idx.hashes)) {
			// Gap: roll back every temporary assignment made this call.
			for _, rb := range stack {
				rb.BlockNumber = nil
			}
			return 0, fmt.Errorf("chainindex: gap linking %s: want number %d, have %d", h.Hash, len(idx.hashes), *h.BlockNumber)
		}
		idx.hashes = append(idx.hashes, h.Hash)
		if h.IsState {
			n := *h.BlockNumber
			idx.lastStateBlock = &n
		}
	}

	return len(stack), nil
}

func u64ptr(v uint64) *uint64 { return &v }

// AddBlock is AddWithoutCalc followed by CalcBlockchain(h.Hash), rolling
// the header back out of the map entirely if linking fails with an error
// (as opposed to the "not yet linkable" 0-count case, which is not an
// error and leaves the header in place as a pending orphan).
func (idx *Index) AddBlock(h Header) (linked int, err error) {
	existed := idx.AddWithoutCalc(h)
	linked, err = idx.CalcBlockchain(h.Hash)
	if err != nil && !existed {
		idx.mu.Lock()
		delete(idx.blocks, h.Hash)
		idx.mu.Unlock()
	}
	return linked, err
}

// GetBlockByHash returns the header for hash.
func (idx *Index) GetBlockByHash(hash chainprim.Hash) (Header, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	h, ok := idx.blocks[hash]
	if !ok {
		return Header{}, ErrNotFound
	}
	return *h, nil
}

// GetBlockByNumber returns the header at the given block number.
func (idx *Index) GetBlockByNumber(number uint64) (Header, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if number >= uint64(len(idx.hashes)) {
		return Header{}, ErrNotFound
	}
	h, ok := idx.blocks[idx.hashes[number]]
	if !ok {
		return Header{}, ErrNotFound
	}
	return *h, nil
}

// GetLastBlock returns the highest-numbered linked header.
func (idx *Index) GetLastBlock() (Header, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.hashes) == 0 {
		return Header{}, ErrNotFound
	}
	last := idx.hashes[len(idx.hashes)-1]
	return *idx.blocks[last], nil
}

// CountBlocks returns the number of linked blocks, including genesis.
func (idx *Index) CountBlocks() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.hashes)
}

// GetLastStateBlock returns the block number of the most recently linked
// state block (§4.5, §4.7.3). It fails if none has been seen.
func (idx *Index) GetLastStateBlock() (uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.lastStateBlock == nil {
		return 0, ErrNoStateBlock
	}
	return *idx.lastStateBlock, nil
}
