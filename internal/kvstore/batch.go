package kvstore

import (
	"bytes"

	badger "github.com/dgraph-io/badger/v4"
)

// Batch accumulates puts and deletes for an all-or-nothing commit. Per §4.2
// and §7, a worker's batch failing to commit must leave the store exactly
// as it was — badger's WriteBatch already gives this by building a single
// transaction under the hood, so Batch is a thin, non-shareable wrapper
// (callers must not use a Batch from more than one goroutine, per §5's
// "callers must not share write-batches across threads").
type Batch struct {
	wb      *badger.WriteBatch
	pending []pendingOp
}

type pendingOp struct {
	del   bool
	key   []byte
	value []byte
}

// NewBatch starts a new write batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{wb: s.db.NewWriteBatch()}
}

// Put stages a key/value write.
func (b *Batch) Put(key, value []byte) error {
	b.pending = append(b.pending, pendingOp{key: key, value: value})
	return b.wb.Set(key, value)
}

// Delete stages a deletion.
func (b *Batch) Delete(key []byte) error {
	b.pending = append(b.pending, pendingOp{del: true, key: key})
	return b.wb.Delete(key)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.pending)
}

// Commit flushes all staged operations atomically.
func (b *Batch) Commit() error {
	return b.wb.Flush()
}

// Cancel discards all staged operations without writing anything. Per §7,
// "Deletes inside a batch are rolled back if the batch fails to commit" —
// badger's WriteBatch never applies partial writes, so Cancel (or a Flush
// error) leaves the store untouched.
func (b *Batch) Cancel() {
	b.wb.Cancel()
}

// GetWithBatch reads key, preferring any not-yet-committed write staged in
// b over the persisted value in s — workers that read-modify-write a row
// more than once within the same block apply (e.g. a token's
// AddTokens/MoveTokens sequence, or a contract's prior V8State) need this
// read-your-own-writes view before the batch commits.
func (s *Store) GetWithBatch(b *Batch, key []byte) ([]byte, error) {
	for i := len(b.pending) - 1; i >= 0; i-- {
		op := b.pending[i]
		if bytes.Equal(op.key, key) {
			if op.del {
				return nil, ErrNotFound
			}
			return op.value, nil
		}
	}
	return s.Get(key)
}

// ScanPrefixExcludingBatchDeletes behaves like ScanPrefix but skips any
// key staged for deletion in b — used by the delegate un-delegate branch
// (§4.7.1) to prefix-scan the persisted KV for the newest active
// delegation "that is not in the batch's deleted set" once the in-batch
// delegate_cache stack has nothing left for the pair.
func (s *Store) ScanPrefixExcludingBatchDeletes(b *Batch, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	deleted := make(map[string]bool)
	for _, op := range b.pending {
		if op.del {
			deleted[string(op.key)] = true
		} else {
			delete(deleted, string(op.key))
		}
	}
	return s.ScanPrefix(prefix, func(key, value []byte) (bool, error) {
		if deleted[string(key)] {
			return true, nil
		}
		return fn(key, value)
	})
}
