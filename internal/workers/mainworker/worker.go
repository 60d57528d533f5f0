// Package mainworker implements C8: applying a linked main block to
// balances, tx indices, delegation state, tokens and forging sums (§4.7).
// Consumers feed blocks in ascending number order; Worker is idempotent
// per block via its persisted MainCursor (Testable Property 7).
package mainworker

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// Worker applies main blocks to the KV store.
type Worker struct {
	kv             *kvstore.Store
	log            *logrus.Logger
	ValidateStates bool
}

// New builds a Worker. validateStates enables the §4.7.3 state-block
// snapshot assertions.
func New(kv *kvstore.Store, log *logrus.Logger, validateStates bool) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{kv: kv, log: log, ValidateStates: validateStates}
}

// applyContext accumulates per-block in-memory state shared by the helper
// files in this package (balance.go, delegate.go, token.go, tip.go,
// statevalidate.go).
type applyContext struct {
	w       *Worker
	batch   *kvstore.Batch
	block   *blockfmt.MainBlock
	num     uint64
	seq     uint64
	deltas  map[string]*balanceDelta // keyed by Address.String()
	cache   map[string][]delegateCacheEntry
}

// Apply is C8's per-block entry point (§4.7 steps 1-7).
func (w *Worker) Apply(block *blockfmt.MainBlock) error {
	if block.BlockNumber == nil {
		return fmt.Errorf("mainworker: block %s has no assigned number", block.Hash)
	}
	num := *block.BlockNumber

	cursor, err := w.readCursor()
	if err != nil {
		return fmt.Errorf("mainworker: read cursor: %w", err)
	}
	if num <= cursor.BlockNumber && !(cursor.BlockHash.IsZero() && cursor.BlockNumber == 0) {
		w.log.WithFields(logrus.Fields{"block": num, "cursor": cursor.BlockNumber}).Debug("mainworker: skipping already-applied block")
		return nil
	}
	if !cursor.BlockHash.IsZero() && cursor.BlockHash != block.PrevHash {
		return fmt.Errorf("mainworker: linearity check failed at block %d: cursor hash %s != block prev_hash %s", num, cursor.BlockHash, block.PrevHash)
	}

	batch := w.kv.NewBatch()
	ctx := &applyContext{
		w:      w,
		batch:  batch,
		block:  block,
		num:    num,
		deltas: make(map[string]*balanceDelta),
		cache:  make(map[string][]delegateCacheEntry),
	}

	for i := range block.Txs {
		if err := ctx.applyTx(&block.Txs[i]); err != nil {
			batch.Cancel()
			return fmt.Errorf("mainworker: apply tx %s: %w", block.Txs[i].Hash, err)
		}
	}

	if err := ctx.mergeBalances(); err != nil {
		batch.Cancel()
		return err
	}

	if block.BlockType.IsForging() {
		if err := ctx.applyForgingSums(); err != nil {
			batch.Cancel()
			return err
		}
	}

	if block.BlockType.IsState() && w.ValidateStates {
		if err := ctx.validateStateBlock(); err != nil {
			batch.Cancel()
			return fmt.Errorf("mainworker: state validation failed: %w", err)
		}
	}

	if err := ctx.updateTip(); err != nil {
		batch.Cancel()
		return err
	}

	newCursor := schema.MainCursor{
		BlockNumber: num,
		BlockHash:   block.Hash,
		CountVal:    cursor.CountVal + uint64(len(block.Txs)),
	}
	cbytes, err := schema.Marshal(newCursor)
	if err != nil {
		batch.Cancel()
		return err
	}
	if err := batch.Put(schema.PrefixMainCursor, cbytes); err != nil {
		batch.Cancel()
		return err
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("mainworker: commit block %d: %w", num, err)
	}
	return nil
}

func (w *Worker) readCursor() (schema.MainCursor, error) {
	raw, err := w.kv.Get(schema.PrefixMainCursor)
	if err == kvstore.ErrNotFound {
		return schema.MainCursor{}, nil
	}
	if err != nil {
		return schema.MainCursor{}, err
	}
	var cur schema.MainCursor
	if err := schema.Unmarshal(raw, &cur); err != nil {
		return schema.MainCursor{}, err
	}
	return cur, nil
}

// nextCounter returns the next monotonically increasing history counter
// for this block apply. Encoding it as blockNumber*1e6 + local-sequence
// keeps it globally monotonic across blocks (block numbers only ever
// increase) without a second persisted sequence to read-modify-write.
func (ctx *applyContext) nextCounter() uint64 {
	c := ctx.num*1_000_000 + ctx.seq
	ctx.seq++
	return c
}
