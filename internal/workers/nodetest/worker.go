// Package nodetest implements C10: folding node-test result, trust and
// registration messages carried in main-block tx data into per-day server
// statistics (§4.9). It keeps its own NodeTestCursor and rolling DayNumber,
// grounded on original_source/src/Workers/WorkerNodeTest.cpp.
package nodetest

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// Worker applies main blocks' node-test related transactions.
type Worker struct {
	kv  *kvstore.Store
	log *logrus.Logger
}

// New builds a Worker.
func New(kv *kvstore.Store, log *logrus.Logger) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{kv: kv, log: log}
}

// Apply is C10's per-block entry point (§4.9). The worker's day counter
// advances by one at the end of every applied state block; every per-day
// row this block writes uses the counter's value before that advance.
func (w *Worker) Apply(block *blockfmt.MainBlock) error {
	if block.BlockNumber == nil {
		return fmt.Errorf("nodetest: block %s has no assigned number", block.Hash)
	}
	num := *block.BlockNumber

	cursor, err := w.readCursor()
	if err != nil {
		return fmt.Errorf("nodetest: read cursor: %w", err)
	}
	if num <= cursor.BlockNumber && !(cursor.BlockHash.IsZero() && cursor.BlockNumber == 0) {
		w.log.WithFields(logrus.Fields{"block": num, "cursor": cursor.BlockNumber}).Debug("nodetest: skipping already-applied block")
		return nil
	}

	batch := w.kv.NewBatch()
	day := cursor.DayNumber
	tested := make(map[chainprim.Address]struct{})

	for i := range block.Txs {
		t := &block.Txs[i]
		if err := w.applyTx(batch, block, day, t, tested); err != nil {
			batch.Cancel()
			return fmt.Errorf("nodetest: tx %s: %w", t.Hash, err)
		}
	}

	if len(tested) > 0 {
		if err := w.mergeAllTestedNodes(batch, day, tested); err != nil {
			batch.Cancel()
			return err
		}
	}

	if block.BlockType.IsState() {
		day++
	}

	newCursor := schema.NodeTestCursor{BlockNumber: num, BlockHash: block.Hash, DayNumber: day}
	cbytes, err := schema.Marshal(newCursor)
	if err != nil {
		batch.Cancel()
		return err
	}
	if err := batch.Put(schema.PrefixNodeTestCursor, cbytes); err != nil {
		batch.Cancel()
		return err
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("nodetest: commit block %d: %w", num, err)
	}
	return nil
}

func (w *Worker) readCursor() (schema.NodeTestCursor, error) {
	raw, err := w.kv.Get(schema.PrefixNodeTestCursor)
	if err == kvstore.ErrNotFound {
		return schema.NodeTestCursor{}, nil
	}
	if err != nil {
		return schema.NodeTestCursor{}, err
	}
	var cur schema.NodeTestCursor
	if err := schema.Unmarshal(raw, &cur); err != nil {
		return schema.NodeTestCursor{}, err
	}
	return cur, nil
}
