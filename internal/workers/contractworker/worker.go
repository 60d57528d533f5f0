// Package contractworker implements C9: for each contract-execution tx in
// a main block, calling the external execution oracle (§6.4) and
// persisting the resulting contract state (§4.8). It consumes the same
// fanned-out block stream as mainworker but keeps its own ContractCursor,
// so it may run ahead of or behind the main worker (§5: "no cross-worker
// ordering is asserted").
package contractworker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/oracle"
)

// Worker applies main blocks' contract-execution transactions.
type Worker struct {
	kv     *kvstore.Store
	oracle *oracle.Client
	log    *logrus.Logger
}

// New builds a Worker against the given oracle client.
func New(kv *kvstore.Store, client *oracle.Client, log *logrus.Logger) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{kv: kv, oracle: client, log: log}
}

// Apply is C9's per-block entry point (§4.8). Only main blocks are
// processed; the caller is expected to only route MainBlock values here.
func (w *Worker) Apply(ctx context.Context, block *blockfmt.MainBlock) error {
	if block.BlockNumber == nil {
		return fmt.Errorf("contractworker: block %s has no assigned number", block.Hash)
	}
	num := *block.BlockNumber

	cursor, err := w.readCursor()
	if err != nil {
		return fmt.Errorf("contractworker: read cursor: %w", err)
	}
	if num <= cursor.BlockNumber && !(cursor.BlockHash.IsZero() && cursor.BlockNumber == 0) {
		w.log.WithFields(logrus.Fields{"block": num, "cursor": cursor.BlockNumber}).Debug("contractworker: skipping already-applied block")
		return nil
	}

	batch := w.kv.NewBatch()
	for i := range block.Txs {
		t := &block.Txs[i]
		if t.Script == nil {
			continue
		}
		if err := w.applyScriptTx(ctx, batch, num, t); err != nil {
			batch.Cancel()
			return fmt.Errorf("contractworker: tx %s: %w", t.Hash, err)
		}
	}

	newCursor := schema.ContractCursor{BlockNumber: num, BlockHash: block.Hash}
	cbytes, err := schema.Marshal(newCursor)
	if err != nil {
		batch.Cancel()
		return err
	}
	if err := batch.Put(schema.PrefixContractCursor, cbytes); err != nil {
		batch.Cancel()
		return err
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("contractworker: commit block %d: %w", num, err)
	}
	return nil
}

func (w *Worker) readCursor() (schema.ContractCursor, error) {
	raw, err := w.kv.Get(schema.PrefixContractCursor)
	if err == kvstore.ErrNotFound {
		return schema.ContractCursor{}, nil
	}
	if err != nil {
		return schema.ContractCursor{}, err
	}
	var cur schema.ContractCursor
	if err := schema.Unmarshal(raw, &cur); err != nil {
		return schema.ContractCursor{}, err
	}
	return cur, nil
}
