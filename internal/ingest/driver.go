// Package ingest implements C7: the top-level loop pulling blocks from a
// Source, persisting and indexing them, and fanning out linked main blocks
// to the three workers over bounded single-slot channels (§4.6, §5).
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/chainindex"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/source"
	"github.com/metahash-oss/torrentnode/internal/timeline"
	"github.com/metahash-oss/torrentnode/internal/workers/contractworker"
	"github.com/metahash-oss/torrentnode/internal/workers/mainworker"
	"github.com/metahash-oss/torrentnode/internal/workers/nodetest"
)

// idleBackoff is how long the driver waits before re-polling DoProcess
// when the source reports nothing new is available or the poll failed.
const idleBackoff = 200 * time.Millisecond

// Driver is C7: the ingestion pipeline's sole writer to the chain index
// and signature timeline (§5).
type Driver struct {
	Source   source.Source
	Store    *blockstore.Store
	KV       *kvstore.Store
	Index    *chainindex.Index
	Timeline *timeline.Timeline

	Main     *mainworker.Worker
	Contract *contractworker.Worker
	NodeTest *nodetest.Worker

	Log *logrus.Logger

	mainCh     chan *blockfmt.MainBlock
	contractCh chan *blockfmt.MainBlock
	nodeTestCh chan *blockfmt.MainBlock
}

// New builds a Driver wiring every component (§2 data flow:
// C4 -> C7 -> (C3 for verify) -> C5, C6, C1 -> fan-out -> C8, C9, C10 -> C2).
func New(src source.Source, store *blockstore.Store, kv *kvstore.Store, idx *chainindex.Index, tl *timeline.Timeline, main *mainworker.Worker, contract *contractworker.Worker, nt *nodetest.Worker, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{
		Source:     src,
		Store:      store,
		KV:         kv,
		Index:      idx,
		Timeline:   tl,
		Main:       main,
		Contract:   contract,
		NodeTest:   nt,
		Log:        log,
		mainCh:     make(chan *blockfmt.MainBlock, 1),
		contractCh: make(chan *blockfmt.MainBlock, 1),
		nodeTestCh: make(chan *blockfmt.MainBlock, 1),
	}
}

// Run starts the worker goroutines and the driver loop, returning the
// first fatal error any of them produces. A single fatal error cancels
// the whole pipeline (§5: errgroup-style abort).
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Source.Initialize(ctx); err != nil {
		return &FatalInitError{Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.runMainWorker() })
	g.Go(func() error { return d.runContractWorker(gctx) })
	g.Go(func() error { return d.runNodeTestWorker() })
	g.Go(func() error {
		defer close(d.mainCh)
		defer close(d.contractCh)
		defer close(d.nodeTestCh)
		return d.drive(gctx)
	})
	return g.Wait()
}

func (d *Driver) runMainWorker() error {
	for block := range d.mainCh {
		if err := d.Main.Apply(block); err != nil {
			return &FatalDataError{Err: err}
		}
	}
	return nil
}

func (d *Driver) runContractWorker(ctx context.Context) error {
	for block := range d.contractCh {
		if err := d.Contract.Apply(ctx, block); err != nil {
			return &OracleError{Err: err}
		}
	}
	return nil
}

func (d *Driver) runNodeTestWorker() error {
	for block := range d.nodeTestCh {
		if err := d.NodeTest.Apply(block); err != nil {
			return &FatalDataError{Err: err}
		}
	}
	return nil
}

// drive is the ingestion-driver loop itself: pull, persist, index, fan out
// (§2, §4.6). It is the sole writer to the Index and Timeline (§5).
func (d *Driver) drive(ctx context.Context) error {
	var currentHeight uint64
	if last, err := d.Index.GetLastBlock(); err == nil {
		currentHeight = *last.BlockNumber
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		thereIsMore, _, err := d.Source.DoProcess(ctx, currentHeight)
		if err != nil {
			// A failed poll is retried after the same short sleep as an
			// idle one rather than ending the pipeline.
			d.Log.WithError(err).Warn("ingest: source poll failed, retrying")
		}
		if err != nil || !thereIsMore {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleBackoff):
			}
			continue
		}

		block, dump, err := d.Source.Process(ctx)
		if err == source.ErrDone {
			continue
		}
		if err != nil {
			return &PeerError{Err: err}
		}

		num, err := d.ingestOne(ctx, block, dump)
		if err != nil {
			return err
		}
		if num != nil {
			currentHeight = *num
		}
	}
}

// ingestOne persists, indexes and fans out one decoded block, returning
// the block number it was assigned if it is a main block that advanced
// the index.
func (d *Driver) ingestOne(ctx context.Context, block blockfmt.Block, dump []byte) (*uint64, error) {
	pos := block.Pos()
	if pos.IsZero() {
		newPos, err := d.Store.Append(dump)
		if err != nil {
			return nil, &FatalDataError{Err: fmt.Errorf("ingest: persist dump: %w", err)}
		}
		assignPos(block, newPos)
		pos = newPos
	}

	switch b := block.(type) {
	case *blockfmt.RejectedBlock:
		if err := d.Source.Confirm(ctx, pos); err != nil {
			return nil, &PeerError{Err: err}
		}
		return nil, nil

	case *blockfmt.SignBlock:
		d.Timeline.AppendSign(b.Hash, b.PrevHash)
		if err := d.persistSignHeader(b); err != nil {
			return nil, &FatalDataError{Err: err}
		}
		if err := d.Source.Confirm(ctx, pos); err != nil {
			return nil, &PeerError{Err: err}
		}
		return nil, nil

	case *blockfmt.MainBlock:
		return d.ingestMain(ctx, b, pos)

	default:
		return nil, &FatalDataError{Err: fmt.Errorf("ingest: unknown block variant %T", block)}
	}
}

// ingestMain implements the C5/C6/C1/tip-selection steps and fan-out for a
// main block (§4.5, §4.6, §2 data flow).
func (d *Driver) ingestMain(ctx context.Context, b *blockfmt.MainBlock, pos chainprim.FilePos) (*uint64, error) {
	h := chainindex.Header{Hash: b.Hash, PrevHash: b.PrevHash, IsState: b.BlockType.IsState()}
	linked, err := d.Index.AddBlock(h)
	if err != nil {
		return nil, &FatalDataError{Err: fmt.Errorf("ingest: link block %s: %w", b.Hash, err)}
	}
	if linked == 0 {
		d.Log.WithField("hash", b.Hash).Debug("ingest: block not yet linkable, holding as orphan")
		return nil, nil
	}

	linkedHeader, err := d.Index.GetBlockByHash(b.Hash)
	if err != nil {
		return nil, &FatalDataError{Err: fmt.Errorf("ingest: resolve linked number for %s: %w", b.Hash, err)}
	}
	b.BlockNumber = linkedHeader.BlockNumber

	d.Timeline.AppendMain(b.Hash)

	if err := d.persistMainHeader(b); err != nil {
		return nil, &FatalDataError{Err: err}
	}

	if err := d.updateTip(b); err != nil {
		return nil, &FatalDataError{Err: err}
	}

	if err := d.fanOut(ctx, b); err != nil {
		return nil, err
	}

	if err := d.Source.Confirm(ctx, pos); err != nil {
		return nil, &PeerError{Err: err}
	}
	return linkedHeader.BlockNumber, nil
}

// updateTip applies §4.6's tie-break rule to the singleton BlocksMetadata
// row.
func (d *Driver) updateTip(b *blockfmt.MainBlock) error {
	var tip schema.BlocksMetadata
	raw, err := d.KV.Get(schema.KeyBlockMeta)
	switch {
	case err == kvstore.ErrNotFound:
	case err != nil:
		return fmt.Errorf("ingest: read tip: %w", err)
	default:
		if uerr := schema.Unmarshal(raw, &tip); uerr != nil {
			return uerr
		}
	}

	if tip.PrevBlockHash == b.PrevHash && !tip.BlockHash.IsZero() {
		if !b.Hash.Less(tip.BlockHash) {
			return nil
		}
	}
	tip = schema.BlocksMetadata{BlockHash: b.Hash, PrevBlockHash: b.PrevHash}
	out, err := schema.Marshal(tip)
	if err != nil {
		return err
	}
	return d.KV.Put(schema.KeyBlockMeta, out)
}

// persistMainHeader writes the §6.5 lookup row for a newly linked main
// block: hash -> header, and number -> hash so get-block-by-number and
// get-blocks can resolve without walking the in-memory chain index.
func (d *Driver) persistMainHeader(b *blockfmt.MainBlock) error {
	h := schema.BlockHeader{
		Hash:        b.Hash,
		PrevHash:    b.PrevHash,
		BlockNumber: *b.BlockNumber,
		BlockType:   uint64(b.BlockType),
		Timestamp:   b.Timestamp,
		BlockSize:   b.BlockSize,
		CountTxs:    b.CountTxs,
		FilePos:     b.FilePos,
	}
	out, err := schema.Marshal(h)
	if err != nil {
		return err
	}
	if err := d.KV.Put(schema.SimpleKey(schema.PrefixBlockHeader, b.Hash.Bytes()), out); err != nil {
		return err
	}
	return d.KV.Put(schema.BlockNumberKey(schema.PrefixBlockByNumber, *b.BlockNumber), b.Hash.Bytes())
}

// persistSignHeader writes the §6.5 lookup row for a sign block, keyed by
// its own hash since sign blocks carry no block number.
func (d *Driver) persistSignHeader(b *blockfmt.SignBlock) error {
	h := schema.BlockHeader{
		Hash:      b.Hash,
		PrevHash:  b.PrevHash,
		BlockType: uint64(blockfmt.TagSign),
		Timestamp: b.Timestamp,
		BlockSize: b.BlockSize,
		FilePos:   b.FilePos,
	}
	out, err := schema.Marshal(h)
	if err != nil {
		return err
	}
	return d.KV.Put(schema.SimpleKey(schema.PrefixSignBlock, b.Hash.Bytes()), out)
}

// fanOut sends b to each worker's single-slot queue, blocking (applying
// backpressure to ingestion) until every worker has room or ctx is done.
func (d *Driver) fanOut(ctx context.Context, b *blockfmt.MainBlock) error {
	for _, ch := range []chan *blockfmt.MainBlock{d.mainCh, d.contractCh, d.nodeTestCh} {
		select {
		case ch <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// assignPos sets the FilePos on a freshly-persisted block. Block is always
// one of the three concrete variants this package produces.
func assignPos(block blockfmt.Block, pos chainprim.FilePos) {
	switch b := block.(type) {
	case *blockfmt.MainBlock:
		b.FilePos = pos
	case *blockfmt.SignBlock:
		b.FilePos = pos
	case *blockfmt.RejectedBlock:
		b.FilePos = pos
	}
}
