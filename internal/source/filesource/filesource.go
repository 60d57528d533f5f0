// Package filesource implements C4's file-replay Source (§4.4): iterates
// the local block store from each file's persisted resume offset, handing
// main/sign blocks to the caller and transparently confirming rejected
// blocks as it encounters them.
package filesource

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/source"
)

// FileSource replays blocks already written to the local block store.
type FileSource struct {
	store *blockstore.Store
	kv    *kvstore.Store
	opts  blockfmt.Options
	log   *logrus.Logger

	mu         sync.Mutex
	curFile    string
	curOffset  uint64
	pending    []blockstore.Record
	pendingIdx int
	// endOffsets maps a returned block's FilePos to the offset one past its
	// record, so Confirm can persist the resume cursor without re-reading
	// the record.
	endOffsets map[chainprim.FilePos]uint64
}

// New builds a FileSource over store, persisting its resume cursor in kv.
func New(store *blockstore.Store, kv *kvstore.Store, opts blockfmt.Options, log *logrus.Logger) *FileSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FileSource{
		store:      store,
		kv:         kv,
		opts:       opts,
		log:        log,
		endOffsets: make(map[chainprim.FilePos]uint64),
	}
}

// Initialize resolves the first file/offset not yet confirmed (§4.1,
// §4.4 "iterates existing files from each file's persisted end_offset").
func (f *FileSource) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	files := f.store.Files()
	if len(files) == 0 {
		return fmt.Errorf("filesource: block store has no files")
	}

	for _, name := range files {
		size, err := f.store.FileSize(name)
		if err != nil {
			return fmt.Errorf("filesource: stat %s: %w", name, err)
		}
		end, err := f.persistedEndOffset(name)
		if err != nil {
			return err
		}
		if end < size {
			f.curFile = name
			f.curOffset = end
			return nil
		}
	}
	// Every file is fully consumed; park at the end of the last one,
	// waiting for more appends.
	last := files[len(files)-1]
	end, err := f.persistedEndOffset(last)
	if err != nil {
		return err
	}
	f.curFile = last
	f.curOffset = end
	return nil
}

func (f *FileSource) persistedEndOffset(fileName string) (uint64, error) {
	raw, err := f.kv.Get(schema.SimpleKey(schema.PrefixFileInfo, []byte(fileName)))
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("filesource: read FileInfo(%s): %w", fileName, err)
	}
	var fi schema.FileInfo
	if err := schema.Unmarshal(raw, &fi); err != nil {
		return 0, err
	}
	return fi.EndOffset, nil
}

// DoProcess refills the pending-record buffer from the current position,
// rolling onto the next file if the current one is sealed and exhausted.
func (f *FileSource) DoProcess(ctx context.Context, currentHeight uint64) (bool, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doProcessLocked(currentHeight)
}

func (f *FileSource) doProcessLocked(currentHeight uint64) (bool, uint64, error) {
	if f.pendingIdx < len(f.pending) {
		return true, currentHeight, nil
	}
	recs, err := f.store.IterateFrom(chainprim.FilePos{FileName: f.curFile, Offset: f.curOffset})
	if err != nil {
		return false, currentHeight, fmt.Errorf("filesource: iterate %s: %w", f.curFile, err)
	}
	if len(recs) > 0 {
		f.pending = recs
		f.pendingIdx = 0
		return true, currentHeight, nil
	}
	if next, ok := f.store.NextFile(f.curFile); ok {
		f.curFile = next
		f.curOffset = 0
		return f.doProcessLocked(currentHeight)
	}
	// Current (last) file fully read; wait for the writer to append more.
	return false, currentHeight, nil
}

// Process returns the next main or sign block, transparently confirming
// and skipping rejected blocks as §4.4 specifies.
func (f *FileSource) Process(ctx context.Context) (blockfmt.Block, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.pendingIdx >= len(f.pending) {
			return nil, nil, source.ErrDone
		}
		rec := f.pending[f.pendingIdx]
		f.pendingIdx++
		endOffset := rec.Pos.Offset + 8 + uint64(len(rec.Dump))
		f.curOffset = endOffset

		block, err := blockfmt.Parse(rec.Dump, rec.Pos, f.opts)
		if err != nil {
			return nil, nil, fmt.Errorf("filesource: parse %s: %w", rec.Pos, err)
		}

		if _, ok := block.(*blockfmt.RejectedBlock); ok {
			if err := f.confirmOffset(rec.Pos.FileName, endOffset); err != nil {
				return nil, nil, err
			}
			continue
		}

		f.endOffsets[rec.Pos] = endOffset
		return block, rec.Dump, nil
	}
}

// Confirm persists the resume cursor for a block this source previously
// handed to the caller.
func (f *FileSource) Confirm(ctx context.Context, pos chainprim.FilePos) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	end, ok := f.endOffsets[pos]
	if !ok {
		return fmt.Errorf("filesource: confirm unknown position %s", pos)
	}
	delete(f.endOffsets, pos)
	return f.confirmOffset(pos.FileName, end)
}

func (f *FileSource) confirmOffset(fileName string, endOffset uint64) error {
	fi := schema.FileInfo{FileName: fileName, EndOffset: endOffset}
	b, err := schema.Marshal(fi)
	if err != nil {
		return err
	}
	return f.kv.Put(schema.SimpleKey(schema.PrefixFileInfo, []byte(fileName)), b)
}

// GetExistingBlock is not meaningful for a replay source: every block it
// ever hands out comes from the one local store it already owns, so there
// is no second "already known" path to dedup against.
func (f *FileSource) GetExistingBlock(ctx context.Context, hash chainprim.Hash) (blockfmt.Block, []byte, error) {
	return nil, nil, fmt.Errorf("filesource: GetExistingBlock not supported")
}

// Close closes the underlying block store.
func (f *FileSource) Close() error {
	return f.store.Close()
}
