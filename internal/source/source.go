// Package source defines the common contract behind C4's two
// implementations (§4.4): filesource replays from the local block store,
// netsource fetches from a configured peer set with look-ahead.
package source

import (
	"context"
	"errors"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// ErrDone is returned by Process when the source has no further block to
// hand the caller right now (not an error condition by itself; the driver
// decides whether to stop or wait for more).
var ErrDone = errors.New("source: no more blocks available")

// Source is the C4 contract: initialize(), do_process(current_height),
// process(), confirm(FilePos), get_existing_block(hash) (§4.4).
type Source interface {
	// Initialize prepares the source (opens files, resolves peers).
	Initialize(ctx context.Context) error

	// DoProcess advances the source's internal notion of "how far can we
	// go right now" given the caller's current height, returning whether
	// more blocks are available and the highest height the source knows
	// about.
	DoProcess(ctx context.Context, currentHeight uint64) (thereIsMore bool, lastKnownHeight uint64, err error)

	// Process returns the next decoded block and its raw dump bytes, or
	// ErrDone if DoProcess must be called again before more are
	// available.
	Process(ctx context.Context) (blockfmt.Block, []byte, error)

	// Confirm records that pos has been durably applied, advancing the
	// source's own resume cursor.
	Confirm(ctx context.Context, pos chainprim.FilePos) error

	// GetExistingBlock resolves a block already known to the source by
	// hash, without advancing Process's cursor.
	GetExistingBlock(ctx context.Context, hash chainprim.Hash) (blockfmt.Block, []byte, error)

	// Close releases any resources the source holds open.
	Close() error
}
