// Package netsource implements C4's network Source (§4.4): fetching
// blocks from a configured peer set with two look-ahead caches,
// sync-mode/pre-load mode height discovery, and per-segment failover
// across peers.
package netsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/peerclient"
	"github.com/metahash-oss/torrentnode/internal/source"
)

// Limits named in §4.4.
const (
	PreloadBlocks       = 5
	CountAdvancedBlocks = 8
)

// Config controls how a NetSource talks to its peer set.
type Config struct {
	// PreLoad selects pre-load mode over plain sync-mode discovery.
	PreLoad bool
	// Compress requests gzip-compressed dump transport.
	Compress bool
	// IsSign selects the sign-block chain instead of the main chain.
	IsSign bool
	// MaxBlockSize bounds a pre-load response's per-block payload.
	MaxBlockSize uint64
}

// NetSource fetches blocks from peers, described in §4.4.
type NetSource struct {
	peers *peerclient.PeerSet
	cfg   Config
	opts  blockfmt.Options
	log   *logrus.Logger

	mu              sync.Mutex
	servers         []*peerclient.Client
	advancedHeaders map[uint64]peerclient.Header
	advancedDumps   map[chainprim.Hash][]byte
	nextHeight      uint64
	lastKnownHeight uint64
}

// New builds a NetSource over the given peer set.
func New(peers *peerclient.PeerSet, cfg Config, opts blockfmt.Options, log *logrus.Logger) *NetSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NetSource{
		peers:           peers,
		cfg:             cfg,
		opts:            opts,
		log:             log,
		advancedHeaders: make(map[uint64]peerclient.Header),
		advancedDumps:   make(map[chainprim.Hash][]byte),
	}
}

// Initialize verifies a peer set is configured.
func (n *NetSource) Initialize(ctx context.Context) error {
	if n.peers.Len() == 0 {
		return fmt.Errorf("netsource: no peers configured")
	}
	return nil
}

// DoProcess implements §4.4 step 1/2: sync-mode height discovery, or
// pre-load mode cache population.
func (n *NetSource) DoProcess(ctx context.Context, currentHeight uint64) (bool, uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextHeight = currentHeight + 1

	if n.cfg.PreLoad {
		if err := n.preload(ctx, currentHeight); err != nil {
			return false, n.lastKnownHeight, err
		}
	} else {
		if err := n.syncMode(ctx); err != nil {
			return false, n.lastKnownHeight, err
		}
	}
	return n.lastKnownHeight > currentHeight, n.lastKnownHeight, nil
}

// syncMode broadcasts get-count-blocks and records the peer subset that
// agrees on the highest reported height as the active server set (§4.4
// step 1).
func (n *NetSource) syncMode(ctx context.Context) error {
	clients := n.peers.All()
	results := make([]peerclient.CountBlocksResult, len(clients))
	errs := make([]error, len(clients))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			res, err := c.GetCountBlocks(gctx)
			results[i] = res
			errs[i] = err
			return nil // per-peer errors don't cancel the fan-out
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var best uint64
	for i := range clients {
		if errs[i] != nil {
			continue
		}
		if results[i].CountBlocks > best {
			best = results[i].CountBlocks
		}
	}
	var servers []*peerclient.Client
	for i, c := range clients {
		if errs[i] == nil && results[i].CountBlocks == best {
			servers = append(servers, c)
		}
	}
	if len(servers) == 0 {
		return fmt.Errorf("netsource: no peer answered get-count-blocks")
	}
	n.servers = servers
	n.lastKnownHeight = best
	return nil
}

// preload broadcasts pre-load starting at currentHeight, merging the
// first successful response's headers/dumps into the look-ahead caches
// (§4.4 step 2).
func (n *NetSource) preload(ctx context.Context, currentHeight uint64) error {
	clients := n.peers.All()
	if n.servers == nil {
		n.servers = clients
	}
	var lastErr error
	for _, c := range clients {
		res, err := c.PreLoad(ctx, currentHeight, PreloadBlocks, n.cfg.MaxBlockSize, n.cfg.Compress, n.cfg.IsSign)
		if err != nil {
			lastErr = err
			continue
		}
		for _, h := range res.Headers {
			n.advancedHeaders[h.Number] = h
			if h.Number > n.lastKnownHeight {
				n.lastKnownHeight = h.Number
			}
		}
		for i, h := range res.Headers {
			if i < len(res.Dumps) {
				n.advancedDumps[h.Hash] = res.Dumps[i].Dump
			}
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("netsource: pre-load: %w", lastErr)
	}
	return fmt.Errorf("netsource: pre-load: no peers responded")
}

// Process implements §4.4 "process()": resolve the header for nextHeight
// (from cache or a fresh batch fetch), fetch its dump (from cache or a
// fresh parallel look-ahead fetch), verify, parse, and advance.
func (n *NetSource) Process(ctx context.Context) (blockfmt.Block, []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	header, ok := n.advancedHeaders[n.nextHeight]
	if !ok {
		if err := n.fetchHeaderBatch(ctx); err != nil {
			return nil, nil, err
		}
		header, ok = n.advancedHeaders[n.nextHeight]
		if !ok {
			return nil, nil, source.ErrDone
		}
	}

	dump, ok := n.advancedDumps[header.Hash]
	if !ok {
		if err := n.fetchDumpsAhead(ctx, header); err != nil {
			return nil, nil, err
		}
		dump, ok = n.advancedDumps[header.Hash]
		if !ok {
			return nil, nil, fmt.Errorf("netsource: could not fetch dump for block %d (%s)", header.Number, header.Hash)
		}
	}

	if uint64(len(dump)) != header.Size && header.Size != 0 {
		return nil, nil, fmt.Errorf("netsource: block %d size mismatch: got %d want %d", header.Number, len(dump), header.Size)
	}

	pos := chainprim.FilePos{} // the driver assigns the real FilePos once it appends dump to C1
	block, err := blockfmt.Parse(dump, pos, n.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("netsource: parse block %d: %w", header.Number, err)
	}

	delete(n.advancedHeaders, n.nextHeight)
	delete(n.advancedDumps, header.Hash)
	n.nextHeight++
	return block, dump, nil
}

// fetchHeaderBatch requests up to CountAdvancedBlocks headers from the
// active server set, with per-request failover across servers (§4.4
// step 1: "on a peer error, the segment is re-queued and retried by a
// different peer until the peer set is exhausted").
func (n *NetSource) fetchHeaderBatch(ctx context.Context) error {
	if len(n.servers) == 0 {
		return fmt.Errorf("netsource: no active servers; call DoProcess first")
	}
	var lastErr error
	for _, c := range n.servers {
		headers, err := c.GetBlocks(ctx, n.nextHeight, CountAdvancedBlocks)
		if err != nil {
			lastErr = err
			continue
		}
		for _, h := range headers {
			n.advancedHeaders[h.Number] = h
		}
		return nil
	}
	return fmt.Errorf("netsource: fetch headers from %d: all peers failed: %w", n.nextHeight, lastErr)
}

// fetchDumpsAhead parallel-fetches up to CountAdvancedBlocks dumps ahead
// of header, one request per hash fanned out with errgroup, each with its
// own peer failover (§4.4 step 2, §5 peer-fetch worker threads).
func (n *NetSource) fetchDumpsAhead(ctx context.Context, first peerclient.Header) error {
	hashes := []chainprim.Hash{first.Hash}
	for num := first.Number + 1; num < first.Number+CountAdvancedBlocks; num++ {
		if h, ok := n.advancedHeaders[num]; ok {
			if _, cached := n.advancedDumps[h.Hash]; !cached {
				hashes = append(hashes, h.Hash)
			}
		}
	}

	results := make([][]byte, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			dump, err := n.fetchOneDump(gctx, h)
			if err != nil {
				if i == 0 {
					return err
				}
				return nil // look-ahead failures beyond the requested block are not fatal
			}
			results[i] = dump
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("netsource: fetch dump %s: %w", first.Hash, err)
	}
	for i, h := range hashes {
		if results[i] != nil {
			n.advancedDumps[h] = results[i]
		}
	}
	return nil
}

func (n *NetSource) fetchOneDump(ctx context.Context, hash chainprim.Hash) ([]byte, error) {
	var lastErr error
	for _, c := range n.servers {
		dump, err := c.GetDumpBlockByHash(ctx, hash, 0, 0, n.cfg.IsSign, n.cfg.Compress)
		if err != nil {
			lastErr = err
			continue
		}
		return dump, nil
	}
	return nil, lastErr
}

// Confirm is a no-op for the network source: its resume durability lives
// in the workers' own cursors, not in NetSource itself. No FileInfo row is
// written for blocks fetched from peers.
func (n *NetSource) Confirm(ctx context.Context, pos chainprim.FilePos) error {
	return nil
}

// GetExistingBlock resolves hash from the look-ahead dump cache, or a
// direct peer fetch if it has already scrolled out of the cache.
func (n *NetSource) GetExistingBlock(ctx context.Context, hash chainprim.Hash) (blockfmt.Block, []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dump, ok := n.advancedDumps[hash]
	if !ok {
		var err error
		dump, err = n.fetchOneDump(ctx, hash)
		if err != nil {
			return nil, nil, fmt.Errorf("netsource: get existing block %s: %w", hash, err)
		}
	}
	block, err := blockfmt.Parse(dump, chainprim.FilePos{}, n.opts)
	if err != nil {
		return nil, nil, err
	}
	return block, dump, nil
}

// Close drops cached look-ahead state. The peer set and its Pool are
// owned by the caller and outlive any single NetSource.
func (n *NetSource) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advancedHeaders = nil
	n.advancedDumps = nil
	return nil
}
