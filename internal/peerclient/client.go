package peerclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// Header is the subset of a peer-reported block header consumed by the
// network source (§6.3): "number, hash, prev_hash, size, fileName,
// prev_extra_blocks[], next_extra_blocks[]".
type Header struct {
	Number          uint64         `json:"number"`
	Hash            chainprim.Hash `json:"hash"`
	PrevHash        chainprim.Hash `json:"prev_hash"`
	Size            uint64         `json:"size"`
	FileName        string         `json:"fileName"`
	PrevExtraBlocks []chainprim.Hash `json:"prev_extra_blocks,omitempty"`
	NextExtraBlocks []chainprim.Hash `json:"next_extra_blocks,omitempty"`
}

// Client speaks the JSON-RPC-over-HTTP peer wire protocol (§6.3) to one
// peer, using a shared Pool for connection reuse.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for the given peer base URL, acquiring its HTTP
// client from pool.
func New(baseURL string, pool *Pool) *Client {
	return &Client{baseURL: baseURL, http: pool.Client(baseURL)}
}

// BaseURL returns the peer's base URL, used as its identity in peer-set
// bookkeeping and error-reporting.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) post(ctx context.Context, body interface{}, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("peerclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peerclient: %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peerclient: %s: status %d", c.baseURL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postRaw(ctx context.Context, body interface{}) ([]byte, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("peerclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peerclient: %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peerclient: %s: status %d", c.baseURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// CountBlocksResult is the response to "get-count-blocks" (§6.3).
type CountBlocksResult struct {
	CountBlocks    uint64           `json:"count_blocks"`
	NextExtraBlocks []chainprim.Hash `json:"next_extra_blocks"`
}

// GetCountBlocks implements the "get-count-blocks" method.
func (c *Client) GetCountBlocks(ctx context.Context) (CountBlocksResult, error) {
	var out CountBlocksResult
	err := c.post(ctx, map[string]string{"method": "get-count-blocks", "type": "forP2P"}, &out)
	return out, err
}

// GetBlocks implements "get-blocks": an array of headers for
// [beginBlock, beginBlock+countBlocks).
func (c *Client) GetBlocks(ctx context.Context, beginBlock uint64, countBlocks int) ([]Header, error) {
	req := map[string]interface{}{
		"method":      "get-blocks",
		"beginBlock":  beginBlock,
		"countBlocks": countBlocks,
		"type":        "forP2P",
		"direction":   "forward",
	}
	var out []Header
	err := c.post(ctx, req, &out)
	return out, err
}

// GetBlockByNumber implements "get-block-by-number".
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (Header, error) {
	req := map[string]interface{}{"method": "get-block-by-number", "number": number, "type": "forP2P"}
	var out Header
	err := c.post(ctx, req, &out)
	return out, err
}

// GetDumpBlockByHash implements "get-dump-block-by-hash", returning the
// raw (optionally gzip-compressed) block payload byte range.
func (c *Client) GetDumpBlockByHash(ctx context.Context, hash chainprim.Hash, fromByte, toByte uint64, isSign, compress bool) ([]byte, error) {
	req := map[string]interface{}{
		"method":   "get-dump-block-by-hash",
		"hash":     hash.String(),
		"fromByte": fromByte,
		"toByte":   toByte,
		"isSign":   isSign,
		"compress": compress,
	}
	raw, err := c.postRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	if compress {
		return gunzip(raw)
	}
	return raw, nil
}

// DumpsBlob is one (hash, dump) pair inside a §6.3 "dumpsBlob" frame.
type DumpsBlob struct {
	Hash chainprim.Hash
	Dump []byte
}

// GetDumpsBlocksByHash implements "get-dumps-blocks-by-hash", decoding
// the concatenated `[size:8_be][dump]` entries described in §6.3.
func (c *Client) GetDumpsBlocksByHash(ctx context.Context, hashes []chainprim.Hash, isSign, compress bool) ([]DumpsBlob, error) {
	hexes := make([]string, len(hashes))
	for i, h := range hashes {
		hexes[i] = h.String()
	}
	req := map[string]interface{}{
		"method":   "get-dumps-blocks-by-hash",
		"hashes":   hexes,
		"isSign":   isSign,
		"compress": compress,
	}
	raw, err := c.postRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeDumpsBlob(raw, hashes, compress)
}

// PreLoadResult is the decoded "pre-load" binary frame (§6.3): a header
// batch, an additional-hashes batch, and the raw dumps blob.
type PreLoadResult struct {
	Headers     []Header
	AddedHashes []chainprim.Hash
	Dumps       []DumpsBlob
}

// PreLoad implements the "pre-load" method: a combined header + dump
// look-ahead bundle starting at currentBlock, up to preLoad headers.
func (c *Client) PreLoad(ctx context.Context, currentBlock uint64, preLoad int, maxBlockSize uint64, compress, isSign bool) (PreLoadResult, error) {
	req := map[string]interface{}{
		"method":       "pre-load",
		"currentBlock": currentBlock,
		"preLoad":      preLoad,
		"maxBlockSize": maxBlockSize,
		"compress":     compress,
		"isSign":       isSign,
	}
	raw, err := c.postRaw(ctx, req)
	if err != nil {
		return PreLoadResult{}, err
	}
	return decodePreLoadFrame(raw, compress)
}

// decodePreLoadFrame parses §6.3's framing:
// [headersLen:8][addHashesLen:8][blocksLen:8][countBlocks:8][headersJson][addHashesJson][dumpsBlob]
func decodePreLoadFrame(raw []byte, compress bool) (PreLoadResult, error) {
	const head = 32
	if len(raw) < head {
		return PreLoadResult{}, fmt.Errorf("peerclient: pre-load frame truncated")
	}
	headersLen := binary.BigEndian.Uint64(raw[0:8])
	addHashesLen := binary.BigEndian.Uint64(raw[8:16])
	blocksLen := binary.BigEndian.Uint64(raw[16:24])
	// countBlocks at raw[24:32] is informational only; the blob itself is
	// self-delimiting via per-entry size prefixes.
	off := uint64(head)
	if off+headersLen+addHashesLen+blocksLen > uint64(len(raw)) {
		return PreLoadResult{}, fmt.Errorf("peerclient: pre-load frame length mismatch")
	}

	var result PreLoadResult
	if headersLen > 0 {
		if err := json.Unmarshal(raw[off:off+headersLen], &result.Headers); err != nil {
			return PreLoadResult{}, fmt.Errorf("peerclient: decode pre-load headers: %w", err)
		}
	}
	off += headersLen

	if addHashesLen > 0 {
		var hexes []string
		if err := json.Unmarshal(raw[off:off+addHashesLen], &hexes); err != nil {
			return PreLoadResult{}, fmt.Errorf("peerclient: decode pre-load added hashes: %w", err)
		}
		for _, hx := range hexes {
			h, err := chainprim.HashFromHex(hx)
			if err != nil {
				continue
			}
			result.AddedHashes = append(result.AddedHashes, h)
		}
	}
	off += addHashesLen

	dumps, err := decodeDumpsBlob(raw[off:off+blocksLen], nil, compress)
	if err != nil {
		return PreLoadResult{}, err
	}
	result.Dumps = dumps
	return result, nil
}

// decodeDumpsBlob decodes a concatenation of `[size:8_be][dump]` entries.
// When hashes is non-nil, entries are paired with it positionally (the
// hash-by-hash fetch methods don't echo the hash back in-band); otherwise
// entries stand alone and Hash is left zero for the caller to fill in
// from accompanying header data.
func decodeDumpsBlob(blob []byte, hashes []chainprim.Hash, compress bool) ([]DumpsBlob, error) {
	var out []DumpsBlob
	off := 0
	for off+8 <= len(blob) {
		size := binary.BigEndian.Uint64(blob[off : off+8])
		off += 8
		if off+int(size) > len(blob) {
			return nil, fmt.Errorf("peerclient: dumps blob truncated")
		}
		dump := blob[off : off+int(size)]
		off += int(size)
		if compress {
			var err error
			dump, err = gunzip(dump)
			if err != nil {
				return nil, err
			}
		}
		entry := DumpsBlob{Dump: append([]byte(nil), dump...)}
		if len(hashes) > len(out) {
			entry.Hash = hashes[len(out)]
		}
		out = append(out, entry)
	}
	return out, nil
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("peerclient: gunzip: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// PeerSet tracks the configured peer fleet, adapted from the teacher's
// core/network.go peer bookkeeping idiom (`peers map[NodeID]*Peer` guarded
// by a sync.RWMutex) — here keyed by base URL instead of a libp2p NodeID,
// since the peer protocol (§6.3) is plain HTTP, not a gossip mesh.
type PeerSet struct {
	mu      sync.RWMutex
	pool    *Pool
	clients map[string]*Client
	order   []string
}

// NewPeerSet builds a PeerSet over the given peer base URLs.
func NewPeerSet(baseURLs []string, pool *Pool) *PeerSet {
	ps := &PeerSet{pool: pool, clients: make(map[string]*Client)}
	for _, u := range baseURLs {
		ps.clients[u] = New(u, pool)
		ps.order = append(ps.order, u)
	}
	return ps
}

// All returns every configured peer client, in configuration order.
func (ps *PeerSet) All() []*Client {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*Client, 0, len(ps.order))
	for _, u := range ps.order {
		out = append(out, ps.clients[u])
	}
	return out
}

// Remove drops a peer from the active set, e.g. after it is found to
// disagree with the consensus height or repeatedly fails (§4.4).
func (ps *PeerSet) Remove(baseURL string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.clients, baseURL)
	for i, u := range ps.order {
		if u == baseURL {
			ps.order = append(ps.order[:i], ps.order[i+1:]...)
			break
		}
	}
}

// Len reports how many peers remain in the set.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.order)
}
