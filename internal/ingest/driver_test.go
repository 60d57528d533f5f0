package ingest

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/chainindex"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/oracle"
	"github.com/metahash-oss/torrentnode/internal/source/filesource"
	"github.com/metahash-oss/torrentnode/internal/testutil"
	"github.com/metahash-oss/torrentnode/internal/timeline"
	"github.com/metahash-oss/torrentnode/internal/workers/contractworker"
	"github.com/metahash-oss/torrentnode/internal/workers/mainworker"
	"github.com/metahash-oss/torrentnode/internal/workers/nodetest"
)

// encodeTxBody and buildMainBlock mirror blockfmt's own parse_test.go
// encoder, reproduced here since those helpers are unexported.

func encodeTxBody(to chainprim.Address, value, fees, nonce uint64, data, sign, pubKey []byte, intStatus *uint64) []byte {
	var buf []byte
	buf = append(buf, to.Bytes()...)
	buf = chainprim.EncodeVarint(buf, value)
	buf = chainprim.EncodeVarint(buf, fees)
	buf = chainprim.EncodeVarint(buf, nonce)
	buf = chainprim.EncodeVarint(buf, uint64(len(data)))
	buf = append(buf, data...)
	buf = chainprim.EncodeVarint(buf, uint64(len(sign)))
	buf = append(buf, sign...)
	buf = chainprim.EncodeVarint(buf, uint64(len(pubKey)))
	buf = append(buf, pubKey...)
	if intStatus != nil {
		buf = chainprim.EncodeVarint(buf, *intStatus)
	}
	return buf
}

func buildMainBlock(tag blockfmt.Tag, prevHash chainprim.Hash, txBodies [][]byte) []byte {
	var payload []byte
	for _, body := range txBodies {
		payload = chainprim.EncodeVarint(payload, uint64(len(body)))
		payload = append(payload, body...)
	}
	payload = chainprim.EncodeVarint(payload, 0)

	txsHash := chainprim.DoubleSHA256(append(append([]byte(nil), prevHash.Bytes()...), payload...))

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(tag))
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, 12345)

	out := append(header, ts...)
	out = append(out, prevHash.Bytes()...)
	out = append(out, txsHash.Bytes()...)
	out = append(out, payload...)
	return out
}

func TestDriveFileSourceLinksAndFansOutInOrder(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	store, err := blockstore.Open(blockstore.Config{Dir: sb.Root}, nil)
	if err != nil {
		t.Fatalf("open blockstore: %v", err)
	}

	var to1, to2 chainprim.Address
	to1[0] = 0x01
	to2[0] = 0x02
	status := uint64(blockfmt.StatusAccept)

	body1 := encodeTxBody(to1, 100, 0, 1, nil, nil, nil, &status)
	dump1 := buildMainBlock(blockfmt.TagMainCommon, chainprim.ZeroHash, [][]byte{body1})
	if _, err := store.Append(dump1); err != nil {
		t.Fatalf("append block 1: %v", err)
	}
	hash1 := chainprim.DoubleSHA256(dump1)

	body2 := encodeTxBody(to2, 50, 0, 1, nil, nil, nil, &status)
	dump2 := buildMainBlock(blockfmt.TagMainCommon, hash1, [][]byte{body2})
	if _, err := store.Append(dump2); err != nil {
		t.Fatalf("append block 2: %v", err)
	}

	kv, err := kvstore.Open(kvstore.Config{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	idx := chainindex.New()
	tl := timeline.New()
	if err := tl.Load(nil); err != nil {
		t.Fatalf("load timeline: %v", err)
	}

	fs := filesource.New(store, kv, blockfmt.DefaultOptions(), nil)
	mw := mainworker.New(kv, nil, false)
	cw := contractworker.New(kv, oracle.New("http://unused.invalid", time.Second), nil)
	nt := nodetest.New(kv, nil)

	d := New(fs, store, kv, idx, tl, mw, cw, nt, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		raw, err := kv.Get(schema.PrefixMainCursor)
		if err == nil {
			var cur schema.MainCursor
			if uerr := schema.Unmarshal(raw, &cur); uerr == nil && cur.BlockNumber >= 2 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for mainworker to apply both blocks")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil && err != context.Canceled {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	if got := idx.CountBlocks(); got != 3 {
		t.Fatalf("CountBlocks = %d, want 3 (genesis + 2)", got)
	}
	last, err := idx.GetLastBlock()
	if err != nil {
		t.Fatalf("get last block: %v", err)
	}
	if *last.BlockNumber != 2 {
		t.Fatalf("last block number = %d, want 2", *last.BlockNumber)
	}

	if tl.Len() != 2 {
		t.Fatalf("timeline length = %d, want 2", tl.Len())
	}

	raw, err := kv.Get(schema.KeyBlockMeta)
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	var tip schema.BlocksMetadata
	if err := schema.Unmarshal(raw, &tip); err != nil {
		t.Fatalf("unmarshal tip: %v", err)
	}
	if tip.PrevBlockHash != hash1 {
		t.Fatalf("tip prev hash = %s, want %s", tip.PrevBlockHash, hash1)
	}

	balRaw, err := kv.Get(schema.SimpleKey(schema.PrefixBalance, to1.Bytes()))
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	var bal schema.BalanceInfo
	if err := schema.Unmarshal(balRaw, &bal); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if bal.Received != 100 {
		t.Fatalf("to1 received = %d, want 100", bal.Received)
	}
}
