package mainworker

import (
	"testing"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(kvstore.Config{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addr(tag byte) chainprim.Address {
	var a chainprim.Address
	a[0] = tag
	return a
}

func hash(tag byte) chainprim.Hash {
	var h chainprim.Hash
	h[0] = tag
	return h
}

func u64p(v uint64) *uint64 { return &v }

func TestApplyPlainTransferUpdatesBalancesAndCommonBalance(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil, false)

	from, to := addr(1), addr(2)
	block := &blockfmt.MainBlock{
		Hash:        hash(1),
		PrevHash:    chainprim.ZeroHash,
		BlockType:   blockfmt.TagMainCommon,
		BlockNumber: u64p(1),
		Txs: []blockfmt.TransactionInfo{
			{Hash: hash(10), FromAddress: from, ToAddress: to, Value: 1000, Fees: 10, SizeRawTx: 300},
		},
	}

	if err := w.Apply(block); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var fromBal schema.BalanceInfo
	raw, err := kv.Get(schema.SimpleKey(schema.PrefixBalance, from.Bytes()))
	if err != nil {
		t.Fatalf("get from balance: %v", err)
	}
	if err := schema.Unmarshal(raw, &fromBal); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	wantFee := uint64(10) // RealFee = min(max(300-255,0)=45, fees=10) = 10
	if fromBal.Spent != 1000+wantFee {
		t.Fatalf("from.Spent = %d, want %d", fromBal.Spent, 1000+wantFee)
	}

	var toBal schema.BalanceInfo
	raw, err = kv.Get(schema.SimpleKey(schema.PrefixBalance, to.Bytes()))
	if err != nil {
		t.Fatalf("get to balance: %v", err)
	}
	if err := schema.Unmarshal(raw, &toBal); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if toBal.Received != 1000 {
		t.Fatalf("to.Received = %d, want 1000", toBal.Received)
	}

	var common schema.CommonBalance
	raw, err = kv.Get(schema.PrefixCommonBalance)
	if err != nil {
		t.Fatalf("get common balance: %v", err)
	}
	if err := schema.Unmarshal(raw, &common); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if common.TotalReceived != 1000 || common.TotalSpent != 1000+wantFee {
		t.Fatalf("common balance = %+v, want received=1000 spent=%d", common, 1000+wantFee)
	}
}

func TestApplyForgingBlockCreditsPerAddressAndGlobalSums(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil, false)

	miner := addr(3)
	var initialWallet chainprim.Address
	initialWallet[0] = 0xFF
	status := uint64(blockfmt.StatusForgingLow)
	block := &blockfmt.MainBlock{
		Hash:        hash(1),
		PrevHash:    chainprim.ZeroHash,
		BlockType:   blockfmt.TagMainForging,
		BlockNumber: u64p(1),
		Txs: []blockfmt.TransactionInfo{
			{Hash: hash(11), FromAddress: initialWallet, ToAddress: miner, Value: 500, IntStatus: &status},
		},
	}

	if err := w.Apply(block); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var sums schema.ForgingSums
	raw, err := kv.Get(schema.PrefixForgingSums)
	if err != nil {
		t.Fatalf("get forging sums: %v", err)
	}
	if err := schema.Unmarshal(raw, &sums); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sums.Sums[uint32(status)] != 500 {
		t.Fatalf("global forging sum = %d, want 500", sums.Sums[uint32(status)])
	}

	var perAddr schema.ForgedInfo
	raw, err = kv.Get(schema.SimpleKey(schema.PrefixForgingSumAddr, miner.Bytes()))
	if err != nil {
		t.Fatalf("get per-address forging sum: %v", err)
	}
	if err := schema.Unmarshal(raw, &perAddr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if perAddr.Forged != 500 || perAddr.CountOp != 1 {
		t.Fatalf("perAddr = %+v, want Forged=500 CountOp=1", perAddr)
	}
}

func TestApplySkipsAlreadyAppliedBlock(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil, false)

	from, to := addr(1), addr(2)
	block := &blockfmt.MainBlock{
		Hash:        hash(1),
		PrevHash:    chainprim.ZeroHash,
		BlockType:   blockfmt.TagMainCommon,
		BlockNumber: u64p(1),
		Txs: []blockfmt.TransactionInfo{
			{Hash: hash(10), FromAddress: from, ToAddress: to, Value: 1000},
		},
	}
	if err := w.Apply(block); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := w.Apply(block); err != nil {
		t.Fatalf("replayed apply should be a no-op, got error: %v", err)
	}

	var toBal schema.BalanceInfo
	raw, err := kv.Get(schema.SimpleKey(schema.PrefixBalance, to.Bytes()))
	if err != nil {
		t.Fatalf("get to balance: %v", err)
	}
	if err := schema.Unmarshal(raw, &toBal); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if toBal.Received != 1000 {
		t.Fatalf("to.Received = %d after replay, want unchanged 1000", toBal.Received)
	}
}
