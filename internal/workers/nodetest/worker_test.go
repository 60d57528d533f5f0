package nodetest

import (
	"encoding/json"
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

func addrTag(tag byte) chainprim.Address {
	var a chainprim.Address
	a[24] = tag
	return a
}

func testResultData(t *testing.T, method string, server, tester chainprim.Address, geo string, rps float64, success, forward bool) []byte {
	t.Helper()
	payload := map[string]any{
		"method":         method,
		"server_address": server.String(),
		"tester_address":  tester.String(),
		"type":           "proxy",
		"ip":             "10.0.0.1",
		"geo":            geo,
		"rps":            rps,
		"success":        success,
		"isForwardSort":  forward,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestApplyRecordsSampleAndAggregates(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil)

	server := addrTag(1)
	tester := addrTag(2)
	status := uint64(blockfmt.StatusNodeTest)

	tx := blockfmt.TransactionInfo{
		Hash:      hashTag(1),
		ToAddress: server,
		IntStatus: &status,
		Data:      testResultData(t, "proxy_load_results", server, tester, "eu", 100.0, true, true),
	}
	num := uint64(1)
	block := &blockfmt.MainBlock{BlockNumber: &num, Hash: hashTag(1), Txs: []blockfmt.TransactionInfo{tx}}

	if err := w.Apply(block); err != nil {
		t.Fatalf("apply: %v", err)
	}

	raw, err := kv.Get(schema.DayKey(schema.PrefixNodeTest, server, 0))
	if err != nil {
		t.Fatalf("get best: %v", err)
	}
	var best schema.BestNodeTest
	if err := schema.Unmarshal(raw, &best); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(best.Samples) != 1 || best.Samples[0].Geo != "eu" {
		t.Fatalf("unexpected best: %+v", best)
	}

	countRaw, err := kv.Get(schema.DayKey(schema.PrefixNodeTestCount, server, 0))
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	var count schema.NodeTestCount
	if err := schema.Unmarshal(countRaw, &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count.CountAll != 1 || count.CountFailure != 0 {
		t.Fatalf("unexpected count: %+v", count)
	}

	allRaw, err := kv.Get(schema.DayOnlyKey(schema.PrefixAllNodesCount, 0))
	if err != nil {
		t.Fatalf("get all tested: %v", err)
	}
	var all schema.AllTestedNodes
	if err := schema.Unmarshal(allRaw, &all); err != nil {
		t.Fatalf("unmarshal all: %v", err)
	}
	if len(all.Addresses) != 1 || all.Addresses[0] != server {
		t.Fatalf("unexpected all-tested set: %+v", all)
	}
}

func TestApplyDayRolloverOnStateBlock(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil)

	server := addrTag(3)
	tester := addrTag(4)
	status := uint64(blockfmt.StatusNodeTest)

	num1 := uint64(1)
	tx1 := blockfmt.TransactionInfo{
		Hash:      hashTag(1),
		ToAddress: server,
		IntStatus: &status,
		Data:      testResultData(t, "mhAddNodeCheckResult", server, tester, "us", 50.0, true, false),
	}
	block1 := &blockfmt.MainBlock{BlockNumber: &num1, Hash: hashTag(1), BlockType: blockfmt.TagMainCommon, Txs: []blockfmt.TransactionInfo{tx1}}
	if err := w.Apply(block1); err != nil {
		t.Fatalf("apply 1: %v", err)
	}

	num2 := uint64(2)
	block2 := &blockfmt.MainBlock{BlockNumber: &num2, Hash: hashTag(2), PrevHash: hashTag(1), BlockType: blockfmt.TagMainState}
	if err := w.Apply(block2); err != nil {
		t.Fatalf("apply state block: %v", err)
	}

	num3 := uint64(3)
	tx3 := blockfmt.TransactionInfo{
		Hash:      hashTag(3),
		ToAddress: server,
		IntStatus: &status,
		Data:      testResultData(t, "mhAddNodeCheckResult", server, tester, "us", 60.0, true, false),
	}
	block3 := &blockfmt.MainBlock{BlockNumber: &num3, Hash: hashTag(3), PrevHash: hashTag(2), BlockType: blockfmt.TagMainCommon, Txs: []blockfmt.TransactionInfo{tx3}}
	if err := w.Apply(block3); err != nil {
		t.Fatalf("apply 3: %v", err)
	}

	if _, err := kv.Get(schema.DayKey(schema.PrefixNodeTest, server, 0)); err != nil {
		t.Fatalf("day 0 sample missing: %v", err)
	}
	if _, err := kv.Get(schema.DayKey(schema.PrefixNodeTest, server, 1)); err != nil {
		t.Fatalf("day 1 sample missing after rollover: %v", err)
	}
}

func TestApplyRecordsTrustOnlyOnStateBlocks(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil)

	addr := addrTag(5)
	trustData, err := json.Marshal(map[string]any{"trust": 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	num := uint64(1)
	tx := blockfmt.TransactionInfo{Hash: hashTag(1), ToAddress: addr, Data: trustData}
	block := &blockfmt.MainBlock{BlockNumber: &num, Hash: hashTag(1), BlockType: blockfmt.TagMainState, Txs: []blockfmt.TransactionInfo{tx}}

	if err := w.Apply(block); err != nil {
		t.Fatalf("apply: %v", err)
	}

	raw, err := kv.Get(schema.SimpleKey(schema.PrefixNodeStatTrust, addr.Bytes()))
	if err != nil {
		t.Fatalf("get trust: %v", err)
	}
	var rec schema.TrustRecord
	if err := schema.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Trust != 7 {
		t.Fatalf("trust = %d, want 7", rec.Trust)
	}
}

func TestApplyRecordsRegistration(t *testing.T) {
	kv := openTestStore(t)
	w := New(kv, nil)

	addr := addrTag(6)
	regData, err := json.Marshal(map[string]any{"method": "mh-noderegistration", "ip": "1.2.3.4", "geo": "as"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	num := uint64(1)
	tx := blockfmt.TransactionInfo{Hash: hashTag(1), ToAddress: addr, Data: regData}
	block := &blockfmt.MainBlock{BlockNumber: &num, Hash: hashTag(1), Txs: []blockfmt.TransactionInfo{tx}}

	if err := w.Apply(block); err != nil {
		t.Fatalf("apply: %v", err)
	}

	raw, err := kv.Get(schema.SimpleKey(schema.PrefixAllNodes, addr.Bytes()))
	if err != nil {
		t.Fatalf("get registration: %v", err)
	}
	var reg schema.NodeRegistration
	if err := schema.Unmarshal(raw, &reg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reg.IP != "1.2.3.4" || reg.Geo != "as" {
		t.Fatalf("unexpected registration: %+v", reg)
	}
}

func hashTag(tag byte) chainprim.Hash {
	var h chainprim.Hash
	h[0] = tag
	return h
}
