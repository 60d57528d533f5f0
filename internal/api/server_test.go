package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/chainindex"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/testutil"
	"github.com/metahash-oss/torrentnode/internal/timeline"
)

func newTestServer(t *testing.T) (*Server, *kvstore.Store) {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	store, err := blockstore.Open(blockstore.Config{Dir: sb.Root}, nil)
	if err != nil {
		t.Fatalf("open blockstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

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

	return New(kv, idx, tl, store, nil, nil), kv
}

func doRPC(t *testing.T, srv *httptest.Server, method string, params interface{}) Response {
	t.Helper()
	reqBody := Request{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		reqBody.Params = raw
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestMethodStatusReflectsIndexAndTimeline(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp := doRPC(t, srv, "status", nil)
	if resp.Error != nil {
		t.Fatalf("status returned error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	if result["block_height"].(float64) != 0 {
		t.Fatalf("block_height = %v, want 0 (genesis only)", result["block_height"])
	}
	if result["timeline_len"].(float64) != 0 {
		t.Fatalf("timeline_len = %v, want 0", result["timeline_len"])
	}
}

func TestMethodFetchBalanceUnknownAddressReturnsZeroValue(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	var addr chainprim.Address
	addr[0] = 0x42
	resp := doRPC(t, srv, "fetch-balance", addressParams{Address: addr})
	if resp.Error != nil {
		t.Fatalf("fetch-balance returned error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	if result["Received"].(float64) != 0 {
		t.Fatalf("expected zero balance, got %v", result["Received"])
	}
}

func TestMethodFetchBalanceReturnsStoredBalance(t *testing.T) {
	s, kv := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	var addr chainprim.Address
	addr[0] = 0x7

	bal := schema.BalanceInfo{Received: 500, Spent: 100, CountTxs: 3}
	raw, err := schema.Marshal(bal)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := kv.Put(schema.SimpleKey(schema.PrefixBalance, addr.Bytes()), raw); err != nil {
		t.Fatalf("put: %v", err)
	}

	resp := doRPC(t, srv, "fetch-balance", addressParams{Address: addr})
	if resp.Error != nil {
		t.Fatalf("fetch-balance returned error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["Received"].(float64) != 500 {
		t.Fatalf("Received = %v, want 500", result["Received"])
	}
}

func TestMethodGetBlockByHashNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp := doRPC(t, srv, "get-block-by-hash", hashParams{Hash: chainprim.DoubleSHA256([]byte("nonexistent"))})
	if resp.Error == nil {
		t.Fatalf("expected not-found error, got result %#v", resp.Result)
	}
	if resp.Error.Code != 404 {
		t.Fatalf("error code = %d, want 404", resp.Error.Code)
	}
}

func TestMethodGetBlockByHashResolvesPersistedHeader(t *testing.T) {
	s, kv := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	hash := chainprim.DoubleSHA256([]byte("block-1"))
	header := schema.BlockHeader{Hash: hash, BlockNumber: 7, CountTxs: 2}
	raw, err := schema.Marshal(header)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := kv.Put(schema.SimpleKey(schema.PrefixBlockHeader, hash.Bytes()), raw); err != nil {
		t.Fatalf("put: %v", err)
	}

	resp := doRPC(t, srv, "get-block-by-hash", hashParams{Hash: hash})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if fmt.Sprint(result["BlockNumber"]) != "7" {
		t.Fatalf("BlockNumber = %v, want 7", result["BlockNumber"])
	}
}

func TestMethodUnknownReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp := doRPC(t, srv, "not-a-real-method", nil)
	if resp.Error == nil || resp.Error.Code != 404 {
		t.Fatalf("expected 404 error for unknown method, got %+v", resp.Error)
	}
}

func TestGetAddressDelegationsScopesToSender(t *testing.T) {
	s, kv := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	var from, to1, to2, other chainprim.Address
	from[0], to1[0], to2[0], other[0] = 1, 2, 3, 9

	put := func(f, t2 chainprim.Address, counter uint64, value uint64) {
		key := schema.DelegationPairKey(f, t2, counter)
		state := schema.DelegateState{Value: value, TxHash: chainprim.DoubleSHA256([]byte{byte(counter)})}
		raw, err := schema.Marshal(state)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := kv.Put(key, raw); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	put(from, to1, 1, 100)
	put(from, to2, 2, 200)
	put(other, to1, 3, 999)

	resp := doRPC(t, srv, "get-address-delegations", addressParams{Address: from})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	rows, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d delegation rows, want 2 (scoped to `from`)", len(rows))
	}
}

func TestStatusGETRoute(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
}
