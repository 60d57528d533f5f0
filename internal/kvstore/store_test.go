package kvstore

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("got %q", got)
	}
	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBatchAtomicCommit(t *testing.T) {
	s := openTestStore(t)
	b := s.NewBatch()
	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := s.Get([]byte(k))
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if string(got) != want {
			t.Fatalf("get %s = %q, want %q", k, got, want)
		}
	}
}

// TestNewestFirstPrefixScan exercises testable property 8: after inserting
// K tx references for the same address under the §6.2 descending-counter
// scheme, an ascending prefix scan returns them newest-first.
func TestNewestFirstPrefixScan(t *testing.T) {
	s := openTestStore(t)
	const addrPrefix = "a_addr123!"
	for i := uint64(0); i < 5; i++ {
		key := append([]byte(addrPrefix), chainprim.DescendingCounter(i)...)
		if err := s.Put(key, []byte(fmt.Sprintf("entry-%d", i))); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	var got []string
	err := s.ScanPrefix([]byte(addrPrefix), func(_, v []byte) (bool, error) {
		got = append(got, string(v))
		return true, nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"entry-4", "entry-3", "entry-2", "entry-1", "entry-0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestVersionMismatchIsFatal(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureVersion(); err != nil {
		t.Fatalf("first EnsureVersion: %v", err)
	}
	if err := s.Put(versionKey, []byte("v0.0")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.EnsureVersion(); err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestModulesImmutableAfterFirstInit(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureModules(ModuleMainBalances | ModuleContracts); err != nil {
		t.Fatalf("first EnsureModules: %v", err)
	}
	if err := s.EnsureModules(ModuleMainBalances | ModuleContracts); err != nil {
		t.Fatalf("repeated EnsureModules with same set should succeed: %v", err)
	}
	if err := s.EnsureModules(ModuleMainBalances); err == nil {
		t.Fatalf("expected mismatch error for a different module set")
	}
}
