package blockstore

import (
	"bytes"
	"testing"

	"github.com/metahash-oss/torrentnode/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })
	s, err := Open(Config{Dir: sb.Root}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndReadFull(t *testing.T) {
	s := openTestStore(t)

	pos1, err := s.Append([]byte("first-block"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	pos2, err := s.Append([]byte("second-block"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if pos1.Offset == pos2.Offset {
		t.Fatalf("expected distinct offsets")
	}

	got1, err := s.ReadFull(pos1)
	if err != nil {
		t.Fatalf("read full 1: %v", err)
	}
	if !bytes.Equal(got1, []byte("first-block")) {
		t.Fatalf("got %q, want %q", got1, "first-block")
	}

	got2, err := s.ReadFull(pos2)
	if err != nil {
		t.Fatalf("read full 2: %v", err)
	}
	if !bytes.Equal(got2, []byte("second-block")) {
		t.Fatalf("got %q, want %q", got2, "second-block")
	}
}

func TestReadRecordClampsRange(t *testing.T) {
	s := openTestStore(t)
	pos, err := s.Append([]byte("0123456789"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.ReadRecord(pos, 2, 100)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if !bytes.Equal(got, []byte("23456789")) {
		t.Fatalf("got %q", got)
	}
}

func TestIterateFromStopsAtFrontier(t *testing.T) {
	s := openTestStore(t)
	p1, err := s.Append([]byte("aaa"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append([]byte("bb")); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := s.IterateFrom(p1)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if !bytes.Equal(recs[0].Dump, []byte("aaa")) || !bytes.Equal(recs[1].Dump, []byte("bb")) {
		t.Fatalf("unexpected record contents: %+v", recs)
	}
}

func TestRolloverCreatesNewFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })
	s, err := Open(Config{Dir: sb.Root, MaxFileBytes: 16}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Append([]byte("0123456789ABCDEF")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append([]byte("next")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(s.Files()) != 2 {
		t.Fatalf("expected rollover to create a second file, got %v", s.Files())
	}
}

func TestReopenDiscoversExistingFiles(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	s, err := Open(Config{Dir: sb.Root}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pos, err := s.Append([]byte("persisted"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(Config{Dir: sb.Root}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.ReadFull(pos)
	if err != nil {
		t.Fatalf("read full after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("persisted")) {
		t.Fatalf("got %q", got)
	}
}
