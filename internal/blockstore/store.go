// Package blockstore implements C1: an append-only set of files holding
// length-prefixed block records (§4.1). Files are named by creation order
// and rolled over once a configured size threshold is exceeded. Records are
// never rewritten in place; the store is the single source of truth for the
// raw bytes a block was parsed from.
package blockstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

const lengthPrefixSize = 8

// DefaultMaxFileBytes is used when Config.MaxFileBytes is zero.
const DefaultMaxFileBytes = 256 << 20 // 256 MiB

// Config configures a Store.
type Config struct {
	Dir          string
	MaxFileBytes uint64
}

// Store is an append-only set of block files under Dir.
type Store struct {
	dir          string
	maxFileBytes uint64
	log          *logrus.Logger

	mu       sync.Mutex // guards file rollover and the writer's *os.File
	current  *os.File
	currentN int
	files    []string // creation order, base names
}

// Open opens (creating if necessary) the block store directory, discovers
// existing files in creation order, and opens the last one for appending.
func Open(cfg Config, log *logrus.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("blockstore: empty dir")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: mkdir: %w", err)
	}
	s := &Store{dir: cfg.Dir, maxFileBytes: maxBytes, log: log}
	if err := s.discoverFiles(); err != nil {
		return nil, err
	}
	if len(s.files) == 0 {
		if err := s.rollover(); err != nil {
			return nil, err
		}
	} else {
		name := s.files[len(s.files)-1]
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("blockstore: open last file %s: %w", name, err)
		}
		s.current = f
		s.currentN = fileIndex(name)
	}
	return s, nil
}

func fileName(n int) string {
	return fmt.Sprintf("%010d.blk", n)
}

func fileIndex(name string) int {
	base := name
	if i := len(base) - 4; i >= 0 && base[i:] == ".blk" {
		base = base[:i]
	}
	n, _ := strconv.Atoi(base)
	return n
}

func (s *Store) discoverFiles() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("blockstore: readdir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".blk" {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return fileIndex(names[i]) < fileIndex(names[j]) })
	s.files = names
	return nil
}

// rollover closes the current file (if any) and opens a fresh, empty one.
// Caller must hold s.mu.
func (s *Store) rollover() error {
	if s.current != nil {
		if err := s.current.Close(); err != nil {
			return fmt.Errorf("blockstore: close rollover: %w", err)
		}
	}
	next := s.currentN
	if len(s.files) > 0 {
		next = fileIndex(s.files[len(s.files)-1]) + 1
	}
	name := fileName(next)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("blockstore: create %s: %w", name, err)
	}
	s.current = f
	s.currentN = next
	s.files = append(s.files, name)
	s.log.WithField("file", name).Info("blockstore: rolled over to new file")
	return nil
}

// Append writes dump as a new [u64_le length][bytes] record to the current
// file, returning the FilePos of the record's length prefix. The length
// prefix and payload are written in a single call so a concurrent reader
// handed the pre-append file size never observes a partial record.
func (s *Store) Append(dump []byte) (chainprim.FilePos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.current.Stat()
	if err != nil {
		return chainprim.FilePos{}, fmt.Errorf("blockstore: stat current: %w", err)
	}
	if uint64(info.Size()) >= s.maxFileBytes && info.Size() > 0 {
		if err := s.rollover(); err != nil {
			return chainprim.FilePos{}, err
		}
		info, err = s.current.Stat()
		if err != nil {
			return chainprim.FilePos{}, fmt.Errorf("blockstore: stat after rollover: %w", err)
		}
	}

	offset := uint64(info.Size())
	buf := make([]byte, lengthPrefixSize+len(dump))
	binary.LittleEndian.PutUint64(buf, uint64(len(dump)))
	copy(buf[lengthPrefixSize:], dump)

	if _, err := s.current.Write(buf); err != nil {
		return chainprim.FilePos{}, fmt.Errorf("blockstore: write: %w", err)
	}

	return chainprim.FilePos{FileName: fileName(s.currentN), Offset: offset}, nil
}

// ReadRecord returns the payload byte range [from, to) of the record at pos,
// clamped to the record's declared length.
func (s *Store) ReadRecord(pos chainprim.FilePos, from, to uint64) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.dir, pos.FileName))
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", pos.FileName, err)
	}
	defer f.Close()

	var lenBuf [lengthPrefixSize]byte
	if _, err := f.ReadAt(lenBuf[:], int64(pos.Offset)); err != nil {
		return nil, fmt.Errorf("blockstore: read length at %s: %w", pos, err)
	}
	length := binary.LittleEndian.Uint64(lenBuf[:])

	if to > length {
		to = length
	}
	if from > to {
		from = to
	}
	size := to - from
	if size == 0 {
		return nil, nil
	}

	out := make([]byte, size)
	readAt := int64(pos.Offset) + lengthPrefixSize + int64(from)
	if _, err := f.ReadAt(out, readAt); err != nil && err != io.EOF {
		return nil, fmt.Errorf("blockstore: read payload at %s: %w", pos, err)
	}
	return out, nil
}

// ReadFull returns the complete payload of the record at pos.
func (s *Store) ReadFull(pos chainprim.FilePos) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.dir, pos.FileName))
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", pos.FileName, err)
	}
	defer f.Close()
	return readRecordFrom(f, pos.Offset)
}

func readRecordFrom(f *os.File, offset uint64) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := f.ReadAt(lenBuf[:], int64(offset)); err != nil {
		return nil, fmt.Errorf("blockstore: read length: %w", err)
	}
	length := binary.LittleEndian.Uint64(lenBuf[:])
	out := make([]byte, length)
	if _, err := f.ReadAt(out, int64(offset)+lengthPrefixSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("blockstore: read payload: %w", err)
	}
	return out, nil
}

// Files returns the store's file names in creation order.
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}

// NextFile returns the file immediately following name in creation order,
// if any.
func (s *Store) NextFile(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.files {
		if f == name && i+1 < len(s.files) {
			return s.files[i+1], true
		}
	}
	return "", false
}

// FileSize returns the current size in bytes of the named file.
func (s *Store) FileSize(name string) (uint64, error) {
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Close closes the store's writer handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Close()
}

// Record pairs a decoded record's position with its raw payload, as
// produced by IterateFrom.
type Record struct {
	Pos  chainprim.FilePos
	Dump []byte
}

// IterateFrom returns every complete record in pos.FileName starting at
// pos.Offset, stopping (without error) when fewer than 8+length bytes
// remain — i.e. at the current write frontier of an in-progress file.
func (s *Store) IterateFrom(pos chainprim.FilePos) ([]Record, error) {
	f, err := os.Open(filepath.Join(s.dir, pos.FileName))
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", pos.FileName, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blockstore: stat %s: %w", pos.FileName, err)
	}
	size := uint64(info.Size())

	var out []Record
	offset := pos.Offset
	for offset+lengthPrefixSize <= size {
		var lenBuf [lengthPrefixSize]byte
		if _, err := f.ReadAt(lenBuf[:], int64(offset)); err != nil {
			return nil, fmt.Errorf("blockstore: read length at %d: %w", offset, err)
		}
		length := binary.LittleEndian.Uint64(lenBuf[:])
		if offset+lengthPrefixSize+length > size {
			break
		}
		payload := make([]byte, length)
		if length > 0 {
			if _, err := f.ReadAt(payload, int64(offset)+lengthPrefixSize); err != nil {
				return nil, fmt.Errorf("blockstore: read payload at %d: %w", offset, err)
			}
		}
		out = append(out, Record{Pos: chainprim.FilePos{FileName: pos.FileName, Offset: offset}, Dump: payload})
		offset += lengthPrefixSize + length
	}
	return out, nil
}
