package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/chainindex"
	"github.com/metahash-oss/torrentnode/internal/ingest"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/timeline"
	"github.com/metahash-oss/torrentnode/pkg/config"
)

// newLogger builds the process logger from cfg.Logging, matching the
// teacher's level-from-string plus optional file-output convention.
func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
	}
	return log, nil
}

// openStores opens the block store and KV store named in cfg, then
// rebuilds the in-memory chain index and sign timeline from whatever
// §6.5 lookup rows a prior run already persisted (internal/ingest's
// crash-safety replay path).
func openStores(cfg *config.Config, log *logrus.Logger) (*blockstore.Store, *kvstore.Store, *chainindex.Index, *timeline.Timeline, error) {
	store, err := blockstore.Open(blockstore.Config{Dir: cfg.Store.Dir, MaxFileBytes: cfg.Store.MaxFileBytes}, log)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open block store: %w", err)
	}

	kv, err := kvstore.Open(kvstore.Config{Dir: cfg.KV.Dir, InMemory: cfg.KV.InMemory}, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, nil, fmt.Errorf("open kv store: %w", err)
	}

	idx := chainindex.New()
	tl := timeline.New()
	if err := ingest.RebuildFromKV(kv, idx, tl); err != nil {
		_ = kv.Close()
		_ = store.Close()
		return nil, nil, nil, nil, fmt.Errorf("rebuild index from kv: %w", err)
	}

	return store, kv, idx, tl, nil
}
