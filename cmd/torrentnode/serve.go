package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metahash-oss/torrentnode/internal/api"
	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/ingest"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/metrics"
	"github.com/metahash-oss/torrentnode/internal/oracle"
	"github.com/metahash-oss/torrentnode/internal/peerclient"
	"github.com/metahash-oss/torrentnode/internal/source"
	"github.com/metahash-oss/torrentnode/internal/source/filesource"
	"github.com/metahash-oss/torrentnode/internal/source/netsource"
	"github.com/metahash-oss/torrentnode/internal/workers/contractworker"
	"github.com/metahash-oss/torrentnode/internal/workers/mainworker"
	"github.com/metahash-oss/torrentnode/internal/workers/nodetest"
	"github.com/metahash-oss/torrentnode/pkg/config"
)

// shutdownGrace bounds how long serve waits for in-flight API requests to
// finish before forcing the listener closed.
const shutdownGrace = 5 * time.Second

// peerIdleTTL is how long an idle per-peer HTTP client is kept warm in
// the pool before being reaped (§4.4 peer client lifecycle).
const peerIdleTTL = 2 * time.Minute

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func serveCmd() *cobra.Command {
	var configName string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the ingestion driver and query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configName)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configName, "config", "", "config profile name (default: \"default\")")
	return cmd
}

func runServe(cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	store, kv, idx, tl, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer kv.Close()
	defer store.Close()

	m := metrics.New()
	metricsSrv := m.Serve(cfg.Metrics.ListenAddr, log)
	defer m.Shutdown(context.Background(), metricsSrv)

	src, closeSrc, err := buildSource(cfg, store, kv, log)
	if err != nil {
		return err
	}
	defer closeSrc()

	mainW := mainworker.New(kv, log, cfg.Workers.ValidateStates)

	var oracleClient *oracle.Client
	if cfg.Oracle.BaseURL != "" {
		oracleClient = oracle.New(cfg.Oracle.BaseURL, msDuration(cfg.Oracle.RequestTimeoutMS))
	}
	contractW := contractworker.New(kv, oracleClient, log)
	nodeTestW := nodetest.New(kv, log)

	driver := ingest.New(src, store, kv, idx, tl, mainW, contractW, nodeTestW, log)

	apiServer := api.New(kv, idx, tl, store, m, log)
	httpSrv := &http.Server{Addr: cfg.API.ListenAddr, Handler: apiServer.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("api: server exited")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driveErr := make(chan error, 1)
	go func() { driveErr <- driver.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("serve: shutdown signal received")
		runErr = <-driveErr
	case runErr = <-driveErr:
		if runErr != nil {
			log.WithError(runErr).Error("serve: ingestion driver exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	if ctx.Err() == nil {
		return runErr
	}
	return nil
}

// buildSource selects a netsource over the configured peers, falling back
// to replaying the local block store when no peers are configured (§4.4).
func buildSource(cfg *config.Config, store *blockstore.Store, kv *kvstore.Store, log *logrus.Logger) (source.Source, func(), error) {
	opts := blockfmt.DefaultOptions()
	opts.Validate = cfg.Workers.ValidateStates

	if len(cfg.Network.Peers) == 0 {
		fs := filesource.New(store, kv, opts, log)
		return fs, func() { _ = fs.Close() }, nil
	}

	pool := peerclient.NewPool(msDuration(cfg.Network.RequestTimeoutMS), peerIdleTTL)
	peers := peerclient.NewPeerSet(cfg.Network.Peers, pool)
	ns := netsource.New(peers, netsource.Config{
		PreLoad:      cfg.Network.PreloadBlocks > 0,
		Compress:     cfg.Network.Compress,
		MaxBlockSize: blockstore.DefaultMaxFileBytes,
	}, opts, log)
	return ns, func() { _ = ns.Close(); pool.Close() }, nil
}
