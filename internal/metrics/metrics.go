// Package metrics exposes ingestion throughput, worker lag and peer error
// counters as Prometheus gauges/counters, adapted from the teacher's
// core/system_health_logging.go HealthLogger (own registry, explicit
// MustRegister, promhttp.HandlerFor served on a dedicated mux).
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the Prometheus collectors for one node process.
type Metrics struct {
	registry *prometheus.Registry

	blocksIngested   prometheus.Counter
	blockHeight      prometheus.Gauge
	mainWorkerLag    prometheus.Gauge
	contractWorkerLag prometheus.Gauge
	nodeTestWorkerLag prometheus.Gauge
	peerErrors       prometheus.Counter
	oracleErrors     prometheus.Counter
	fatalErrors      prometheus.Counter
}

// New builds a Metrics instance and registers its collectors on a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		blocksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentnode_blocks_ingested_total",
			Help: "Total number of blocks the ingestion driver has pulled and persisted.",
		}),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentnode_block_height",
			Help: "Highest linked main block number (§4.5).",
		}),
		mainWorkerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentnode_main_worker_lag_blocks",
			Help: "Blocks between the chain index tip and the main worker's cursor (§4.7).",
		}),
		contractWorkerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentnode_contract_worker_lag_blocks",
			Help: "Blocks between the chain index tip and the contract worker's cursor (§4.8).",
		}),
		nodeTestWorkerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "torrentnode_nodetest_worker_lag_blocks",
			Help: "Blocks between the chain index tip and the node-test worker's cursor (§4.9).",
		}),
		peerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentnode_peer_errors_total",
			Help: "Total number of peer-fetch errors encountered by the network source (§4.4).",
		}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentnode_oracle_errors_total",
			Help: "Total number of contract-oracle error responses, of any band (§4.8).",
		}),
		fatalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torrentnode_fatal_errors_total",
			Help: "Total number of fatal ingestion errors that aborted the pipeline (§7).",
		}),
	}
	reg.MustRegister(
		m.blocksIngested,
		m.blockHeight,
		m.mainWorkerLag,
		m.contractWorkerLag,
		m.nodeTestWorkerLag,
		m.peerErrors,
		m.oracleErrors,
		m.fatalErrors,
	)
	return m
}

// BlockIngested records one successfully persisted block at the given
// chain height.
func (m *Metrics) BlockIngested(height uint64) {
	m.blocksIngested.Inc()
	m.blockHeight.Set(float64(height))
}

// SetWorkerLag records how many blocks behind the chain tip a given
// worker's cursor currently sits.
func (m *Metrics) SetWorkerLag(worker string, lag uint64) {
	switch worker {
	case "main":
		m.mainWorkerLag.Set(float64(lag))
	case "contract":
		m.contractWorkerLag.Set(float64(lag))
	case "nodetest":
		m.nodeTestWorkerLag.Set(float64(lag))
	}
}

// PeerError increments the peer-error counter.
func (m *Metrics) PeerError() { m.peerErrors.Inc() }

// OracleError increments the oracle-error counter.
func (m *Metrics) OracleError() { m.oracleErrors.Inc() }

// FatalError increments the fatal-error counter.
func (m *Metrics) FatalError() { m.fatalErrors.Inc() }

// Serve starts an HTTP server exposing /metrics on addr, returning the
// *http.Server so the caller manages its lifecycle (mirrors the teacher's
// StartMetricsServer/ShutdownMetricsServer pairing).
func (m *Metrics) Serve(addr string, log *logrus.Logger) *http.Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics: server exited")
		}
	}()
	return srv
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
