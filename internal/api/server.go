// Package api implements the §6.5 query surface: a single JSON-RPC-style
// POST /rpc endpoint dispatching on a method field, plus convenience GET
// routes for the most common point lookups. Routing follows the teacher's
// walletserver/routes and cmd/xchainserver/server patterns: a gorilla/mux
// router, a logging middleware, and one controller-ish struct holding the
// dependencies handlers need.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/metahash-oss/torrentnode/internal/blockstore"
	"github.com/metahash-oss/torrentnode/internal/chainindex"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/metrics"
	"github.com/metahash-oss/torrentnode/internal/timeline"
)

// Server holds the read-only dependencies every query handler needs. It
// never writes to KV, Index or Timeline — those are owned by the
// ingestion driver (§5).
type Server struct {
	KV       *kvstore.Store
	Index    *chainindex.Index
	Timeline *timeline.Timeline
	Store    *blockstore.Store
	Metrics  *metrics.Metrics
	Log      *logrus.Logger

	methods map[string]rpcMethod
}

type rpcMethod func(s *Server, params json.RawMessage) (interface{}, *Error)

// New builds a Server and registers every §6.5 method.
func New(kv *kvstore.Store, idx *chainindex.Index, tl *timeline.Timeline, store *blockstore.Store, m *metrics.Metrics, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{KV: kv, Index: idx, Timeline: tl, Store: store, Metrics: m, Log: log}
	s.methods = s.buildMethodTable()
	return s
}

// Router builds the mux.Router exposing this node's HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logMiddleware)
	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatusGET).Methods(http.MethodGet)
	r.HandleFunc("/block/{hash}", s.handleBlockByHashGET).Methods(http.MethodGet)
	r.HandleFunc("/balance/{address}", s.handleBalanceGET).Methods(http.MethodGet)
	return r
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.RequestURI,
			"duration": time.Since(start),
		}).Debug("api: request served")
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, Response{Error: errInvalidParams("malformed request body: " + err.Error())})
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		writeResponse(w, Response{ID: req.ID, Error: errUnknownMethod(req.Method)})
		return
	}

	result, rpcErr := fn(s, req.Params)
	writeResponse(w, Response{ID: req.ID, Result: result, Error: rpcErr})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(statusForError(resp.Error.Code))
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func statusForError(code int) int {
	switch code {
	case 400:
		return http.StatusBadRequest
	case 404:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// buildMethodTable registers every method named in §6.5.
func (s *Server) buildMethodTable() map[string]rpcMethod {
	return map[string]rpcMethod{
		"status":                      methodStatus,
		"getinfo":                     methodGetInfo,
		"get-count-blocks":            methodGetCountBlocks,
		"get-block-by-hash":           methodGetBlockByHash,
		"get-block-by-number":         methodGetBlockByNumber,
		"get-blocks":                  methodGetBlocks,
		"get-dump-block-by-hash":      methodGetDumpBlockByHash,
		"get-dump-block-by-number":    methodGetDumpBlockByNumber,
		"get-dumps-blocks-by-hash":    methodGetDumpsBlocksByHash,
		"get-dumps-blocks-by-number":  methodGetDumpsBlocksByNumber,
		"fetch-balance":               methodFetchBalance,
		"fetch-balances":              methodFetchBalances,
		"fetch-history":               methodFetchHistory,
		"fetch-history-filter":        methodFetchHistoryFilter,
		"get-tx":                      methodGetTx,
		"get-txs":                     methodGetTxs,
		"get-token":                   methodGetToken,
		"get-address-delegations":     methodGetAddressDelegations,
		"get-contract-details":        methodGetContractDetails,
		"get-contract-code":          methodGetContractCode,
		"get-common-balance":          methodGetCommonBalance,
		"get-forging-sum":            methodGetForgingSum,
		"get-forging-sum-all":        methodGetForgingSumAll,
		"get-last-node-stat-result":  methodGetLastNodeStatResult,
		"get-last-node-stat-trust":   methodGetLastNodeStatTrust,
		"get-last-node-stat-count":   methodGetLastNodeStatCount,
		"get-last-nodes-stats-count": methodGetLastNodesStatsCount,
		"get-all-last-nodes-count":   methodGetAllLastNodesCount,
		"get-nodes-raiting":          methodGetNodesRaiting,
	}
}
