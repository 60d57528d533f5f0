package api

import (
	"encoding/json"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

type historyParams struct {
	Address chainprim.Address `json:"address"`
	Limit   int               `json:"limit"`
}

// resolveTx looks up the full transaction record for a (blockNumber,
// blockIndex) pair recorded in an AddressInfo row, by way of the
// PrefixTxByBlock secondary index (§4.7 step 3).
func (s *Server) resolveTx(blockNumber uint64, blockIndex uint32) (schema.TransactionRecord, bool, error) {
	blockIdxKey := schema.SimpleKey(schema.PrefixTxByBlock, blockIndexBody(blockNumber, blockIndex))
	hashRaw, err := s.KV.Get(blockIdxKey)
	if err == kvstore.ErrNotFound {
		return schema.TransactionRecord{}, false, nil
	}
	if err != nil {
		return schema.TransactionRecord{}, false, err
	}
	hash, err := chainprim.HashFromBytes(hashRaw)
	if err != nil {
		return schema.TransactionRecord{}, false, err
	}
	return s.fetchTx(hash)
}

func (s *Server) fetchTx(hash chainprim.Hash) (schema.TransactionRecord, bool, error) {
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixTx, hash.Bytes()))
	if err == kvstore.ErrNotFound {
		return schema.TransactionRecord{}, false, nil
	}
	if err != nil {
		return schema.TransactionRecord{}, false, err
	}
	var rec schema.TransactionRecord
	if err := schema.Unmarshal(raw, &rec); err != nil {
		return schema.TransactionRecord{}, false, err
	}
	return rec, true, nil
}

// blockIndexBody mirrors mainworker's own key body encoding so the API can
// resolve the same PrefixTxByBlock rows the worker wrote.
func blockIndexBody(blockNumber uint64, index uint32) []byte {
	out := make([]byte, 12)
	for i := 0; i < 8; i++ {
		out[i] = byte(blockNumber >> uint(8*(7-i)))
	}
	for i := 0; i < 4; i++ {
		out[8+i] = byte(index >> uint(8*(3-i)))
	}
	return out
}

func (s *Server) history(addr chainprim.Address, limit int, keep func(schema.TransactionRecord) bool) ([]schema.TransactionRecord, error) {
	if limit <= 0 || limit > MaxHistorySize {
		limit = MaxHistorySize
	}
	prefix := schema.AddressPrefix(schema.PrefixAddressInfo, addr)
	var out []schema.TransactionRecord
	scanErr := s.KV.ScanPrefix(prefix, func(_, value []byte) (bool, error) {
		var info schema.AddressInfo
		if err := schema.Unmarshal(value, &info); err != nil {
			return false, err
		}
		rec, ok, err := s.resolveTx(info.BlockNumber, info.BlockIndex)
		if err != nil {
			return false, err
		}
		if ok && (keep == nil || keep(rec)) {
			out = append(out, rec)
		}
		return len(out) < limit, nil
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

func methodFetchHistory(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p historyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	recs, err := s.history(p.Address, p.Limit, nil)
	if err != nil {
		return nil, errInternal(err)
	}
	return recs, nil
}

type historyFilterParams struct {
	Address     chainprim.Address `json:"address"`
	Limit       int               `json:"limit"`
	IntStatuses []uint64          `json:"intStatuses"`
}

func methodFetchHistoryFilter(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p historyFilterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	allowed := make(map[uint64]struct{}, len(p.IntStatuses))
	for _, v := range p.IntStatuses {
		allowed[v] = struct{}{}
	}
	keep := func(rec schema.TransactionRecord) bool {
		if len(allowed) == 0 {
			return true
		}
		if rec.Tx.IntStatus == nil {
			return false
		}
		_, ok := allowed[*rec.Tx.IntStatus]
		return ok
	}
	recs, err := s.history(p.Address, p.Limit, keep)
	if err != nil {
		return nil, errInternal(err)
	}
	return recs, nil
}

func methodGetTx(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p hashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	rec, ok, err := s.fetchTx(p.Hash)
	if err != nil {
		return nil, errInternal(err)
	}
	if !ok {
		return nil, errNotFound("tx not found: " + p.Hash.String())
	}
	return rec, nil
}

type hashesParams struct {
	Hashes []chainprim.Hash `json:"hashes"`
}

func methodGetTxs(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p hashesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if len(p.Hashes) > MaxBatchTxs {
		return nil, errInvalidParams("too many hashes requested")
	}
	out := make(map[string]schema.TransactionRecord, len(p.Hashes))
	for _, hash := range p.Hashes {
		rec, ok, err := s.fetchTx(hash)
		if err != nil {
			return nil, errInternal(err)
		}
		if ok {
			out[hash.String()] = rec
		}
	}
	return out, nil
}
