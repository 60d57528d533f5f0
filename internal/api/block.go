package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

type statusResult struct {
	BlockHeight  uint64 `json:"block_height"`
	TipHash      string `json:"tip_hash"`
	TimelineLen  int    `json:"timeline_len"`
}

func methodStatus(s *Server, _ json.RawMessage) (interface{}, *Error) {
	last, err := s.Index.GetLastBlock()
	if err != nil {
		return nil, errInternal(err)
	}
	var tip string
	if raw, gerr := s.KV.Get(schema.KeyBlockMeta); gerr == nil {
		var meta schema.BlocksMetadata
		if uerr := schema.Unmarshal(raw, &meta); uerr == nil {
			tip = meta.BlockHash.String()
		}
	}
	height := uint64(0)
	if last.BlockNumber != nil {
		height = *last.BlockNumber
	}
	return statusResult{BlockHeight: height, TipHash: tip, TimelineLen: s.Timeline.Len()}, nil
}

type infoResult struct {
	VersionDB string `json:"version_db"`
	Modules   uint8  `json:"modules"`
}

func methodGetInfo(s *Server, _ json.RawMessage) (interface{}, *Error) {
	version, err := s.KV.VersionDB()
	if err != nil {
		return nil, errInternal(err)
	}
	modules, err := s.KV.Modules()
	if err != nil {
		return nil, errInternal(err)
	}
	return infoResult{VersionDB: version, Modules: uint8(modules)}, nil
}

func methodGetCountBlocks(s *Server, _ json.RawMessage) (interface{}, *Error) {
	return struct {
		CountBlocks int `json:"count_blocks"`
	}{CountBlocks: s.Index.CountBlocks()}, nil
}

func (s *Server) blockHeaderByHash(hash chainprim.Hash) (schema.BlockHeader, bool, error) {
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixBlockHeader, hash.Bytes()))
	if err == kvstore.ErrNotFound {
		return schema.BlockHeader{}, false, nil
	}
	if err != nil {
		return schema.BlockHeader{}, false, err
	}
	var h schema.BlockHeader
	if err := schema.Unmarshal(raw, &h); err != nil {
		return schema.BlockHeader{}, false, err
	}
	return h, true, nil
}

func (s *Server) blockHeaderByNumber(number uint64) (schema.BlockHeader, bool, error) {
	hashRaw, err := s.KV.Get(schema.BlockNumberKey(schema.PrefixBlockByNumber, number))
	if err == kvstore.ErrNotFound {
		return schema.BlockHeader{}, false, nil
	}
	if err != nil {
		return schema.BlockHeader{}, false, err
	}
	hash, err := chainprim.HashFromBytes(hashRaw)
	if err != nil {
		return schema.BlockHeader{}, false, err
	}
	return s.blockHeaderByHash(hash)
}

type hashParams struct {
	Hash chainprim.Hash `json:"hash"`
}

func methodGetBlockByHash(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p hashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	h, ok, err := s.blockHeaderByHash(p.Hash)
	if err != nil {
		return nil, errInternal(err)
	}
	if !ok {
		return nil, errNotFound("block not found: " + p.Hash.String())
	}
	return h, nil
}

type numberParams struct {
	Number uint64 `json:"number"`
}

func methodGetBlockByNumber(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p numberParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	h, ok, err := s.blockHeaderByNumber(p.Number)
	if err != nil {
		return nil, errInternal(err)
	}
	if !ok {
		return nil, errNotFound("block not found at number")
	}
	return h, nil
}

type rangeParams struct {
	BeginBlock  uint64 `json:"beginBlock"`
	CountBlocks int    `json:"countBlocks"`
}

func methodGetBlocks(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p rangeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if p.CountBlocks <= 0 || p.CountBlocks > MaxBatchBlocks {
		return nil, errInvalidParams("countBlocks must be in (0, MAX_BATCH_BLOCKS]")
	}
	out := make([]schema.BlockHeader, 0, p.CountBlocks)
	for n := p.BeginBlock; n < p.BeginBlock+uint64(p.CountBlocks); n++ {
		h, ok, err := s.blockHeaderByNumber(n)
		if err != nil {
			return nil, errInternal(err)
		}
		if !ok {
			break
		}
		out = append(out, h)
	}
	return out, nil
}

type dumpByHashParams struct {
	Hash     chainprim.Hash `json:"hash"`
	FromByte uint64         `json:"fromByte"`
	ToByte   uint64         `json:"toByte"`
}

func (s *Server) readDump(h schema.BlockHeader, from, to uint64) ([]byte, error) {
	if from == 0 && to == 0 {
		return s.Store.ReadFull(h.FilePos)
	}
	return s.Store.ReadRecord(h.FilePos, from, to)
}

func methodGetDumpBlockByHash(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p dumpByHashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	h, ok, err := s.blockHeaderByHash(p.Hash)
	if err != nil {
		return nil, errInternal(err)
	}
	if !ok {
		if h, ok, err = s.signHeaderByHash(p.Hash); err != nil {
			return nil, errInternal(err)
		} else if !ok {
			return nil, errNotFound("block not found: " + p.Hash.String())
		}
	}
	dump, err := s.readDump(h, p.FromByte, p.ToByte)
	if err != nil {
		return nil, errInternal(err)
	}
	return dump, nil
}

func (s *Server) signHeaderByHash(hash chainprim.Hash) (schema.BlockHeader, bool, error) {
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixSignBlock, hash.Bytes()))
	if err == kvstore.ErrNotFound {
		return schema.BlockHeader{}, false, nil
	}
	if err != nil {
		return schema.BlockHeader{}, false, err
	}
	var h schema.BlockHeader
	if err := schema.Unmarshal(raw, &h); err != nil {
		return schema.BlockHeader{}, false, err
	}
	return h, true, nil
}

type dumpByNumberParams struct {
	Number   uint64 `json:"number"`
	FromByte uint64 `json:"fromByte"`
	ToByte   uint64 `json:"toByte"`
}

func methodGetDumpBlockByNumber(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p dumpByNumberParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	h, ok, err := s.blockHeaderByNumber(p.Number)
	if err != nil {
		return nil, errInternal(err)
	}
	if !ok {
		return nil, errNotFound("block not found at number")
	}
	dump, err := s.readDump(h, p.FromByte, p.ToByte)
	if err != nil {
		return nil, errInternal(err)
	}
	return dump, nil
}

type dumpsByHashParams struct {
	Hashes []chainprim.Hash `json:"hashes"`
}

func methodGetDumpsBlocksByHash(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p dumpsByHashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if len(p.Hashes) > MaxBatchDumps {
		return nil, errInvalidParams("too many hashes requested")
	}
	out := make(map[string][]byte, len(p.Hashes))
	for _, hash := range p.Hashes {
		h, ok, err := s.blockHeaderByHash(hash)
		if err != nil {
			return nil, errInternal(err)
		}
		if !ok {
			continue
		}
		dump, err := s.Store.ReadFull(h.FilePos)
		if err != nil {
			return nil, errInternal(err)
		}
		out[hash.String()] = dump
	}
	return out, nil
}

type dumpsByNumberParams struct {
	Numbers []uint64 `json:"numbers"`
}

func methodGetDumpsBlocksByNumber(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p dumpsByNumberParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if len(p.Numbers) > MaxBatchDumps {
		return nil, errInvalidParams("too many numbers requested")
	}
	out := make(map[uint64][]byte, len(p.Numbers))
	for _, n := range p.Numbers {
		h, ok, err := s.blockHeaderByNumber(n)
		if err != nil {
			return nil, errInternal(err)
		}
		if !ok {
			continue
		}
		dump, err := s.Store.ReadFull(h.FilePos)
		if err != nil {
			return nil, errInternal(err)
		}
		out[n] = dump
	}
	return out, nil
}

// --- convenience GET routes ---

func (s *Server) handleStatusGET(w http.ResponseWriter, r *http.Request) {
	result, err := methodStatus(s, nil)
	writeResponse(w, Response{Result: result, Error: err})
}

func (s *Server) handleBlockByHashGET(w http.ResponseWriter, r *http.Request) {
	hash, herr := chainprim.HashFromHex(mux.Vars(r)["hash"])
	if herr != nil {
		writeResponse(w, Response{Error: errInvalidParams(herr.Error())})
		return
	}
	h, ok, err := s.blockHeaderByHash(hash)
	if err != nil {
		writeResponse(w, Response{Error: errInternal(err)})
		return
	}
	if !ok {
		writeResponse(w, Response{Error: errNotFound("block not found: " + hash.String())})
		return
	}
	writeResponse(w, Response{Result: h})
}
