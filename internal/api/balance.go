package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

type addressParams struct {
	Address chainprim.Address `json:"address"`
}

func (s *Server) fetchBalance(addr chainprim.Address) (schema.BalanceInfo, bool, error) {
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixBalance, addr.Bytes()))
	if err == kvstore.ErrNotFound {
		return schema.BalanceInfo{}, false, nil
	}
	if err != nil {
		return schema.BalanceInfo{}, false, err
	}
	var bal schema.BalanceInfo
	if err := schema.Unmarshal(raw, &bal); err != nil {
		return schema.BalanceInfo{}, false, err
	}
	return bal, true, nil
}

func methodFetchBalance(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	bal, ok, err := s.fetchBalance(p.Address)
	if err != nil {
		return nil, errInternal(err)
	}
	if !ok {
		return schema.BalanceInfo{}, nil
	}
	return bal, nil
}

type addressesParams struct {
	Addresses []chainprim.Address `json:"addresses"`
}

func methodFetchBalances(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if len(p.Addresses) > MaxBatchBalances {
		return nil, errInvalidParams("too many addresses requested")
	}
	out := make(map[string]schema.BalanceInfo, len(p.Addresses))
	for _, addr := range p.Addresses {
		bal, ok, err := s.fetchBalance(addr)
		if err != nil {
			return nil, errInternal(err)
		}
		if ok {
			out[addr.String()] = bal
		}
	}
	return out, nil
}

func methodGetCommonBalance(s *Server, _ json.RawMessage) (interface{}, *Error) {
	raw, err := s.KV.Get(schema.PrefixCommonBalance)
	if err == kvstore.ErrNotFound {
		return schema.CommonBalance{}, nil
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var common schema.CommonBalance
	if err := schema.Unmarshal(raw, &common); err != nil {
		return nil, errInternal(err)
	}
	return common, nil
}

func methodGetToken(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixToken, p.Address.Bytes()))
	if err == kvstore.ErrNotFound {
		return nil, errNotFound("token not found: " + p.Address.String())
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var tok schema.Token
	if err := schema.Unmarshal(raw, &tok); err != nil {
		return nil, errInternal(err)
	}
	return tok, nil
}

type delegationEntry struct {
	To     chainprim.Address `json:"to"`
	Value  uint64            `json:"value"`
	TxHash chainprim.Hash    `json:"tx_hash"`
}

// methodGetAddressDelegations scans every still-active delegation from
// address by restricting the §6.2 "d_"+from+to+'!'+counter keyspace to
// rows whose prefix is just "d_"+from — every recipient's stack entries
// sort after it, so one scan covers all of them.
func methodGetAddressDelegations(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	prefix := schema.SimpleKey(schema.PrefixDelegate, p.Address.Bytes())
	var out []delegationEntry
	scanErr := s.KV.ScanPrefix(prefix, func(key, value []byte) (bool, error) {
		rest := key[len(prefix):]
		if len(rest) < chainprim.AddressSize+1 {
			return true, nil
		}
		to, err := chainprim.AddressFromBytes(rest[:chainprim.AddressSize])
		if err != nil {
			return true, nil
		}
		var state schema.DelegateState
		if err := schema.Unmarshal(value, &state); err != nil {
			return false, err
		}
		out = append(out, delegationEntry{To: to, Value: state.Value, TxHash: state.TxHash})
		return true, nil
	})
	if scanErr != nil {
		return nil, errInternal(scanErr)
	}
	return out, nil
}

func (s *Server) handleBalanceGET(w http.ResponseWriter, r *http.Request) {
	addr, aerr := chainprim.AddressFromHex(mux.Vars(r)["address"])
	if aerr != nil {
		writeResponse(w, Response{Error: errInvalidParams(aerr.Error())})
		return
	}
	bal, ok, err := s.fetchBalance(addr)
	if err != nil {
		writeResponse(w, Response{Error: errInternal(err)})
		return
	}
	if !ok {
		writeResponse(w, Response{Result: schema.BalanceInfo{}})
		return
	}
	writeResponse(w, Response{Result: bal})
}
