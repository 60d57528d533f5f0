package api

import (
	"encoding/json"

	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

func methodGetContractDetails(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixV8Details, p.Address.Bytes()))
	if err == kvstore.ErrNotFound {
		return nil, errNotFound("contract not found: " + p.Address.String())
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var details schema.V8Details
	if err := schema.Unmarshal(raw, &details); err != nil {
		return nil, errInternal(err)
	}
	return details, nil
}

func methodGetContractCode(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixV8Code, p.Address.Bytes()))
	if err == kvstore.ErrNotFound {
		return nil, errNotFound("contract code not found: " + p.Address.String())
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var code schema.V8Code
	if err := schema.Unmarshal(raw, &code); err != nil {
		return nil, errInternal(err)
	}
	return code, nil
}
