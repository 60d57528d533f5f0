package api

import (
	"encoding/json"
	"sort"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

func methodGetForgingSum(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixForgingSumAddr, p.Address.Bytes()))
	if err == kvstore.ErrNotFound {
		return schema.ForgedInfo{}, nil
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var info schema.ForgedInfo
	if err := schema.Unmarshal(raw, &info); err != nil {
		return nil, errInternal(err)
	}
	return info, nil
}

func methodGetForgingSumAll(s *Server, _ json.RawMessage) (interface{}, *Error) {
	raw, err := s.KV.Get(schema.PrefixForgingSums)
	if err == kvstore.ErrNotFound {
		return schema.ForgingSums{}, nil
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var sums schema.ForgingSums
	if err := schema.Unmarshal(raw, &sums); err != nil {
		return nil, errInternal(err)
	}
	return sums, nil
}

// currentDay returns the node-test worker's current rolling day counter
// (§4.9), used as the default when a request omits an explicit day.
func (s *Server) currentDay() (uint32, error) {
	raw, err := s.KV.Get(schema.PrefixNodeTestCursor)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var cur schema.NodeTestCursor
	if err := schema.Unmarshal(raw, &cur); err != nil {
		return 0, err
	}
	return cur.DayNumber, nil
}

func (s *Server) resolveDay(requested *uint32) (uint32, error) {
	if requested != nil {
		return *requested, nil
	}
	return s.currentDay()
}

type nodeStatParams struct {
	Address chainprim.Address `json:"address"`
	Day     *uint32           `json:"day"`
}

func methodGetLastNodeStatResult(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p nodeStatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	day, derr := s.resolveDay(p.Day)
	if derr != nil {
		return nil, errInternal(derr)
	}
	raw, err := s.KV.Get(schema.DayKey(schema.PrefixNodeTest, p.Address, day))
	if err == kvstore.ErrNotFound {
		return schema.BestNodeTest{Day: day}, nil
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var best schema.BestNodeTest
	if err := schema.Unmarshal(raw, &best); err != nil {
		return nil, errInternal(err)
	}
	return best, nil
}

func methodGetLastNodeStatTrust(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p addressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	raw, err := s.KV.Get(schema.SimpleKey(schema.PrefixNodeStatTrust, p.Address.Bytes()))
	if err == kvstore.ErrNotFound {
		return nil, errNotFound("no trust record for " + p.Address.String())
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var trust schema.TrustRecord
	if err := schema.Unmarshal(raw, &trust); err != nil {
		return nil, errInternal(err)
	}
	return trust, nil
}

func (s *Server) nodeTestCount(addr chainprim.Address, day uint32) (schema.NodeTestCount, error) {
	raw, err := s.KV.Get(schema.DayKey(schema.PrefixNodeTestCount, addr, day))
	if err == kvstore.ErrNotFound {
		return schema.NodeTestCount{}, nil
	}
	if err != nil {
		return schema.NodeTestCount{}, err
	}
	var count schema.NodeTestCount
	if err := schema.Unmarshal(raw, &count); err != nil {
		return schema.NodeTestCount{}, err
	}
	return count, nil
}

func methodGetLastNodeStatCount(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p nodeStatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	day, derr := s.resolveDay(p.Day)
	if derr != nil {
		return nil, errInternal(derr)
	}
	count, err := s.nodeTestCount(p.Address, day)
	if err != nil {
		return nil, errInternal(err)
	}
	return count, nil
}

type nodeStatsParams struct {
	Addresses []chainprim.Address `json:"addresses"`
	Day       *uint32             `json:"day"`
}

func methodGetLastNodesStatsCount(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p nodeStatsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if len(p.Addresses) > MaxBatchBalances {
		return nil, errInvalidParams("too many addresses requested")
	}
	day, derr := s.resolveDay(p.Day)
	if derr != nil {
		return nil, errInternal(derr)
	}
	out := make(map[string]schema.NodeTestCount, len(p.Addresses))
	for _, addr := range p.Addresses {
		count, err := s.nodeTestCount(addr, day)
		if err != nil {
			return nil, errInternal(err)
		}
		out[addr.String()] = count
	}
	return out, nil
}

type dayParams struct {
	Day *uint32 `json:"day"`
}

func methodGetAllLastNodesCount(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p dayParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	day, derr := s.resolveDay(p.Day)
	if derr != nil {
		return nil, errInternal(derr)
	}
	raw, err := s.KV.Get(schema.DayOnlyKey(schema.PrefixAllNodesCount, day))
	if err == kvstore.ErrNotFound {
		return schema.AllTestedNodes{Day: day}, nil
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var all schema.AllTestedNodes
	if err := schema.Unmarshal(raw, &all); err != nil {
		return nil, errInternal(err)
	}
	return all, nil
}

type nodeRaiting struct {
	Address  chainprim.Address `json:"address"`
	PassRate float64           `json:"pass_rate"`
	CountAll uint64            `json:"count_all"`
	Trust    int64             `json:"trust"`
}

// methodGetNodesRaiting ranks every server address tested on the day by
// pass rate (ties broken by sample count), folding in a trust assertion
// when one has been recorded (§4.9).
func methodGetNodesRaiting(s *Server, params json.RawMessage) (interface{}, *Error) {
	var p dayParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	day, derr := s.resolveDay(p.Day)
	if derr != nil {
		return nil, errInternal(derr)
	}
	raw, err := s.KV.Get(schema.DayOnlyKey(schema.PrefixAllNodesCount, day))
	if err == kvstore.ErrNotFound {
		return []nodeRaiting{}, nil
	}
	if err != nil {
		return nil, errInternal(err)
	}
	var all schema.AllTestedNodes
	if err := schema.Unmarshal(raw, &all); err != nil {
		return nil, errInternal(err)
	}

	out := make([]nodeRaiting, 0, len(all.Addresses))
	for _, addr := range all.Addresses {
		count, cerr := s.nodeTestCount(addr, day)
		if cerr != nil {
			return nil, errInternal(cerr)
		}
		passRate := 1.0
		if count.CountAll > 0 {
			passRate = 1.0 - float64(count.CountFailure)/float64(count.CountAll)
		}
		var trust int64
		if traw, terr := s.KV.Get(schema.SimpleKey(schema.PrefixNodeStatTrust, addr.Bytes())); terr == nil {
			var tr schema.TrustRecord
			if schema.Unmarshal(traw, &tr) == nil {
				trust = tr.Trust
			}
		}
		out = append(out, nodeRaiting{Address: addr, PassRate: passRate, CountAll: count.CountAll, Trust: trust})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PassRate != out[j].PassRate {
			return out[i].PassRate > out[j].PassRate
		}
		return out[i].CountAll > out[j].CountAll
	})
	return out, nil
}
