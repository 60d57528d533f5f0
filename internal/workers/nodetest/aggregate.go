package nodetest

import (
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// recordSample folds one observed sample into the three per-(server, day)
// aggregates §4.9 names: the rolling sample list used for BestGeo, the
// pass/fail+tester count, and the raw rps series.
func (w *Worker) recordSample(batch *kvstore.Batch, day uint32, server chainprim.Address, sample schema.NodeTestSample) error {
	bestKey := schema.DayKey(schema.PrefixNodeTest, server, day)
	var best schema.BestNodeTest
	if raw, err := w.kv.GetWithBatch(batch, bestKey); err == nil {
		if uerr := schema.Unmarshal(raw, &best); uerr != nil {
			return uerr
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}
	best.Day = day
	best.Samples = append(best.Samples, sample)
	bestBytes, err := schema.Marshal(best)
	if err != nil {
		return err
	}
	if err := batch.Put(bestKey, bestBytes); err != nil {
		return err
	}

	countKey := schema.DayKey(schema.PrefixNodeTestCount, server, day)
	var count schema.NodeTestCount
	if raw, err := w.kv.GetWithBatch(batch, countKey); err == nil {
		if uerr := schema.Unmarshal(raw, &count); uerr != nil {
			return uerr
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}
	count.CountAll++
	if !sample.Success {
		count.CountFailure++
	}
	if count.Testers == nil {
		count.Testers = make(map[string]struct{})
	}
	count.Testers[sample.Tester.String()] = struct{}{}
	countBytes, err := schema.Marshal(count)
	if err != nil {
		return err
	}
	if err := batch.Put(countKey, countBytes); err != nil {
		return err
	}

	rpsKey := schema.DayKey(schema.PrefixNodeRPS, server, day)
	var rps schema.NodeRPS
	if raw, err := w.kv.GetWithBatch(batch, rpsKey); err == nil {
		if uerr := schema.Unmarshal(raw, &rps); uerr != nil {
			return uerr
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}
	rps.RPS = append(rps.RPS, sample.RPS)
	rpsBytes, err := schema.Marshal(rps)
	if err != nil {
		return err
	}
	return batch.Put(rpsKey, rpsBytes)
}

// recordTrust persists the latest trust assertion for an address (§4.9):
// only state blocks carry trust, and a later one simply overwrites.
func (w *Worker) recordTrust(batch *kvstore.Batch, blockNumber uint64, addr chainprim.Address, trust int64) error {
	rec := schema.TrustRecord{Trust: trust, BlockNumber: blockNumber}
	b, err := schema.Marshal(rec)
	if err != nil {
		return err
	}
	return batch.Put(schema.SimpleKey(schema.PrefixNodeStatTrust, addr.Bytes()), b)
}

// recordRegistration persists a node's latest announced directory entry.
func (w *Worker) recordRegistration(batch *kvstore.Batch, blockNumber uint64, addr chainprim.Address, reg *registrationPayload) error {
	rec := schema.NodeRegistration{IP: reg.IP, Geo: reg.Geo, BlockNumber: blockNumber}
	b, err := schema.Marshal(rec)
	if err != nil {
		return err
	}
	return batch.Put(schema.SimpleKey(schema.PrefixAllNodes, addr.Bytes()), b)
}

// mergeAllTestedNodes adds this block's freshly tested server addresses to
// the day's running set, used to answer "all nodes tested today" queries
// without scanning every per-server key.
func (w *Worker) mergeAllTestedNodes(batch *kvstore.Batch, day uint32, tested map[chainprim.Address]struct{}) error {
	key := schema.DayOnlyKey(schema.PrefixAllNodesCount, day)
	var all schema.AllTestedNodes
	if raw, err := w.kv.GetWithBatch(batch, key); err == nil {
		if uerr := schema.Unmarshal(raw, &all); uerr != nil {
			return uerr
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}

	seen := make(map[chainprim.Address]struct{}, len(all.Addresses))
	for _, a := range all.Addresses {
		seen[a] = struct{}{}
	}
	for a := range tested {
		if _, ok := seen[a]; !ok {
			all.Addresses = append(all.Addresses, a)
			seen[a] = struct{}{}
		}
	}
	all.Day = day

	b, err := schema.Marshal(all)
	if err != nil {
		return err
	}
	return batch.Put(key, b)
}
