package schema

import (
	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// TransactionRecord is the row persisted under PrefixTx (§4.7 step 3): the
// decoded transaction plus whatever status the worker that applied it
// could compute, stored together since a tx's status is never queried
// independent of the tx itself.
type TransactionRecord struct {
	Tx     blockfmt.TransactionInfo
	Status TransactionStatus
}

// UnDelegateStatus is the status record an undelegate tx carries (§4.7.1,
// E2): the value returned and the tx_hash of the delegation it reverses.
type UnDelegateStatus struct {
	Value        uint64
	DelegateHash chainprim.Hash
}

// V8Status is the contract worker's per-tx status (§4.8 step 4), recording
// which of the three error bands (if any) the oracle returned.
type V8Status struct {
	IsScriptError   bool
	IsServerError   bool
	ErrorMessage    string
	CompiledAddress *chainprim.Address
}

// TransactionStatus is the outcome computed for a tx once known (§4.7 step
// 3, §4.8 step 4); it is persisted alongside the TransactionInfo under the
// same PrefixTx row rather than as a second lookup, since a tx's status is
// never queried independent of the tx itself.
type TransactionStatus struct {
	UnDelegate *UnDelegateStatus
	V8         *V8Status
}

// V8State is the contract worker's persisted execution state for a
// contract address (§4.7, §4.8 step 4, E5).
type V8State struct {
	State       string
	BlockNumber uint64
}

// V8Details carries the oracle's opaque per-call detail blob for a
// contract address (§4.8 step 4).
type V8Details struct {
	ContractDump []byte
	BlockNumber  uint64
}

// V8Code is the compiled contract's source, written once at compile time
// (§4.8 step 4, E5).
type V8Code struct {
	Code        []byte
	BlockNumber uint64
}

// AddressStatus is a marker row recording that an address participated in
// a contract-execution tx (§4.8 step 4), mirroring AddressInfo's
// newest-first counter scheme but scoped to contract participation.
type AddressStatus struct {
	FilePos     chainprim.FilePos
	BlockNumber uint64
	TxHash      chainprim.Hash
}

// NodeTestSample is one observed test result (§4.9): proxy_load_results /
// mhAddNodeCheckResult carry (tester, type, ip, geo, rps, success).
// IsForwardSort is the submitting tester's sort-direction preference,
// consulted by BestGeo to decide arg-min vs arg-max.
type NodeTestSample struct {
	Tester        chainprim.Address
	Type          string
	IP            string
	Geo           string
	RPS           float64
	Success       bool
	IsForwardSort bool
}

// BestNodeTest is the per-(server, day) rolling sample list (§4.9): "best
// geo" is selected by arg-min or arg-max of per-geo average rps depending
// on the tester's isForwardSort flag.
type BestNodeTest struct {
	Day     uint32
	Samples []NodeTestSample
}

// GeoAverage returns the average RPS per geo across Samples.
func (b *BestNodeTest) GeoAverage() map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range b.Samples {
		sums[s.Geo] += s.RPS
		counts[s.Geo]++
	}
	out := make(map[string]float64, len(sums))
	for geo, sum := range sums {
		out[geo] = sum / float64(counts[geo])
	}
	return out
}

// BestGeo picks the winning geo: arg-max of GeoAverage when
// isForwardSort, else arg-min.
func (b *BestNodeTest) BestGeo(isForwardSort bool) (string, bool) {
	avgs := b.GeoAverage()
	var best string
	var bestVal float64
	first := true
	for geo, v := range avgs {
		if first || (isForwardSort && v > bestVal) || (!isForwardSort && v < bestVal) {
			best, bestVal, first = geo, v, false
		}
	}
	return best, !first
}

// GetMax returns the most recent sample whose Geo matches the chosen geo
// for currDay, per §4.9's "getMax(currDay)".
func (b *BestNodeTest) GetMax(geo string) (NodeTestSample, bool) {
	for i := len(b.Samples) - 1; i >= 0; i-- {
		if b.Samples[i].Geo == geo {
			return b.Samples[i], true
		}
	}
	return NodeTestSample{}, false
}

// NodeTestCount is the per-(server, day) pass/fail aggregate (§4.9).
type NodeTestCount struct {
	CountAll     uint64
	CountFailure uint64
	Testers      map[string]struct{}
}

// NodeRPS is the per-(server, day) raw rps sample list (§4.9).
type NodeRPS struct {
	RPS []float64
}

// TrustRecord is the per-address trust assertion carried by a state
// block's tx data (`trust: int`), per §4.9.
type TrustRecord struct {
	Trust       int64
	BlockNumber uint64
}

// NodeRegistration is one directory entry parsed from a recognised
// registration method (mh-noderegistration, mhRegisterNode), per §4.9.
type NodeRegistration struct {
	IP          string
	Geo         string
	BlockNumber uint64
}

// AllTestedNodes is the per-day set of server addresses that received at
// least one test result (§4.9), keyed by DayOnlyKey (day only, no address
// component).
type AllTestedNodes struct {
	Day       uint32
	Addresses []chainprim.Address
}
