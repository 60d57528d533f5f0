package ingest

import (
	"sort"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainindex"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/timeline"
)

// RebuildFromKV repopulates an empty Index and an unloaded Timeline from
// the §6.5 lookup rows a prior process already persisted, so a restarted
// node doesn't need to re-fetch and re-link everything a Source already
// delivered once. Index and Timeline are in-memory only (§5); this is the
// "bulk deserialization runs once on startup" step their own docs call
// for. Safe to call against a fresh Index/Timeline only.
func RebuildFromKV(kv *kvstore.Store, idx *chainindex.Index, tl *timeline.Timeline) error {
	mains, err := scanMainHeaders(kv)
	if err != nil {
		return err
	}
	signs, err := scanSignHeaders(kv)
	if err != nil {
		return err
	}

	sort.Slice(mains, func(i, j int) bool { return mains[i].BlockNumber < mains[j].BlockNumber })

	signByPrevHash := make(map[chainprim.Hash]schema.BlockHeader, len(signs))
	for _, sh := range signs {
		signByPrevHash[sh.PrevHash] = sh
	}

	// Register every header unlinked first (mirrors an out-of-order arrival
	// batch), then link from the tip backwards in one CalcBlockchain walk:
	// that's the one call that actually populates the number->hash vector.
	for _, mh := range mains {
		idx.AddWithoutCalc(chainindex.Header{
			Hash:     mh.Hash,
			PrevHash: mh.PrevHash,
			IsState:  blockfmt.Tag(mh.BlockType).IsState(),
		})
	}
	if len(mains) > 0 {
		tip := mains[len(mains)-1]
		if _, err := idx.CalcBlockchain(tip.Hash); err != nil {
			return err
		}
	}

	entries := make([]timeline.Entry, 0, len(mains)+len(signs))
	for _, mh := range mains {
		entries = append(entries, timeline.Entry{Hash: mh.Hash, IsSign: false})
		if sh, ok := signByPrevHash[mh.Hash]; ok {
			entries = append(entries, timeline.Entry{Hash: sh.Hash, IsSign: true, PrevHash: sh.PrevHash})
		}
	}

	return tl.Load(entries)
}

func scanMainHeaders(kv *kvstore.Store) ([]schema.BlockHeader, error) {
	var out []schema.BlockHeader
	err := kv.ScanPrefix(schema.PrefixBlockHeader, func(_, value []byte) (bool, error) {
		var h schema.BlockHeader
		if err := schema.Unmarshal(value, &h); err != nil {
			return false, err
		}
		out = append(out, h)
		return true, nil
	})
	return out, err
}

func scanSignHeaders(kv *kvstore.Store) ([]schema.BlockHeader, error) {
	var out []schema.BlockHeader
	err := kv.ScanPrefix(schema.PrefixSignBlock, func(_, value []byte) (bool, error) {
		var h schema.BlockHeader
		if err := schema.Unmarshal(value, &h); err != nil {
			return false, err
		}
		out = append(out, h)
		return true, nil
	})
	return out, err
}
