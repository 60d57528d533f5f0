package mainworker

import (
	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// applyForgingSums updates the cumulative per-int-status forging totals
// (§3.2, E4) plus the per-address projection the query surface's
// get-forging-sum reads (§6.5). Per the design-note decision recorded in
// DESIGN.md, only non-zero tags are ever written; a tag never seen is
// simply absent from the map rather than stored as a zero entry.
func (ctx *applyContext) applyForgingSums() error {
	added := make(map[uint32]uint64)
	perAddr := make(map[chainprim.Address]uint64)
	for i := range ctx.block.Txs {
		t := &ctx.block.Txs[i]
		if t.IntStatus == nil || !blockfmt.IsForgingStatus(*t.IntStatus) {
			continue
		}
		if !t.IsSuccess() {
			continue
		}
		added[uint32(*t.IntStatus)] += t.Value
		perAddr[t.ToAddress] += t.Value
	}
	if len(added) == 0 {
		return nil
	}

	raw, err := ctx.w.kv.GetWithBatch(ctx.batch, schema.PrefixForgingSums)
	var sums schema.ForgingSums
	if err == nil {
		if uerr := schema.Unmarshal(raw, &sums); uerr != nil {
			return uerr
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}
	if sums.Sums == nil {
		sums.Sums = make(map[uint32]uint64)
	}
	for tag, v := range added {
		sums.Sums[tag] += v
	}

	out, merr := schema.Marshal(sums)
	if merr != nil {
		return merr
	}
	if err := ctx.batch.Put(schema.PrefixForgingSums, out); err != nil {
		return err
	}

	for addr, v := range perAddr {
		key := schema.SimpleKey(schema.PrefixForgingSumAddr, addr.Bytes())
		var info schema.ForgedInfo
		if raw, err := ctx.w.kv.GetWithBatch(ctx.batch, key); err == nil {
			if uerr := schema.Unmarshal(raw, &info); uerr != nil {
				return uerr
			}
		} else if err != kvstore.ErrNotFound {
			return err
		}
		info.Forged += v
		info.CountOp++
		out, merr := schema.Marshal(info)
		if merr != nil {
			return merr
		}
		if err := ctx.batch.Put(key, out); err != nil {
			return err
		}
	}
	return nil
}
