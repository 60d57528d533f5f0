package mainworker

import (
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// updateTip maintains the persisted BlocksMetadata tip pointer (§4.6). The
// common path is a forward extension of the previous tip; the tie-break
// only matters if two blocks sharing a parent are ever applied back to
// back, which the linearity check in Apply already mostly rules out, but
// the rule is kept here too so the tip is deterministic regardless of
// call order (Testable Property 4).
func (ctx *applyContext) updateTip() error {
	raw, err := ctx.w.kv.GetWithBatch(ctx.batch, schema.KeyBlockMeta)
	if err == kvstore.ErrNotFound {
		return ctx.putTip(ctx.block.Hash, ctx.block.PrevHash)
	}
	if err != nil {
		return err
	}
	var tip schema.BlocksMetadata
	if uerr := schema.Unmarshal(raw, &tip); uerr != nil {
		return uerr
	}
	if tip.PrevBlockHash == ctx.block.PrevHash && tip.BlockHash != ctx.block.Hash {
		if ctx.block.Hash.Less(tip.BlockHash) {
			return ctx.putTip(ctx.block.Hash, ctx.block.PrevHash)
		}
		return nil
	}
	return ctx.putTip(ctx.block.Hash, ctx.block.PrevHash)
}

func (ctx *applyContext) putTip(hash, prevHash chainprim.Hash) error {
	tip := schema.BlocksMetadata{BlockHash: hash, PrevBlockHash: prevHash}
	out, err := schema.Marshal(tip)
	if err != nil {
		return err
	}
	return ctx.batch.Put(schema.KeyBlockMeta, out)
}
