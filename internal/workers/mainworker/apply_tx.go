package mainworker

import (
	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// applyTx processes one transaction within the block being applied
// (§4.7 step 3), in the order the block lists them.
func (ctx *applyContext) applyTx(t *blockfmt.TransactionInfo) error {
	ctx.recordAddressHistory(t)

	status := schema.TransactionStatus{}

	switch {
	case t.Delegate != nil:
		if err := ctx.applyDelegate(t, &status); err != nil {
			return err
		}
	case t.Token != nil:
		ctx.applyBalanceForToken(t)
		if err := ctx.applyToken(t); err != nil {
			return err
		}
	default:
		ctx.applyPlainBalance(t)
	}

	if ctx.block.BlockType.IsForging() && t.IsSuccess() && !t.ToAddress.IsEmpty() {
		ctx.creditForging(t)
	}

	// The contract worker (C9) may apply this same block concurrently and
	// write its own V8 status under this tx's row; preserve whatever it
	// already left behind rather than overwriting it with a zero value
	// (§5: "no cross-worker ordering is asserted").
	txKey := schema.SimpleKey(schema.PrefixTx, t.Hash.Bytes())
	if existingRaw, gerr := ctx.w.kv.GetWithBatch(ctx.batch, txKey); gerr == nil {
		var existing schema.TransactionRecord
		if schema.Unmarshal(existingRaw, &existing) == nil {
			status.V8 = existing.Status.V8
		}
	} else if gerr != kvstore.ErrNotFound {
		return gerr
	}

	rec := schema.TransactionRecord{Tx: *t, Status: status}
	recBytes, err := schema.Marshal(rec)
	if err != nil {
		return err
	}
	if err := ctx.batch.Put(txKey, recBytes); err != nil {
		return err
	}

	blockIdxKey := schema.SimpleKey(schema.PrefixTxByBlock, blockIndexBody(ctx.num, t.BlockIndex))
	if err := ctx.batch.Put(blockIdxKey, t.Hash.Bytes()); err != nil {
		return err
	}
	return nil
}

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

// recordAddressHistory inserts an AddressInfo row for each of {from, to}
// that is not the initial-wallet sentinel and whose int-status is not
// "node test" (§4.7 step 3). Per the §9 Open Question decision recorded
// in DESIGN.md: a self-transfer (from == to) writes only once, but the
// per-address counter is still consumed twice — both counter values are
// written, carrying the identical row, so no counter value is silently
// dropped and the scan-ordering invariant (Testable Property 8) still
// holds for every consumed slot.
func (ctx *applyContext) recordAddressHistory(t *blockfmt.TransactionInfo) {
	if t.IntStatus != nil && *t.IntStatus == blockfmt.StatusNodeTest {
		return
	}
	info := schema.AddressInfo{FilePos: t.FilePos, BlockNumber: ctx.num, BlockIndex: t.BlockIndex}

	write := func(addr chainprim.Address) {
		if addr.IsInitialWallet() || addr.IsEmpty() {
			return
		}
		counter := ctx.nextCounter()
		key := schema.AddressCounterKey(schema.PrefixAddressInfo, addr, counter)
		if b, err := schema.Marshal(info); err == nil {
			_ = ctx.batch.Put(key, b)
		}
	}

	if t.FromAddress == t.ToAddress {
		if !t.FromAddress.IsInitialWallet() && !t.FromAddress.IsEmpty() {
			// Consume two counter values (matching the "counter increments
			// twice" behaviour) but write identical rows under both.
			c1 := ctx.nextCounter()
			c2 := ctx.nextCounter()
			if b, err := schema.Marshal(info); err == nil {
				_ = ctx.batch.Put(schema.AddressCounterKey(schema.PrefixAddressInfo, t.FromAddress, c1), b)
				_ = ctx.batch.Put(schema.AddressCounterKey(schema.PrefixAddressInfo, t.FromAddress, c2), b)
			}
		}
		return
	}
	write(t.FromAddress)
	write(t.ToAddress)
}
