package mainworker

import (
	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// balanceDelta accumulates one address's movement within the block being
// applied (§4.7 step 3-4), merged into the persisted BalanceInfo once all
// txs are processed.
type balanceDelta struct {
	addr chainprim.Address

	received, spent               uint64
	countReceived, countSpent     uint64
	countTxs                      uint64
	delegateOut, undelegateOut    uint64
	delegatedIn, undelegatedIn    uint64
	reserved                      int64 // signed: delegate adds, undelegate subtracts
	delegateCountOp               uint64
	forged                        uint64
	forgedCountOp                 uint64
	tokenDeltas                   map[chainprim.Address]int64
}

func (ctx *applyContext) deltaFor(addr chainprim.Address) *balanceDelta {
	key := addr.String()
	d, ok := ctx.deltas[key]
	if !ok {
		d = &balanceDelta{addr: addr, tokenDeltas: make(map[chainprim.Address]int64)}
		ctx.deltas[key] = d
	}
	return d
}

// applyPlainBalance implements §4.7.2 for a non-delegate, non-token tx.
func (ctx *applyContext) applyPlainBalance(t *blockfmt.TransactionInfo) {
	if !t.IsSuccess() {
		return
	}
	if t.FromAddress.IsInitialWallet() {
		// Genesis/initial-distribution credits are not charged a fee or
		// debited from a tracked balance.
		to := ctx.deltaFor(t.ToAddress)
		to.received += t.Value
		to.countReceived++
		to.countTxs++
		return
	}
	from := ctx.deltaFor(t.FromAddress)
	from.spent += t.Value + t.RealFee()
	from.countSpent++
	from.countTxs++

	to := ctx.deltaFor(t.ToAddress)
	to.received += t.Value
	to.countReceived++
	to.countTxs++
}

// applyBalanceForToken applies the §4.7.2 fee-only balance movement a
// token-mutating tx still incurs (token value itself is tracked
// separately in the token sub-ledger, token.go).
func (ctx *applyContext) applyBalanceForToken(t *blockfmt.TransactionInfo) {
	if !t.IsSuccess() || t.FromAddress.IsInitialWallet() {
		return
	}
	from := ctx.deltaFor(t.FromAddress)
	from.spent += t.RealFee()
	from.countTxs++
}

func (ctx *applyContext) creditForging(t *blockfmt.TransactionInfo) {
	to := ctx.deltaFor(t.ToAddress)
	to.forged += t.Value
	to.forgedCountOp++
}

// addSaturating adds delta to base, collapsing (received, spent) to
// (balance(), 0) on overflow per §3.2's "accumulators saturate" rule.
func addSaturating(recv, spent, deltaRecv, deltaSpent uint64) (newRecv, newSpent uint64) {
	newRecv = recv + deltaRecv
	newSpent = spent + deltaSpent
	overflowed := newRecv < recv || newSpent < spent
	if !overflowed {
		return newRecv, newSpent
	}
	bal := uint64(0)
	if recv > spent {
		bal = recv - spent
	}
	return bal, 0
}

// mergeBalances applies every accumulated delta to its address's
// persisted BalanceInfo (§4.7 step 4), guarded per-address by
// `old.block_number < B.number` so a concurrent or repeated merge never
// double-applies.
func (ctx *applyContext) mergeBalances() error {
	var totalReceived, totalSpent, totalForged uint64
	for _, d := range ctx.deltas {
		key := schema.SimpleKey(schema.PrefixBalance, d.addr.Bytes())
		raw, err := ctx.w.kv.Get(key)
		var bal schema.BalanceInfo
		if err == nil {
			if uerr := schema.Unmarshal(raw, &bal); uerr != nil {
				return uerr
			}
		} else if err != kvstore.ErrNotFound {
			return err
		}
		if bal.BlockNumber >= ctx.num && (bal.BlockNumber != 0 || ctx.num != 0) {
			continue // already merged for this or a later block
		}

		bal.Received, bal.Spent = addSaturating(bal.Received, bal.Spent, d.received, d.spent)
		bal.CountReceived += d.countReceived
		bal.CountSpent += d.countSpent
		bal.CountTxs += d.countTxs
		bal.BlockNumber = ctx.num

		if d.delegateOut != 0 || d.undelegateOut != 0 || d.delegatedIn != 0 || d.undelegatedIn != 0 || d.reserved != 0 || d.delegateCountOp != 0 {
			if bal.Delegated == nil {
				bal.Delegated = &schema.DelegatedInfo{}
			}
			bal.Delegated.DelegateOut += d.delegateOut
			bal.Delegated.UndelegateOut += d.undelegateOut
			bal.Delegated.DelegatedIn += d.delegatedIn
			bal.Delegated.UndelegatedIn += d.undelegatedIn
			bal.Delegated.CountOp += d.delegateCountOp
			if d.reserved >= 0 {
				bal.Delegated.Reserved += uint64(d.reserved)
			} else if uint64(-d.reserved) <= bal.Delegated.Reserved {
				bal.Delegated.Reserved -= uint64(-d.reserved)
			} else {
				bal.Delegated.Reserved = 0
			}
		}

		if d.forged != 0 || d.forgedCountOp != 0 {
			if bal.Forged == nil {
				bal.Forged = &schema.ForgedInfo{}
			}
			bal.Forged.Forged += d.forged
			bal.Forged.CountOp += d.forgedCountOp
		}

		if len(d.tokenDeltas) > 0 {
			if bal.TokenBalances == nil {
				bal.TokenBalances = make(map[chainprim.Address]uint64)
			}
			for tokenAddr, tDelta := range d.tokenDeltas {
				cur := bal.TokenBalances[tokenAddr]
				if tDelta >= 0 {
					bal.TokenBalances[tokenAddr] = cur + uint64(tDelta)
				} else if uint64(-tDelta) <= cur {
					bal.TokenBalances[tokenAddr] = cur - uint64(-tDelta)
				} else {
					bal.TokenBalances[tokenAddr] = 0
				}
			}
		}

		out, err := schema.Marshal(bal)
		if err != nil {
			return err
		}
		if err := ctx.batch.Put(key, out); err != nil {
			return err
		}

		totalReceived += d.received
		totalSpent += d.spent
		totalForged += d.forged
	}

	if totalReceived != 0 || totalSpent != 0 || totalForged != 0 {
		if err := ctx.mergeCommonBalance(totalReceived, totalSpent, totalForged); err != nil {
			return err
		}
	}
	return nil
}

// mergeCommonBalance folds this block's network-wide totals into the
// get-common-balance singleton (§6.5).
func (ctx *applyContext) mergeCommonBalance(received, spent, forged uint64) error {
	var common schema.CommonBalance
	raw, err := ctx.w.kv.GetWithBatch(ctx.batch, schema.PrefixCommonBalance)
	if err == nil {
		if uerr := schema.Unmarshal(raw, &common); uerr != nil {
			return uerr
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}
	common.TotalReceived += received
	common.TotalSpent += spent
	common.TotalForged += forged
	out, err := schema.Marshal(common)
	if err != nil {
		return err
	}
	return ctx.batch.Put(schema.PrefixCommonBalance, out)
}
