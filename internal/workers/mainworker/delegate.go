package mainworker

import (
	"fmt"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// delegateCacheEntry mirrors a DelegateState push staged in the current
// block's batch, so a later undelegate in the same block can pop it
// without waiting for commit (§4.7.1's "check the in-progress batch
// first" rule).
type delegateCacheEntry struct {
	key    []byte
	value  uint64
	txHash chainprim.Hash
}

func delegatePairKey(from, to chainprim.Address) string {
	return from.String() + ";" + to.String()
}

// applyDelegate implements §4.7.1: a delegate tx pushes a new
// DelegateState entry onto the (from, to) stack; an undelegate tx pops
// the most recently pushed entry (LIFO) and records what it returned.
func (ctx *applyContext) applyDelegate(t *blockfmt.TransactionInfo, status *schema.TransactionStatus) error {
	d := t.Delegate
	from, to := t.FromAddress, t.ToAddress

	helperKey := schema.SimpleKey(schema.PrefixDelegateHelper, append(append([]byte{}, from.Bytes()...), to.Bytes()...))
	helperRaw, err := ctx.w.kv.Get(helperKey)
	var helper schema.DelegateHelper
	if err == nil {
		if uerr := schema.Unmarshal(helperRaw, &helper); uerr != nil {
			return uerr
		}
		if helper.BlockNumber >= ctx.num {
			// Already applied in an earlier pass over this same block
			// (idempotent re-apply, Testable Property 7).
			return nil
		}
	} else if err != kvstore.ErrNotFound {
		return err
	}

	if d.IsDelegate {
		counter := ctx.nextCounter()
		key := schema.DelegationPairKey(from, to, counter)
		rec := schema.DelegateState{Value: d.Value, TxHash: t.Hash}
		recBytes, merr := schema.Marshal(rec)
		if merr != nil {
			return merr
		}
		if err := ctx.batch.Put(key, recBytes); err != nil {
			return err
		}
		byHashKey := schema.SimpleKey(schema.PrefixDelegateByHash, t.Hash.Bytes())
		if err := ctx.batch.Put(byHashKey, recBytes); err != nil {
			return err
		}
		pairKey := delegatePairKey(from, to)
		ctx.cache[pairKey] = append(ctx.cache[pairKey], delegateCacheEntry{key: key, value: d.Value, txHash: t.Hash})

		out := ctx.deltaFor(from)
		out.delegateOut += d.Value
		out.reserved += int64(d.Value)
		out.delegateCountOp++
		in := ctx.deltaFor(to)
		in.delegatedIn += d.Value
	} else {
		entry, popErr := ctx.popDelegation(from, to)
		if popErr != nil {
			return popErr
		}
		status.UnDelegate = &schema.UnDelegateStatus{Value: entry.value, DelegateHash: entry.txHash}

		out := ctx.deltaFor(from)
		out.undelegateOut += entry.value
		out.reserved -= int64(entry.value)
		out.delegateCountOp++
		in := ctx.deltaFor(to)
		in.undelegatedIn += entry.value
	}

	helper = schema.DelegateHelper{BlockNumber: ctx.num}
	hbytes, merr := schema.Marshal(helper)
	if merr != nil {
		return merr
	}
	return ctx.batch.Put(helperKey, hbytes)
}

// popDelegation removes and returns the most recently pushed active
// delegation between from and to, preferring an entry staged earlier in
// this same block's batch before falling back to committed KV state.
func (ctx *applyContext) popDelegation(from, to chainprim.Address) (delegateCacheEntry, error) {
	pairKey := delegatePairKey(from, to)
	if stack := ctx.cache[pairKey]; len(stack) > 0 {
		top := stack[len(stack)-1]
		ctx.cache[pairKey] = stack[:len(stack)-1]
		if err := ctx.batch.Delete(top.key); err != nil {
			return delegateCacheEntry{}, err
		}
		return top, nil
	}

	prefix := schema.DelegationPairPrefix(from, to)
	var found *delegateCacheEntry
	err := ctx.w.kv.ScanPrefixExcludingBatchDeletes(ctx.batch, prefix, func(key, value []byte) (bool, error) {
		var rec schema.DelegateState
		if uerr := schema.Unmarshal(value, &rec); uerr != nil {
			return false, uerr
		}
		found = &delegateCacheEntry{key: append([]byte{}, key...), value: rec.Value, txHash: rec.TxHash}
		return false, nil // stop at the first (newest, since keys carry a descending counter)
	})
	if err != nil {
		return delegateCacheEntry{}, err
	}
	if found == nil {
		return delegateCacheEntry{}, fmt.Errorf("mainworker: undelegate %s: no active delegation from %s to %s", from, from, to)
	}
	if err := ctx.batch.Delete(found.key); err != nil {
		return delegateCacheEntry{}, err
	}
	return *found, nil
}
