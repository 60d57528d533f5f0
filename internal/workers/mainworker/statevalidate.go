package mainworker

import (
	"encoding/json"
	"fmt"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// stateDelegateEntry mirrors the {a, v} pairs a state block's tx data may
// carry under "delegate_to" (§4.7.3).
type stateDelegateEntry struct {
	A string `json:"a"`
	V uint64 `json:"v"`
}

type stateTxData struct {
	DelegateTo []stateDelegateEntry `json:"delegate_to"`
}

// validateStateBlock implements §4.7.3: a state block's txs each encode
// the expected snapshot for an account after the previous block. Any
// mismatch is fatal, never a silent skip, since the node must not diverge
// from the canonical chain it believes it is replaying.
func (ctx *applyContext) validateStateBlock() error {
	for i := range ctx.block.Txs {
		t := &ctx.block.Txs[i]

		raw, err := ctx.w.kv.GetWithBatch(ctx.batch, schema.SimpleKey(schema.PrefixBalance, t.ToAddress.Bytes()))
		var bal schema.BalanceInfo
		if err == nil {
			if uerr := schema.Unmarshal(raw, &bal); uerr != nil {
				return uerr
			}
		} else if err != kvstore.ErrNotFound {
			return err
		}
		if bal.Balance() != t.Value {
			return fmt.Errorf("mainworker: state mismatch for %s: balance %d != expected %d", t.ToAddress, bal.Balance(), t.Value)
		}

		var data stateTxData
		if len(t.Data) == 0 || json.Unmarshal(t.Data, &data) != nil || len(data.DelegateTo) == 0 {
			continue
		}

		expected := make(map[string]uint64, len(data.DelegateTo))
		for _, e := range data.DelegateTo {
			expected[e.A] += e.V
		}

		actual := make(map[string]uint64)
		fromPrefix := schema.SimpleKey(schema.PrefixDelegate, t.ToAddress.Bytes())
		keyAddrOffset := len(fromPrefix)
		err = ctx.w.kv.ScanPrefixExcludingBatchDeletes(ctx.batch, fromPrefix, func(key, value []byte) (bool, error) {
			if len(key) < keyAddrOffset+chainprim.AddressSize {
				return true, nil
			}
			target, aerr := chainprim.AddressFromBytes(key[keyAddrOffset : keyAddrOffset+chainprim.AddressSize])
			if aerr != nil {
				return true, nil
			}
			var rec schema.DelegateState
			if uerr := schema.Unmarshal(value, &rec); uerr != nil {
				return false, uerr
			}
			actual[target.String()] += rec.Value
			return true, nil
		})
		if err != nil {
			return err
		}

		if len(actual) != len(expected) {
			return fmt.Errorf("mainworker: state mismatch for %s: %d active delegation targets != %d expected", t.ToAddress, len(actual), len(expected))
		}
		for addr, v := range expected {
			if actual[addr] != v {
				return fmt.Errorf("mainworker: state mismatch for %s: delegation to %s is %d != expected %d", t.ToAddress, addr, actual[addr], v)
			}
		}
	}
	return nil
}
