package contractworker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
	"github.com/metahash-oss/torrentnode/internal/oracle"
)

// applyScriptTx implements §4.8 steps 1-4 for one contract-execution tx.
// The contract address is always t.ToAddress: a compile tx deploys to it,
// a run/pay tx invokes it.
func (w *Worker) applyScriptTx(ctx context.Context, batch *kvstore.Batch, num uint64, t *blockfmt.TransactionInfo) error {
	contractAddr := t.ToAddress
	stateKey := schema.SimpleKey(schema.PrefixV8State, contractAddr.Bytes())

	var prev schema.V8State
	prevExisted := false
	raw, err := w.kv.GetWithBatch(batch, stateKey)
	if err == nil {
		if uerr := schema.Unmarshal(raw, &prev); uerr != nil {
			return uerr
		}
		prevExisted = true
	} else if err != kvstore.ErrNotFound {
		return err
	}
	if prevExisted && prev.BlockNumber >= num {
		// Already applied (idempotent re-apply guard, §4.8 step 1).
		return nil
	}

	if t.Script.Kind == blockfmt.ScriptKindUnknown {
		// §4.8 step 2: "kind == unknown: synthesize a script-error result."
		return w.writeStatusOnly(batch, t, schema.V8Status{IsScriptError: true, ErrorMessage: "unrecognised script kind"})
	}

	params := oracle.Params{
		Transaction: hex.EncodeToString(scriptPayload(t)),
		Sign:        hex.EncodeToString(t.Sign),
		PubKey:      hex.EncodeToString(t.PubKey),
		Address:     contractAddr.String(),
		IsDetails:   true,
	}

	var result *oracle.Result
	switch t.Script.Kind {
	case blockfmt.ScriptKindCompile:
		params.State = ""
		result, err = w.oracle.Compile(ctx, params)
	default: // run, pay
		params.State = prev.State
		result, err = w.oracle.Run(ctx, params)
	}

	if err != nil {
		return w.handleOracleError(batch, t, err)
	}

	newState := schema.V8State{State: result.State, BlockNumber: num}
	sbytes, merr := schema.Marshal(newState)
	if merr != nil {
		return merr
	}
	if err := batch.Put(stateKey, sbytes); err != nil {
		return err
	}

	details := schema.V8Details{ContractDump: result.ContractDump, BlockNumber: num}
	dbytes, merr := schema.Marshal(details)
	if merr != nil {
		return merr
	}
	if err := batch.Put(schema.SimpleKey(schema.PrefixV8Details, contractAddr.Bytes()), dbytes); err != nil {
		return err
	}

	status := schema.V8Status{}
	if t.Script.Kind == blockfmt.ScriptKindCompile {
		code := schema.V8Code{Code: scriptPayload(t), BlockNumber: num}
		cbytes, merr := schema.Marshal(code)
		if merr != nil {
			return merr
		}
		if err := batch.Put(schema.SimpleKey(schema.PrefixV8Code, contractAddr.Bytes()), cbytes); err != nil {
			return err
		}
		addr := contractAddr
		status.CompiledAddress = &addr
	}

	if err := w.writeStatusOnly(batch, t, status); err != nil {
		return err
	}
	return w.writeAddressStatus(batch, num, t)
}

// handleOracleError classifies an oracle.ResponseError into its band
// (§4.8 step 3): a user-band (1000-1999) error is fatal for the node
// (a data/oracle protocol mismatch), script/server bands are recorded on
// the tx and ingestion continues.
func (w *Worker) handleOracleError(batch *kvstore.Batch, t *blockfmt.TransactionInfo, err error) error {
	var rerr *oracle.ResponseError
	if !errors.As(err, &rerr) {
		return fmt.Errorf("contractworker: oracle call: %w", err)
	}
	if rerr.Band == oracle.BandUser {
		return fmt.Errorf("contractworker: fatal user-band oracle error %d: %s", rerr.Code, rerr.Message)
	}
	status := schema.V8Status{ErrorMessage: rerr.Message}
	switch rerr.Band {
	case oracle.BandScript:
		status.IsScriptError = true
	default: // BandServer, BandUnknown
		status.IsServerError = true
	}
	return w.writeStatusOnly(batch, t, status)
}

// scriptPayload returns the bytes the oracle's "transaction" parameter
// carries: the tx's decoded script sub-record when present, else the raw
// data field.
func scriptPayload(t *blockfmt.TransactionInfo) []byte {
	if t.Script != nil && len(t.Script.RawTx) > 0 {
		return t.Script.RawTx
	}
	return t.Data
}

// writeStatusOnly read-modify-writes the shared TransactionRecord row,
// preserving any fields mainworker (C8) already wrote there, since the
// two workers may apply the same block in either order (§5).
func (w *Worker) writeStatusOnly(batch *kvstore.Batch, t *blockfmt.TransactionInfo, status schema.V8Status) error {
	txKey := schema.SimpleKey(schema.PrefixTx, t.Hash.Bytes())
	var rec schema.TransactionRecord
	raw, err := w.kv.GetWithBatch(batch, txKey)
	if err == nil {
		if uerr := schema.Unmarshal(raw, &rec); uerr != nil {
			return uerr
		}
	} else if err == kvstore.ErrNotFound {
		rec = schema.TransactionRecord{Tx: *t}
	} else {
		return err
	}
	rec.Status.V8 = &status
	out, merr := schema.Marshal(rec)
	if merr != nil {
		return merr
	}
	return batch.Put(txKey, out)
}

// writeAddressStatus records both participants' involvement in a
// successful contract-execution tx (§4.8 step 4).
func (w *Worker) writeAddressStatus(batch *kvstore.Batch, num uint64, t *blockfmt.TransactionInfo) error {
	entry := schema.AddressStatus{FilePos: t.FilePos, BlockNumber: num, TxHash: t.Hash}
	out, err := schema.Marshal(entry)
	if err != nil {
		return err
	}
	counter := num*1_000_000 + uint64(t.BlockIndex)
	for _, addr := range []chainprim.Address{t.FromAddress, t.ToAddress} {
		if addr.IsEmpty() {
			continue
		}
		key := schema.AddressCounterKey(schema.PrefixAddressStatus, addr, counter)
		if err := batch.Put(key, out); err != nil {
			return err
		}
	}
	return nil
}
