package mainworker

import (
	"fmt"

	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// applyToken implements §3.3's token sub-ledger: Create, ChangeOwner,
// ChangeEmission, AddTokens and MoveTokens each mutate the Token row at
// ToAddress, read-modify-write within the current block's batch so a
// later tx in the same block observes earlier ones.
func (ctx *applyContext) applyToken(t *blockfmt.TransactionInfo) error {
	info := t.Token
	key := schema.SimpleKey(schema.PrefixToken, t.ToAddress.Bytes())

	load := func() (schema.Token, bool, error) {
		raw, err := ctx.w.kv.GetWithBatch(ctx.batch, key)
		if err == kvstore.ErrNotFound {
			return schema.Token{}, false, nil
		}
		if err != nil {
			return schema.Token{}, false, err
		}
		var tok schema.Token
		if uerr := schema.Unmarshal(raw, &tok); uerr != nil {
			return schema.Token{}, false, uerr
		}
		return tok, true, nil
	}

	switch info.Op {
	case blockfmt.TokenOpCreate:
		tok := schema.Token{
			Type:            info.Type,
			Owner:           info.Owner,
			Decimals:        info.Decimals,
			BeginValue:      info.Value,
			AllValue:        info.Value,
			Symbol:          info.Symbol,
			Name:            info.Name,
			EmissionAllowed: info.EmissionAllowed,
			TxHash:          t.Hash,
			LastMutation:    schema.TokenKindCreate,
		}
		if err := ctx.putToken(key, tok); err != nil {
			return err
		}
		for _, entry := range info.BeginDistribution {
			d := ctx.deltaFor(entry.Address)
			d.tokenDeltas[t.ToAddress] += int64(entry.Value)
		}
		return nil

	case blockfmt.TokenOpChangeOwner:
		tok, ok, err := load()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mainworker: change-owner on unknown token %s", t.ToAddress)
		}
		tok.Owner = info.NewOwner
		tok.LastMutation = schema.TokenKindChangeOwner
		return ctx.putToken(key, tok)

	case blockfmt.TokenOpChangeEmission:
		tok, ok, err := load()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mainworker: change-emission on unknown token %s", t.ToAddress)
		}
		tok.EmissionAllowed = info.NewEmission
		tok.LastMutation = schema.TokenKindChangeEmission
		return ctx.putToken(key, tok)

	case blockfmt.TokenOpAddTokens:
		tok, ok, err := load()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mainworker: add-tokens on unknown token %s", t.ToAddress)
		}
		if !tok.EmissionAllowed {
			return fmt.Errorf("mainworker: add-tokens on non-emissive token %s", t.ToAddress)
		}
		tok.AllValue += info.MovedValue
		tok.LastMutation = schema.TokenKindAddTokens
		if err := ctx.putToken(key, tok); err != nil {
			return err
		}
		d := ctx.deltaFor(info.To)
		d.tokenDeltas[t.ToAddress] += int64(info.MovedValue)
		return nil

	case blockfmt.TokenOpMoveTokens:
		tok, ok, err := load()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mainworker: move-tokens on unknown token %s", t.ToAddress)
		}
		tok.LastMutation = schema.TokenKindMoveTokens
		if err := ctx.putToken(key, tok); err != nil {
			return err
		}
		from := ctx.deltaFor(t.FromAddress)
		from.tokenDeltas[t.ToAddress] -= int64(info.MovedValue)
		to := ctx.deltaFor(info.To)
		to.tokenDeltas[t.ToAddress] += int64(info.MovedValue)
		return nil

	default:
		return fmt.Errorf("mainworker: unrecognised token op %d on %s", info.Op, t.ToAddress)
	}
}

func (ctx *applyContext) putToken(key []byte, tok schema.Token) error {
	out, err := schema.Marshal(tok)
	if err != nil {
		return err
	}
	return ctx.batch.Put(key, out)
}
