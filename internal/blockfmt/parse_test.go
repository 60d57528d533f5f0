package blockfmt

import (
	"encoding/binary"
	"testing"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

func encodeTxBody(to chainprim.Address, value, fees, nonce uint64, data, sign, pubKey []byte, intStatus *uint64) []byte {
	var buf []byte
	buf = append(buf, to.Bytes()...)
	buf = chainprim.EncodeVarint(buf, value)
	buf = chainprim.EncodeVarint(buf, fees)
	buf = chainprim.EncodeVarint(buf, nonce)
	buf = chainprim.EncodeVarint(buf, uint64(len(data)))
	buf = append(buf, data...)
	buf = chainprim.EncodeVarint(buf, uint64(len(sign)))
	buf = append(buf, sign...)
	buf = chainprim.EncodeVarint(buf, uint64(len(pubKey)))
	buf = append(buf, pubKey...)
	if intStatus != nil {
		buf = chainprim.EncodeVarint(buf, *intStatus)
	}
	return buf
}

func buildMainBlock(tag Tag, prevHash chainprim.Hash, txBodies [][]byte) []byte {
	var payload []byte
	for _, body := range txBodies {
		payload = chainprim.EncodeVarint(payload, uint64(len(body)))
		payload = append(payload, body...)
	}
	payload = chainprim.EncodeVarint(payload, 0) // terminator

	txsHash := chainprim.DoubleSHA256(append(append([]byte(nil), prevHash.Bytes()...), payload...))

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(tag))
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, 12345)

	out := append(header, ts...)
	out = append(out, prevHash.Bytes()...)
	out = append(out, txsHash.Bytes()...)
	out = append(out, payload...)
	return out
}

func TestParseMainBlockSingleTx(t *testing.T) {
	var to chainprim.Address
	to[0] = 0xAB
	status := uint64(StatusAccept)
	body := encodeTxBody(to, 10, 3, 1, nil, []byte("sig"), []byte("pub"), &status)

	data := buildMainBlock(TagMainCommon, chainprim.ZeroHash, [][]byte{body})

	blk, err := Parse(data, chainprim.FilePos{FileName: "f", Offset: 0}, DefaultOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mb, ok := blk.(*MainBlock)
	if !ok {
		t.Fatalf("expected *MainBlock, got %T", blk)
	}
	if mb.CountTxs != 1 {
		t.Fatalf("count txs = %d, want 1", mb.CountTxs)
	}
	tx := mb.Txs[0]
	if tx.Value != 10 || tx.Fees != 3 || tx.Nonce != 1 {
		t.Fatalf("unexpected tx fields: %+v", tx)
	}
	if tx.IntStatus == nil || *tx.IntStatus != StatusAccept {
		t.Fatalf("expected int status %d, got %v", StatusAccept, tx.IntStatus)
	}
	if tx.ToAddress != to {
		t.Fatalf("to address mismatch")
	}
	wantRealFee := uint64(0)
	if tx.SizeRawTx > 255 {
		wantRealFee = tx.Fees
	}
	if tx.RealFee() != wantRealFee {
		t.Fatalf("real fee = %d, want %d", tx.RealFee(), wantRealFee)
	}
}

func TestParseRejectsTxsHashMismatch(t *testing.T) {
	data := buildMainBlock(TagMainCommon, chainprim.ZeroHash, nil)
	// Corrupt the txs_hash field.
	data[48] ^= 0xFF
	if _, err := Parse(data, chainprim.FilePos{}, DefaultOptions()); err != errHashMismatch {
		t.Fatalf("expected errHashMismatch, got %v", err)
	}
}

func TestSignBlockTxHeuristicFirstTx(t *testing.T) {
	status := uint64(StatusAccept)
	// from == to requires the from_address to equal to_address; with no
	// pubkey the from address is the empty sentinel, so to must be empty too.
	emptyBody := encodeTxBody(chainprim.EmptyAddress, 0, 0, 0, []byte("x"), nil, nil, &status)

	data := buildMainBlock(TagMainCommon, chainprim.ZeroHash, [][]byte{emptyBody})
	blk, err := Parse(data, chainprim.FilePos{}, DefaultOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mb := blk.(*MainBlock)
	if !mb.Txs[0].IsSignBlockTx {
		t.Fatalf("expected first zero-value self-tx to be flagged as sign-block tx")
	}
}

func TestSignBlockParse(t *testing.T) {
	var bh chainprim.Hash
	bh[0] = 0x1
	sign := []byte("sig")
	pub := []byte("pub")

	var body []byte
	body = append(body, bh.Bytes()...)
	body = chainprim.EncodeVarint(body, uint64(len(sign)))
	body = append(body, sign...)
	body = chainprim.EncodeVarint(body, uint64(len(pub)))
	body = append(body, pub...)

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(TagSign))
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, 99)

	var data []byte
	data = append(data, header...)
	data = append(data, ts...)
	data = append(data, chainprim.ZeroHash.Bytes()...)
	data = append(data, body...)

	blk, err := Parse(data, chainprim.FilePos{}, DefaultOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sb, ok := blk.(*SignBlock)
	if !ok {
		t.Fatalf("expected *SignBlock, got %T", blk)
	}
	if len(sb.SignTxs) != 1 || sb.SignTxs[0].BlockHash != bh {
		t.Fatalf("unexpected sign txs: %+v", sb.SignTxs)
	}
}

func TestRejectedBlockParse(t *testing.T) {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(TagRejected))
	data := append(header, []byte("opaque-remainder")...)

	blk, err := Parse(data, chainprim.FilePos{}, DefaultOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rb, ok := blk.(*RejectedBlock)
	if !ok {
		t.Fatalf("expected *RejectedBlock, got %T", blk)
	}
	if string(rb.Raw) != "opaque-remainder" {
		t.Fatalf("raw = %q", rb.Raw)
	}
}

func TestDecodeTxDataDelegate(t *testing.T) {
	tx := &TransactionInfo{Data: []byte(`{"method":"delegate","value":100}`)}
	decodeTxData(tx)
	if tx.Delegate == nil || tx.Delegate.Value != 100 || !tx.Delegate.IsDelegate {
		t.Fatalf("expected delegate sub-record, got %+v", tx.Delegate)
	}
}

func TestDecodeTxDataBlockedSender(t *testing.T) {
	data := make([]byte, 9)
	data[0] = 0x01
	tx := &TransactionInfo{Data: data}
	decodeTxData(tx)
	if !tx.SenderBlocked {
		t.Fatalf("expected sender blocked flag")
	}
}

func TestDecodeTxDataMalformedJSONNeverFails(t *testing.T) {
	tx := &TransactionInfo{Data: []byte(`{not json}`)}
	decodeTxData(tx) // must not panic
	if tx.Delegate != nil || tx.Script != nil || tx.Token != nil {
		t.Fatalf("expected no sub-records for malformed data")
	}
}
