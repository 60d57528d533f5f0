package blockfmt

import (
	"testing"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

func scriptAddr(tag byte) chainprim.Address {
	var a chainprim.Address
	a[1] = 0x01 // script kind, mirrors chainprim's addrKindScript
	a[24] = tag
	return a
}

func tokenAddr(tag byte) chainprim.Address {
	var a chainprim.Address
	a[1] = 0x02 // token kind, mirrors chainprim's addrKindToken
	a[24] = tag
	return a
}

func TestDecodeTxDataScriptGatedByAddressCompile(t *testing.T) {
	tx := &TransactionInfo{ToAddress: scriptAddr(1), Data: []byte(`{"method":"compile"}`)}
	decodeTxData(tx)
	if tx.Script == nil || tx.Script.Kind != ScriptKindCompile {
		t.Fatalf("expected compile script info, got %+v", tx.Script)
	}
}

func TestDecodeTxDataScriptGatedByAddressRun(t *testing.T) {
	tx := &TransactionInfo{ToAddress: scriptAddr(1), Data: []byte(`{"method":"run"}`)}
	decodeTxData(tx)
	if tx.Script == nil || tx.Script.Kind != ScriptKindRun {
		t.Fatalf("expected run script info, got %+v", tx.Script)
	}
}

// A plain payment into a script address with no data at all is a pay,
// matching original_source/src/BlockchainRead.cpp's default when
// isScriptAddress() holds and there is no JSON data to classify it further.
func TestDecodeTxDataScriptAddressNoDataIsPay(t *testing.T) {
	tx := &TransactionInfo{ToAddress: scriptAddr(1)}
	decodeTxData(tx)
	if tx.Script == nil || tx.Script.Kind != ScriptKindPay {
		t.Fatalf("expected pay script info for data-less send to a script address, got %+v", tx.Script)
	}
}

// Data present but not a recognised compile/run method against a script
// address still produces a Script sub-record, just with Kind unknown,
// rather than leaving Script unset.
func TestDecodeTxDataScriptAddressUnrecognisedDataIsUnknown(t *testing.T) {
	tx := &TransactionInfo{ToAddress: scriptAddr(1), Data: []byte("not json at all")}
	decodeTxData(tx)
	if tx.Script == nil || tx.Script.Kind != ScriptKindUnknown {
		t.Fatalf("expected unknown script info, got %+v", tx.Script)
	}
}

// A "pay"/"method":"compile" style JSON body sent to an ordinary wallet
// address (not a script address) must never set Script — the address is
// the primary gate, not the JSON method string.
func TestDecodeTxDataCompileMethodIgnoredForWalletAddress(t *testing.T) {
	var wallet chainprim.Address
	tx := &TransactionInfo{ToAddress: wallet, Data: []byte(`{"method":"compile"}`)}
	decodeTxData(tx)
	if tx.Script != nil {
		t.Fatalf("expected no script info for a non-script destination, got %+v", tx.Script)
	}
}

func TestDecodeTxDataTokenCreateGatedByAddress(t *testing.T) {
	var owner chainprim.Address
	owner[24] = 0x09
	tx := &TransactionInfo{ToAddress: tokenAddr(1), Data: []byte(`{"method":"contract-create","owner":"` + owner.String() + `","value":1000}`)}
	decodeTxData(tx)
	if tx.Token == nil || tx.Token.Op != TokenOpCreate || tx.Token.Value != 1000 {
		t.Fatalf("expected token create sub-record, got %+v", tx.Token)
	}
}

// The same "contract-create" JSON sent to a non-token address must not set
// Token — token ops are gated on the destination address, not the method
// name, just like script ops.
func TestDecodeTxDataTokenMethodIgnoredForNonTokenAddress(t *testing.T) {
	var wallet chainprim.Address
	tx := &TransactionInfo{ToAddress: wallet, Data: []byte(`{"method":"contract-create","owner":"aa"}`)}
	decodeTxData(tx)
	if tx.Token != nil {
		t.Fatalf("expected no token info for a non-token destination, got %+v", tx.Token)
	}
}

func TestDecodeTxDataDelegateIgnoresAddressKind(t *testing.T) {
	// Delegate/undelegate are ordinary wallet-to-wallet operations, not
	// gated by IsScript/IsToken.
	tx := &TransactionInfo{ToAddress: scriptAddr(1), Data: []byte(`{"method":"delegate","value":5}`)}
	decodeTxData(tx)
	if tx.Delegate == nil || !tx.Delegate.IsDelegate || tx.Delegate.Value != 5 {
		t.Fatalf("expected delegate sub-record regardless of address kind, got %+v", tx.Delegate)
	}
}

// TestParseMainBlockScriptPayNoData exercises the gating fix through the
// real parser (not a hand-built TransactionInfo), addressing a tx with no
// data at all to a script address and confirming Script comes out set with
// Kind pay, which is what lets contractworker's cursor guard see the tx at
// all (worker.go skips any tx whose Script is nil).
func TestParseMainBlockScriptPayNoData(t *testing.T) {
	to := scriptAddr(7)
	status := uint64(StatusAccept)
	body := encodeTxBody(to, 10, 0, 1, nil, []byte("sig"), []byte("pub"), &status)

	data := buildMainBlock(TagMainCommon, chainprim.ZeroHash, [][]byte{body})
	blk, err := Parse(data, chainprim.FilePos{}, DefaultOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mb := blk.(*MainBlock)
	if mb.Txs[0].Script == nil || mb.Txs[0].Script.Kind != ScriptKindPay {
		t.Fatalf("expected pay script info via real parse, got %+v", mb.Txs[0].Script)
	}
}
