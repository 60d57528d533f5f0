package blockfmt

import (
	"encoding/json"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// decodeTxData is the best-effort data decoder from §4.3: it never fails
// the parse — a tx whose data cannot be recognised simply keeps its
// optional sub-records unset.
//
// The destination address, not the JSON "method" string, is the primary
// gate for Script/Token sub-records (original_source/src/BlockchainRead.cpp,
// ~lines 230-312: isScriptAddress()/isTokenAddress() are checked before any
// data is parsed). A tx paying into a script address gets a ScriptInfo even
// with no data at all (Kind defaults to pay); if data is present but isn't
// recognised JSON, Kind is unknown rather than leaving Script unset.
// Delegate/undelegate are decoded from the JSON method whatever the
// destination address kind.
func decodeTxData(tx *TransactionInfo) {
	if len(tx.Data) == 9 && tx.Data[0] == 0x01 {
		tx.SenderBlocked = true
		return
	}

	isJSON := len(tx.Data) >= 2 && tx.Data[0] == '{' && tx.Data[len(tx.Data)-1] == '}'
	var env dataEnvelope
	if isJSON {
		if err := json.Unmarshal(tx.Data, &env); err != nil {
			isJSON = false
		}
	}

	if isJSON {
		switch env.Method {
		case "delegate":
			tx.Delegate = &DelegateInfo{Value: env.Value, IsDelegate: true}
		case "undelegate":
			tx.Delegate = &DelegateInfo{Value: env.Value, IsDelegate: false}
		}
	}

	if tx.ToAddress.IsScript() {
		switch {
		case isJSON && env.Method == "compile":
			tx.Script = &ScriptInfo{RawTx: tx.Data, Kind: ScriptKindCompile}
		case isJSON && env.Method == "run":
			tx.Script = &ScriptInfo{RawTx: tx.Data, Kind: ScriptKindRun}
		case len(tx.Data) == 0:
			tx.Script = &ScriptInfo{RawTx: tx.Data, Kind: ScriptKindPay}
		default:
			tx.Script = &ScriptInfo{RawTx: tx.Data, Kind: ScriptKindUnknown}
		}
		return
	}

	if !isJSON {
		return
	}

	if !tx.ToAddress.IsToken() {
		return
	}

	switch env.Method {
	case "contract-create":
		tx.Token = decodeTokenCreate(&env)
	case "contract-changeowner":
		if owner, err := chainprim.AddressFromHex(env.NewOwner); err == nil {
			tx.Token = &TokenInfo{Op: TokenOpChangeOwner, NewOwner: owner}
		}
	case "contract-changeemission":
		tx.Token = &TokenInfo{Op: TokenOpChangeEmission, NewEmission: env.NewEmission}
	case "contract-addtokens":
		if to, err := chainprim.AddressFromHex(env.To); err == nil {
			tx.Token = &TokenInfo{Op: TokenOpAddTokens, To: to, MovedValue: env.Value}
		}
	case "contract-movetokens":
		if to, err := chainprim.AddressFromHex(env.To); err == nil {
			tx.Token = &TokenInfo{Op: TokenOpMoveTokens, To: to, MovedValue: env.Value}
		}
	}
}

func decodeTokenCreate(env *dataEnvelope) *TokenInfo {
	owner, err := chainprim.AddressFromHex(env.Owner)
	if err != nil {
		return nil
	}
	info := &TokenInfo{
		Op:              TokenOpCreate,
		Type:            env.Type,
		Owner:           owner,
		Decimals:        env.Decimals,
		Value:           env.Value,
		Symbol:          env.Symbol,
		Name:            env.Name,
		EmissionAllowed: env.Emission,
	}
	for _, d := range env.BeginDistribution {
		addr, err := chainprim.AddressFromHex(d.Address)
		if err != nil {
			continue
		}
		info.BeginDistribution = append(info.BeginDistribution, TokenDistributionEntry{Address: addr, Value: d.Value})
	}
	return info
}

// dataEnvelope is the recognised subset of a tx's JSON-encoded data field
// (§4.3). Unknown fields and unknown methods are ignored.
type dataEnvelope struct {
	Method            string                `json:"method"`
	Value             uint64                `json:"value,omitempty"`
	Type              string                `json:"type,omitempty"`
	Owner             string                `json:"owner,omitempty"`
	Decimals          uint8                 `json:"decimals,omitempty"`
	Symbol            string                `json:"symbol,omitempty"`
	Name              string                `json:"name,omitempty"`
	Emission          bool                  `json:"emission,omitempty"`
	BeginDistribution []distributionEntry   `json:"begin_distribution,omitempty"`
	NewOwner          string                `json:"new_owner,omitempty"`
	NewEmission       bool                  `json:"new_emission,omitempty"`
	To                string                `json:"to,omitempty"`
}

type distributionEntry struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
}
