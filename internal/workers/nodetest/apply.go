package nodetest

import (
	"github.com/metahash-oss/torrentnode/internal/blockfmt"
	"github.com/metahash-oss/torrentnode/internal/chainprim"
	"github.com/metahash-oss/torrentnode/internal/kvstore"
	"github.com/metahash-oss/torrentnode/internal/kvstore/schema"
)

// applyTx routes one transaction's data payload to whichever §4.9 handler
// recognises it. A tx matches at most one: node-test results are tagged by
// int-status, trust is only read from state blocks, registration is
// recognised by method name alone.
func (w *Worker) applyTx(batch *kvstore.Batch, block *blockfmt.MainBlock, day uint32, t *blockfmt.TransactionInfo, tested map[chainprim.Address]struct{}) error {
	if t.IntStatus != nil && *t.IntStatus == blockfmt.StatusNodeTest {
		payload, ok := parseTestResult(t.Data)
		if !ok {
			return nil
		}
		server, err := chainprim.AddressFromHex(payload.ServerAddress)
		if err != nil {
			server = t.ToAddress
		}
		tester, _ := chainprim.AddressFromHex(payload.TesterAddress)
		sample := schema.NodeTestSample{
			Tester:        tester,
			Type:          payload.Type,
			IP:            payload.IP,
			Geo:           payload.Geo,
			RPS:           payload.RPS,
			Success:       payload.Success,
			IsForwardSort: payload.IsForwardSort,
		}
		if err := w.recordSample(batch, day, server, sample); err != nil {
			return err
		}
		tested[server] = struct{}{}
		return nil
	}

	if block.BlockType.IsState() {
		if trust, ok := parseTrust(t.Data); ok {
			return w.recordTrust(batch, *block.BlockNumber, t.ToAddress, trust)
		}
	}

	if reg, ok := parseRegistration(t.Data); ok {
		return w.recordRegistration(batch, *block.BlockNumber, t.ToAddress, reg)
	}
	return nil
}
