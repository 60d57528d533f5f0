package api

// Batch-size ceilings for the query surface (§6.5). A batch request for
// more blocks, txs, balances or dumps than its ceiling is rejected with an
// invalid-params error. MaxHistorySize instead caps one history page: a
// larger or non-positive limit is clamped to it.
const (
	MaxBatchBlocks   = 1000
	MaxBatchTxs      = 10000
	MaxBatchBalances = 10000
	MaxHistorySize   = 10000
	MaxBatchDumps    = 1000
)
