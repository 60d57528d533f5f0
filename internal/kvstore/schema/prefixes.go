// Package schema defines the KV key layout (§6.2) and the row types each
// prefix stores. Keys are always `prefix || body`; multi-valued keys append
// `!` then an 8-byte descending counter so ascending scans read newest
// first (see chainprim.DescendingCounter).
package schema

// Key prefixes, matching the representative set in §6.2. Each ends in `_`
// except PrefixCommonBalance, a bare singleton key kept for parity with the
// source's naming; KeyBlockMeta below is the other bare key in this block.
var (
	PrefixBlockHeader    = []byte("b_")       // hash -> BlockHeader (main)
	PrefixBlockByNumber  = []byte("bn_")      // block_number(8 BE) -> hash, for get-block-by-number
	PrefixTx             = []byte("t_")       // tx hash -> TransactionInfo
	PrefixTxByBlock      = []byte("T_")       // block_number!index -> tx hash
	PrefixAddressInfo    = []byte("a_")       // address!counter -> AddressInfo
	PrefixBalance        = []byte("A_")       // address -> BalanceInfo
	PrefixAddressIndex   = []byte("i_")       // misc address secondary index
	PrefixToken          = []byte("to_")      // token address -> Token
	PrefixDelegate       = []byte("d_")       // from||to!counter -> DelegateState
	PrefixDelegateByHash = []byte("dh_")      // delegate tx hash -> DelegateState
	PrefixFileInfo       = []byte("f_")       // file name -> FileInfo
	PrefixV8State        = []byte("v_")       // contract address -> state blob
	PrefixV8Details      = []byte("vd_")      // contract address -> details blob
	PrefixV8Code         = []byte("vc_")      // contract address -> code blob
	PrefixMainCursor     = []byte("ms_")      // singleton -> MainCursor
	PrefixSignBlock      = []byte("ss_")      // hash -> sign BlockHeader
	PrefixNodeTest       = []byte("ns_")      // address!day -> node-test stat
	PrefixNodeTestCursor = []byte("nr2_")     // singleton -> NodeTestCursor
	PrefixNodeTestCount  = []byte("nt_")      // address -> aggregate count
	PrefixNodeRPS        = []byte("nrps_")    // address!day -> rps sample
	PrefixContractCursor = []byte("ncs_")     // singleton -> ContractCursor
	PrefixNodeStatTrust  = []byte("nsta_")    // address -> trust result
	PrefixAllNodesCount  = []byte("nsaa2_")   // day -> all-nodes snapshot
	PrefixForgingSumAddr = []byte("fsa_")     // address -> per-address forging total
	PrefixSignTimeline   = []byte("signs_")   // counter -> hash, append order
	PrefixTimeline       = []byte("timeline_") // counter -> hash, main+sign interleaved
	PrefixCommonBalance  = []byte("commno_balance")
	PrefixAddressStatus  = []byte("as_")      // address!counter -> AddressStatus (§4.8 step 4)
	PrefixForgingSums    = []byte("fs_")      // singleton -> ForgingSums
	PrefixAllNodes       = []byte("na_")      // address -> NodeRegistration directory entry
	PrefixDelegateHelper = []byte("dhp_")     // from||to -> DelegateHelper (§4.7.1 replay guard)

	// KeyBlockMeta is the singleton tip pointer (§3.2 BlocksMetadata). The
	// module-set and version-db sentinels live in package kvstore itself
	// (see version.go), since they gate opening the store before any
	// schema-aware caller exists.
	KeyBlockMeta = []byte("?block_meta")
)
