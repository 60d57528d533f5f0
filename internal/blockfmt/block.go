// Package blockfmt implements C3: decoding one block's on-disk bytes (§6.1,
// §4.3) into a typed variant. A tagged variant (Block = Main | Sign |
// Rejected) replaces the source's std::variant<monostate, ...>, per the
// "Polymorphism over block variants" design note.
package blockfmt

import "github.com/metahash-oss/torrentnode/internal/chainprim"

// Tag is the 8-byte little-endian block-type marker that opens every
// record's payload (§6.1).
type Tag uint64

// Known tags. Hex values are reproduced exactly as the little-endian u64
// table in §6.1.
const (
	TagMainLegacy    Tag = 0x0123456789ABCDEF
	TagMainCommon    Tag = 0x0123456700000000
	TagMainState     Tag = 0x0123456700000011
	TagMainForging   Tag = 0x0123456700000022
	TagMainCommonV2  Tag = 0x0123456700010000
	TagMainStateV2   Tag = 0x0123456700010011
	TagMainForgingV2 Tag = 0x0123456700010022
	TagSign          Tag = 0x0123456711001111
	TagRejected      Tag = 0x0123456711003311
)

// IsMain reports whether tag identifies one of the main-block variants.
func (t Tag) IsMain() bool {
	switch t {
	case TagMainLegacy, TagMainCommon, TagMainState, TagMainForging,
		TagMainCommonV2, TagMainStateV2, TagMainForgingV2:
		return true
	}
	return false
}

// IsState reports whether tag identifies a state-block variant (§4.7.3).
func (t Tag) IsState() bool {
	return t == TagMainState || t == TagMainStateV2
}

// IsForging reports whether tag identifies a forging-block variant (E4).
func (t Tag) IsForging() bool {
	return t == TagMainForging || t == TagMainForgingV2
}

// Attestation is the sender sign/pubkey/address triple captured from the
// peer envelope around a header (§3.2).
type Attestation struct {
	SenderSign    []byte
	SenderPubKey  []byte
	SenderAddress chainprim.Address
}

// Block is the common contract satisfied by MainBlock, SignBlock and
// RejectedBlock.
type Block interface {
	BlockTag() Tag
	Pos() chainprim.FilePos
}

// MainBlock carries value-bearing transactions (§3.2).
type MainBlock struct {
	Timestamp   uint64
	BlockSize   uint64
	BlockType   Tag
	Hash        chainprim.Hash
	PrevHash    chainprim.Hash
	TxsHash     chainprim.Hash
	Signature   []byte
	CountTxs    uint32
	CountSignTx uint32
	FilePos     chainprim.FilePos
	BlockNumber *uint64

	Txs []TransactionInfo

	Attestation
}

// BlockTag implements Block.
func (b *MainBlock) BlockTag() Tag { return b.BlockType }

// Pos implements Block.
func (b *MainBlock) Pos() chainprim.FilePos { return b.FilePos }

// SignBlock attests a main block identified by PrevHash (§3.2, GLOSSARY).
type SignBlock struct {
	Timestamp uint64
	BlockSize uint64
	Hash      chainprim.Hash
	PrevHash  chainprim.Hash
	FilePos   chainprim.FilePos

	SignTxs []SignTx

	Attestation
}

// BlockTag implements Block.
func (b *SignBlock) BlockTag() Tag { return TagSign }

// Pos implements Block.
func (b *SignBlock) Pos() chainprim.FilePos { return b.FilePos }

// SignTx is one (blockHash, sign, pubkey) tuple inside a sign block (§6.1).
type SignTx struct {
	BlockHash chainprim.Hash
	Sign      []byte
	PubKey    []byte
}

// RejectedBlock records transactions the producer chose not to include;
// its body is retained but never decoded beyond the envelope (§3.2).
type RejectedBlock struct {
	BlockSize uint64
	FilePos   chainprim.FilePos
	Raw       []byte
}

// BlockTag implements Block.
func (b *RejectedBlock) BlockTag() Tag { return TagRejected }

// Pos implements Block.
func (b *RejectedBlock) Pos() chainprim.FilePos { return b.FilePos }
