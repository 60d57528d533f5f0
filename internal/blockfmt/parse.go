package blockfmt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/metahash-oss/torrentnode/internal/chainprim"
)

// SignatureVerifier is the external collaborator contract (§4.3,
// "Signature validation ... is performed iff the caller passes
// validate=true") for verifying a tx body against its claimed pub_key.
type SignatureVerifier func(pubKey, message, sig []byte) bool

// Options controls how Parse treats the external collaborators named in
// §4.3 and §6 (key-to-address derivation, signature verification).
type Options struct {
	KeyToAddress chainprim.KeyToAddress
	Validate     bool
	Verify       SignatureVerifier
}

// DefaultOptions returns Options wired to chainprim.DefaultKeyToAddress
// with signature validation disabled, suitable for file-source replay
// where the bytes are already trusted.
func DefaultOptions() Options {
	return Options{KeyToAddress: chainprim.DefaultKeyToAddress}
}

var (
	errTruncated     = errors.New("blockfmt: truncated block")
	errHashMismatch  = errors.New("blockfmt: txs_hash mismatch")
	errSignInvalid   = errors.New("blockfmt: invalid transaction signature")
	errUnknownTag    = errors.New("blockfmt: unknown block tag")
)

// Parse decodes the byte range data (as returned by blockstore.ReadFull)
// into a Block, with pos recorded as its originating FilePos (§4.3).
func Parse(data []byte, pos chainprim.FilePos, opts Options) (Block, error) {
	if len(data) < 8 {
		return nil, errTruncated
	}
	if opts.KeyToAddress == nil {
		opts.KeyToAddress = chainprim.DefaultKeyToAddress
	}
	tag := Tag(binary.LittleEndian.Uint64(data[0:8]))
	switch {
	case tag.IsMain():
		return parseMainBlock(data, tag, pos, opts)
	case tag == TagSign:
		return parseSignBlock(data, pos)
	case tag == TagRejected:
		return parseRejectedBlock(data, pos)
	default:
		return nil, fmt.Errorf("%w: %#x", errUnknownTag, uint64(tag))
	}
}

func parseMainBlock(data []byte, tag Tag, pos chainprim.FilePos, opts Options) (*MainBlock, error) {
	if len(data) < 80 {
		return nil, errTruncated
	}
	timestamp := binary.LittleEndian.Uint64(data[8:16])
	var prevHash, txsHash chainprim.Hash
	copy(prevHash[:], data[16:48])
	copy(txsHash[:], data[48:80])

	// txs_hash covers prev_hash and everything after the txs_hash field.
	hashed := append(append([]byte(nil), data[16:48]...), data[80:]...)
	computedTxsHash := chainprim.DoubleSHA256(hashed)
	if computedTxsHash != txsHash {
		return nil, errHashMismatch
	}

	b := &MainBlock{
		Timestamp: timestamp,
		BlockSize: uint64(len(data)),
		BlockType: tag,
		PrevHash:  prevHash,
		TxsHash:   txsHash,
		FilePos:   pos,
	}
	b.Hash = chainprim.DoubleSHA256(data)

	offset := 80
	var prevTx *TransactionInfo
	var index uint32
	for offset < len(data) {
		size, n, err := chainprim.DecodeVarint(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if size == 0 {
			break
		}
		if offset+int(size) > len(data) {
			return nil, errTruncated
		}
		body := data[offset : offset+int(size)]
		tx, err := parseTransaction(body, opts)
		if err != nil {
			return nil, err
		}
		tx.BlockIndex = index
		tx.FilePos = chainprim.FilePos{FileName: pos.FileName, Offset: pos.Offset + uint64(offset)}
		tx.IsSignBlockTx = isSignBlockTx(tx, prevTx, index == 0)
		decodeTxData(tx)

		b.Txs = append(b.Txs, *tx)
		prevTx = &b.Txs[len(b.Txs)-1]
		index++
		offset += int(size)
	}
	b.CountTxs = uint32(len(b.Txs))
	return b, nil
}

// parseTransaction decodes one tx body (§4.3). body is the exact
// size-prefixed slice (not including the leading size varint itself).
func parseTransaction(body []byte, opts Options) (*TransactionInfo, error) {
	if len(body) < chainprim.AddressSize {
		return nil, errTruncated
	}
	off := 0
	toAddr, err := chainprim.AddressFromBytes(body[off : off+chainprim.AddressSize])
	if err != nil {
		return nil, err
	}
	off += chainprim.AddressSize

	value, n, err := chainprim.DecodeVarint(body[off:])
	if err != nil {
		return nil, err
	}
	off += n

	fees, n, err := chainprim.DecodeVarint(body[off:])
	if err != nil {
		return nil, err
	}
	off += n

	nonce, n, err := chainprim.DecodeVarint(body[off:])
	if err != nil {
		return nil, err
	}
	off += n

	dataLen, n, err := chainprim.DecodeVarint(body[off:])
	if err != nil {
		return nil, err
	}
	off += n
	if off+int(dataLen) > len(body) {
		return nil, errTruncated
	}
	data := body[off : off+int(dataLen)]
	off += int(dataLen)

	signLen, n, err := chainprim.DecodeVarint(body[off:])
	if err != nil {
		return nil, err
	}
	off += n
	if off+int(signLen) > len(body) {
		return nil, errTruncated
	}
	sign := body[off : off+int(signLen)]
	off += int(signLen)

	pubKeyLen, n, err := chainprim.DecodeVarint(body[off:])
	if err != nil {
		return nil, err
	}
	off += n
	if off+int(pubKeyLen) > len(body) {
		return nil, errTruncated
	}
	pubKey := body[off : off+int(pubKeyLen)]
	off += int(pubKeyLen)

	// The hashed range excludes a trailing int_status varint, if present.
	hashRange := body[:off]

	var intStatus *uint64
	if off < len(body) {
		status, _, err := chainprim.DecodeVarint(body[off:])
		if err != nil {
			return nil, err
		}
		intStatus = &status
	}

	fromAddr := chainprim.EmptyAddress
	if len(pubKey) > 0 {
		fromAddr = opts.KeyToAddress(pubKey)
	}

	tx := &TransactionInfo{
		Hash:        chainprim.DoubleSHA256(hashRange),
		FromAddress: fromAddr,
		ToAddress:   toAddr,
		Value:       value,
		Fees:        fees,
		Nonce:       nonce,
		Data:        append([]byte(nil), data...),
		Sign:        append([]byte(nil), sign...),
		PubKey:      append([]byte(nil), pubKey...),
		SizeRawTx:   uint64(len(body)),
		IntStatus:   intStatus,
	}

	if opts.Validate && !fromAddr.IsInitialWallet() && opts.Verify != nil {
		if !opts.Verify(pubKey, hashRange, sign) {
			return nil, errSignInvalid
		}
	}

	return tx, nil
}

// isSignBlockTx implements the §4.3 heuristic: (a) the previous tx was
// itself a sign-block tx or this is the first tx, (b) from == to, (c)
// value == 0, (d) either this is the first tx or data matches the
// previous tx's data and is non-empty.
func isSignBlockTx(tx, prev *TransactionInfo, isFirst bool) bool {
	if tx.FromAddress != tx.ToAddress {
		return false
	}
	if tx.Value != 0 {
		return false
	}
	if isFirst {
		return true
	}
	if prev == nil || !prev.IsSignBlockTx {
		return false
	}
	if len(tx.Data) == 0 {
		return false
	}
	return string(tx.Data) == string(prev.Data)
}

func parseSignBlock(data []byte, pos chainprim.FilePos) (*SignBlock, error) {
	if len(data) < 48 {
		return nil, errTruncated
	}
	timestamp := binary.LittleEndian.Uint64(data[8:16])
	var prevHash chainprim.Hash
	copy(prevHash[:], data[16:48])

	b := &SignBlock{
		Timestamp: timestamp,
		BlockSize: uint64(len(data)),
		PrevHash:  prevHash,
		FilePos:   pos,
	}
	b.Hash = chainprim.DoubleSHA256(data)

	offset := 48
	for offset < len(data) {
		if offset+chainprim.HashSize > len(data) {
			return nil, errTruncated
		}
		var blockHash chainprim.Hash
		copy(blockHash[:], data[offset:offset+chainprim.HashSize])
		offset += chainprim.HashSize

		signLen, n, err := chainprim.DecodeVarint(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if offset+int(signLen) > len(data) {
			return nil, errTruncated
		}
		sign := append([]byte(nil), data[offset:offset+int(signLen)]...)
		offset += int(signLen)

		pubLen, n, err := chainprim.DecodeVarint(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if offset+int(pubLen) > len(data) {
			return nil, errTruncated
		}
		pub := append([]byte(nil), data[offset:offset+int(pubLen)]...)
		offset += int(pubLen)

		b.SignTxs = append(b.SignTxs, SignTx{BlockHash: blockHash, Sign: sign, PubKey: pub})
	}
	return b, nil
}

func parseRejectedBlock(data []byte, pos chainprim.FilePos) (*RejectedBlock, error) {
	return &RejectedBlock{
		BlockSize: uint64(len(data)),
		FilePos:   pos,
		Raw:       append([]byte(nil), data[8:]...),
	}, nil
}
