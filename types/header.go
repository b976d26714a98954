package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/hlsnet/hls-core/crypto/tmhash"
)

const (
	// GenesisBlockNumber is the height of the genesis header. It is never
	// requested from peers.
	GenesisBlockNumber uint64 = 0

	// MaxExtraDataSize is the maximum number of bytes allowed in Extra.
	MaxExtraDataSize = 32

	// numberSize + parentHash + difficulty + time + extra length prefix
	headerFixedSize = 8 + HashLength + 32 + 8 + 1
	nonceSize       = 8
)

var (
	// ErrInvalidEncoding is returned when header bytes cannot be decoded.
	ErrInvalidEncoding = errors.New("invalid header encoding")
)

// BlockHeader is a chain header. Only the fields needed to link, weigh and
// seal headers are carried.
type BlockHeader struct {
	Number     uint64       `json:"number"`
	ParentHash Hash         `json:"parent_hash"`
	Difficulty *uint256.Int `json:"difficulty"`
	Time       uint64       `json:"time"`
	Extra      []byte       `json:"extra"`
	Nonce      uint64       `json:"nonce"`

	hash atomic.Pointer[Hash]
}

// NewGenesisHeader returns the genesis header with the given difficulty and
// timestamp.
func NewGenesisHeader(difficulty uint64, time uint64) *BlockHeader {
	return &BlockHeader{
		Number:     GenesisBlockNumber,
		Difficulty: uint256.NewInt(difficulty),
		Time:       time,
	}
}

// Hash returns the hash of the header. The value is computed once and cached,
// so the header must not be mutated after the first call.
func (h *BlockHeader) Hash() Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	sum := Hash(tmhash.Sum256(h.encode(true)))
	h.hash.Store(&sum)
	return sum
}

// SealHash returns the hash of the header without the nonce. It is the value
// the proof of work is computed over.
func (h *BlockHeader) SealHash() Hash {
	return Hash(tmhash.Sum256(h.encode(false)))
}

// Copy returns a deep copy of the header without the cached hash.
func (h *BlockHeader) Copy() *BlockHeader {
	cpy := &BlockHeader{
		Number:     h.Number,
		ParentHash: h.ParentHash,
		Time:       h.Time,
		Nonce:      h.Nonce,
	}
	if h.Difficulty != nil {
		cpy.Difficulty = h.Difficulty.Clone()
	}
	if len(h.Extra) > 0 {
		cpy.Extra = append([]byte(nil), h.Extra...)
	}
	return cpy
}

// ValidateBasic performs stateless checks on the header fields.
func (h *BlockHeader) ValidateBasic() error {
	if h.Difficulty == nil {
		return errors.New("nil difficulty")
	}
	if h.Number != GenesisBlockNumber && h.Difficulty.IsZero() {
		return errors.New("zero difficulty")
	}
	if len(h.Extra) > MaxExtraDataSize {
		return fmt.Errorf("extra data too long: %d > %d", len(h.Extra), MaxExtraDataSize)
	}
	if h.Number == GenesisBlockNumber && !h.ParentHash.IsZero() {
		return errors.New("genesis header with non-zero parent hash")
	}
	return nil
}

// String returns a short human readable description of the header.
func (h *BlockHeader) String() string {
	if h == nil {
		return "nil-BlockHeader"
	}
	return fmt.Sprintf("#%d(%v)", h.Number, h.Hash())
}

// MarshalBinary encodes the header using a fixed big-endian layout.
func (h *BlockHeader) MarshalBinary() ([]byte, error) {
	if len(h.Extra) > MaxExtraDataSize {
		return nil, fmt.Errorf("extra data too long: %d > %d", len(h.Extra), MaxExtraDataSize)
	}
	return h.encode(true), nil
}

// UnmarshalBinary decodes a header produced by MarshalBinary.
func (h *BlockHeader) UnmarshalBinary(bz []byte) error {
	if len(bz) < headerFixedSize+nonceSize {
		return fmt.Errorf("%w: %d bytes is too short", ErrInvalidEncoding, len(bz))
	}
	offset := 0
	h.Number = binary.BigEndian.Uint64(bz[offset:])
	offset += 8
	copy(h.ParentHash[:], bz[offset:offset+HashLength])
	offset += HashLength
	h.Difficulty = new(uint256.Int).SetBytes32(bz[offset : offset+32])
	offset += 32
	h.Time = binary.BigEndian.Uint64(bz[offset:])
	offset += 8
	extraLen := int(bz[offset])
	offset++
	if extraLen > MaxExtraDataSize {
		return fmt.Errorf("%w: extra data length %d", ErrInvalidEncoding, extraLen)
	}
	if len(bz) != offset+extraLen+nonceSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidEncoding, offset+extraLen+nonceSize, len(bz))
	}
	h.Extra = nil
	if extraLen > 0 {
		h.Extra = append([]byte(nil), bz[offset:offset+extraLen]...)
	}
	offset += extraLen
	h.Nonce = binary.BigEndian.Uint64(bz[offset:])
	h.hash.Store(nil)
	return nil
}

// HeaderFromBytes decodes a header.
func HeaderFromBytes(bz []byte) (*BlockHeader, error) {
	h := new(BlockHeader)
	if err := h.UnmarshalBinary(bz); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *BlockHeader) encode(withNonce bool) []byte {
	size := headerFixedSize + len(h.Extra)
	if withNonce {
		size += nonceSize
	}
	bz := make([]byte, 0, size)
	bz = binary.BigEndian.AppendUint64(bz, h.Number)
	bz = append(bz, h.ParentHash[:]...)
	var difficulty [32]byte
	if h.Difficulty != nil {
		difficulty = h.Difficulty.Bytes32()
	}
	bz = append(bz, difficulty[:]...)
	bz = binary.BigEndian.AppendUint64(bz, h.Time)
	bz = append(bz, byte(len(h.Extra)))
	bz = append(bz, h.Extra...)
	if withNonce {
		bz = binary.BigEndian.AppendUint64(bz, h.Nonce)
	}
	return bz
}

// TotalDifficulty sums the difficulty of the given headers onto base and
// returns the result as a new value.
func TotalDifficulty(base *uint256.Int, headers []*BlockHeader) *uint256.Int {
	td := new(uint256.Int)
	if base != nil {
		td.Set(base)
	}
	for _, h := range headers {
		td.Add(td, h.Difficulty)
	}
	return td
}
