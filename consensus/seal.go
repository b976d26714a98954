package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/hlsnet/hls-core/crypto/tmhash"
	"github.com/hlsnet/hls-core/types"
)

var maxUint256 = new(uint256.Int).SetAllOne()

// sealValue is sha256(SealHash || nonce) read as a big-endian integer.
func sealValue(h *types.BlockHeader, nonce uint64) *uint256.Int {
	sealHash := h.SealHash()
	var nonceBz [8]byte
	binary.BigEndian.PutUint64(nonceBz[:], nonce)
	sum := tmhash.SumMany(sealHash[:], nonceBz[:])
	return new(uint256.Int).SetBytes32(sum[:])
}

// sealTarget returns the highest seal value accepted for difficulty.
func sealTarget(difficulty *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(maxUint256, difficulty)
}

// VerifySeal checks the proof of work of a single header.
func VerifySeal(h *types.BlockHeader) error {
	if h.Difficulty == nil || h.Difficulty.IsZero() {
		return fmt.Errorf("%w: header %v has zero difficulty", ErrInvalidSeal, h)
	}
	if sealValue(h, h.Nonce).Gt(sealTarget(h.Difficulty)) {
		return fmt.Errorf("%w: header %v nonce %d", ErrInvalidSeal, h, h.Nonce)
	}
	return nil
}

// Seal returns a copy of h with a nonce satisfying its difficulty.
func Seal(h *types.BlockHeader) *types.BlockHeader {
	sealed := h.Copy()
	if sealed.Difficulty == nil || sealed.Difficulty.IsZero() {
		return sealed
	}
	target := sealTarget(sealed.Difficulty)
	for nonce := uint64(0); ; nonce++ {
		if !sealValue(sealed, nonce).Gt(target) {
			sealed.Nonce = nonce
			return sealed
		}
	}
}

// GenerateChain builds n sealed headers on top of parent, each with the given
// difficulty and a timestamp one second after its parent. Extra is stamped on
// every header so that two generated chains with different extra data fork.
func GenerateChain(parent *types.BlockHeader, n int, difficulty uint64, extra []byte) []*types.BlockHeader {
	chain := make([]*types.BlockHeader, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		h := Seal(&types.BlockHeader{
			Number:     prev.Number + 1,
			ParentHash: prev.Hash(),
			Difficulty: uint256.NewInt(difficulty),
			Time:       prev.Time + 1,
			Extra:      extra,
		})
		chain = append(chain, h)
		prev = h
	}
	return chain
}
