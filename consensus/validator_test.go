package consensus

import (
	"math/rand/v2"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsnet/hls-core/types"
)

func newTestValidator() *Validator {
	return NewValidator(WithRand(rand.New(rand.NewPCG(1, 2))))
}

func TestValidateChain(t *testing.T) {
	genesis := types.NewGenesisHeader(0, 1700000000)
	chain := GenerateChain(genesis, 20, 10, nil)
	v := newTestValidator()

	require.NoError(t, v.ValidateChain(genesis, chain, 1))
	require.NoError(t, v.ValidateChain(genesis, chain, 48))
	require.NoError(t, v.ValidateChain(chain[9], chain[10:], 4))
	require.NoError(t, v.ValidateChain(genesis, nil, 4))
}

func TestValidateChainRejectsBrokenLinks(t *testing.T) {
	genesis := types.NewGenesisHeader(0, 1700000000)
	chain := GenerateChain(genesis, 5, 10, nil)
	fork := GenerateChain(genesis, 5, 10, []byte("fork"))
	v := newTestValidator()

	testCases := []struct {
		name    string
		parent  *types.BlockHeader
		headers []*types.BlockHeader
	}{
		{"nil parent", nil, chain},
		{"wrong parent", chain[0], chain[2:]},
		{"gap", genesis, []*types.BlockHeader{chain[0], chain[2]}},
		{"mixed forks", genesis, []*types.BlockHeader{chain[0], fork[1]}},
		{"time goes backwards", genesis, func() []*types.BlockHeader {
			h := chain[0].Copy()
			h.Time = genesis.Time - 1
			return []*types.BlockHeader{Seal(h)}
		}()},
		{"zero difficulty", genesis, func() []*types.BlockHeader {
			h := chain[0].Copy()
			h.Difficulty = new(uint256.Int)
			return []*types.BlockHeader{h}
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateChain(tc.parent, tc.headers, 1)
			assert.ErrorIs(t, err, ErrInvalidChain)
		})
	}
}

func TestValidateChainRejectsBadSeal(t *testing.T) {
	genesis := types.NewGenesisHeader(0, 1700000000)
	chain := GenerateChain(genesis, 9, 10, nil)

	// the maximum difficulty leaves a single acceptable seal value
	bad := chain[8].Copy()
	bad.Difficulty = maxUint256.Clone()
	bad.Nonce = 0
	chain[8] = bad

	v := newTestValidator()
	err := v.ValidateChain(genesis, chain, 1)
	assert.ErrorIs(t, err, ErrInvalidSeal)

	// the last header is checked no matter the sample rate
	err = v.ValidateChain(genesis, chain, 1000)
	assert.ErrorIs(t, err, ErrInvalidSeal)
}

func TestSealChecksSampling(t *testing.T) {
	v := newTestValidator()

	all := v.sealChecks(10, 1)
	for i, check := range all {
		assert.True(t, check, "index %d", i)
	}

	for _, n := range []int{1, 5, 48, 100, 192} {
		checks := v.sealChecks(n, 48)
		require.Len(t, checks, n)
		assert.True(t, checks[n-1], "last header must always be checked")

		count := 0
		for _, check := range checks {
			if check {
				count++
			}
		}
		assert.LessOrEqual(t, count, n/48+2)
	}
}

func TestSealAndVerify(t *testing.T) {
	h := &types.BlockHeader{Number: 1, Difficulty: uint256.NewInt(64), Time: 1}
	sealed := Seal(h)
	require.NoError(t, VerifySeal(sealed))
	assert.Equal(t, h.SealHash(), sealed.SealHash())

	zero := &types.BlockHeader{Number: 1, Difficulty: new(uint256.Int)}
	assert.ErrorIs(t, VerifySeal(zero), ErrInvalidSeal)
}
