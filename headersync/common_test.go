package headersync

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

const (
	testDifficulty  = 10
	testGenesisTime = 1700000000
)

// testChain is a sealed chain where testChain[i] is the header at number i.
var testChain = makeChain(testGenesisTime, 130)

func makeChain(genesisTime uint64, n int) []*types.BlockHeader {
	genesis := types.NewGenesisHeader(0, genesisTime)
	return append([]*types.BlockHeader{genesis}, consensus.GenerateChain(genesis, n, testDifficulty, nil)...)
}

// newLocalStore returns a store holding chain up to height.
func newLocalStore(t *testing.T, chain []*types.BlockHeader, height uint64) *store.HeaderStore {
	t.Helper()
	hs := store.MockHeaderStore(chain[0])
	if height > 0 {
		_, _, err := hs.PersistHeaderChain(chain[1 : height+1])
		require.NoError(t, err)
	}
	return hs
}

func testSyncConfig() *config.HeaderSyncConfig {
	cfg := config.TestHeaderSyncConfig()
	cfg.MaxReorgDepth = 10
	return cfg
}

func newTestValidator() *consensus.Validator {
	return consensus.NewValidator(consensus.WithRand(rand.New(rand.NewPCG(1, 2))))
}

func collectBatches(ctx context.Context, s *PeerHeaderSyncer) [][]*types.BlockHeader {
	var batches [][]*types.BlockHeader
	for batch := range s.HeaderBatches(ctx) {
		batches = append(batches, batch)
	}
	return batches
}

func headerNumbers(headers []*types.BlockHeader) []uint64 {
	numbers := make([]uint64, len(headers))
	for i, h := range headers {
		numbers[i] = h.Number
	}
	return numbers
}

func numberRange(from, to uint64) []uint64 {
	numbers := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, n)
	}
	return numbers
}
