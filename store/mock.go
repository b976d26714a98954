package store

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/hlsnet/hls-core/types"
)

// MockHeaderStore returns a HeaderStore on a fresh in-memory db, initialised
// with genesis. It panics on failure.
func MockHeaderStore(genesis *types.BlockHeader) *HeaderStore {
	hs, err := NewHeaderStore(dbm.NewMemDB())
	if err != nil {
		panic(err)
	}
	if err := hs.InitGenesis(genesis); err != nil {
		panic(err)
	}
	return hs
}
