package commands

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/libs/log"
	nm "github.com/hlsnet/hls-core/node"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

func setupTestHome(t *testing.T) {
	t.Helper()
	prevConfig, prevLogger := config, logger
	t.Cleanup(func() { config, logger = prevConfig, prevLogger })

	config = cfg.TestConfig().SetRoot(t.TempDir())
	config.DBBackend = cfg.DBBackendGoLevelDB
	cfg.EnsureRoot(config.RootDir)
	logger = log.TestingLogger()
}

func TestInitFiles(t *testing.T) {
	setupTestHome(t)

	require.NoError(t, initFilesWithConfig(config))
	assert.FileExists(t, cfg.ConfigFilePath(config.RootDir))
	// running it again keeps the existing files
	require.NoError(t, initFilesWithConfig(config))

	db, err := cfg.DefaultDBProvider(&cfg.DBContext{ID: "headers", Config: config})
	require.NoError(t, err)
	defer db.Close()
	hs, err := store.NewHeaderStore(db)
	require.NoError(t, err)

	info, err := loadHeadInfo(hs)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.Number)
	assert.Equal(t, nm.GenesisHeader(config).Hash(), info.Hash)
	assert.Equal(t, "0", info.Score)

	chain := consensus.GenerateChain(nm.GenesisHeader(config), 3, 7, nil)
	_, _, err = hs.PersistHeaderChain(chain)
	require.NoError(t, err)
	info, err = loadHeadInfo(hs)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Number)
	assert.Equal(t, chain[2].Hash(), info.Hash)
	assert.Equal(t, chain[1].Hash(), info.Parent)
	assert.Equal(t, "21", info.Score)
}

func TestShowHeadFailsWithoutInit(t *testing.T) {
	setupTestHome(t)
	config.DBBackend = cfg.DBBackendMemDB
	assert.ErrorIs(t, showHead(ShowHeadCmd, nil), store.ErrNoCanonicalHead)
}

func TestSimulate(t *testing.T) {
	setupTestHome(t)
	prevBlocks, prevPeers, prevBad, prevDifficulty, prevTimeout := simBlocks, simPeers, simBadPeers, simDifficulty, simTimeout
	t.Cleanup(func() {
		simBlocks, simPeers, simBadPeers, simDifficulty, simTimeout = prevBlocks, prevPeers, prevBad, prevDifficulty, prevTimeout
	})
	simBlocks, simPeers, simBadPeers, simDifficulty, simTimeout = 40, 2, 1, 10, 10*time.Second

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	require.NoError(t, simulate(cmd, nil))
}

func TestSimulateRejectsBadFlags(t *testing.T) {
	setupTestHome(t)
	prevPeers := simPeers
	t.Cleanup(func() { simPeers = prevPeers })

	simPeers = 0
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	require.Error(t, simulate(cmd, nil))
}

func TestGenerateBadChains(t *testing.T) {
	genesis := nm.GenesisHeader(cfg.TestConfig())
	honest := append([]*types.BlockHeader{genesis}, consensus.GenerateChain(genesis, 10, 5, nil)...)

	chains, err := generateBadChains(context.Background(), honest, 2, 5)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	for _, chain := range chains {
		require.Len(t, chain, len(honest))
		for i, h := range chain {
			assert.Equal(t, uint64(i), h.Number)
		}
		assert.Equal(t, honest[5].Hash(), chain[5].Hash())
		assert.NotEqual(t, chain[5].Hash(), chain[6].ParentHash)
		assert.Error(t, consensus.NewValidator().ValidateChain(chain[0], chain[1:], 1))
	}
	assert.NotEqual(t, chains[0][7].Hash(), chains[1][7].Hash())
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(log.LogFormatJSON, "debug")
	require.NoError(t, err)
	_, err = newLogger("xml", "info")
	require.Error(t, err)
	_, err = newLogger(log.LogFormatPlain, "loud")
	require.Error(t, err)
}
