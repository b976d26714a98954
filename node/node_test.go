package node

import (
	"context"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/headersync"
	"github.com/hlsnet/hls-core/libs/log"
	"github.com/hlsnet/hls-core/libs/service"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/p2p/mock"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

func nopMetrics() (*headersync.Metrics, *p2p.Metrics) {
	return headersync.NopMetrics(), p2p.NopMetrics()
}

func newTestNode(t *testing.T, config *cfg.Config) *Node {
	t.Helper()
	n, err := NewNode(config, cfg.DefaultDBProvider, nopMetrics, log.TestingLogger())
	require.NoError(t, err)
	return n
}

func TestNodeSyncsFromPeers(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.HeaderSync.MaxHeadersFetch = 16
	n := newTestNode(t, config)

	chain := append([]*types.BlockHeader{n.Genesis()}, consensus.GenerateChain(n.Genesis(), 50, 10, nil)...)
	require.NoError(t, n.Start())

	peer := mock.NewChainPeer("peer", chain)
	require.NoError(t, n.PeerPool().AddPeer(peer))

	require.Eventually(t, func() bool {
		head, err := n.HeaderStore().GetCanonicalHead()
		return err == nil && head.Hash() == chain[50].Hash()
	}, 5*time.Second, 10*time.Millisecond)

	target, err := n.HeaderSyncer().GetTargetHeaderHash()
	require.NoError(t, err)
	assert.Equal(t, chain[50].Hash(), target)
	assert.Empty(t, peer.Disconnects())

	require.NoError(t, n.Stop())
	assert.False(t, n.HeaderSyncer().IsRunning())
	assert.False(t, n.Importer().IsRunning())
}

func TestNodeReopensHeaderStore(t *testing.T) {
	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.DBBackend = cfg.DBBackendGoLevelDB

	n := newTestNode(t, config)
	chain := consensus.GenerateChain(n.Genesis(), 5, 10, nil)
	_, _, err := n.HeaderStore().PersistHeaderChain(chain)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())

	n = newTestNode(t, config)
	head, err := n.HeaderStore().GetCanonicalHead()
	require.NoError(t, err)
	assert.Equal(t, chain[4].Hash(), head.Hash())
	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())
}

func TestNodeStopsImporterWhenSyncerFailsToStart(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	config := cfg.TestConfig().SetRoot(t.TempDir())
	n := newTestNode(t, config)
	require.NoError(t, n.HeaderSyncer().Start())

	err := n.Start()
	require.ErrorIs(t, err, service.ErrAlreadyStarted)
	assert.False(t, n.IsRunning())
	assert.False(t, n.Importer().IsRunning())

	require.NoError(t, n.HeaderSyncer().Stop())
	require.NoError(t, n.headerDB.Close())
}

func TestNodeRejectsGenesisMismatch(t *testing.T) {
	config := cfg.TestConfig().SetRoot(t.TempDir())
	db := dbm.NewMemDB()
	dbProvider := func(*cfg.DBContext) (dbm.DB, error) { return db, nil }

	n, err := NewNode(config, dbProvider, nopMetrics, log.TestingLogger())
	require.NoError(t, err)
	require.NotNil(t, n)

	config.GenesisTime++
	_, err = NewNode(config, dbProvider, nopMetrics, log.TestingLogger())
	assert.ErrorIs(t, err, store.ErrGenesisMismatch)
}

func TestNodeServesPrometheusMetrics(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.Instrumentation.Prometheus = true
	config.Instrumentation.PrometheusListenAddr = "127.0.0.1:0"
	n := newTestNode(t, config)

	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())
}

func TestDefaultNewNode(t *testing.T) {
	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.LogFormat = "xml"
	_, err := DefaultNewNode(context.Background(), config, log.TestingLogger())
	require.Error(t, err)

	config.LogFormat = log.LogFormatPlain
	n, err := DefaultNewNode(context.Background(), config, log.TestingLogger())
	require.NoError(t, err)
	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())
}

func TestMetricsPusherNeedsGateway(t *testing.T) {
	config := cfg.TestInstrumentationConfig()
	assert.Nil(t, MetricsPusher(nil, config))

	config.PushGatewayURL = "http://127.0.0.1:9091"
	p := MetricsPusher(nil, config)
	require.NotNil(t, p)
	assert.Equal(t, config.PushInterval, p.interval)

	// a nil pusher is a no-op
	var nilPusher *Pusher
	nilPusher.Run(context.Background(), log.NewNopLogger())
}
