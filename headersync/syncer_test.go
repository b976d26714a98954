package headersync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/libs/log"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/p2p/mock"
	"github.com/hlsnet/hls-core/types"
)

func newTestSyncer(
	t *testing.T,
	db HeaderDB,
	peers []p2p.Peer,
	modify func(cfg *config.HeaderSyncConfig),
	options ...SyncerOption,
) (*HeaderChainSyncer, *p2p.Pool) {
	t.Helper()
	cfg := testSyncConfig()
	if modify != nil {
		modify(cfg)
	}
	pool := p2p.NewPool()
	for _, peer := range peers {
		require.NoError(t, pool.AddPeer(peer))
	}
	options = append([]SyncerOption{WithLogger(log.TestingLogger())}, options...)
	return NewHeaderChainSyncer(db, newTestValidator(), pool, cfg, options...), pool
}

func TestSyncQueuesHeaders(t *testing.T) {
	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewChainPeer("peer", testChain[:106])
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, nil)

	_, err := s.GetTargetHeaderHash()
	assert.ErrorIs(t, err, ErrNoSyncYet)

	outcome, err := s.Sync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.False(t, s.IsSyncing())

	assert.Equal(t, 5, s.HeaderQueue.NumPending())
	for _, h := range testChain[101:106] {
		assert.True(t, s.HeaderQueue.Contains(h), "header %v", h)
	}

	target, err := s.GetTargetHeaderHash()
	require.NoError(t, err)
	assert.Equal(t, testChain[105].Hash(), target)

	// headers already queued are not queued twice
	outcome, err = s.Sync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, 5, s.HeaderQueue.NumPending())
}

func TestSyncRequiresMinPeers(t *testing.T) {
	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewChainPeer("peer", testChain[:106])
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, func(cfg *config.HeaderSyncConfig) { cfg.MinPeersToSync = 2 })

	outcome, err := s.Sync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome.Kind)
	assert.Empty(t, peer.Requests())
	assert.Equal(t, 0, s.HeaderQueue.Len())

	_, err = s.GetTargetHeaderHash()
	assert.ErrorIs(t, err, ErrNoSyncYet)
}

func TestSyncIsSingleFlight(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	hs := newLocalStore(t, testChain, 100)
	stalling := mock.NewPeer("stalling", testChain[130].Hash(), uint256.NewInt(5000), mock.StallingResponder())
	other := mock.NewChainPeer("other", testChain)
	s, _ := newTestSyncer(t, hs, []p2p.Peer{stalling, other}, func(cfg *config.HeaderSyncConfig) {
		cfg.RequestTimeout = time.Minute
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan SessionOutcome, 1)
	go func() {
		outcome, err := s.Sync(ctx, stalling)
		assert.NoError(t, err)
		done <- outcome
	}()
	require.Eventually(t, s.IsSyncing, time.Second, 5*time.Millisecond)

	target, err := s.GetTargetHeaderHash()
	require.NoError(t, err)
	assert.Equal(t, testChain[130].Hash(), target)

	outcome, err := s.Sync(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome.Kind)
	assert.Empty(t, other.Requests())

	_, err = s.acquireSession(other)
	assert.ErrorIs(t, err, ErrConcurrentSync)

	cancel()
	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeCancelled, outcome.Kind)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
	assert.False(t, s.IsSyncing())
	assert.Empty(t, stalling.Disconnects())
}

func TestSyncReportsPeerFaults(t *testing.T) {
	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewPeer("peer", testChain[130].Hash(), uint256.NewInt(2000), mock.ScriptedResponder())
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, nil)

	outcome, err := s.Sync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, OutcomePeerFault, outcome.Kind)
	assert.Equal(t, p2p.DisconnectSubprotocolError, outcome.Reason)
	assert.False(t, s.IsSyncing())
	assert.Equal(t, 0, s.HeaderQueue.Len())

	target, err := s.GetTargetHeaderHash()
	require.NoError(t, err)
	assert.Equal(t, testChain[130].Hash(), target)
}

func TestSyncStopsQueueingAtMismatchedFollowUpBatch(t *testing.T) {
	hs := newLocalStore(t, testChain, 100)
	fork := consensus.GenerateChain(testChain[101], 2, testDifficulty, []byte("fork"))
	peer := scriptedPeer(testChain[90:103], fork[1:])
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, nil)

	outcome, err := s.Sync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, OutcomePeerFault, outcome.Kind)
	assert.Equal(t, p2p.DisconnectSubprotocolError, outcome.Reason)
	assert.Equal(t, []p2p.DisconnectReason{p2p.DisconnectSubprotocolError}, peer.Disconnects())

	// only the first batch made it to the queue
	assert.Equal(t, 2, s.HeaderQueue.Len())
	assert.True(t, s.HeaderQueue.Contains(testChain[101]))
	assert.True(t, s.HeaderQueue.Contains(testChain[102]))
	assert.False(t, s.HeaderQueue.Contains(fork[1]))
}

func TestSyncSkipsQueuedHeaders(t *testing.T) {
	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewChainPeer("peer", testChain[:106])
	queue := NewHeaderQueue(10)
	require.NoError(t, queue.Add(context.Background(), []*types.BlockHeader{testChain[103]}))
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, nil, WithHeaderQueue(queue))

	outcome, err := s.Sync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, 5, queue.NumPending())
	assert.Same(t, queue, s.HeaderQueue)
}

func TestRunHandlesMessagesUntilCancelled(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewChainPeer("peer", testChain[:101])

	var handled atomic.Int32
	handler := MessageHandlerFunc(func(_ context.Context, _ p2p.Peer, msg p2p.Message) error {
		handled.Add(1)
		switch msg.(type) {
		case *BlockHeadersMsg:
			panic("boom")
		case *GetBlockHeadersMsg:
			return errors.New("bad request")
		}
		return nil
	})
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, nil, WithMessageHandler(handler))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	assert.True(t, s.Deliver(p2p.PeerMessage{Peer: peer, Message: &BlockHeadersMsg{}}))
	assert.True(t, s.Deliver(p2p.PeerMessage{Peer: peer, Message: &GetBlockHeadersMsg{Max: 1}}))
	assert.True(t, s.Deliver(p2p.PeerMessage{Peer: peer, Message: &NewBlockMsg{}}))
	require.Eventually(t, func() bool { return handled.Load() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDeliverDropsWhenQueueIsFull(t *testing.T) {
	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewChainPeer("peer", testChain[:101])
	s, _ := newTestSyncer(t, hs, []p2p.Peer{peer}, func(cfg *config.HeaderSyncConfig) { cfg.MsgQueueSize = 1 })

	assert.True(t, s.Deliver(p2p.PeerMessage{Peer: peer, Message: &NewBlockMsg{}}))
	assert.False(t, s.Deliver(p2p.PeerMessage{Peer: peer, Message: &NewBlockMsg{}}))
}

func TestSyncerServiceSyncsWithNewPeers(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	hs := newLocalStore(t, testChain, 100)
	s, pool := newTestSyncer(t, hs, nil, nil)
	require.NoError(t, s.Start())

	light := mock.NewChainPeer("light", testChain[:101])
	heavy := mock.NewChainPeer("heavy", testChain[:106])
	require.NoError(t, pool.AddPeer(heavy))
	require.NoError(t, pool.AddPeer(light))

	require.Eventually(t, func() bool {
		return s.HeaderQueue.NumPending() == 5 && !s.IsSyncing()
	}, 2*time.Second, 10*time.Millisecond)
	target, err := s.GetTargetHeaderHash()
	require.NoError(t, err)
	assert.Equal(t, testChain[105].Hash(), target)
	assert.Empty(t, light.Disconnects())
	assert.Empty(t, heavy.Disconnects())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestSyncTriggersDuringSessionAreDropped(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	hs := newLocalStore(t, testChain, 100)
	chain := testChain[:106]
	serve := mock.ChainResponder(chain)
	gate := make(chan struct{})
	var sessions atomic.Int32
	responder := func(ctx context.Context, req mock.Request) ([]*types.BlockHeader, error) {
		// every session starts at head - MaxReorgDepth
		if req.StartAt == 90 && sessions.Add(1) == 1 {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return serve(ctx, req)
	}
	td := types.TotalDifficulty(nil, chain)
	peer := mock.NewPeer("peer", chain[105].Hash(), td, responder)
	s, pool := newTestSyncer(t, hs, nil, func(cfg *config.HeaderSyncConfig) { cfg.RequestTimeout = time.Minute })
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	require.NoError(t, pool.AddPeer(peer))
	require.Eventually(t, func() bool { return sessions.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, s.IsSyncing())

	for i := 0; i < 3; i++ {
		s.RegisterPeer(peer)
	}
	pool.Deliver(peer, &NewBlockMsg{Hash: chain[105].Hash(), Number: 105, TD: td})
	require.Eventually(t, func() bool {
		return len(s.syncRequests) == 0 && len(s.msgQueue) == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool {
		return s.HeaderQueue.NumPending() == 5 && !s.IsSyncing()
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, sessions.Load())
	assert.Empty(t, peer.Disconnects())
}

func TestNewBlockAnnouncementTriggersSync(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	hs := newLocalStore(t, testChain, 100)
	peer := mock.NewPeer("peer", testChain[100].Hash(), types.TotalDifficulty(nil, testChain[:101]),
		mock.ChainResponder(testChain[:106]))
	s, pool := newTestSyncer(t, hs, nil, nil)
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	require.NoError(t, pool.AddPeer(peer))
	require.Eventually(t, func() bool {
		_, err := s.GetTargetHeaderHash()
		return err == nil && !s.IsSyncing()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.HeaderQueue.Len())

	td := types.TotalDifficulty(nil, testChain[:106])
	peer.SetHead(testChain[105].Hash(), td)
	pool.Deliver(peer, &NewBlockMsg{Hash: testChain[105].Hash(), Number: 105, TD: td})

	require.Eventually(t, func() bool {
		return s.HeaderQueue.NumPending() == 5 && !s.IsSyncing()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, peer.Disconnects())
}
