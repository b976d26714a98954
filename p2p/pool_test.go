package p2p_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/p2p/mock"
	"github.com/hlsnet/hls-core/types"
)

type recordingSubscriber struct {
	registered   []p2p.ID
	deregistered []p2p.ID
	delivered    []p2p.PeerMessage
	accept       bool
}

func (s *recordingSubscriber) RegisterPeer(peer p2p.Peer)   { s.registered = append(s.registered, peer.ID()) }
func (s *recordingSubscriber) DeregisterPeer(peer p2p.Peer) { s.deregistered = append(s.deregistered, peer.ID()) }
func (s *recordingSubscriber) Deliver(msg p2p.PeerMessage) bool {
	s.delivered = append(s.delivered, msg)
	return s.accept
}

func newPeer(id p2p.ID, td uint64) *mock.Peer {
	return mock.NewPeer(id, types.Hash{byte(td)}, uint256.NewInt(td), mock.ScriptedResponder())
}

func TestPoolSubscribers(t *testing.T) {
	pool := p2p.NewPool()
	sub := &recordingSubscriber{accept: true}
	unsubscribe := pool.Subscribe(sub)

	a, b := newPeer("a", 10), newPeer("b", 20)
	require.NoError(t, pool.AddPeer(a))
	require.NoError(t, pool.AddPeer(b))
	assert.ErrorIs(t, pool.AddPeer(a), p2p.ErrDuplicatePeer)
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, []p2p.ID{"a", "b"}, sub.registered)

	pool.Deliver(a, "ping")
	require.Len(t, sub.delivered, 1)
	assert.Equal(t, p2p.ID("a"), sub.delivered[0].Peer.ID())
	assert.Equal(t, "ping", sub.delivered[0].Message)

	pool.RemovePeer(a)
	pool.RemovePeer(a)
	assert.Equal(t, []p2p.ID{"a"}, sub.deregistered)
	assert.Nil(t, pool.Get("a"))
	assert.Equal(t, 1, pool.Len())

	unsubscribe()
	require.NoError(t, pool.AddPeer(a))
	assert.Len(t, sub.registered, 2)
}

func TestPoolHighestTDPeer(t *testing.T) {
	pool := p2p.NewPool()
	assert.Nil(t, pool.HighestTDPeer())

	low, high, tie := newPeer("a", 10), newPeer("c", 30), newPeer("b", 30)
	for _, peer := range []*mock.Peer{low, high, tie} {
		require.NoError(t, pool.AddPeer(peer))
	}
	assert.Equal(t, p2p.ID("b"), pool.HighestTDPeer().ID(), "ties go to the lowest id")

	require.NoError(t, tie.Disconnect(p2p.DisconnectRequested))
	assert.Equal(t, p2p.ID("c"), pool.HighestTDPeer().ID(), "peers that are not operational are skipped")

	silent := mock.NewPeer("0", types.Hash{}, nil, mock.ScriptedResponder())
	require.NoError(t, pool.AddPeer(silent))
	assert.True(t, p2p.AnnouncedTD(silent).IsZero())
	assert.Equal(t, p2p.ID("c"), pool.HighestTDPeer().ID())
}
