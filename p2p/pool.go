package p2p

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hlsnet/hls-core/libs/log"
	hlssync "github.com/hlsnet/hls-core/libs/sync"
)

// ErrDuplicatePeer is returned by AddPeer for a peer that is already in the
// pool.
var ErrDuplicatePeer = errors.New("duplicate peer")

// PeerSubscriber is notified about peers joining and leaving a PeerPool and
// about messages they send.
type PeerSubscriber interface {
	RegisterPeer(peer Peer)
	DeregisterPeer(peer Peer)
	// Deliver hands an inbound message to the subscriber. It must not block
	// and returns false if the message was dropped.
	Deliver(msg PeerMessage) bool
}

// PeerPool is the set of connected peers.
type PeerPool interface {
	Len() int
	// HighestTDPeer returns the peer announcing the highest total difficulty
	// or nil if the pool is empty.
	HighestTDPeer() Peer
	// Subscribe registers sub and returns a function that removes it.
	Subscribe(sub PeerSubscriber) (unsubscribe func())
}

// Pool is an in-memory PeerPool that fans peer events out to subscribers.
type Pool struct {
	logger  log.Logger
	metrics *Metrics

	mtx         hlssync.RWMutex
	peers       map[ID]Peer
	subscribers map[int]PeerSubscriber
	nextSubID   int

	labels *metricsLabelCache
}

var _ PeerPool = (*Pool)(nil)

// PoolOption sets an optional parameter on the Pool.
type PoolOption func(*Pool)

// WithPoolMetrics sets the metrics.
func WithPoolMetrics(m *Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l log.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool returns an empty pool.
func NewPool(options ...PoolOption) *Pool {
	p := &Pool{
		logger:      log.NewNopLogger(),
		metrics:     NopMetrics(),
		peers:       make(map[ID]Peer),
		subscribers: make(map[int]PeerSubscriber),
		labels:      newMetricsLabelCache(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// AddPeer adds peer to the pool and registers it with every subscriber.
func (p *Pool) AddPeer(peer Peer) error {
	p.mtx.Lock()
	if _, ok := p.peers[peer.ID()]; ok {
		p.mtx.Unlock()
		return fmt.Errorf("%w: %v", ErrDuplicatePeer, peer.ID())
	}
	p.peers[peer.ID()] = peer
	p.metrics.Peers.Set(float64(len(p.peers)))
	subs := p.subscribersLocked()
	p.mtx.Unlock()

	p.logger.Info("Added peer", "peer", peer, "head", peer.HeadHash(), "td", AnnouncedTD(peer))
	for _, sub := range subs {
		sub.RegisterPeer(peer)
	}
	return nil
}

// RemovePeer removes peer from the pool and deregisters it from every
// subscriber. Unknown peers are ignored.
func (p *Pool) RemovePeer(peer Peer) {
	p.mtx.Lock()
	if _, ok := p.peers[peer.ID()]; !ok {
		p.mtx.Unlock()
		return
	}
	delete(p.peers, peer.ID())
	p.metrics.Peers.Set(float64(len(p.peers)))
	subs := p.subscribersLocked()
	p.mtx.Unlock()

	p.logger.Info("Removed peer", "peer", peer)
	for _, sub := range subs {
		sub.DeregisterPeer(peer)
	}
}

// Deliver passes a message received from peer to every subscriber.
func (p *Pool) Deliver(peer Peer, msg Message) {
	msgType := p.labels.ValueToMetricLabel(msg)
	p.metrics.MessagesReceived.With("message_type", msgType).Add(1)

	p.mtx.RLock()
	subs := p.subscribersLocked()
	p.mtx.RUnlock()

	for _, sub := range subs {
		if !sub.Deliver(PeerMessage{Peer: peer, Message: msg}) {
			p.metrics.MessagesDropped.With("message_type", msgType).Add(1)
			p.logger.Debug("Subscriber dropped message", "peer", peer, "type", msgType)
		}
	}
}

// Len implements PeerPool.
func (p *Pool) Len() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return len(p.peers)
}

// Get returns the peer with the given id or nil.
func (p *Pool) Get(id ID) Peer {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.peers[id]
}

// Peers returns the peers of the pool sorted by id.
func (p *Pool) Peers() []Peer {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	peers := make([]Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	return peers
}

// HighestTDPeer implements PeerPool. Ties are broken by the lowest id.
func (p *Pool) HighestTDPeer() Peer {
	var best Peer
	for _, peer := range p.Peers() {
		if !peer.IsOperational() {
			continue
		}
		if best == nil || AnnouncedTD(peer).Gt(AnnouncedTD(best)) {
			best = peer
		}
	}
	return best
}

// Subscribe implements PeerPool.
func (p *Pool) Subscribe(sub PeerSubscriber) func() {
	p.mtx.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = sub
	p.mtx.Unlock()

	return func() {
		p.mtx.Lock()
		delete(p.subscribers, id)
		p.mtx.Unlock()
	}
}

func (p *Pool) subscribersLocked() []PeerSubscriber {
	ids := make([]int, 0, len(p.subscribers))
	for id := range p.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]PeerSubscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, p.subscribers[id])
	}
	return subs
}
