// Package mock provides in-process peers whose answers are scripted.
package mock

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/types"
)

const defaultMaxHeadersFetch = 192

// Request is a recorded GetBlockHeaders call.
type Request struct {
	StartAt uint64
	Max     int
	Skip    int
	Reverse bool
}

// Responder answers GetBlockHeaders requests.
type Responder func(ctx context.Context, req Request) ([]*types.BlockHeader, error)

// Peer is a p2p.Peer that answers header requests with a Responder and
// records everything done to it.
type Peer struct {
	id              p2p.ID
	maxHeadersFetch int
	responder       Responder
	onDisconnect    func(*Peer, p2p.DisconnectReason)

	mtx         hlssync.Mutex
	headHash    types.Hash
	headTD      *uint256.Int
	operational bool
	requests    []Request
	sent        []p2p.Message
	disconnects []p2p.DisconnectReason
}

var _ p2p.Peer = (*Peer)(nil)

// Option sets an optional parameter on the Peer.
type Option func(*Peer)

// WithMaxHeadersFetch sets the batch size the peer advertises.
func WithMaxHeadersFetch(n int) Option {
	return func(p *Peer) { p.maxHeadersFetch = n }
}

// WithOnDisconnect sets a hook called the first time the peer is
// disconnected, typically to remove it from a pool.
func WithOnDisconnect(fn func(*Peer, p2p.DisconnectReason)) Option {
	return func(p *Peer) { p.onDisconnect = fn }
}

// NewPeer returns an operational peer announcing the given head.
func NewPeer(id p2p.ID, headHash types.Hash, headTD *uint256.Int, responder Responder, options ...Option) *Peer {
	p := &Peer{
		id:              id,
		maxHeadersFetch: defaultMaxHeadersFetch,
		responder:       responder,
		headHash:        headHash,
		headTD:          cloneTD(headTD),
		operational:     true,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// NewChainPeer returns a peer serving chain, which must start with the
// genesis header, and announcing its last header as head.
func NewChainPeer(id p2p.ID, chain []*types.BlockHeader, options ...Option) *Peer {
	head := chain[len(chain)-1]
	return NewPeer(id, head.Hash(), types.TotalDifficulty(nil, chain), ChainResponder(chain), options...)
}

func (p *Peer) ID() p2p.ID { return p.id }

func (p *Peer) String() string { return fmt.Sprintf("Peer{%v}", p.id) }

func (p *Peer) MaxHeadersFetch() int { return p.maxHeadersFetch }

func (p *Peer) HeadHash() types.Hash {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.headHash
}

func (p *Peer) HeadTD() *uint256.Int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return cloneTD(p.headTD)
}

// SetHead changes the head the peer announces.
func (p *Peer) SetHead(hash types.Hash, td *uint256.Int) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.headHash = hash
	p.headTD = cloneTD(td)
}

func (p *Peer) IsOperational() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.operational
}

// GetBlockHeaders implements p2p.Peer. A disconnected peer fails with
// p2p.ErrPeerGone.
func (p *Peer) GetBlockHeaders(ctx context.Context, startAt uint64, max int, skip int, reverse bool) ([]*types.BlockHeader, error) {
	req := Request{StartAt: startAt, Max: max, Skip: skip, Reverse: reverse}
	p.mtx.Lock()
	if !p.operational {
		p.mtx.Unlock()
		return nil, p2p.ErrPeerGone
	}
	p.requests = append(p.requests, req)
	p.mtx.Unlock()

	if p.responder == nil {
		return nil, nil
	}
	return p.responder(ctx, req)
}

func (p *Peer) Send(msg p2p.Message) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if !p.operational {
		return p2p.ErrPeerGone
	}
	p.sent = append(p.sent, msg)
	return nil
}

// Disconnect records reason and marks the peer as gone.
func (p *Peer) Disconnect(reason p2p.DisconnectReason) error {
	p.mtx.Lock()
	first := p.operational
	p.operational = false
	p.disconnects = append(p.disconnects, reason)
	p.mtx.Unlock()

	if first && p.onDisconnect != nil {
		p.onDisconnect(p, reason)
	}
	return nil
}

// Requests returns the recorded header requests.
func (p *Peer) Requests() []Request {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]Request(nil), p.requests...)
}

// Sent returns the messages sent to the peer.
func (p *Peer) Sent() []p2p.Message {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]p2p.Message(nil), p.sent...)
}

// Disconnects returns the reasons the peer was disconnected with.
func (p *Peer) Disconnects() []p2p.DisconnectReason {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]p2p.DisconnectReason(nil), p.disconnects...)
}

func cloneTD(td *uint256.Int) *uint256.Int {
	if td == nil {
		return nil
	}
	return td.Clone()
}
