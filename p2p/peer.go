package p2p

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/hlsnet/hls-core/types"
)

// ID is a hex-encoded peer identifier.
type ID string

var (
	// ErrTimeout is returned by a peer when a request is not answered in time.
	ErrTimeout = errors.New("peer request timed out")
	// ErrPeerGone is returned by a peer that disconnected while a request was
	// in flight.
	ErrPeerGone = errors.New("peer disconnected")
)

// DisconnectReason is sent to a peer when we drop it.
type DisconnectReason string

const (
	DisconnectRequested        DisconnectReason = "requested"
	DisconnectTooManyPeers     DisconnectReason = "too_many_peers"
	DisconnectTimeout          DisconnectReason = "timeout"
	DisconnectSubprotocolError DisconnectReason = "subprotocol_error"
	DisconnectUselessPeer      DisconnectReason = "useless_peer"
)

func (r DisconnectReason) String() string { return string(r) }

// Message is a protocol message exchanged with a peer.
type Message interface{}

// PeerMessage is an inbound message together with its sender.
type PeerMessage struct {
	Peer    Peer
	Message Message
}

// Peer is a handle to a connected remote node.
type Peer interface {
	ID() ID

	// HeadHash and HeadTD are the head the peer last announced. HeadTD is
	// nil if the peer has not announced one.
	HeadHash() types.Hash
	HeadTD() *uint256.Int

	// MaxHeadersFetch is the largest batch the peer serves per request.
	MaxHeadersFetch() int
	IsOperational() bool

	// GetBlockHeaders requests up to max headers starting at startAt, every
	// skip+1 blocks, in descending order if reverse is set. It fails with
	// ErrTimeout when the peer does not answer in time and with ErrPeerGone
	// when the peer disconnects.
	GetBlockHeaders(ctx context.Context, startAt uint64, max int, skip int, reverse bool) ([]*types.BlockHeader, error)

	// Send queues msg for the peer.
	Send(msg Message) error
	Disconnect(reason DisconnectReason) error

	String() string
}

// AnnouncedTD returns the head TD of peer, or zero if it has not announced
// one.
func AnnouncedTD(peer Peer) *uint256.Int {
	if td := peer.HeadTD(); td != nil {
		return td
	}
	return new(uint256.Int)
}
