package headersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hlsnet/hls-core/libs/log"
	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

const (
	// maxPeerGetHeadersPerSecond is the maximum number of GetBlockHeaders
	// requests a peer can make per second before being rate-limited.
	maxPeerGetHeadersPerSecond = 5

	// peerRequestWindowSeconds is the time window for rate limiting.
	peerRequestWindowSeconds = 1
)

// HeaderReader is a HeaderDB that also serves canonical headers by number.
type HeaderReader interface {
	HeaderDB
	GetCanonicalBlockHeaderByNumber(number uint64) (*types.BlockHeader, error)
}

// defaultHandler triggers syncs on new blocks and answers header requests.
type defaultHandler struct {
	syncer   *HeaderChainSyncer
	requests *RequestHandler
}

func (h *defaultHandler) HandleMessage(ctx context.Context, peer p2p.Peer, msg p2p.Message) error {
	switch msg.(type) {
	case *NewBlockMsg, *GetBlockHeadersMsg, *BlockHeadersMsg:
	default:
		h.syncer.Logger.Debug("Ignoring message", "peer", peer, "msg", fmt.Sprintf("%T", msg))
		return nil
	}

	if err := ValidateMsg(msg); err != nil {
		if derr := peer.Disconnect(p2p.DisconnectSubprotocolError); derr != nil {
			h.syncer.Logger.Error("Failed to disconnect peer", "peer", peer, "err", derr)
		}
		h.syncer.metrics.PeerDisconnects.With("reason", string(p2p.DisconnectSubprotocolError)).Add(1)
		return fmt.Errorf("peer %v sent invalid message: %w", peer, err)
	}

	switch msg := msg.(type) {
	case *NewBlockMsg:
		h.syncer.Logger.Debug("Got new block announcement", "peer", peer, "number", msg.Number, "td", msg.TD)
		h.syncer.requestSync()
	case *GetBlockHeadersMsg:
		if h.requests == nil {
			h.syncer.Logger.Debug("Can't serve header requests, ignoring", "peer", peer)
			return nil
		}
		return h.requests.HandleGetBlockHeaders(ctx, peer, msg)
	case *BlockHeadersMsg:
		// responses are delivered to the requesting session by the peer
		h.syncer.Logger.Debug("Ignoring unsolicited headers", "peer", peer, "count", len(msg.Headers))
	}
	return nil
}

// peerRequestTracker tracks request timestamps for rate limiting.
type peerRequestTracker struct {
	timestamps []time.Time
}

// RequestHandler answers header requests from the local store.
type RequestHandler struct {
	db     HeaderReader
	logger log.Logger

	// Rate limiting for incoming GetBlockHeaders requests.
	peerRequestsMtx hlssync.Mutex
	peerRequests    map[p2p.ID]*peerRequestTracker
	now             func() time.Time
}

// NewRequestHandler returns a RequestHandler serving headers from db.
func NewRequestHandler(db HeaderReader, logger log.Logger) *RequestHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RequestHandler{
		db:           db,
		logger:       logger,
		peerRequests: make(map[p2p.ID]*peerRequestTracker),
		now:          time.Now,
	}
}

// HandleGetBlockHeaders sends the requested headers to peer. Requests above
// the rate limit are dropped.
func (h *RequestHandler) HandleGetBlockHeaders(ctx context.Context, peer p2p.Peer, msg *GetBlockHeadersMsg) error {
	if !h.checkPeerRateLimit(peer.ID()) {
		h.logger.Debug("Rate limiting GetBlockHeaders request", "peer", peer.ID())
		return nil
	}
	headers, err := h.LookupHeaders(ctx, msg)
	if err != nil {
		return err
	}
	h.logger.Trace("Replying to GetBlockHeaders", "peer", peer, "start_at", msg.StartAt, "count", len(headers))
	return peer.Send(&BlockHeadersMsg{RequestID: msg.RequestID, Headers: headers})
}

// LookupHeaders returns the canonical headers selected by msg, stopping at the
// first one we don't have.
func (h *RequestHandler) LookupHeaders(ctx context.Context, msg *GetBlockHeadersMsg) ([]*types.BlockHeader, error) {
	count := min(msg.Max, MaxHeaderBatchSize)
	step := uint64(msg.Skip) + 1

	headers := make([]*types.BlockHeader, 0, count)
	number := msg.StartAt
	for len(headers) < count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := h.db.GetCanonicalBlockHeaderByNumber(number)
		if errors.Is(err, store.ErrHeaderNotFound) {
			break // Return what we have
		} else if err != nil {
			return nil, fmt.Errorf("load header #%d: %w", number, err)
		}
		headers = append(headers, header)

		if msg.Reverse {
			if number < step {
				break
			}
			number -= step
		} else {
			number += step
		}
	}
	return headers, nil
}

// checkPeerRateLimit checks if a peer is within the rate limit for
// GetBlockHeaders requests. Returns true if the request should be processed,
// false if rate-limited.
func (h *RequestHandler) checkPeerRateLimit(peerID p2p.ID) bool {
	h.peerRequestsMtx.Lock()
	defer h.peerRequestsMtx.Unlock()

	now := h.now()
	windowStart := now.Add(-peerRequestWindowSeconds * time.Second)

	tracker := h.peerRequests[peerID]
	if tracker == nil {
		tracker = &peerRequestTracker{
			timestamps: make([]time.Time, 0, maxPeerGetHeadersPerSecond),
		}
		h.peerRequests[peerID] = tracker
	}

	// Remove timestamps outside the window.
	validIdx := 0
	for _, ts := range tracker.timestamps {
		if ts.After(windowStart) {
			tracker.timestamps[validIdx] = ts
			validIdx++
		}
	}
	tracker.timestamps = tracker.timestamps[:validIdx]

	// Check if under limit.
	if len(tracker.timestamps) >= maxPeerGetHeadersPerSecond {
		return false
	}

	// Record this request.
	tracker.timestamps = append(tracker.timestamps, now)
	return true
}

// ForgetPeer drops the rate limiting state of a peer.
func (h *RequestHandler) ForgetPeer(peerID p2p.ID) {
	h.peerRequestsMtx.Lock()
	delete(h.peerRequests, peerID)
	h.peerRequestsMtx.Unlock()
}
