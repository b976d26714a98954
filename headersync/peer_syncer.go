package headersync

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/libs/log"
	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

const tracerName = "github.com/hlsnet/hls-core/headersync"

// HeaderDB is the read side of the local header store used while syncing.
// Lookups of unknown headers fail with store.ErrHeaderNotFound.
type HeaderDB interface {
	GetCanonicalHead() (*types.BlockHeader, error)
	GetScore(hash types.Hash) (*uint256.Int, error)
	GetBlockHeaderByHash(hash types.Hash) (*types.BlockHeader, error)
	HeaderExists(hash types.Hash) (bool, error)
}

// PeerHeaderSyncer fetches as many headers as possible from a single peer.
type PeerHeaderSyncer struct {
	db        HeaderDB
	validator consensus.ChainValidator
	peer      p2p.Peer
	cfg       *config.HeaderSyncConfig
	logger    log.Logger
	metrics   *Metrics
	tracer    trace.Tracer

	mtx              hlssync.Mutex
	targetHeaderHash types.Hash
	outcome          SessionOutcome
}

// NewPeerHeaderSyncer returns a syncer for peer. The target header hash
// starts out as the head the peer announced.
func NewPeerHeaderSyncer(
	db HeaderDB,
	validator consensus.ChainValidator,
	peer p2p.Peer,
	cfg *config.HeaderSyncConfig,
	logger log.Logger,
	metrics *Metrics,
) *PeerHeaderSyncer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &PeerHeaderSyncer{
		db:               db,
		validator:        validator,
		peer:             peer,
		cfg:              cfg,
		logger:           logger.With("peer", peer),
		metrics:          metrics,
		tracer:           otel.Tracer(tracerName),
		targetHeaderHash: peer.HeadHash(),
	}
}

// Peer returns the peer being synced with.
func (s *PeerHeaderSyncer) Peer() p2p.Peer {
	return s.peer
}

// TargetHeaderHash is the head most recently announced by the peer.
func (s *PeerHeaderSyncer) TargetHeaderHash() types.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.targetHeaderHash
}

// Outcome returns how the last session ended.
func (s *PeerHeaderSyncer) Outcome() SessionOutcome {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.outcome
}

/*
HeaderBatches returns the sequence of new header batches the peer has to
offer. Every batch is contiguous with the previous one and has been validated
against it; the first batch extends a header already in the local store.

Each iteration runs a fresh session starting from the local canonical head.
The sequence ends when the peer runs out of headers, misbehaves, times out or
disconnects, when ctx is done, or when the caller stops iterating. Outcome
tells which of these happened.
*/
func (s *PeerHeaderSyncer) HeaderBatches(ctx context.Context) iter.Seq[[]*types.BlockHeader] {
	return func(yield func([]*types.BlockHeader) bool) {
		sessionID := uuid.New().String()
		ctx, span := s.tracer.Start(ctx, "headersync.session", trace.WithAttributes(
			attribute.String("peer", string(s.peer.ID())),
			attribute.String("session", sessionID),
		))
		defer span.End()

		logger := s.logger.With("session", sessionID)
		outcome := s.run(ctx, logger, yield)

		span.SetAttributes(
			attribute.String("outcome", outcome.Kind.String()),
			attribute.Int("batches", outcome.Batches),
			attribute.Int("headers", outcome.Headers),
		)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
		}
		s.mtx.Lock()
		s.outcome = outcome
		s.mtx.Unlock()
	}
}

func (s *PeerHeaderSyncer) run(ctx context.Context, logger log.Logger, yield func([]*types.BlockHeader) bool) (outcome SessionOutcome) {
	var batches, numHeaders int
	defer func() {
		outcome.Batches, outcome.Headers = batches, numHeaders
	}()

	head, err := s.db.GetCanonicalHead()
	if err != nil {
		return failed(fmt.Errorf("get canonical head: %w", err))
	}
	headTD, err := s.db.GetScore(head.Hash())
	if err != nil {
		return failed(fmt.Errorf("get score of %v: %w", head, err))
	}
	if peerTD := p2p.AnnouncedTD(s.peer); !peerTD.Gt(headTD) {
		logger.Info("Head TD announced by peer not higher than ours, not syncing",
			"peer_td", peerTD, "our_td", headTD)
		return SessionOutcome{Kind: OutcomeCaughtUp}
	}

	logger.Info("Starting sync", "head", head, "td", headTD, "peer_td", p2p.AnnouncedTD(s.peer))

	var (
		lastReceived *types.BlockHeader
		redundant    int
		// Always request up to MaxReorgDepth headers below our head in case
		// the chain reorganized since the last sync. Headers we already have
		// are dropped from the first batch.
		startAt = s.reorgStart(head.Number)
	)
	for {
		if !s.peer.IsOperational() {
			logger.Info("Peer disconnected, aborting sync")
			return SessionOutcome{Kind: OutcomePeerGone}
		}
		if ctx.Err() != nil {
			return SessionOutcome{Kind: OutcomeCancelled, Err: ctx.Err()}
		}

		allHeaders, reqOutcome, ok := s.requestHeaders(ctx, logger, startAt)
		if !ok {
			return reqOutcome
		}

		headers := allHeaders
		if lastReceived == nil {
			if headers, err = s.missingTail(allHeaders); err != nil {
				return failed(err)
			}
			if len(headers) == 0 && len(allHeaders) > 0 {
				redundant++
				if redundant > s.cfg.MaxRedundantBatches {
					return s.disconnect(logger, p2p.DisconnectUselessPeer,
						fmt.Errorf("%d consecutive batches of headers we already have", redundant))
				}
				if head, err = s.db.GetCanonicalHead(); err != nil {
					return failed(fmt.Errorf("get canonical head: %w", err))
				}
				startAt = max(allHeaders[len(allHeaders)-1].Number+1, s.reorgStart(head.Number))
				logger.Debug("All headers redundant, fetching further",
					"count", len(allHeaders), "head", head.Number, "start_at", startAt)
				continue
			}
		}

		if len(headers) == 0 {
			if peerTD := p2p.AnnouncedTD(s.peer); headTD.Lt(peerTD) {
				// the peer claims a heavier chain but did not return it
				return s.disconnect(logger, p2p.DisconnectSubprotocolError,
					fmt.Errorf("peer announced td %v but returned no headers after td %v", peerTD, headTD))
			}
			logger.Info("Got no new headers from peer, sync completed")
			return SessionOutcome{Kind: OutcomeCompleted}
		}

		first := headers[0]
		parent := lastReceived
		if parent == nil {
			// on the first batch the earliest header must extend our store
			parent, err = s.db.GetBlockHeaderByHash(first.ParentHash)
			if errors.Is(err, store.ErrHeaderNotFound) {
				logger.Info("Unable to find common ancestor with peer", "first", first)
				return SessionOutcome{Kind: OutcomeNoCommonAncestor, Err: err}
			} else if err != nil {
				return failed(fmt.Errorf("get parent of %v: %w", first, err))
			}
		} else if first.ParentHash != parent.Hash() {
			return s.disconnect(logger, p2p.DisconnectSubprotocolError,
				fmt.Errorf("header batch starts with %v with parent %v, but last header was %v",
					first, first.ParentHash, parent))
		}

		logger.Debug("Got new header chain", "first", first, "last", headers[len(headers)-1])
		if err := s.validator.ValidateChain(parent, headers, s.cfg.SealCheckRandomSampleRate); err != nil {
			s.metrics.VerificationFailures.Add(1)
			return s.disconnect(logger, p2p.DisconnectSubprotocolError, fmt.Errorf("invalid headers: %w", err))
		}

		headTD = types.TotalDifficulty(headTD, headers)

		s.mtx.Lock()
		s.targetHeaderHash = s.peer.HeadHash()
		s.mtx.Unlock()

		if !yield(headers) {
			return SessionOutcome{Kind: OutcomeCancelled}
		}
		batches++
		numHeaders += len(headers)

		lastReceived = headers[len(headers)-1]
		startAt = lastReceived.Number + 1
	}
}

// requestHeaders asks the peer for the next batch. When ok is false the
// session is over and outcome tells why.
func (s *PeerHeaderSyncer) requestHeaders(
	ctx context.Context,
	logger log.Logger,
	startAt uint64,
) (headers []*types.BlockHeader, outcome SessionOutcome, ok bool) {
	maxHeaders := s.peer.MaxHeadersFetch()
	if maxHeaders <= 0 || maxHeaders > s.cfg.MaxHeadersFetch {
		maxHeaders = s.cfg.MaxHeadersFetch
	}
	logger.Debug("Requesting chain of headers", "start_at", startAt, "max", maxHeaders)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	headers, err := s.peer.GetBlockHeaders(reqCtx, startAt, maxHeaders, 0, false)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		logger.Info("Sync cancelled")
		return nil, SessionOutcome{Kind: OutcomeCancelled, Err: ctx.Err()}, false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, p2p.ErrTimeout):
		outcome = s.disconnect(logger, p2p.DisconnectTimeout, err)
		outcome.Kind = OutcomeTimeout
		return nil, outcome, false
	case errors.Is(err, p2p.ErrPeerGone):
		logger.Info("Peer disconnected, aborting sync")
		return nil, SessionOutcome{Kind: OutcomePeerGone, Err: err}, false
	default:
		return nil, s.disconnect(logger, p2p.DisconnectUselessPeer, fmt.Errorf("request headers: %w", err)), false
	}

	if err := checkResponse(headers, startAt, maxHeaders); err != nil {
		return nil, s.disconnect(logger, p2p.DisconnectUselessPeer, fmt.Errorf("invalid header response: %w", err)), false
	}
	return headers, SessionOutcome{}, true
}

// checkResponse ensures the peer answered the request that was made.
func checkResponse(headers []*types.BlockHeader, startAt uint64, maxHeaders int) error {
	if len(headers) > maxHeaders {
		return fmt.Errorf("got %d headers, asked for at most %d", len(headers), maxHeaders)
	}
	for i, h := range headers {
		if h == nil {
			return fmt.Errorf("header at index %d is nil", i)
		}
		if want := startAt + uint64(i); h.Number != want {
			return fmt.Errorf("header at index %d is #%d, want #%d", i, h.Number, want)
		}
	}
	return nil
}

// missingTail drops the leading headers we already have. Headers come in
// ascending order so everything after the first missing header is kept.
func (s *PeerHeaderSyncer) missingTail(headers []*types.BlockHeader) ([]*types.BlockHeader, error) {
	for i, h := range headers {
		exists, err := s.db.HeaderExists(h.Hash())
		if err != nil {
			return nil, fmt.Errorf("check header %v: %w", h, err)
		}
		if !exists {
			return headers[i:], nil
		}
		s.logger.Trace("Discarding header that we already have", "header", h)
	}
	return nil, nil
}

func (s *PeerHeaderSyncer) reorgStart(headNumber uint64) uint64 {
	start := types.GenesisBlockNumber + 1
	if headNumber > s.cfg.MaxReorgDepth && headNumber-s.cfg.MaxReorgDepth > start {
		start = headNumber - s.cfg.MaxReorgDepth
	}
	return start
}

func (s *PeerHeaderSyncer) disconnect(logger log.Logger, reason p2p.DisconnectReason, cause error) SessionOutcome {
	logger.Info("Disconnecting peer", "reason", reason, "err", cause)
	s.metrics.PeerDisconnects.With("reason", string(reason)).Add(1)
	if err := s.peer.Disconnect(reason); err != nil {
		logger.Error("Failed to disconnect peer", "reason", reason, "err", err)
	}
	return peerFault(reason, cause)
}
