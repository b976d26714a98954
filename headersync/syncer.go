package headersync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/libs/log"
	"github.com/hlsnet/hls-core/libs/service"
	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/libs/taskqueue"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/types"
)

const (
	// syncRequestQueueSize bounds the sync triggers waiting for the sync
	// loop. Triggers beyond that are dropped since any of them picks the best
	// peer at the time it is handled.
	syncRequestQueueSize = 32
)

var (
	// ErrNoSyncYet is returned by GetTargetHeaderHash before any sync ran.
	ErrNoSyncYet = errors.New("no header sync has run yet")
	// ErrConcurrentSync is returned when a session is started while another
	// one is active.
	ErrConcurrentSync = errors.New("a header sync session is already active")
)

// HeaderQueue carries validated headers from the syncer to the importer,
// ordered by number and keyed by hash.
type HeaderQueue = taskqueue.TaskQueue[types.Hash, *types.BlockHeader]

// NewHeaderQueue returns an empty HeaderQueue holding at most size headers.
func NewHeaderQueue(size int) *HeaderQueue {
	return taskqueue.NewTaskQueue(size,
		func(h *types.BlockHeader) uint64 { return h.Number },
		func(h *types.BlockHeader) types.Hash { return h.Hash() },
	)
}

// MessageHandler handles a message received from a peer.
type MessageHandler interface {
	HandleMessage(ctx context.Context, peer p2p.Peer, msg p2p.Message) error
}

// MessageHandlerFunc adapts a function to a MessageHandler.
type MessageHandlerFunc func(ctx context.Context, peer p2p.Peer, msg p2p.Message) error

// HandleMessage implements MessageHandler.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, peer p2p.Peer, msg p2p.Message) error {
	return f(ctx, peer, msg)
}

// HeaderChainSyncer keeps the local header chain in sync with the heaviest
// peer. At most one PeerHeaderSyncer session runs at any time; the headers it
// yields are pushed onto HeaderQueue for the importer.
type HeaderChainSyncer struct {
	service.BaseService

	db        HeaderDB
	validator consensus.ChainValidator
	pool      p2p.PeerPool
	cfg       *config.HeaderSyncConfig
	metrics   *Metrics
	handler   MessageHandler

	// HeaderQueue receives every validated header batch.
	HeaderQueue *HeaderQueue

	syncRequests chan p2p.Peer
	msgQueue     chan p2p.PeerMessage

	mtx                  hlssync.Mutex
	peerSyncer           *PeerHeaderSyncer
	lastTargetHeaderHash *types.Hash

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// SyncerOption sets an optional parameter on the HeaderChainSyncer.
type SyncerOption func(*HeaderChainSyncer)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) SyncerOption {
	return func(s *HeaderChainSyncer) { s.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) SyncerOption {
	return func(s *HeaderChainSyncer) { s.SetLogger(logger) }
}

// WithMessageHandler replaces the handler of inbound messages.
func WithMessageHandler(handler MessageHandler) SyncerOption {
	return func(s *HeaderChainSyncer) { s.handler = handler }
}

// WithHeaderQueue makes the syncer push headers onto queue instead of a
// queue of its own.
func WithHeaderQueue(queue *HeaderQueue) SyncerOption {
	return func(s *HeaderChainSyncer) { s.HeaderQueue = queue }
}

// NewHeaderChainSyncer returns a new syncer. Unless replaced with
// WithMessageHandler, inbound messages are handled by a RequestHandler when db
// can serve canonical headers by number.
func NewHeaderChainSyncer(
	db HeaderDB,
	validator consensus.ChainValidator,
	pool p2p.PeerPool,
	cfg *config.HeaderSyncConfig,
	options ...SyncerOption,
) *HeaderChainSyncer {
	s := &HeaderChainSyncer{
		db:           db,
		validator:    validator,
		pool:         pool,
		cfg:          cfg,
		metrics:      NopMetrics(),
		syncRequests: make(chan p2p.Peer, syncRequestQueueSize),
		msgQueue:     make(chan p2p.PeerMessage, cfg.MsgQueueSize),
	}
	s.BaseService = *service.NewBaseService(nil, "HeaderChainSyncer", s)
	for _, option := range options {
		option(s)
	}
	if s.HeaderQueue == nil {
		s.HeaderQueue = NewHeaderQueue(cfg.HeaderQueueSize())
	}
	if s.handler == nil {
		var requests *RequestHandler
		if reader, ok := db.(HeaderReader); ok {
			requests = NewRequestHandler(reader, s.Logger)
		}
		s.handler = &defaultHandler{syncer: s, requests: requests}
	}
	return s
}

// OnStart implements service.Service.
func (s *HeaderChainSyncer) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.unsubscribe = s.pool.Subscribe(s)
	go func() {
		defer close(s.done)
		if err := s.Run(ctx); err != nil {
			s.Logger.Error("Header syncer stopped", "err", err)
		}
	}()
	return nil
}

// OnStop implements service.Service.
func (s *HeaderChainSyncer) OnStop() {
	s.unsubscribe()
	s.cancel()
	<-s.done
}

// Run handles sync requests and inbound messages until ctx is done. Every
// sync request and message is handled in its own goroutine; Run waits for
// them before returning. A sync request that arrives while a session is
// active is dropped by Sync. Cancellation is not an error.
func (s *HeaderChainSyncer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case peer := <-s.syncRequests:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleSyncRequest(ctx, peer)
			}()
		case msg := <-s.msgQueue:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleMsg(ctx, msg)
			}()
		}
	}
}

func (s *HeaderChainSyncer) handleSyncRequest(ctx context.Context, peer p2p.Peer) {
	outcome, err := s.Sync(ctx, peer)
	switch {
	case errors.Is(err, ErrConcurrentSync):
		s.Logger.Debug("Got a new peer or block, but already syncing, so doing nothing", "peer", peer)
	case err != nil:
		s.Logger.Error("Header sync failed", "peer", peer, "err", err)
	default:
		s.Logger.Debug("Header sync request handled", "peer", peer, "outcome", outcome)
	}
}

// handleMsg runs the message handler, keeping its errors and panics away from
// the dispatch loop.
func (s *HeaderChainSyncer) handleMsg(ctx context.Context, msg p2p.PeerMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.MessageHandlerErrors.Add(1)
			s.Logger.Error("Panic in message handler", "peer", msg.Peer, "msg", fmt.Sprintf("%T", msg.Message),
				"err", r, "stack", string(debug.Stack()))
		}
	}()
	err := s.handler.HandleMessage(ctx, msg.Peer, msg.Message)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.metrics.MessageHandlerErrors.Add(1)
		s.Logger.Error("Error while handling message", "peer", msg.Peer, "msg", fmt.Sprintf("%T", msg.Message), "err", err)
	}
}

// RegisterPeer implements p2p.PeerSubscriber by asking for a sync with the
// best peer of the pool.
func (s *HeaderChainSyncer) RegisterPeer(p2p.Peer) {
	s.requestSync()
}

// DeregisterPeer implements p2p.PeerSubscriber.
func (s *HeaderChainSyncer) DeregisterPeer(peer p2p.Peer) {
	if h, ok := s.handler.(*defaultHandler); ok && h.requests != nil {
		h.requests.ForgetPeer(peer.ID())
	}
}

// Deliver implements p2p.PeerSubscriber. Messages beyond the queue size are
// dropped.
func (s *HeaderChainSyncer) Deliver(msg p2p.PeerMessage) bool {
	select {
	case s.msgQueue <- msg:
		return true
	default:
		s.metrics.MessagesDropped.Add(1)
		s.Logger.Debug("Message queue full, dropping message", "peer", msg.Peer, "msg", fmt.Sprintf("%T", msg.Message))
		return false
	}
}

func (s *HeaderChainSyncer) requestSync() {
	best := s.pool.HighestTDPeer()
	if best == nil {
		return
	}
	select {
	case s.syncRequests <- best:
	default:
		s.Logger.Debug("Sync request queue full, dropping request", "peer", best)
	}
}

// IsSyncing reports whether a session is active.
func (s *HeaderChainSyncer) IsSyncing() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.peerSyncer != nil
}

// GetTargetHeaderHash returns the target of the active session or, when idle,
// the target the last session ended with.
func (s *HeaderChainSyncer) GetTargetHeaderHash() (types.Hash, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.peerSyncer != nil {
		return s.peerSyncer.TargetHeaderHash(), nil
	}
	if s.lastTargetHeaderHash != nil {
		return *s.lastTargetHeaderHash, nil
	}
	return types.Hash{}, ErrNoSyncYet
}

/*
Sync runs a session with peer and pushes every batch it yields onto
HeaderQueue, skipping headers already queued. It does nothing and returns an
OutcomeSkipped outcome when a session is already active or the pool has
fewer than MinPeersToSync peers.

Peer faults end the session with the peer disconnected; they are reported in
the outcome, not as an error. ErrConcurrentSync is returned if another session
was started between the idle check and the start of this one.
*/
func (s *HeaderChainSyncer) Sync(ctx context.Context, peer p2p.Peer) (SessionOutcome, error) {
	if s.IsSyncing() {
		s.Logger.Debug("Got a new peer or block, but already syncing, so doing nothing")
		return SessionOutcome{Kind: OutcomeSkipped}, nil
	}
	if n := s.pool.Len(); n < s.cfg.MinPeersToSync {
		s.Logger.Info("Not enough peers to sync", "peers", n, "min", s.cfg.MinPeersToSync)
		return SessionOutcome{Kind: OutcomeSkipped}, nil
	}

	syncer, err := s.acquireSession(peer)
	if err != nil {
		return SessionOutcome{Kind: OutcomeSkipped}, err
	}
	var outcome SessionOutcome
	defer func() { s.releaseSession(syncer, outcome) }()

	var queueErr error
	for batch := range syncer.HeaderBatches(ctx) {
		if queueErr = s.queueHeaders(ctx, batch); queueErr != nil {
			break
		}
	}

	outcome = syncer.Outcome()
	if queueErr != nil && ctx.Err() == nil {
		outcome = failed(fmt.Errorf("queue headers: %w", queueErr))
	}
	return outcome, nil
}

func (s *HeaderChainSyncer) queueHeaders(ctx context.Context, batch []*types.BlockHeader) error {
	newHeaders := make([]*types.BlockHeader, 0, len(batch))
	for _, h := range batch {
		if !s.HeaderQueue.Contains(h) {
			newHeaders = append(newHeaders, h)
		}
	}
	if len(newHeaders) == 0 {
		return nil
	}
	if err := s.HeaderQueue.Add(ctx, newHeaders); err != nil {
		return err
	}
	s.metrics.HeadersSynced.Add(float64(len(newHeaders)))
	s.metrics.HeaderHeight.Set(float64(newHeaders[len(newHeaders)-1].Number))
	return nil
}

func (s *HeaderChainSyncer) acquireSession(peer p2p.Peer) (*PeerHeaderSyncer, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.peerSyncer != nil {
		return nil, fmt.Errorf("%w: with %v", ErrConcurrentSync, s.peerSyncer.Peer())
	}
	s.peerSyncer = NewPeerHeaderSyncer(s.db, s.validator, peer, s.cfg, s.Logger, s.metrics)
	s.metrics.Syncing.Set(1)
	return s.peerSyncer, nil
}

func (s *HeaderChainSyncer) releaseSession(syncer *PeerHeaderSyncer, outcome SessionOutcome) {
	target := syncer.TargetHeaderHash()
	s.mtx.Lock()
	s.lastTargetHeaderHash = &target
	s.peerSyncer = nil
	s.mtx.Unlock()

	s.metrics.Syncing.Set(0)
	s.metrics.Sessions.With("outcome", outcome.Kind.String()).Add(1)
	s.Logger.Info("Header sync ended", "peer", syncer.Peer(), "outcome", outcome, "target", target)
}

// SetLogger implements service.Service by setting the logger on the syncer
// and its request handler.
func (s *HeaderChainSyncer) SetLogger(l log.Logger) {
	s.Logger = l
	if h, ok := s.handler.(*defaultHandler); ok && h.requests != nil {
		h.requests.logger = l
	}
}
