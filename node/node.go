package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/headersync"
	"github.com/hlsnet/hls-core/libs/log"
	"github.com/hlsnet/hls-core/libs/service"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// MetricsProvider returns the metrics used by the node services.
type MetricsProvider func() (*headersync.Metrics, *p2p.Metrics)

// DefaultMetricsProvider returns Prometheus metrics if Prometheus is enabled,
// otherwise it returns no-op metrics.
func DefaultMetricsProvider(config *cfg.InstrumentationConfig) MetricsProvider {
	return func() (*headersync.Metrics, *p2p.Metrics) {
		if config.Prometheus || config.PushGatewayURL != "" {
			return headersync.PrometheusMetrics(config.Namespace), p2p.PrometheusMetrics(config.Namespace)
		}
		return headersync.NopMetrics(), p2p.NopMetrics()
	}
}

// Node is the highest level interface to a full header node. It includes all
// configuration information and running services.
type Node struct {
	service.BaseService

	// config
	config  *cfg.Config
	genesis *types.BlockHeader

	// services
	headerDB    dbm.DB
	headerStore *store.HeaderStore
	pool        *p2p.Pool
	syncer      *headersync.HeaderChainSyncer
	importer    *headersync.Importer

	pusher         *Pusher
	tracerProvider *sdktrace.TracerProvider

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option sets a parameter for the node.
type Option func(*Node)

// DefaultNewNode returns a node with the default database and metrics as a
// config.ServiceProvider.
func DefaultNewNode(_ context.Context, config *cfg.Config, logger log.Logger) (service.Service, error) {
	return NewNode(config, cfg.DefaultDBProvider, DefaultMetricsProvider(config.Instrumentation), logger)
}

// GenesisHeader returns the genesis header described by config.
func GenesisHeader(config *cfg.Config) *types.BlockHeader {
	return types.NewGenesisHeader(config.GenesisDifficulty, config.GenesisTime)
}

// NewNode returns a new, ready to go node.
func NewNode(
	config *cfg.Config,
	dbProvider cfg.DBProvider,
	metricsProvider MetricsProvider,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	headerDB, err := dbProvider(&cfg.DBContext{ID: "headers", Config: config})
	if err != nil {
		return nil, fmt.Errorf("open header db: %w", err)
	}
	headerStore, err := store.NewHeaderStore(headerDB)
	if err != nil {
		headerDB.Close()
		return nil, err
	}
	genesis := GenesisHeader(config)
	if err := headerStore.InitGenesis(genesis); err != nil {
		headerDB.Close()
		return nil, fmt.Errorf("init genesis: %w", err)
	}
	head, err := headerStore.GetCanonicalHead()
	if err != nil {
		headerDB.Close()
		return nil, err
	}
	logger.Info("Loaded header store", "genesis", genesis, "head", head)

	var tracerProvider *sdktrace.TracerProvider
	if config.Instrumentation.TraceStdout {
		if tracerProvider, err = setupTracing(); err != nil {
			headerDB.Close()
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
	}

	syncMetrics, p2pMetrics := metricsProvider()

	pool := p2p.NewPool(
		p2p.WithPoolMetrics(p2pMetrics),
		p2p.WithPoolLogger(logger.With("module", "p2p")),
	)
	queue := headersync.NewHeaderQueue(config.HeaderSync.HeaderQueueSize())
	syncer := headersync.NewHeaderChainSyncer(
		headerStore,
		consensus.NewValidator(),
		pool,
		config.HeaderSync,
		headersync.WithHeaderQueue(queue),
		headersync.WithMetrics(syncMetrics),
		headersync.WithLogger(logger.With("module", "headersync")),
	)
	importer := headersync.NewImporter(
		queue,
		headerStore,
		config.HeaderSync.ImportBatchSize,
		headersync.WithImporterMetrics(syncMetrics),
		headersync.WithImporterLogger(logger.With("module", "importer")),
	)

	node := &Node{
		config:         config,
		genesis:        genesis,
		headerDB:       headerDB,
		headerStore:    headerStore,
		pool:           pool,
		syncer:         syncer,
		importer:       importer,
		pusher:         MetricsPusher(prometheus.DefaultGatherer, config.Instrumentation),
		tracerProvider: tracerProvider,
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)

	for _, option := range options {
		option(node)
	}

	return node, nil
}

// OnStart starts the Node. It implements service.Service.
func (n *Node) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.group, ctx = errgroup.WithContext(ctx)

	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		if err := n.startPrometheusServer(ctx); err != nil {
			cancel()
			return err
		}
	}
	if n.pusher != nil {
		n.group.Go(func() error {
			n.pusher.Run(ctx, n.Logger.With("module", "metrics"))
			return nil
		})
	}

	if err := n.importer.Start(); err != nil {
		cancel()
		return err
	}
	if err := n.syncer.Start(); err != nil {
		if stopErr := n.importer.Stop(); stopErr != nil {
			n.Logger.Error("Error closing header importer", "err", stopErr)
		}
		cancel()
		return err
	}
	return nil
}

// OnStop stops the Node. It implements service.Service.
func (n *Node) OnStop() {
	n.BaseService.OnStop()

	n.Logger.Info("Stopping Node")

	if err := n.syncer.Stop(); err != nil {
		n.Logger.Error("Error closing header syncer", "err", err)
	}
	if err := n.importer.Stop(); err != nil {
		n.Logger.Error("Error closing header importer", "err", err)
	}

	n.cancel()
	if err := n.group.Wait(); err != nil {
		n.Logger.Error("Error stopping instrumentation", "err", err)
	}

	if n.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := n.tracerProvider.Shutdown(ctx); err != nil {
			n.Logger.Error("Error shutting down tracer provider", "err", err)
		}
		cancel()
	}

	if err := n.headerDB.Close(); err != nil {
		n.Logger.Error("Error closing header db", "err", err)
	}
}

// startPrometheusServer starts a Prometheus HTTP server, listening for
// metrics collectors on the configured address. It is shut down when ctx is
// done.
func (n *Node) startPrometheusServer(ctx context.Context) error {
	addr := n.config.Instrumentation.PrometheusListenAddr
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if maxConns := n.config.Instrumentation.MaxOpenConnections; maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}

	srv := &http.Server{
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.config.Instrumentation.MaxOpenConnections},
			),
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	n.group.Go(func() error {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("prometheus HTTP server: %w", err)
		}
		return nil
	})
	n.group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	n.Logger.Info("Serving metrics", "addr", listener.Addr())
	return nil
}

// Config returns the Node's config.
func (n *Node) Config() *cfg.Config {
	return n.config
}

// Genesis returns the genesis header.
func (n *Node) Genesis() *types.BlockHeader {
	return n.genesis
}

// HeaderStore returns the Node's HeaderStore.
func (n *Node) HeaderStore() *store.HeaderStore {
	return n.headerStore
}

// PeerPool returns the Node's peer pool.
func (n *Node) PeerPool() *p2p.Pool {
	return n.pool
}

// HeaderSyncer returns the Node's HeaderChainSyncer.
func (n *Node) HeaderSyncer() *headersync.HeaderChainSyncer {
	return n.syncer
}

// Importer returns the Node's header Importer.
func (n *Node) Importer() *headersync.Importer {
	return n.importer
}
