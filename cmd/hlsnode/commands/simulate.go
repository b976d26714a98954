package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/consensus"
	"github.com/hlsnet/hls-core/headersync"
	nm "github.com/hlsnet/hls-core/node"
	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/p2p/mock"
	"github.com/hlsnet/hls-core/types"
)

// SimulateCmd syncs an in-memory node from in-process peers.
var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Sync an in-memory node from simulated peers",
	Long: `Sync an in-memory node from simulated peers.

Honest peers serve the same chain of --blocks headers. Bad peers announce a
heavier fork whose first header does not link to its parent; they are expected
to be disconnected once they serve it. The command returns when the local head
reaches the head of the honest chain and prints it.`,
	RunE: simulate,
}

var (
	simBlocks       int
	simPeers        int
	simBadPeers     int
	simDifficulty   uint64
	simTimeout      time.Duration
	simPrintMetrics bool
)

const announceInterval = 100 * time.Millisecond

func init() {
	SimulateCmd.Flags().IntVar(&simBlocks, "blocks", 500, "number of headers on top of genesis served by honest peers")
	SimulateCmd.Flags().IntVar(&simPeers, "peers", 3, "number of honest peers")
	SimulateCmd.Flags().IntVar(&simBadPeers, "bad-peers", 0, "number of peers serving an invalid heavier fork")
	SimulateCmd.Flags().Uint64Var(&simDifficulty, "difficulty", 100, "difficulty of every honest header")
	SimulateCmd.Flags().DurationVar(&simTimeout, "timeout", time.Minute, "time allowed to reach the honest head")
	SimulateCmd.Flags().BoolVar(&simPrintMetrics, "print-metrics", false, "print the node metrics when done")
}

type simulationResult struct {
	Head        *headInfo         `json:"head"`
	Disconnects map[p2p.ID]string `json:"disconnects,omitempty"`
}

func simulate(cmd *cobra.Command, args []string) error {
	if simBlocks <= 0 || simPeers <= 0 {
		return errors.New("--blocks and --peers must be positive")
	}
	if simBadPeers < 0 {
		return errors.New("--bad-peers can't be negative")
	}
	if simDifficulty == 0 {
		return errors.New("--difficulty must be positive")
	}

	simConfig := *config
	simConfig.DBBackend = cfg.DBBackendMemDB
	instrumentation := *config.Instrumentation
	instrumentation.Prometheus = false
	instrumentation.PushGatewayURL = ""
	simConfig.Instrumentation = &instrumentation

	metricsProvider := func() (*headersync.Metrics, *p2p.Metrics) {
		if simPrintMetrics {
			return headersync.PrometheusMetrics(instrumentation.Namespace), p2p.PrometheusMetrics(instrumentation.Namespace)
		}
		return headersync.NopMetrics(), p2p.NopMetrics()
	}
	n, err := nm.NewNode(&simConfig, cfg.DefaultDBProvider, metricsProvider, logger)
	if err != nil {
		return err
	}

	genesis := n.Genesis()
	honest := append([]*types.BlockHeader{genesis}, consensus.GenerateChain(genesis, simBlocks, simDifficulty, nil)...)
	bad, err := generateBadChains(cmd.Context(), honest, simBadPeers, simDifficulty)
	if err != nil {
		return err
	}
	target := honest[len(honest)-1]
	logger.Info("Generated chains", "head", target, "bad_forks", len(bad))

	if err := n.Start(); err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			logger.Error("unable to stop the node", "error", err)
		}
	}()

	pool := n.PeerPool()
	onDisconnect := mock.WithOnDisconnect(func(p *mock.Peer, reason p2p.DisconnectReason) {
		pool.RemovePeer(p)
	})
	var (
		peers    []*mock.Peer
		headsNum = make(map[p2p.ID]uint64)
	)
	addPeer := func(id string, chain []*types.BlockHeader) error {
		peer := mock.NewChainPeer(p2p.ID(id), chain, onDisconnect)
		peers = append(peers, peer)
		headsNum[peer.ID()] = uint64(len(chain) - 1)
		return pool.AddPeer(peer)
	}
	for i, chain := range bad {
		if err := addPeer(fmt.Sprintf("bad-%d", i), chain); err != nil {
			return err
		}
	}
	for i := 0; i < simPeers; i++ {
		if err := addPeer(fmt.Sprintf("honest-%d", i), honest); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
	defer cancel()
	if err := waitForHead(ctx, n, target, headsNum); err != nil {
		return err
	}

	info, err := loadHeadInfo(n.HeaderStore())
	if err != nil {
		return err
	}
	result := simulationResult{Head: info, Disconnects: make(map[p2p.ID]string)}
	for _, peer := range peers {
		if reasons := peer.Disconnects(); len(reasons) > 0 {
			result.Disconnects[peer.ID()] = reasons[0].String()
		}
	}
	bz, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bz))

	if simPrintMetrics {
		return printMetrics(os.Stdout, instrumentation.Namespace)
	}
	return nil
}

// generateBadChains returns n chains that follow honest up to its middle and
// then fork with a heavier chain starting with a header that does not link to
// its parent.
func generateBadChains(ctx context.Context, honest []*types.BlockHeader, n int, difficulty uint64) ([][]*types.BlockHeader, error) {
	chains := make([][]*types.BlockHeader, n)
	forkAt := honest[(len(honest)-1)/2]
	length := len(honest) - 1 - int(forkAt.Number)

	g, ctx := errgroup.WithContext(ctx)
	for i := range chains {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fork := consensus.GenerateChain(forkAt, length, 2*difficulty, []byte(fmt.Sprintf("bad-%d", i)))
			broken := fork[0].Copy()
			broken.ParentHash = types.Hash{0xba, 0xd, byte(i)}
			fork[0] = broken

			chain := make([]*types.BlockHeader, 0, len(honest))
			chain = append(chain, honest[:forkAt.Number+1]...)
			chains[i] = append(chain, fork...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chains, nil
}

// waitForHead announces the head of the best peer whenever the node is idle
// until the canonical head of the node is target.
func waitForHead(ctx context.Context, n *nm.Node, target *types.BlockHeader, headsNum map[p2p.ID]uint64) error {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		head, err := n.HeaderStore().GetCanonicalHead()
		if err != nil {
			return err
		}
		if head.Hash() == target.Hash() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("head %v did not reach %v: %w", head, target, ctx.Err())
		case <-ticker.C:
		}

		if n.HeaderSyncer().IsSyncing() {
			continue
		}
		best := n.PeerPool().HighestTDPeer()
		if best == nil {
			return fmt.Errorf("no peers left, head is %v", head)
		}
		n.PeerPool().Deliver(best, &headersync.NewBlockMsg{
			Hash:   best.HeadHash(),
			Number: headsNum[best.ID()],
			TD:     best.HeadTD(),
		})
	}
}

func printMetrics(w io.Writer, namespace string) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
