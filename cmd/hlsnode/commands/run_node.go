package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cfg "github.com/hlsnet/hls-core/config"
	tmos "github.com/hlsnet/hls-core/libs/os"
)

// AddNodeFlags exposes some common configuration options on the command-line.
// These are exposed for convenience of commands embedding a node.
func AddNodeFlags(cmd *cobra.Command) {
	// bind flags
	cmd.Flags().String("moniker", config.Moniker, "node name")

	// db flags
	cmd.Flags().String(
		"db_backend",
		config.DBBackend,
		"database backend: goleveldb | memdb")
	cmd.Flags().String(
		"db_dir",
		config.DBPath,
		"database directory")

	// header sync flags
	cmd.Flags().Int("header_sync.min_peers_to_sync", config.HeaderSync.MinPeersToSync,
		"number of peers to wait for before syncing")
	cmd.Flags().Uint64("header_sync.max_reorg_depth", config.HeaderSync.MaxReorgDepth,
		"number of headers below the local head re-requested at the start of a session")
	cmd.Flags().Int("header_sync.seal_check_random_sample_rate", config.HeaderSync.SealCheckRandomSampleRate,
		"check the seal of one random header in every window of this many headers")
	cmd.Flags().Duration("header_sync.request_timeout", config.HeaderSync.RequestTimeout,
		"time to wait for a peer to answer a header request")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", config.Instrumentation.Prometheus,
		"serve Prometheus metrics")
	cmd.Flags().String("instrumentation.prometheus_listen_addr", config.Instrumentation.PrometheusListenAddr,
		"address to serve Prometheus metrics on")
	cmd.Flags().Bool("instrumentation.trace_stdout", config.Instrumentation.TraceStdout,
		"print sync session traces to stdout")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
// It can be used with a custom ServiceProvider.
func NewRunNodeCmd(nodeProvider cfg.ServiceProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the HLS node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(cmd.Context(), config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("Started node", "node", n.String())

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
