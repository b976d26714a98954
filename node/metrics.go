package node

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/libs/log"
)

// Pusher periodically pushes the gathered metrics to a Prometheus push
// gateway.
type Pusher struct {
	*push.Pusher
	interval time.Duration
}

// MetricsPusher returns a Pusher for the metrics of gatherer, or nil when no
// push gateway is configured.
func MetricsPusher(gatherer prometheus.Gatherer, config *cfg.InstrumentationConfig) *Pusher {
	if config.PushGatewayURL == "" {
		return nil
	}

	p := push.New(config.PushGatewayURL, config.Namespace).Gatherer(gatherer)
	return &Pusher{Pusher: p, interval: config.PushInterval}
}

// Run pushes metrics every interval until ctx is done.
func (p *Pusher) Run(ctx context.Context, logger log.Logger) {
	if p == nil {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		err := p.AddContext(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("failed to push metrics", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
