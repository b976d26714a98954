package headersync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "headersync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the last synced header.
	HeaderHeight metrics.Gauge

	// Number of headers synced.
	HeadersSynced metrics.Counter

	// Whether or not a node is header syncing. 1 if yes, 0 if no.
	Syncing metrics.Gauge

	// Number of finished sync sessions, by outcome.
	Sessions metrics.Counter

	// Number of peers dropped by the syncer, by reason.
	PeerDisconnects metrics.Counter

	// Verification failures.
	VerificationFailures metrics.Counter

	// Number of inbound messages dropped because the queue was full.
	MessagesDropped metrics.Counter

	// Number of message handlers that returned an error or panicked.
	MessageHandlerErrors metrics.Counter

	// Number of headers persisted by the importer.
	HeadersImported metrics.Counter

	// Number of header runs the importer failed to persist.
	ImportFailures metrics.Counter

	// Height of the canonical head after the last import.
	ImportedHeight metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		HeaderHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "header_height",
			Help:      "Height of the last synced header.",
		}, labels).With(labelsAndValues...),
		HeadersSynced: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "headers_synced",
			Help:      "Number of headers synced.",
		}, labels).With(labelsAndValues...),
		Syncing: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncing",
			Help:      "Whether or not a node is header syncing. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
		Sessions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sessions",
			Help:      "Number of finished sync sessions, by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		PeerDisconnects: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peer_disconnects",
			Help:      "Number of peers dropped by the syncer, by reason.",
		}, append(labels, "reason")).With(labelsAndValues...),
		VerificationFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "verification_failures",
			Help:      "Verification failures.",
		}, labels).With(labelsAndValues...),
		MessagesDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_dropped",
			Help:      "Number of inbound messages dropped because the queue was full.",
		}, labels).With(labelsAndValues...),
		MessageHandlerErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "message_handler_errors",
			Help:      "Number of message handlers that returned an error or panicked.",
		}, labels).With(labelsAndValues...),
		HeadersImported: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "headers_imported",
			Help:      "Number of headers persisted by the importer.",
		}, labels).With(labelsAndValues...),
		ImportFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "import_failures",
			Help:      "Number of header runs the importer failed to persist.",
		}, labels).With(labelsAndValues...),
		ImportedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "imported_height",
			Help:      "Height of the canonical head after the last import.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		HeaderHeight:         discard.NewGauge(),
		HeadersSynced:        discard.NewCounter(),
		Syncing:              discard.NewGauge(),
		Sessions:             discard.NewCounter(),
		PeerDisconnects:      discard.NewCounter(),
		VerificationFailures: discard.NewCounter(),
		MessagesDropped:      discard.NewCounter(),
		MessageHandlerErrors: discard.NewCounter(),
		HeadersImported:      discard.NewCounter(),
		ImportFailures:       discard.NewCounter(),
		ImportedHeight:       discard.NewGauge(),
	}
}
