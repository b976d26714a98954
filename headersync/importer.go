package headersync

import (
	"context"

	"github.com/hlsnet/hls-core/libs/log"
	"github.com/hlsnet/hls-core/libs/service"
	"github.com/hlsnet/hls-core/types"
)

// HeaderWriter persists headers.
type HeaderWriter interface {
	PersistHeaderChain(headers []*types.BlockHeader) (newCanonical, oldCanonical []*types.BlockHeader, err error)
}

// Importer drains a HeaderQueue into a HeaderWriter.
type Importer struct {
	service.BaseService

	queue     *HeaderQueue
	writer    HeaderWriter
	batchSize int
	metrics   *Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// ImporterOption sets an optional parameter on the Importer.
type ImporterOption func(*Importer)

// WithImporterMetrics sets the metrics.
func WithImporterMetrics(metrics *Metrics) ImporterOption {
	return func(imp *Importer) { imp.metrics = metrics }
}

// WithImporterLogger sets the logger.
func WithImporterLogger(logger log.Logger) ImporterOption {
	return func(imp *Importer) { imp.SetLogger(logger) }
}

// NewImporter returns an Importer taking up to batchSize headers at a time
// from queue.
func NewImporter(queue *HeaderQueue, writer HeaderWriter, batchSize int, options ...ImporterOption) *Importer {
	imp := &Importer{
		queue:     queue,
		writer:    writer,
		batchSize: batchSize,
		metrics:   NopMetrics(),
	}
	imp.BaseService = *service.NewBaseService(nil, "HeaderImporter", imp)
	for _, option := range options {
		option(imp)
	}
	return imp
}

// OnStart implements service.Service.
func (imp *Importer) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	imp.cancel = cancel
	imp.done = make(chan struct{})
	go func() {
		defer close(imp.done)
		imp.importRoutine(ctx)
	}()
	return nil
}

// OnStop implements service.Service.
func (imp *Importer) OnStop() {
	imp.cancel()
	<-imp.done
}

func (imp *Importer) importRoutine(ctx context.Context) {
	for {
		if err := imp.ImportNext(ctx); err != nil {
			return
		}
	}
}

/*
ImportNext waits for queued headers and persists one batch of them. The batch
is split into runs of linked headers, each persisted on its own. Runs that
fail to persist are logged and dropped; the batch is always completed so a bad
run can't be handed out again. Only an error from ctx is returned.
*/
func (imp *Importer) ImportNext(ctx context.Context) error {
	batchID, batch, err := imp.queue.Get(ctx, imp.batchSize)
	if err != nil {
		return err
	}

	for _, run := range splitLinkedRuns(batch) {
		newCanonical, _, err := imp.writer.PersistHeaderChain(run)
		if err != nil {
			imp.metrics.ImportFailures.Add(1)
			imp.Logger.Error("Failed to persist headers", "first", run[0], "last", run[len(run)-1], "err", err)
			continue
		}
		imp.metrics.HeadersImported.Add(float64(len(run)))
		if len(newCanonical) > 0 {
			head := newCanonical[len(newCanonical)-1]
			imp.metrics.ImportedHeight.Set(float64(head.Number))
			imp.Logger.Debug("Imported headers", "count", len(run), "head", head)
		}
	}

	if err := imp.queue.Complete(batchID, batch); err != nil {
		imp.Logger.Error("Failed to complete header batch", "batch", batchID, "err", err)
	}
	return nil
}

// splitLinkedRuns splits headers, ordered by number, into maximal runs where
// every header is the child of the one before it.
func splitLinkedRuns(headers []*types.BlockHeader) [][]*types.BlockHeader {
	var runs [][]*types.BlockHeader
	start := 0
	for i := 1; i <= len(headers); i++ {
		if i == len(headers) || headers[i].ParentHash != headers[i-1].Hash() {
			runs = append(runs, headers[start:i])
			start = i
		}
	}
	return runs
}
