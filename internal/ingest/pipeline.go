package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oicur0t/sensorlog/internal/logstore"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"github.com/oicur0t/sensorlog/pkg/models"
	"go.uber.org/zap"
)

// archiveSendTimeout is how long a record may wait for a full archive queue
const archiveSendTimeout = 5 * time.Second

// Stats counts what the pipeline wrote
type Stats struct {
	Written uint64 `json:"written"`
	Trimmed uint64 `json:"trimmed"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"archive_dropped"`
}

// Pipeline moves lines from a source through the router into the store
type Pipeline struct {
	source  Source
	router  *sensor.Router
	store   *logstore.Store
	archive chan<- models.Record
	logger  *zap.Logger

	written atomic.Uint64
	trimmed atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewPipeline wires a source to the store. archive may be nil.
func NewPipeline(source Source, router *sensor.Router, store *logstore.Store, archive chan<- models.Record, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source:  source,
		router:  router,
		store:   store,
		archive: archive,
		logger:  logger,
	}
}

// Run blocks until the source ends or ctx is done
func (p *Pipeline) Run(ctx context.Context) error {
	lines := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		errCh <- p.source.Run(ctx, lines)
		close(lines)
	}()

	p.logger.Info("Ingest pipeline started", zap.String("source", p.source.Name()))

	for line := range lines {
		p.handle(ctx, line)
	}

	err := <-errCh
	p.logger.Info("Ingest pipeline stopped",
		zap.String("source", p.source.Name()),
		zap.Uint64("written", p.written.Load()),
		zap.Uint64("failed", p.failed.Load()))
	return err
}

func (p *Pipeline) handle(ctx context.Context, line string) {
	routed, ok := p.router.Handle(line)
	if !ok {
		return
	}

	removed, err := p.store.AppendAndTrim(routed.Log, routed.Record)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("Failed to store reading", zap.String("log", routed.Log), zap.Error(err))
		return
	}

	p.written.Add(1)
	if removed > 0 {
		p.trimmed.Add(uint64(removed))
		p.logger.Debug("Trimmed log", zap.String("log", routed.Log), zap.Int("removed", removed))
	}

	if p.archive == nil {
		return
	}

	select {
	case p.archive <- routed.Record.Model(routed.Log):
	case <-time.After(archiveSendTimeout):
		p.dropped.Add(1)
		p.logger.Warn("Timeout sending record to archive, dropping it", zap.String("log", routed.Log))
	case <-ctx.Done():
	}
}

// Stats returns a snapshot of the counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Written: p.written.Load(),
		Trimmed: p.trimmed.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
	}
}
