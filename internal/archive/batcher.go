package archive

import (
	"context"
	"sync"
	"time"

	"github.com/oicur0t/sensorlog/pkg/models"
	"go.uber.org/zap"
)

// BatchSender writes one log's batch to the archive
type BatchSender interface {
	InsertBatch(ctx context.Context, batch models.RecordBatch) error
}

// Batcher accumulates records per log and hands them to a BatchSender when a
// batch is full or every maxWait
type Batcher struct {
	maxSize int
	maxWait time.Duration
	logger  *zap.Logger
	sender  BatchSender

	records chan models.Record
	mu      sync.Mutex
	batches map[string][]models.Record // log name -> records
}

// NewBatcher creates a batcher with a queue of queueSize records
func NewBatcher(maxSize int, maxWait time.Duration, queueSize int, logger *zap.Logger, sender BatchSender) *Batcher {
	return &Batcher{
		maxSize: maxSize,
		maxWait: maxWait,
		logger:  logger,
		sender:  sender,
		records: make(chan models.Record, queueSize),
		batches: make(map[string][]models.Record),
	}
}

// Records returns the channel the ingest pipeline sends to
func (b *Batcher) Records() chan<- models.Record {
	return b.records
}

// Start batches until ctx is done, then flushes what is left
func (b *Batcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(b.maxWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			// ctx is already done; the final flush gets its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), b.maxWait)
			if err := b.flush(flushCtx); err != nil {
				b.logger.Error("Failed to flush final batch", zap.Error(err))
			}
			cancel()
			return ctx.Err()

		case rec := <-b.records:
			if b.add(rec) {
				if err := b.flushLog(ctx, rec.Log); err != nil {
					b.logger.Error("Failed to flush batch", zap.Error(err), zap.String("log", rec.Log))
				}
				ticker.Reset(b.maxWait)
			}

		case <-ticker.C:
			if err := b.flush(ctx); err != nil {
				b.logger.Error("Failed to flush batch on timer", zap.Error(err))
			}
		}
	}
}

// add queues rec and reports whether its log's batch is full
func (b *Batcher) add(rec models.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.batches[rec.Log]; !exists {
		b.batches[rec.Log] = make([]models.Record, 0, b.maxSize)
	}
	b.batches[rec.Log] = append(b.batches[rec.Log], rec)
	return len(b.batches[rec.Log]) >= b.maxSize
}

// drain moves whatever is still queued into the batches
func (b *Batcher) drain() {
	for {
		select {
		case rec := <-b.records:
			b.add(rec)
		default:
			return
		}
	}
}

// flush sends every pending batch. The first error is returned after all
// logs have been attempted.
func (b *Batcher) flush(ctx context.Context) error {
	b.mu.Lock()
	logs := make([]string, 0, len(b.batches))
	for name := range b.batches {
		logs = append(logs, name)
	}
	b.mu.Unlock()

	var firstErr error
	for _, name := range logs {
		if err := b.flushLog(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushLog sends the batch of one log
func (b *Batcher) flushLog(ctx context.Context, logName string) error {
	b.mu.Lock()
	batch, exists := b.batches[logName]
	if !exists || len(batch) == 0 {
		b.mu.Unlock()
		return nil
	}

	toSend := models.RecordBatch{
		Log:     logName,
		Records: make([]models.Record, len(batch)),
	}
	copy(toSend.Records, batch)
	b.batches[logName] = b.batches[logName][:0]
	b.mu.Unlock()

	b.logger.Debug("Flushing batch",
		zap.Int("size", len(toSend.Records)),
		zap.String("log", logName))

	if err := b.sender.InsertBatch(ctx, toSend); err != nil {
		b.logger.Error("Failed to archive batch",
			zap.Error(err),
			zap.Int("size", len(toSend.Records)),
			zap.String("log", logName))
		return err
	}

	return nil
}
