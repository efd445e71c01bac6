package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/metrics"
	"github.com/juny6654/longplan/internal/retry"
)

const (
	// writerBufferSize holds about ten seconds of plans at the actuation
	// cadence before drops begin.
	writerBufferSize = 256

	writerBatchMax   = 100
	writerFlushEvery = 500 * time.Millisecond
	writerFlushLimit = 5 * time.Second

	// writerRetryMax bounds how many flush ticks a batch survives a
	// transient repository fault. The buffer covers the retry window, so
	// nothing is dropped unless the fault outlasts it.
	writerRetryMax = 3
)

// Writer is the drive-log plan sink. Accept never blocks: plans land in a
// bounded buffer and a background goroutine flushes them to the repository
// in batches. When the buffer is full the newest record is dropped and
// counted; the archive is best effort and must never stall the cycle.
type Writer struct {
	repo   DriveLogRepository
	logger *slog.Logger
	buf    chan model.Plan

	retries int
}

func NewWriter(repo DriveLogRepository, logger *slog.Logger) *Writer {
	return &Writer{
		repo:   repo,
		logger: logger.With("component", "drivelog"),
		buf:    make(chan model.Plan, writerBufferSize),
	}
}

func (w *Writer) Accept(_ context.Context, plan model.Plan) error {
	select {
	case w.buf <- plan:
		metrics.DriveLogRecordsTotal.Inc()
	default:
		metrics.DriveLogDroppedTotal.Inc()
	}
	return nil
}

// Run flushes buffered plans until the context ends, then drains what is
// left so a clean shutdown loses nothing.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(writerFlushEvery)
	defer ticker.Stop()

	batch := make([]model.Plan, 0, writerBatchMax)
	for {
		select {
		case <-ctx.Done():
			w.flush(w.drain(batch))
			return ctx.Err()
		case <-ticker.C:
			batch = w.flush(w.drain(batch))
		}
	}
}

// drain moves buffered plans into the batch without blocking.
func (w *Writer) drain(batch []model.Plan) []model.Plan {
	for len(batch) < writerBatchMax {
		select {
		case plan := <-w.buf:
			batch = append(batch, plan)
		default:
			return batch
		}
	}
	return batch
}

// flush writes the batch and returns the reusable empty slice. A transient
// failure keeps the batch for the next tick within writerRetryMax; a
// terminal failure drops it, because retrying poisoned records would stall
// the archive behind them.
func (w *Writer) flush(batch []model.Plan) []model.Plan {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), writerFlushLimit)
	defer cancel()

	start := time.Now()
	err := w.repo.InsertPlans(ctx, batch)
	metrics.DriveLogFlushDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.DriveLogFlushesTotal.Inc()
		w.retries = 0
		return batch[:0]
	}

	metrics.DriveLogFlushErrors.Inc()
	decision := retry.Classify(err)
	if decision.IsTransient() && w.retries < writerRetryMax {
		w.retries++
		metrics.DriveLogFlushRetries.Inc()
		w.logger.Warn("drive log flush failed, batch kept",
			"error", err,
			"reason", decision.Reason,
			"attempt", w.retries,
			"batch", len(batch),
		)
		return batch
	}

	w.logger.Error("drive log batch dropped",
		"error", err,
		"reason", decision.Reason,
		"attempts", w.retries+1,
		"batch", len(batch),
	)
	w.retries = 0
	return batch[:0]
}
