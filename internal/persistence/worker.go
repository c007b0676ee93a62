package persistence

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes to the store.
// The ledger sends on the persist channel while holding a note's writer
// lock, so if this worker falls behind writers stall and nothing is lost.
// Entries are forwarded to the publish channel only after they are durable.
type Worker struct {
	store        Store
	inputChan    <-chan ledger.Entry
	publishChan  chan<- ledger.Entry
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// watermark is the highest sequence W such that every entry with
	// sequence <= W has been written. Entries from different notes may
	// reach the channel out of sequence order, so written holds the ones
	// above the watermark until the gap closes. Only Run touches written.
	watermark atomic.Uint64
	written   map[uint64]struct{}
}

func NewWorker(
	store Store,
	inputChan <-chan ledger.Entry,
	publishChan chan<- ledger.Entry,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Worker{
		store:        store,
		inputChan:    inputChan,
		publishChan:  publishChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
		written:      make(map[uint64]struct{}),
	}
}

// SetWatermark seeds the watermark after recovery. Call before Run.
func (w *Worker) SetWatermark(seq uint64) {
	w.watermark.Store(seq)
}

// Watermark returns the highest sequence below which everything is durable.
func (w *Worker) Watermark() uint64 {
	return w.watermark.Load()
}

// Run batches incoming entries and flushes when the batch is full or the
// flush timeout expires. Returns when the input channel is closed (after a
// final flush) or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]ledger.Entry, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Int("entries", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case entry, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.logger.Error().Err(err).Int("entries", len(batch)).Msg("final flush failed")
						return err
					}
				}
				return nil
			}

			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The worker never drops entries.
func (w *Worker) flushWithRetry(ctx context.Context, batch []ledger.Entry) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("entries", len(batch)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// One last attempt so the batch is not lost on shutdown.
				return w.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		w.logger.Error().Err(err).Msg("persistence flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, batch []ledger.Entry) error {
	start := time.Now()

	if err := w.store.AppendEntries(ctx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("append").Inc()
		}
		return err
	}

	var last uint64
	for i := range batch {
		w.markWritten(batch[i].Sequence)
		if batch[i].Sequence > last {
			last = batch[i].Sequence
		}
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEntriesWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(last))
	}

	if w.publishChan != nil {
		for _, entry := range batch {
			// Non-blocking: consumers can catch up from the store.
			select {
			case w.publishChan <- entry:
			default:
				if w.metrics != nil {
					w.metrics.PublishDrops.Inc()
				}
			}
		}
	}
	return nil
}

func (w *Worker) markWritten(seq uint64) {
	wm := w.watermark.Load()
	if seq <= wm {
		return
	}
	w.written[seq] = struct{}{}
	for {
		if _, ok := w.written[wm+1]; !ok {
			break
		}
		delete(w.written, wm+1)
		wm++
	}
	w.watermark.Store(wm)
}
