package persistence

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StateSource is what the snapshotter copies.
type StateSource interface {
	ExportState() *ledger.Snapshot
	Sequence() uint64
}

// Durability reports how far the journal has been written.
type Durability interface {
	Watermark() uint64
}

// Snapshotter takes periodic snapshots. A snapshot is saved only once every
// entry it reflects is durable; otherwise a crash could leave a snapshot
// ahead of the journal and a hole in some note's chain.
type Snapshotter struct {
	store    Store
	source   StateSource
	durable  Durability
	interval uint64
	poll     time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSeq uint64
}

func NewSnapshotter(
	store Store,
	source StateSource,
	durable Durability,
	interval uint64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Snapshotter {
	return &Snapshotter{
		store:    store,
		source:   source,
		durable:  durable,
		interval: interval,
		poll:     time.Second,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetLastSequence records the sequence of the snapshot recovery started from.
func (s *Snapshotter) SetLastSequence(seq uint64) {
	s.lastSeq = seq
}

// Run takes a snapshot whenever interval entries have accumulated since the
// last one. Blocks until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	if s.interval == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.source.Sequence()-s.lastSeq < s.interval {
				continue
			}
			if err := s.Take(ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// Take copies the state, waits until the journal has caught up with it and
// saves it.
func (s *Snapshotter) Take(ctx context.Context) error {
	start := time.Now()
	snap := s.source.ExportState()

	var covered uint64
	for _, ns := range snap.Notes {
		if ns.LastSeq > covered {
			covered = ns.LastSeq
		}
	}
	if err := s.waitDurable(ctx, covered); err != nil {
		return fmt.Errorf("wait for journal up to %d: %w", covered, err)
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot at %d: %w", snap.Sequence, err)
	}
	s.lastSeq = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		if data, err := json.Marshal(snap); err == nil {
			s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		}
	}
	s.logger.Info().
		Uint64("sequence", snap.Sequence).
		Int("notes", len(snap.Notes)).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return nil
}

func (s *Snapshotter) waitDurable(ctx context.Context, seq uint64) error {
	if s.durable == nil {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.durable.Watermark() < seq {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
