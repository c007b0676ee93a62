package core

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// replayPageSize bounds how many entries are held in memory during replay.
const replayPageSize = 10_000

// RecoverySource is the read side of the store used on start-up.
type RecoverySource interface {
	LoadLatestSnapshot(ctx context.Context) (*ledger.Snapshot, error)
	LoadEntriesAfter(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error)
}

type RecoveryStats struct {
	SnapshotSequence uint64
	SnapshotNotes    int
	EntriesApplied   int
	EntriesSkipped   int
	LastSequence     uint64
	Took             time.Duration
}

// Recover rebuilds l from the latest snapshot plus the journal tail.
// l must be empty. Every replayed entry has its hash, its place in the
// note's chain and its post-state verified; any mismatch aborts start-up.
func Recover(ctx context.Context, l *ledger.Ledger, src RecoverySource, metrics *observability.Metrics, logger zerolog.Logger) (RecoveryStats, error) {
	start := time.Now()
	var stats RecoveryStats

	sv := NewSequenceValidator(metrics)

	snap, err := src.LoadLatestSnapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := l.RestoreState(snap); err != nil {
			return stats, fmt.Errorf("restore snapshot at %d: %w", snap.Sequence, err)
		}
		for _, ns := range snap.Notes {
			sv.SetExpectedSequence(ns.Note.ID, ns.NoteSeq+1)
		}
		stats.SnapshotSequence = snap.Sequence
		stats.SnapshotNotes = len(snap.Notes)
		logger.Info().
			Uint64("sequence", snap.Sequence).
			Int("notes", len(snap.Notes)).
			Msg("snapshot restored")
	}

	cursor := stats.SnapshotSequence
	for {
		entries, err := src.LoadEntriesAfter(ctx, cursor, replayPageSize)
		if err != nil {
			return stats, fmt.Errorf("load entries after %d: %w", cursor, err)
		}

		for _, entry := range entries {
			apply, err := sv.ValidateEntry(entry)
			if err != nil {
				return stats, err
			}
			if !apply {
				stats.EntriesSkipped++
				continue
			}
			if err := l.Apply(entry); err != nil {
				if errors.Is(err, ledger.ErrAlreadyApplied) {
					stats.EntriesSkipped++
					continue
				}
				return stats, fmt.Errorf("replay entry %d: %w", entry.Sequence, err)
			}
			stats.EntriesApplied++
		}

		if len(entries) > 0 {
			cursor = entries[len(entries)-1].Sequence
		}
		if len(entries) < replayPageSize {
			break
		}
	}

	if err := l.AuditAll(); err != nil {
		return stats, fmt.Errorf("post-replay audit: %w", err)
	}

	stats.LastSequence = l.Sequence()
	stats.Took = time.Since(start)

	if metrics != nil {
		metrics.ReplayEntriesTotal.Add(float64(stats.EntriesApplied))
		metrics.ReplayDuration.Set(stats.Took.Seconds())
		metrics.JournalSequence.Set(float64(stats.LastSequence))
	}
	logger.Info().
		Int("applied", stats.EntriesApplied).
		Int("skipped", stats.EntriesSkipped).
		Uint64("last_sequence", stats.LastSequence).
		Dur("took", stats.Took).
		Msg("replay complete")

	return stats, nil
}
