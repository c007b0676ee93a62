package query

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/persistence"
	"context"
	"fmt"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000

	verifyPageSize = 10_000
	maxChainBreaks = 10
)

// Durability reports how far the store is known to be complete.
type Durability interface {
	Watermark() uint64
}

// QueryService provides read-only access to the persisted journal and its
// projections. Reads are as fresh as the persistence worker's watermark;
// every response carries as_of_sequence.
type QueryService struct {
	store   persistence.Store
	durable Durability
}

func NewQueryService(store persistence.Store, durable Durability) *QueryService {
	return &QueryService{store: store, durable: durable}
}

// Journal returns persisted entries with sequence > after.
func (qs *QueryService) Journal(ctx context.Context, after uint64, limit int) (*JournalPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	asOf := qs.watermark()
	entries, err := qs.store.LoadEntriesAfter(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	page := &JournalPage{Entries: entries, AsOfSequence: asOf}
	if len(entries) == limit {
		page.Next = entries[len(entries)-1].Sequence
	}
	return page, nil
}

// DepositHistory reads the yield deposit projection for one note.
func (qs *QueryService) DepositHistory(ctx context.Context, id ledger.NoteID) ([]ledger.YieldDepositRecord, uint64, error) {
	asOf := qs.watermark()
	deps, err := qs.store.ListDeposits(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("list deposits: %w", err)
	}
	return deps, asOf, nil
}

// GetEventLogInfo returns the latest persisted and snapshotted sequences.
func (qs *QueryService) GetEventLogInfo(ctx context.Context) (*EventLogInfo, error) {
	latest, err := qs.store.LatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest sequence: %w", err)
	}

	info := &EventLogInfo{LatestSequence: latest, DurableSequence: qs.watermark()}

	snap, err := qs.store.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if snap != nil {
		info.SnapshotSequence = snap.Sequence
		info.SnapshotNotes = len(snap.Notes)
	}
	return info, nil
}

// --- Admin APIs ---

// VerifyIntegrity walks the whole persisted journal and checks every
// entry's hash and its link to the previous entry of the same note.
// At most maxChainBreaks breaks are reported.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{AsOfSequence: qs.watermark()}

	type tip struct {
		seq  uint64
		hash [32]byte
	}
	tips := make(map[ledger.NoteID]tip)
	genesis := ledger.GenesisHash()

	var cursor uint64
	for {
		entries, err := qs.store.LoadEntriesAfter(ctx, cursor, verifyPageSize)
		if err != nil {
			return nil, fmt.Errorf("load entries after %d: %w", cursor, err)
		}

		for i := range entries {
			e := &entries[i]
			report.EntriesChecked++

			prev, known := tips[e.NoteID]
			if !known {
				prev = tip{hash: genesis}
			}

			var reason string
			switch {
			case e.VerifyHash() != nil:
				reason = "state hash mismatch"
			case e.NoteSeq != prev.seq+1:
				reason = fmt.Sprintf("note sequence gap, expected %d", prev.seq+1)
			case e.PrevHash != prev.hash:
				reason = "prev hash does not match chain tip"
			}
			if reason != "" && len(report.ChainBreaks) < maxChainBreaks {
				report.ChainBreaks = append(report.ChainBreaks, ChainBreak{
					NoteID:   e.NoteID,
					NoteSeq:  e.NoteSeq,
					Sequence: e.Sequence,
					Reason:   reason,
				})
			}
			tips[e.NoteID] = tip{seq: e.NoteSeq, hash: e.StateHash}
		}

		if len(entries) < verifyPageSize {
			break
		}
		cursor = entries[len(entries)-1].Sequence
	}

	report.Notes = len(tips)
	report.IsHealthy = len(report.ChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) watermark() uint64 {
	if qs.durable == nil {
		return 0
	}
	return qs.durable.Watermark()
}
