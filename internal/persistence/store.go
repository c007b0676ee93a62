package persistence

import (
	"NoteLedger/internal/ledger"
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrStoreClosed = errors.New("persistence: store closed")

// Store is the durable side of the journal. Drivers: postgres, bolt, memory.
type Store interface {
	// AppendEntries writes a batch atomically. Entries already present
	// (same global sequence) are ignored so retries are safe.
	AppendEntries(ctx context.Context, entries []ledger.Entry) error

	// LoadEntriesAfter returns up to limit entries with Sequence > after,
	// in ascending sequence order.
	LoadEntriesAfter(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error)

	// HasRequest reports whether an entry was recorded for the request id.
	HasRequest(ctx context.Context, id uuid.UUID) (bool, error)

	// RecentRequestIDs returns up to limit request ids, oldest first, for
	// warming the dedup LRU.
	RecentRequestIDs(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ListDeposits reads the yield deposit projection for one note.
	ListDeposits(ctx context.Context, id ledger.NoteID) ([]ledger.YieldDepositRecord, error)

	SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error

	// LoadLatestSnapshot returns nil, nil when no snapshot exists.
	LoadLatestSnapshot(ctx context.Context) (*ledger.Snapshot, error)

	// LatestSequence is the highest persisted global sequence, 0 if empty.
	LatestSequence(ctx context.Context) (uint64, error)

	Close() error
}

// depositFromEntry projects a YieldDeposited entry. seq is the note's
// deposit count at the time, starting at 1.
func depositFromEntry(e *ledger.Entry, seq uint64) ledger.YieldDepositRecord {
	rec := ledger.YieldDepositRecord{
		NoteID:    e.NoteID,
		Payer:     e.Account,
		Sequence:  seq,
		Timestamp: e.Timestamp,
	}
	rec.Amount.Set(&e.Amount)
	rec.ResultingAccPerShare.Set(&e.AccPerShare)
	return rec
}
