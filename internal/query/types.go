package query

import (
	"NoteLedger/internal/ledger"
)

// JournalPage is one page of persisted entries.
type JournalPage struct {
	Entries []ledger.Entry `json:"entries"`
	// Next is the cursor for the following page, 0 when this page is the last.
	Next         uint64 `json:"next"`
	AsOfSequence uint64 `json:"as_of_sequence"`
}

// EventLogInfo summarizes what the store holds.
type EventLogInfo struct {
	LatestSequence   uint64 `json:"latest_sequence"`
	DurableSequence  uint64 `json:"durable_sequence"`
	SnapshotSequence uint64 `json:"snapshot_sequence"`
	SnapshotNotes    int    `json:"snapshot_notes"`
}

// ChainBreak is one entry that does not fit its note's hash chain.
type ChainBreak struct {
	NoteID   ledger.NoteID `json:"note_id"`
	NoteSeq  uint64        `json:"note_seq"`
	Sequence uint64        `json:"sequence"`
	Reason   string        `json:"reason"`
}

// IntegrityReport is the result of walking the persisted journal.
type IntegrityReport struct {
	EntriesChecked int          `json:"entries_checked"`
	Notes          int          `json:"notes"`
	ChainBreaks    []ChainBreak `json:"chain_breaks,omitempty"`
	IsHealthy      bool         `json:"is_healthy"`
	AsOfSequence   uint64       `json:"as_of_sequence"`
}
