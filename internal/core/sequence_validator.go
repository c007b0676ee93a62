package core

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"fmt"
)

// SequenceValidator checks that replayed entries arrive contiguously per
// note. The global sequence may have holes across notes; a note's own
// sequence may not. Not thread-safe; used by a single recovery goroutine.
type SequenceValidator struct {
	expectedNextSeq map[ledger.NoteID]uint64
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[ledger.NoteID]uint64),
		metrics:         metrics,
	}
}

// ValidateEntry reports whether entry should be applied. Entries already
// covered (below the expected sequence) return false with no error.
func (sv *SequenceValidator) ValidateEntry(entry ledger.Entry) (bool, error) {
	expected, known := sv.expectedNextSeq[entry.NoteID]
	if !known {
		expected = 1
	}

	if entry.NoteSeq < expected {
		return false, nil
	}

	if entry.NoteSeq == expected {
		sv.expectedNextSeq[entry.NoteID] = expected + 1
		return true, nil
	}

	if sv.metrics != nil {
		sv.metrics.ReplaySequenceGap.WithLabelValues(entry.NoteID.String()).Inc()
	}
	return false, fmt.Errorf("sequence gap: note=%d, expected=%d, got=%d",
		entry.NoteID, expected, entry.NoteSeq)
}

// GetExpectedSequence returns the next expected per-note sequence.
func (sv *SequenceValidator) GetExpectedSequence(id ledger.NoteID) uint64 {
	if seq, ok := sv.expectedNextSeq[id]; ok {
		return seq
	}
	return 1
}

// SetExpectedSequence initializes a note's expected sequence from a snapshot.
func (sv *SequenceValidator) SetExpectedSequence(id ledger.NoteID, next uint64) {
	sv.expectedNextSeq[id] = next
}
