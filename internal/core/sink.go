package core

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
)

// ChannelSink forwards journal entries to the persistence worker.
//
// The send is blocking: if the worker falls behind, writers stall on the
// note lock they hold rather than lose an entry.
type ChannelSink struct {
	persistChan chan<- ledger.Entry
	metrics     *observability.Metrics
}

func NewChannelSink(persistChan chan<- ledger.Entry, metrics *observability.Metrics) *ChannelSink {
	return &ChannelSink{persistChan: persistChan, metrics: metrics}
}

func (s *ChannelSink) Emit(entry ledger.Entry) {
	select {
	case s.persistChan <- entry:
	default:
		if s.metrics != nil {
			s.metrics.PersistBackpressure.Inc()
		}
		s.persistChan <- entry
	}

	if s.metrics == nil {
		return
	}
	s.metrics.JournalSequence.Set(float64(entry.Sequence))
	// Only the invest that reaches the goal carries closed=true.
	if entry.Type == ledger.EntryInvested && entry.Closed {
		s.metrics.NotesFunded.Inc()
	}
}
