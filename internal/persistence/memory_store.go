package persistence

import (
	"NoteLedger/internal/ledger"
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
)

// MemoryStore keeps everything in process. Used by tests and the "memory"
// driver; nothing survives a restart.
type MemoryStore struct {
	mu        deadlock.RWMutex
	entries   map[uint64]ledger.Entry
	requests  map[uuid.UUID]uint64
	snapshots []*ledger.Snapshot
	closed    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[uint64]ledger.Entry),
		requests: make(map[uuid.UUID]uint64),
	}
}

func (s *MemoryStore) AppendEntries(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for _, e := range entries {
		if _, exists := s.entries[e.Sequence]; exists {
			continue
		}
		s.entries[e.Sequence] = e
		if e.RequestID != uuid.Nil {
			s.requests[e.RequestID] = e.Sequence
		}
	}
	return nil
}

func (s *MemoryStore) LoadEntriesAfter(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	seqs := s.sortedSequences()
	idx := sort.Search(len(seqs), func(i int) bool { return seqs[i] > after })

	out := make([]ledger.Entry, 0)
	for _, seq := range seqs[idx:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.entries[seq])
	}
	return out, nil
}

func (s *MemoryStore) HasRequest(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	_, ok := s.requests[id]
	return ok, nil
}

func (s *MemoryStore) RecentRequestIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	seqs := s.sortedSequences()
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[len(seqs)-limit:]
	}
	ids := make([]uuid.UUID, 0, len(seqs))
	for _, seq := range seqs {
		if id := s.entries[seq].RequestID; id != uuid.Nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListDeposits(ctx context.Context, id ledger.NoteID) ([]ledger.YieldDepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []ledger.YieldDepositRecord
	for _, seq := range s.sortedSequences() {
		e := s.entries[seq]
		if e.NoteID == id && e.Type == ledger.EntryYieldDeposited {
			out = append(out, depositFromEntry(&e, uint64(len(out)+1)))
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *MemoryStore) LoadLatestSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var latest *ledger.Snapshot
	for _, snap := range s.snapshots {
		if latest == nil || snap.Sequence >= latest.Sequence {
			latest = snap
		}
	}
	return latest, nil
}

func (s *MemoryStore) LatestSequence(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	var latest uint64
	for seq := range s.entries {
		if seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sortedSequences is called with mu held.
func (s *MemoryStore) sortedSequences() []uint64 {
	seqs := make([]uint64, 0, len(s.entries))
	for seq := range s.entries {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
