package ledger

import (
	fpmath "NoteLedger/internal/math"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sasha-s/go-deadlock"
)

// NoteRegistry stores notes keyed by id. The map lock covers lookup and
// insert only; each note carries its own locks.
type NoteRegistry struct {
	mu     deadlock.RWMutex
	notes  map[NoteID]*noteEntry
	lastID NoteID
}

func NewNoteRegistry() *NoteRegistry {
	return &NoteRegistry{
		notes: make(map[NoteID]*noteEntry),
	}
}

// create validates and inserts a new note. The returned entry's writeMu is
// held so the caller can emit NoteCreated before anyone else touches it.
func (r *NoteRegistry) create(goal *uint256.Int, tokenRef, beneficiary common.Address, terms []byte, now time.Time) (*noteEntry, error) {
	if goal.IsZero() {
		return nil, ErrInvalidGoal
	}
	if err := fpmath.ValidateAmount(goal); err != nil {
		return nil, fmt.Errorf("goal: %w", ErrAmountOverflow)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insertLocked(r.lastID+1, goal, tokenRef, beneficiary, terms, now)
}

func (r *NoteRegistry) insertLocked(id NoteID, goal *uint256.Int, tokenRef, beneficiary common.Address, terms []byte, now time.Time) (*noteEntry, error) {
	e := newLockedNoteEntry(id, goal, tokenRef, beneficiary, terms, now)
	r.putLocked(e)
	return e, nil
}

// newLockedNoteEntry builds an unregistered note with its writeMu held.
func newLockedNoteEntry(id NoteID, goal *uint256.Int, tokenRef, beneficiary common.Address, terms []byte, now time.Time) *noteEntry {
	n := Note{
		ID:          id,
		TokenRef:    tokenRef,
		Beneficiary: beneficiary,
		Terms:       append([]byte(nil), terms...),
		CreatedAt:   now,
	}
	n.Goal.Set(goal)

	e := newNoteEntry(n)
	e.writeMu.Lock()
	return e
}

// insertReplayed registers a note rebuilt by replay, which must reproduce
// the recorded id. Concurrent creates may commit their journal entries out
// of id order, so replay can see note 3 before note 2.
func (r *NoteRegistry) insertReplayed(e *noteEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := e.note.ID
	if id == 0 {
		return fmt.Errorf("note id must be positive")
	}
	if _, exists := r.notes[id]; exists {
		return fmt.Errorf("note id %d already exists", id)
	}
	r.putLocked(e)
	return nil
}

// adopt inserts a fully built entry during snapshot restore.
func (r *NoteRegistry) adopt(e *noteEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(e)
}

func (r *NoteRegistry) putLocked(e *noteEntry) {
	r.notes[e.note.ID] = e
	if e.note.ID > r.lastID {
		r.lastID = e.note.ID
	}
}

func (r *NoteRegistry) lookup(id NoteID) (*noteEntry, error) {
	r.mu.RLock()
	e, ok := r.notes[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("note %d: %w", id, ErrNoteNotFound)
	}
	return e, nil
}

// Status returns the latest published snapshot of a note.
func (r *NoteRegistry) Status(id NoteID) (NoteStatus, error) {
	e, err := r.lookup(id)
	if err != nil {
		return NoteStatus{}, err
	}
	return *e.status.Load(), nil
}

// Count returns the number of notes ever created.
func (r *NoteRegistry) Count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.notes))
}

// entries returns every note ordered by id.
func (r *NoteRegistry) entries() []*noteEntry {
	r.mu.RLock()
	out := make([]*noteEntry, 0, len(r.notes))
	for _, e := range r.notes {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].note.ID < out[j].note.ID })
	return out
}
