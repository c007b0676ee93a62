package ledger

import (
	fpmath "NoteLedger/internal/math"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrAlreadyApplied is returned by Apply for an entry the note already
// reflects, typically because it is covered by the restored snapshot.
var ErrAlreadyApplied = errors.New("entry already applied")

// Apply re-executes a persisted journal entry without emitting a new one and
// without moving tokens. The entry's hash, its place in the note's chain and
// the resulting post-state are all checked. A rejected entry leaves the
// ledger as it was: a replayed note is only registered once its NoteCreated
// entry checks out, and any other note is restored on failure.
func (l *Ledger) Apply(entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := entry.VerifyHash(); err != nil {
		return err
	}

	var created bool
	e, err := l.registry.lookup(entry.NoteID)
	switch {
	case err == nil:
		e.writeMu.Lock()
	case entry.Type == EntryNoteCreated && errors.Is(err, ErrNoteNotFound):
		if err := fpmath.ValidateAmount(&entry.Amount); err != nil {
			return fmt.Errorf("note %d goal: %w", entry.NoteID, ErrAmountOverflow)
		}
		e = newLockedNoteEntry(entry.NoteID, &entry.Amount, entry.TokenRef, entry.Account, entry.Terms, entry.Timestamp)
		created = true
	default:
		return err
	}
	defer e.writeMu.Unlock()

	if entry.NoteSeq <= e.noteSeq {
		return fmt.Errorf("note %d seq %d: %w", entry.NoteID, entry.NoteSeq, ErrAlreadyApplied)
	}
	if entry.NoteSeq != e.noteSeq+1 {
		return fmt.Errorf("note %d: sequence gap, expected %d got %d", entry.NoteID, e.noteSeq+1, entry.NoteSeq)
	}
	if entry.PrevHash != e.chain.Tip() {
		return fmt.Errorf("note %d seq %d: prev hash does not match chain tip", entry.NoteID, entry.NoteSeq)
	}

	cp := e.checkpoint(entry.Account)
	if err := l.replay(e, entry); err != nil {
		if !created {
			e.restore(cp)
		}
		return err
	}
	if created {
		if err := l.registry.insertReplayed(e); err != nil {
			return err
		}
	}

	e.noteSeq = entry.NoteSeq
	e.chain.Advance(entry.StateHash)
	e.lastSeq = entry.Sequence
	e.publishStatus()

	for {
		cur := l.seq.Load()
		if entry.Sequence <= cur || l.seq.CompareAndSwap(cur, entry.Sequence) {
			break
		}
	}
	return nil
}

// replay applies entry's effect to e and checks the recorded post-state.
// The caller undoes the effect on error. Caller holds e.writeMu.
func (l *Ledger) replay(e *noteEntry, entry Entry) error {
	prevAcc := e.note.AccPerShare

	switch entry.Type {
	case EntryNoteCreated:
		// the note was built from this entry
	case EntryInvested:
		if _, err := l.pool.invest(e, entry.Account, &entry.Amount); err != nil {
			return fmt.Errorf("replay %s note %d seq %d: %w", entry.Type, entry.NoteID, entry.NoteSeq, err)
		}
	case EntryYieldDeposited:
		if _, err := l.distributor.deposit(e, entry.Account, &entry.Amount, entry.Timestamp); err != nil {
			return fmt.Errorf("replay %s note %d seq %d: %w", entry.Type, entry.NoteID, entry.NoteSeq, err)
		}
	case EntryClaimed:
		pending, err := l.distributor.pending(e, entry.Account)
		if err != nil {
			return fmt.Errorf("replay %s note %d seq %d: %w", entry.Type, entry.NoteID, entry.NoteSeq, err)
		}
		if !pending.Eq(&entry.Amount) {
			return fmt.Errorf("replay %s note %d seq %d: recorded %s but pending is %s",
				entry.Type, entry.NoteID, entry.NoteSeq, fpmath.FormatAmount(&entry.Amount), fpmath.FormatAmount(pending))
		}
		l.distributor.settle(e, entry.Account, pending)
	}

	n := &e.note
	if !n.Raised.Eq(&entry.Raised) || !n.AccPerShare.Eq(&entry.AccPerShare) || n.Closed != entry.Closed {
		return fmt.Errorf("replay %s seq %d: %s diverges from recorded raised=%s acc=%s closed=%v",
			entry.Type, entry.NoteSeq, formatNote(n),
			fpmath.FormatAmount(&entry.Raised), fpmath.FormatAmount(&entry.AccPerShare), entry.Closed)
	}
	return l.validator.CheckNote(e, &prevAcc)
}

// StakeState is one stake inside a snapshot.
type StakeState struct {
	Investor common.Address
	Stake    Stake
}

// NoteSnapshot captures everything needed to rebuild one note.
type NoteSnapshot struct {
	Note     Note
	NoteSeq  uint64
	LastSeq  uint64
	ChainTip [32]byte
	Stakes   []StakeState
	Deposits []YieldDepositRecord
}

// Snapshot is a point-in-time copy of the whole ledger. Entries with a global
// sequence above Sequence may or may not be reflected; replay skips those a
// note already covers by comparing note sequences.
type Snapshot struct {
	Sequence  uint64
	CreatedAt time.Time
	Notes     []NoteSnapshot
}

// ExportState copies the ledger. Each note is copied under its writer lock.
func (l *Ledger) ExportState() *Snapshot {
	snap := &Snapshot{
		Sequence:  l.seq.Load(),
		CreatedAt: l.timestamp(),
	}

	for _, e := range l.registry.entries() {
		e.writeMu.Lock()
		ns := NoteSnapshot{
			Note:     e.note,
			NoteSeq:  e.noteSeq,
			LastSeq:  e.lastSeq,
			ChainTip: e.chain.Tip(),
			Stakes:   make([]StakeState, 0, len(e.stakes)),
			Deposits: make([]YieldDepositRecord, len(e.deposits)),
		}
		ns.Note.Terms = append([]byte(nil), e.note.Terms...)
		for investor, s := range e.stakes {
			ns.Stakes = append(ns.Stakes, StakeState{Investor: investor, Stake: *s})
		}
		copy(ns.Deposits, e.deposits)
		e.writeMu.Unlock()

		sort.Slice(ns.Stakes, func(i, j int) bool {
			return bytes.Compare(ns.Stakes[i].Investor[:], ns.Stakes[j].Investor[:]) < 0
		})
		snap.Notes = append(snap.Notes, ns)
	}

	return snap
}

// RestoreState loads a snapshot into an empty ledger and audits every note.
func (l *Ledger) RestoreState(snap *Snapshot) error {
	if l.registry.Count() != 0 {
		return fmt.Errorf("restore: ledger already holds %d notes", l.registry.Count())
	}

	for _, ns := range snap.Notes {
		e := newNoteEntry(ns.Note)
		e.note.Terms = append([]byte(nil), ns.Note.Terms...)
		for _, st := range ns.Stakes {
			s := st.Stake
			e.stakes[st.Investor] = &s
		}
		e.deposits = append(e.deposits, ns.Deposits...)
		e.noteSeq = ns.NoteSeq
		e.lastSeq = ns.LastSeq
		e.chain.Reset(ns.ChainTip)

		if err := l.validator.CheckNote(e, new(uint256.Int)); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if _, err := l.validator.AuditNote(e); err != nil {
			return fmt.Errorf("restore: %w", err)
		}

		e.publishStatus()
		l.registry.adopt(e)
	}

	l.seq.Store(snap.Sequence)
	return nil
}
