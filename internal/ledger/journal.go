package ledger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EntryType is the kind of mutation a journal entry records.
type EntryType int32

const (
	EntryNoteCreated EntryType = iota + 1
	EntryInvested
	EntryYieldDeposited
	EntryClaimed
)

func (t EntryType) String() string {
	switch t {
	case EntryNoteCreated:
		return "NoteCreated"
	case EntryInvested:
		return "Invested"
	case EntryYieldDeposited:
		return "YieldDeposited"
	case EntryClaimed:
		return "Claimed"
	default:
		return "Unknown"
	}
}

// ParseEntryType is the inverse of EntryType.String.
func ParseEntryType(s string) (EntryType, error) {
	switch s {
	case "NoteCreated":
		return EntryNoteCreated, nil
	case "Invested":
		return EntryInvested, nil
	case "YieldDeposited":
		return EntryYieldDeposited, nil
	case "Claimed":
		return EntryClaimed, nil
	}
	return 0, fmt.Errorf("unknown entry type %q", s)
}

// Entry is one committed mutation. Exactly one entry is emitted per
// successful operation.
//
// Account and Amount depend on Type:
//
//	NoteCreated     beneficiary, goal
//	Invested        investor, amount invested
//	YieldDeposited  payer, amount deposited
//	Claimed         investor, amount paid
type Entry struct {
	EntryID   uuid.UUID
	RequestID uuid.UUID
	Sequence  uint64 // global, assigned at emit
	NoteID    NoteID
	NoteSeq   uint64 // per note, starting at 1
	Type      EntryType

	Account common.Address
	Amount  uint256.Int

	// Post-state of the note
	Raised      uint256.Int
	AccPerShare uint256.Int
	Closed      bool

	// Only set on NoteCreated
	TokenRef common.Address
	Terms    []byte

	Timestamp time.Time
	PrevHash  [32]byte
	StateHash [32]byte
}

// Digest returns the canonical bytes covered by the hash chain.
// Layout (big-endian): type(4) account(20) amount(32) raised(32) acc(32)
// closed(1) token(20) terms_len(4) terms request_id(16) timestamp_ns(8).
func (e *Entry) Digest() []byte {
	buf := make([]byte, 0, 4+20+32*3+1+20+4+len(e.Terms)+16+8)

	buf = binary.BigEndian.AppendUint32(buf, uint32(e.Type))
	buf = append(buf, e.Account.Bytes()...)

	amount := e.Amount.Bytes32()
	buf = append(buf, amount[:]...)
	raised := e.Raised.Bytes32()
	buf = append(buf, raised[:]...)
	acc := e.AccPerShare.Bytes32()
	buf = append(buf, acc[:]...)

	if e.Closed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, e.TokenRef.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Terms)))
	buf = append(buf, e.Terms...)
	buf = append(buf, e.RequestID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp.UnixNano()))

	return buf
}

// VerifyHash recomputes the chain link from PrevHash.
func (e *Entry) VerifyHash() error {
	want := chainHash(e.PrevHash, e.NoteID, e.NoteSeq, e.Digest())
	if want != e.StateHash {
		return fmt.Errorf("entry note=%d seq=%d: hash mismatch", e.NoteID, e.NoteSeq)
	}
	return nil
}

// Validate ensures the entry is well-formed.
func (e *Entry) Validate() error {
	if e.NoteID == 0 {
		return fmt.Errorf("entry %s has no note id", e.EntryID)
	}
	if e.NoteSeq == 0 {
		return fmt.Errorf("entry %s has zero note sequence", e.EntryID)
	}

	switch e.Type {
	case EntryNoteCreated:
		if e.NoteSeq != 1 {
			return fmt.Errorf("entry %s: NoteCreated at note sequence %d", e.EntryID, e.NoteSeq)
		}
	case EntryInvested, EntryYieldDeposited, EntryClaimed:
		if e.NoteSeq == 1 {
			return fmt.Errorf("entry %s: %s before NoteCreated", e.EntryID, e.Type)
		}
	default:
		return fmt.Errorf("entry %s has unknown type %d", e.EntryID, e.Type)
	}

	if e.Amount.IsZero() {
		return fmt.Errorf("entry %s has zero amount", e.EntryID)
	}
	if e.Type == EntryNoteCreated && !e.Raised.IsZero() {
		return fmt.Errorf("entry %s: note created with non-zero raised", e.EntryID)
	}

	return nil
}

// Sink receives entries in commit order per note. Emit is called while the
// note's writer lock is held and may block.
type Sink interface {
	Emit(entry Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(entry Entry)

func (f SinkFunc) Emit(entry Entry) { f(entry) }

type discardSink struct{}

func (discardSink) Emit(Entry) {}
