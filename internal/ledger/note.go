package ledger

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sasha-s/go-deadlock"
)

// NoteID identifies a note. IDs are assigned sequentially starting at 1.
type NoteID uint64

func (id NoteID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseNoteID parses a base-10 note id.
func ParseNoteID(s string) (NoteID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return NoteID(v), nil
}

// NoteState is the funding lifecycle of a note.
type NoteState int32

const (
	NoteOpen NoteState = iota
	NoteFunded
)

func (s NoteState) String() string {
	if s == NoteFunded {
		return "FUNDED"
	}
	return "OPEN"
}

// Note is the mutable record behind a note id.
type Note struct {
	ID          NoteID
	TokenRef    common.Address
	Beneficiary common.Address
	Goal        uint256.Int
	Raised      uint256.Int
	Closed      bool
	Terms       []byte
	AccPerShare uint256.Int

	TotalDeposited uint256.Int
	TotalClaimed   uint256.Int
	DepositCount   uint64
	CreatedAt      time.Time
}

// Stake is one investor's position in a note.
type Stake struct {
	Invested   uint256.Int
	RewardDebt uint256.Int
	Claimed    uint256.Int
}

// YieldDepositRecord is the append-only log of deposits into a note.
type YieldDepositRecord struct {
	NoteID               NoteID
	Payer                common.Address
	Amount               uint256.Int
	ResultingAccPerShare uint256.Int
	Sequence             uint64
	Timestamp            time.Time
}

// NoteStatus is an immutable view of a note published after every commit.
type NoteStatus struct {
	ID             NoteID
	TokenRef       common.Address
	Beneficiary    common.Address
	Goal           uint256.Int
	Raised         uint256.Int
	Closed         bool
	Terms          []byte
	AccPerShare    uint256.Int
	TotalDeposited uint256.Int
	TotalClaimed   uint256.Int
	DepositCount   uint64
	InvestorCount  int
	CreatedAt      time.Time

	// Version is bumped on every commit to the note.
	Version uint64
}

func (s NoteStatus) State() NoteState {
	if s.Closed {
		return NoteFunded
	}
	return NoteOpen
}

// noteEntry holds a note and everything hanging off it.
//
// writeMu serializes mutations, including the payout inside claim.
// stateMu guards the fields below it and is held for writing only while a
// mutation copies its result in, so readers never wait on a payout.
type noteEntry struct {
	writeMu deadlock.Mutex

	stateMu  deadlock.RWMutex
	note     Note
	stakes   map[common.Address]*Stake
	deposits []YieldDepositRecord
	noteSeq  uint64
	lastSeq  uint64
	chain    *ChainHasher

	status  atomic.Pointer[NoteStatus]
	version uint64
}

func newNoteEntry(n Note) *noteEntry {
	e := &noteEntry{
		note:   n,
		stakes: make(map[common.Address]*Stake),
		chain:  NewChainHasher(),
	}
	e.publishStatus()
	return e
}

// publishStatus swaps in a fresh status snapshot. Caller holds writeMu.
func (e *noteEntry) publishStatus() {
	e.version++
	st := &NoteStatus{
		ID:             e.note.ID,
		TokenRef:       e.note.TokenRef,
		Beneficiary:    e.note.Beneficiary,
		Goal:           e.note.Goal,
		Raised:         e.note.Raised,
		Closed:         e.note.Closed,
		Terms:          append([]byte(nil), e.note.Terms...),
		AccPerShare:    e.note.AccPerShare,
		TotalDeposited: e.note.TotalDeposited,
		TotalClaimed:   e.note.TotalClaimed,
		DepositCount:   e.note.DepositCount,
		InvestorCount:  len(e.stakes),
		CreatedAt:      e.note.CreatedAt,
		Version:        e.version,
	}
	e.status.Store(st)
}

// stake returns a copy of the investor's stake, zero if absent.
// Caller holds stateMu or writeMu.
func (e *noteEntry) stake(investor common.Address) Stake {
	if s, ok := e.stakes[investor]; ok {
		return *s
	}
	return Stake{}
}

// noteCheckpoint is the part of a note one replayed entry can touch.
type noteCheckpoint struct {
	note     Note
	investor common.Address
	stake    *Stake
	deposits int
}

// checkpoint records the note and one investor's stake. Caller holds writeMu.
func (e *noteEntry) checkpoint(investor common.Address) noteCheckpoint {
	cp := noteCheckpoint{note: e.note, investor: investor, deposits: len(e.deposits)}
	if s, ok := e.stakes[investor]; ok {
		saved := *s
		cp.stake = &saved
	}
	return cp
}

// restore undoes everything done since cp was taken. Caller holds writeMu.
func (e *noteEntry) restore(cp noteCheckpoint) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.note = cp.note
	if cp.stake == nil {
		delete(e.stakes, cp.investor)
	} else {
		s := *cp.stake
		e.stakes[cp.investor] = &s
	}
	e.deposits = e.deposits[:cp.deposits]
}
