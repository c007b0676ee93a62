package ledger

import (
	fpmath "NoteLedger/internal/math"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the id of the command being applied.
// The id is copied into the journal entry the command produces.
func ContextWithRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns uuid.Nil when ctx carries no request id.
func RequestIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(requestIDKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithSink sets where journal entries go. Defaults to discarding them.
func WithSink(sink Sink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// Ledger is the only way in to note state. Every mutation takes the note's
// writer lock, applies through FundingPool or YieldDistributor, checks
// invariants and emits one journal entry before the lock is released.
type Ledger struct {
	registry    *NoteRegistry
	pool        *FundingPool
	distributor *YieldDistributor
	validator   *InvariantValidator
	sink        Sink
	now         func() time.Time
	seq         atomic.Uint64
}

func New(token TokenLedger, opts ...Option) *Ledger {
	l := &Ledger{
		registry:    NewNoteRegistry(),
		pool:        NewFundingPool(),
		distributor: NewYieldDistributor(token),
		validator:   NewInvariantValidator(),
		sink:        discardSink{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateNote registers a new open note and returns its id.
func (l *Ledger) CreateNote(ctx context.Context, goal *uint256.Int, tokenRef, beneficiary common.Address, terms []byte) (NoteID, error) {
	now := l.timestamp()

	e, err := l.registry.create(goal, tokenRef, beneficiary, terms, now)
	if err != nil {
		return 0, err
	}
	defer e.writeMu.Unlock()

	l.mustHold(e, new(uint256.Int))
	l.emit(ctx, e, EntryNoteCreated, beneficiary, goal, now)
	return e.note.ID, nil
}

// Invest adds amount to the investor's stake and returns the cumulative
// amount invested by them in the note.
func (l *Ledger) Invest(ctx context.Context, id NoteID, investor common.Address, amount *uint256.Int) (*uint256.Int, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prevAcc := e.note.AccPerShare
	invested, err := l.pool.invest(e, investor, amount)
	if err != nil {
		return nil, err
	}

	l.mustHold(e, &prevAcc)
	l.emit(ctx, e, EntryInvested, investor, amount, l.timestamp())
	return invested, nil
}

// DepositYield distributes amount over the note's stakes and returns the
// resulting acc_per_share.
func (l *Ledger) DepositYield(ctx context.Context, id NoteID, payer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	now := l.timestamp()
	prevAcc := e.note.AccPerShare
	acc, err := l.distributor.deposit(e, payer, amount, now)
	if err != nil {
		return nil, err
	}

	l.mustHold(e, &prevAcc)
	l.emit(ctx, e, EntryYieldDeposited, payer, amount, now)
	return acc, nil
}

// Claim pays the investor everything they can claim and returns the amount
// paid. The payout runs under the note's writer lock.
func (l *Ledger) Claim(ctx context.Context, id NoteID, investor common.Address) (*uint256.Int, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prevAcc := e.note.AccPerShare
	paid, err := l.distributor.claim(ctx, e, investor)
	if err != nil {
		return nil, err
	}

	l.mustHold(e, &prevAcc)
	l.emit(ctx, e, EntryClaimed, investor, paid, l.timestamp())
	return paid, nil
}

// GetNoteStatus never blocks on writers.
func (l *Ledger) GetNoteStatus(id NoteID) (NoteStatus, error) {
	return l.registry.Status(id)
}

func (l *Ledger) NoteCount() uint64 {
	return l.registry.Count()
}

// Claimable returns the investor's pending yield; zero when they hold no stake.
func (l *Ledger) Claimable(id NoteID, investor common.Address) (*uint256.Int, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return l.distributor.pending(e, investor)
}

// StakeOf returns a copy of the investor's stake.
func (l *Ledger) StakeOf(id NoteID, investor common.Address) (Stake, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return Stake{}, err
	}

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.stake(investor), nil
}

// DepositHistory returns the note's yield deposits in sequence order.
func (l *Ledger) DepositHistory(id NoteID) ([]YieldDepositRecord, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	out := make([]YieldDepositRecord, len(e.deposits))
	copy(out, e.deposits)
	return out, nil
}

// Audit runs the full invariant audit on one note.
func (l *Ledger) Audit(id NoteID) (NoteAudit, error) {
	e, err := l.registry.lookup(id)
	if err != nil {
		return NoteAudit{}, err
	}

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return l.validator.AuditNote(e)
}

// AuditAll audits every note, stopping at the first failure.
func (l *Ledger) AuditAll() error {
	for _, e := range l.registry.entries() {
		e.stateMu.RLock()
		_, err := l.validator.AuditNote(e)
		e.stateMu.RUnlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Sequence returns the last global journal sequence handed out.
func (l *Ledger) Sequence() uint64 {
	return l.seq.Load()
}

func (l *Ledger) timestamp() time.Time {
	// Journal timestamps round-trip through Postgres at microsecond precision.
	return l.now().UTC().Truncate(time.Microsecond)
}

// mustHold panics if a committed mutation broke an invariant. At that point
// the state is already wrong and carrying on would persist it.
func (l *Ledger) mustHold(e *noteEntry, prevAcc *uint256.Int) {
	if err := l.validator.CheckNote(e, prevAcc); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

// emit appends the journal entry for a committed mutation. Caller holds e.writeMu.
func (l *Ledger) emit(ctx context.Context, e *noteEntry, typ EntryType, account common.Address, amount *uint256.Int, now time.Time) {
	e.noteSeq++

	entry := Entry{
		EntryID:   uuid.New(),
		RequestID: RequestIDFromContext(ctx),
		Sequence:  l.seq.Add(1),
		NoteID:    e.note.ID,
		NoteSeq:   e.noteSeq,
		Type:      typ,
		Account:   account,
		Closed:    e.note.Closed,
		Timestamp: now,
		PrevHash:  e.chain.Tip(),
	}
	entry.Amount.Set(amount)
	entry.Raised.Set(&e.note.Raised)
	entry.AccPerShare.Set(&e.note.AccPerShare)
	if typ == EntryNoteCreated {
		entry.TokenRef = e.note.TokenRef
		entry.Terms = append([]byte(nil), e.note.Terms...)
	}

	entry.StateHash = e.chain.Compute(entry.NoteID, entry.NoteSeq, entry.Digest())
	e.chain.Advance(entry.StateHash)
	e.lastSeq = entry.Sequence

	e.publishStatus()
	l.sink.Emit(entry)
}

// formatNote is used in replay errors.
func formatNote(n *Note) string {
	return fmt.Sprintf("note %d raised=%s acc=%s closed=%v",
		n.ID, fpmath.FormatAmount(&n.Raised), fpmath.FormatAmount(&n.AccPerShare), n.Closed)
}
