package core_test

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/core"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"NoteLedger/internal/persistence"
	"NoteLedger/internal/token"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	beneficiary = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	payer       = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// --- Test helpers ---

type harness struct {
	proc    *core.Processor
	ledger  *ledger.Ledger
	token   *token.MemoryLedger
	store   *persistence.MemoryStore
	metrics *observability.Metrics
	persist chan ledger.Entry
}

// newHarness wires a processor the way cmd/noteledger does, minus the
// persistence worker: entries pile up in a buffered channel.
func newHarness(t *testing.T) *harness {
	t.Helper()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	persist := make(chan ledger.Entry, 1024)
	tl := token.NewMemoryLedger()
	l := ledger.New(tl, ledger.WithSink(core.NewChannelSink(persist, metrics)))
	store := persistence.NewMemoryStore()

	idem := core.NewIdempotencyChecker(1000, store, metrics, zerolog.Nop())
	return &harness{
		proc:    core.NewProcessor(l, idem, metrics, zerolog.Nop()),
		ledger:  l,
		token:   tl,
		store:   store,
		metrics: metrics,
		persist: persist,
	}
}

func (h *harness) exec(t *testing.T, cmd command.Command) command.Result {
	t.Helper()
	res, err := h.proc.Execute(context.Background(), cmd)
	require.NoError(t, err)
	return res
}

func (h *harness) fundedNote(t *testing.T) ledger.NoteID {
	t.Helper()
	res := h.exec(t, &command.CreateNote{ID: uuid.New(), Goal: u(100), TokenRef: tokenAddr, Beneficiary: beneficiary})
	h.exec(t, &command.Invest{ID: uuid.New(), Note: res.NoteID, Investor: alice, Amount: u(60)})
	h.exec(t, &command.Invest{ID: uuid.New(), Note: res.NoteID, Investor: bob, Amount: u(40)})
	return res.NoteID
}

func (h *harness) drain() []ledger.Entry {
	var out []ledger.Entry
	for {
		select {
		case e := <-h.persist:
			out = append(out, e)
		default:
			return out
		}
	}
}

// ===========================================================================
// Pipeline
// ===========================================================================

func TestProcessor_ScenarioA(t *testing.T) {
	h := newHarness(t)
	id := h.fundedNote(t)

	res := h.exec(t, &command.DepositYield{ID: uuid.New(), Note: id, Payer: payer, Amount: u(10)})
	assert.Equal(t, "100000000000000000", res.Amount.Dec())

	res = h.exec(t, &command.Claim{ID: uuid.New(), Note: id, Investor: alice})
	assert.Equal(t, uint64(6), res.Amount.Uint64())
	assert.Equal(t, command.CommandTypeClaim, res.Type)

	res = h.exec(t, &command.Claim{ID: uuid.New(), Note: id, Investor: bob})
	assert.Equal(t, uint64(4), res.Amount.Uint64())

	entries := h.drain()
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.NotEqual(t, uuid.Nil, e.RequestID)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotesFunded))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ClaimsPaid))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.CommandsApplied.WithLabelValues("Invest")))
}

func TestProcessor_RequestIDReachesJournal(t *testing.T) {
	h := newHarness(t)
	reqID := uuid.New()

	h.exec(t, &command.CreateNote{ID: reqID, Goal: u(5), TokenRef: tokenAddr, Beneficiary: beneficiary})

	entries := h.drain()
	require.Len(t, entries, 1)
	assert.Equal(t, reqID, entries[0].RequestID)
}

func TestProcessor_AssignsMissingRequestID(t *testing.T) {
	h := newHarness(t)

	a := h.exec(t, &command.CreateNote{Goal: u(5), TokenRef: tokenAddr, Beneficiary: beneficiary})
	b := h.exec(t, &command.CreateNote{Goal: u(5), TokenRef: tokenAddr, Beneficiary: beneficiary})

	assert.NotEqual(t, uuid.Nil, a.RequestID)
	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.Equal(t, uint64(2), h.proc.NoteCount())
}

// ===========================================================================
// Idempotency
// ===========================================================================

func TestProcessor_DuplicateRequestRejected(t *testing.T) {
	h := newHarness(t)
	id := h.fundedNote(t)
	h.exec(t, &command.DepositYield{ID: uuid.New(), Note: id, Payer: payer, Amount: u(10)})

	claim := &command.Claim{ID: uuid.New(), Note: id, Investor: alice}
	h.exec(t, claim)

	_, err := h.proc.Execute(context.Background(), claim)
	assert.ErrorIs(t, err, core.ErrDuplicateRequest)
	assert.Equal(t, uint64(6), h.token.BalanceOf(tokenAddr, alice).Uint64())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IdempotencyDuplicates.WithLabelValues("Claim", "lru")))
}

func TestProcessor_DuplicateFoundInStore(t *testing.T) {
	h := newHarness(t)
	reqID := uuid.New()
	h.exec(t, &command.CreateNote{ID: reqID, Goal: u(5), TokenRef: tokenAddr, Beneficiary: beneficiary})
	require.NoError(t, h.store.AppendEntries(context.Background(), h.drain()))

	// A fresh processor has an empty LRU, as after a restart.
	idem := core.NewIdempotencyChecker(1000, h.store, h.metrics, zerolog.Nop())
	proc := core.NewProcessor(h.ledger, idem, h.metrics, zerolog.Nop())

	_, err := proc.Execute(context.Background(), &command.CreateNote{ID: reqID, Goal: u(5), TokenRef: tokenAddr, Beneficiary: beneficiary})
	assert.ErrorIs(t, err, core.ErrDuplicateRequest)
	assert.Equal(t, uint64(1), h.ledger.NoteCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IdempotencyDuplicates.WithLabelValues("CreateNote", "store")))
}

// A failed command does not burn its request id; the client may retry.
func TestProcessor_FailedCommandCanBeRetried(t *testing.T) {
	h := newHarness(t)
	id := h.fundedNote(t)
	h.exec(t, &command.DepositYield{ID: uuid.New(), Note: id, Payer: payer, Amount: u(10)})

	claim := &command.Claim{ID: uuid.New(), Note: id, Investor: alice}
	h.token.FailNext(1, nil)

	_, err := h.proc.Execute(context.Background(), claim)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PayoutFailures))

	res := h.exec(t, claim)
	assert.Equal(t, uint64(6), res.Amount.Uint64())
}

func TestProcessor_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.fundedNote(t)
	h.exec(t, &command.DepositYield{ID: uuid.New(), Note: id, Payer: payer, Amount: u(1000)})

	claim := &command.Claim{ID: uuid.New(), Note: id, Investor: alice}

	var applied, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.proc.Execute(context.Background(), claim)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, core.ErrDuplicateRequest):
				dup.Add(1)
			default:
				t.Errorf("unexpected: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(15), dup.Load())
	assert.Equal(t, uint64(600), h.token.BalanceOf(tokenAddr, alice).Uint64())
}

// ===========================================================================
// Rejections
// ===========================================================================

func TestProcessor_RejectionsAreCounted(t *testing.T) {
	h := newHarness(t)

	_, err := h.proc.Execute(context.Background(), &command.Invest{ID: uuid.New(), Note: 42, Investor: alice, Amount: u(1)})
	assert.ErrorIs(t, err, ledger.ErrNoteNotFound)

	_, err = h.proc.Execute(context.Background(), &command.CreateNote{ID: uuid.New(), Goal: u(0), TokenRef: tokenAddr, Beneficiary: beneficiary})
	assert.ErrorIs(t, err, ledger.ErrInvalidGoal)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CommandsRejected.WithLabelValues("Invest", "note_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CommandsRejected.WithLabelValues("CreateNote", "invalid_goal")))
	assert.Empty(t, h.drain())
}

func TestProcessor_Reads(t *testing.T) {
	h := newHarness(t)
	id := h.fundedNote(t)
	h.exec(t, &command.DepositYield{ID: uuid.New(), Note: id, Payer: payer, Amount: u(10)})

	st, err := h.proc.NoteStatus(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.NoteFunded, st.State())
	assert.Equal(t, 2, st.InvestorCount)

	c, err := h.proc.Claimable(id, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), c.Uint64())

	stake, err := h.proc.StakeOf(id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), stake.Invested.Uint64())

	hist, err := h.proc.DepositHistory(id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, payer, hist[0].Payer)

	audit, err := h.proc.Audit(id)
	require.NoError(t, err)
	assert.Equal(t, 2, audit.Investors)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.InvariantAudits.WithLabelValues("ok")))
}
