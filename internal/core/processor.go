package core

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var ErrDuplicateRequest = errors.New("duplicate request")

// Processor is the single command pipeline shared by every transport:
// dedup, dispatch to the ledger, metrics. Per-note serialization happens
// inside the ledger, so Execute is safe to call from many goroutines.
type Processor struct {
	ledger      *ledger.Ledger
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewProcessor(l *ledger.Ledger, idempotency *IdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		ledger:      l,
		idempotency: idempotency,
		metrics:     metrics,
		logger:      logger,
	}
}

// Execute applies one command. A command without a request id gets a fresh
// one and is never treated as a duplicate.
func (p *Processor) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	start := time.Now()
	name := cmd.CommandType().String()

	id := cmd.RequestID()
	supplied := id != uuid.Nil
	if !supplied {
		id = uuid.New()
	}

	res := command.Result{RequestID: id, Type: cmd.CommandType(), NoteID: cmd.NoteID()}

	// Step 1: Idempotency check (two-tier)
	if supplied && p.idempotency != nil && p.idempotency.Reserve(ctx, name, id) {
		p.rejected(name, "duplicate")
		return res, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}

	// Step 2: Dispatch
	amount, noteID, err := p.dispatch(ledger.ContextWithRequestID(ctx, id), cmd)
	if err != nil {
		if supplied && p.idempotency != nil {
			p.idempotency.Release(id)
		}
		p.rejected(name, ledger.Reason(err))
		p.logRejection(name, id, cmd.NoteID(), err)
		return res, err
	}
	res.NoteID = noteID
	res.Amount = amount

	// Step 3: Metrics
	if p.metrics != nil {
		p.metrics.CommandsApplied.WithLabelValues(name).Inc()
		p.metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, cmd command.Command) (*uint256.Int, ledger.NoteID, error) {
	switch c := cmd.(type) {
	case *command.CreateNote:
		id, err := p.ledger.CreateNote(ctx, c.Goal, c.TokenRef, c.Beneficiary, c.Terms)
		if err != nil {
			return nil, 0, err
		}
		if p.metrics != nil {
			p.metrics.NotesCreated.Inc()
		}
		return new(uint256.Int).Set(c.Goal), id, nil

	case *command.Invest:
		invested, err := p.ledger.Invest(ctx, c.Note, c.Investor, c.Amount)
		return invested, c.Note, err

	case *command.DepositYield:
		acc, err := p.ledger.DepositYield(ctx, c.Note, c.Payer, c.Amount)
		if err == nil && p.metrics != nil {
			p.metrics.YieldDeposits.Inc()
		}
		return acc, c.Note, err

	case *command.Claim:
		return p.claim(ctx, c)

	default:
		return nil, 0, fmt.Errorf("%w: unhandled command %T", command.ErrInvalidCommand, cmd)
	}
}

func (p *Processor) claim(ctx context.Context, c *command.Claim) (*uint256.Int, ledger.NoteID, error) {
	start := time.Now()
	paid, err := p.ledger.Claim(ctx, c.Note, c.Investor)

	if p.metrics != nil {
		switch {
		case err == nil:
			p.metrics.ClaimsPaid.Inc()
			p.metrics.PayoutDuration.Observe(time.Since(start).Seconds())
		case errors.Is(err, ledger.ErrTransferFailed):
			p.metrics.PayoutFailures.Inc()
		}
	}
	return paid, c.Note, err
}

func (p *Processor) rejected(name, reason string) {
	if p.metrics != nil {
		p.metrics.CommandsRejected.WithLabelValues(name, reason).Inc()
	}
}

func (p *Processor) logRejection(name string, id uuid.UUID, note ledger.NoteID, err error) {
	var evt *zerolog.Event
	switch ledger.Classify(err) {
	case ledger.ClassDependency, ledger.ClassUnknown:
		evt = p.logger.Warn()
	default:
		evt = p.logger.Debug()
	}
	evt.Err(err).
		Str("command", name).
		Str("request_id", id.String()).
		Uint64("note_id", uint64(note)).
		Str("class", ledger.Classify(err).String()).
		Msg("command rejected")
}

// --- Reads ---
// Reads bypass dedup and go straight to the ledger.

func (p *Processor) NoteStatus(id ledger.NoteID) (ledger.NoteStatus, error) {
	return p.ledger.GetNoteStatus(id)
}

// Sequence is the last global journal sequence handed out.
func (p *Processor) Sequence() uint64 {
	return p.ledger.Sequence()
}

func (p *Processor) NoteCount() uint64 {
	return p.ledger.NoteCount()
}

func (p *Processor) Claimable(id ledger.NoteID, investor common.Address) (*uint256.Int, error) {
	return p.ledger.Claimable(id, investor)
}

func (p *Processor) StakeOf(id ledger.NoteID, investor common.Address) (ledger.Stake, error) {
	return p.ledger.StakeOf(id, investor)
}

func (p *Processor) DepositHistory(id ledger.NoteID) ([]ledger.YieldDepositRecord, error) {
	return p.ledger.DepositHistory(id)
}

// Audit runs the full per-note audit and records the outcome.
func (p *Processor) Audit(id ledger.NoteID) (ledger.NoteAudit, error) {
	audit, err := p.ledger.Audit(id)
	if p.metrics != nil && !errors.Is(err, ledger.ErrNoteNotFound) {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		p.metrics.InvariantAudits.WithLabelValues(result).Inc()
	}
	return audit, err
}
