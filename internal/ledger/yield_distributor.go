package ledger

import (
	fpmath "NoteLedger/internal/math"
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// YieldDistributor spreads deposits across a note's stakes through the
// acc_per_share accumulator. Deposits and claims are O(1) in the number of
// investors.
type YieldDistributor struct {
	token TokenLedger
}

func NewYieldDistributor(token TokenLedger) *YieldDistributor {
	return &YieldDistributor{token: token}
}

// deposit absorbs a yield deposit and returns the new acc_per_share.
// Caller holds e.writeMu.
func (d *YieldDistributor) deposit(e *noteEntry, payer common.Address, amount *uint256.Int, now time.Time) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := fpmath.ValidateAmount(amount); err != nil {
		return nil, ErrAmountOverflow
	}

	n := &e.note
	if !n.Closed {
		return nil, fmt.Errorf("note %d: %w", n.ID, ErrNoteNotFullyFunded)
	}

	total, err := fpmath.CheckedAdd(&n.TotalDeposited, amount)
	if err != nil {
		return nil, fmt.Errorf("note %d: cumulative deposits: %w", n.ID, ErrAmountOverflow)
	}

	delta, err := fpmath.AccPerShareDelta(amount, &n.Raised)
	if err != nil {
		return nil, fmt.Errorf("note %d: %w", n.ID, err)
	}
	// acc <= total_deposited * SCALE / raised < 2^188
	newAcc := new(uint256.Int).Add(&n.AccPerShare, delta)

	rec := YieldDepositRecord{
		NoteID:    n.ID,
		Payer:     payer,
		Sequence:  n.DepositCount + 1,
		Timestamp: now,
	}
	rec.Amount.Set(amount)
	rec.ResultingAccPerShare.Set(newAcc)

	e.stateMu.Lock()
	n.AccPerShare.Set(newAcc)
	n.TotalDeposited.Set(total)
	n.DepositCount++
	e.deposits = append(e.deposits, rec)
	e.stateMu.Unlock()

	return newAcc, nil
}

// pending returns what the investor could claim right now.
// Caller holds e.stateMu for reading or e.writeMu.
func (d *YieldDistributor) pending(e *noteEntry, investor common.Address) (*uint256.Int, error) {
	s := e.stake(investor)
	p, err := fpmath.Pending(&s.Invested, &e.note.AccPerShare, &s.RewardDebt)
	if err != nil {
		return nil, fmt.Errorf("note %d investor %s: %w", e.note.ID, investor.Hex(), err)
	}
	return p, nil
}

// claim pays out the investor's pending yield. The transfer runs before the
// stake is touched; if it fails the reward debt is left as it was.
// Caller holds e.writeMu.
func (d *YieldDistributor) claim(ctx context.Context, e *noteEntry, investor common.Address) (*uint256.Int, error) {
	amount, err := d.pending(e, investor)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("note %d investor %s: %w", e.note.ID, investor.Hex(), ErrNothingToClaim)
	}

	if err := d.token.Transfer(ctx, e.note.TokenRef, investor, amount); err != nil {
		return nil, fmt.Errorf("note %d investor %s: %w: %w", e.note.ID, investor.Hex(), ErrTransferFailed, err)
	}

	d.settle(e, investor, amount)
	return amount, nil
}

// settle records a paid claim. Caller holds e.writeMu.
func (d *YieldDistributor) settle(e *noteEntry, investor common.Address, amount *uint256.Int) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	s := e.stakes[investor]
	s.RewardDebt.Add(&s.RewardDebt, amount)
	s.Claimed.Add(&s.Claimed, amount)
	e.note.TotalClaimed.Add(&e.note.TotalClaimed, amount)
}
