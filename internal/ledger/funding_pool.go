package ledger

import (
	fpmath "NoteLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FundingPool records stakes and closes a note once its goal is reached.
type FundingPool struct{}

func NewFundingPool() *FundingPool {
	return &FundingPool{}
}

// invest validates and applies an investment, returning the investor's new
// cumulative stake. Caller holds e.writeMu. Nothing changes on error.
func (p *FundingPool) invest(e *noteEntry, investor common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := fpmath.ValidateAmount(amount); err != nil {
		return nil, ErrAmountOverflow
	}

	n := &e.note
	if n.Closed {
		return nil, fmt.Errorf("note %d: %w", n.ID, ErrNoteClosed)
	}

	newRaised, overflow := new(uint256.Int).AddOverflow(&n.Raised, amount)
	if overflow || newRaised.Gt(&n.Goal) {
		return nil, fmt.Errorf("note %d: raised %s + %s over goal %s: %w",
			n.ID, fpmath.FormatAmount(&n.Raised), fpmath.FormatAmount(amount), fpmath.FormatAmount(&n.Goal), ErrGoalExceeded)
	}

	// Settle against the current accumulator so pending yield survives the
	// change in stake size.
	cur := e.stake(investor)
	pending, err := fpmath.Pending(&cur.Invested, &n.AccPerShare, &cur.RewardDebt)
	if err != nil {
		return nil, fmt.Errorf("note %d investor %s: %w", n.ID, investor.Hex(), err)
	}

	// invested <= raised <= goal, so this cannot leave 128 bits.
	newInvested := new(uint256.Int).Add(&cur.Invested, amount)
	accrued, err := fpmath.Accrued(newInvested, &n.AccPerShare)
	if err != nil {
		return nil, fmt.Errorf("note %d investor %s: %w", n.ID, investor.Hex(), err)
	}
	newDebt := new(uint256.Int).Sub(accrued, pending)

	e.stateMu.Lock()
	s, ok := e.stakes[investor]
	if !ok {
		s = &Stake{}
		e.stakes[investor] = s
	}
	s.Invested.Set(newInvested)
	s.RewardDebt.Set(newDebt)
	n.Raised.Set(newRaised)
	n.Closed = n.Raised.Eq(&n.Goal)
	e.stateMu.Unlock()

	return newInvested, nil
}
