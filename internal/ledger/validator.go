package ledger

import (
	fpmath "NoteLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// CheckNote runs the constant-time checks after every mutation.
// Caller holds e.writeMu.
func (v *InvariantValidator) CheckNote(e *noteEntry, prevAcc *uint256.Int) error {
	n := &e.note

	if n.Raised.Gt(&n.Goal) {
		return fmt.Errorf("note %d: raised %s exceeds goal %s",
			n.ID, fpmath.FormatAmount(&n.Raised), fpmath.FormatAmount(&n.Goal))
	}
	if n.Closed != n.Raised.Eq(&n.Goal) {
		return fmt.Errorf("note %d: closed=%v but raised=%s goal=%s",
			n.ID, n.Closed, fpmath.FormatAmount(&n.Raised), fpmath.FormatAmount(&n.Goal))
	}
	if n.AccPerShare.Lt(prevAcc) {
		return fmt.Errorf("note %d: acc_per_share decreased from %s to %s",
			n.ID, fpmath.FormatAmount(prevAcc), fpmath.FormatAmount(&n.AccPerShare))
	}
	if n.TotalClaimed.Gt(&n.TotalDeposited) {
		return fmt.Errorf("note %d: claimed %s exceeds deposited %s",
			n.ID, fpmath.FormatAmount(&n.TotalClaimed), fpmath.FormatAmount(&n.TotalDeposited))
	}
	if n.DepositCount != uint64(len(e.deposits)) {
		return fmt.Errorf("note %d: deposit count %d but %d records", n.ID, n.DepositCount, len(e.deposits))
	}
	if !n.Closed && !n.AccPerShare.IsZero() {
		return fmt.Errorf("note %d: yield accrued while open", n.ID)
	}

	return nil
}

// NoteAudit is the result of a full audit of one note.
type NoteAudit struct {
	NoteID    NoteID
	Investors int
	Deposited uint256.Int
	Earned    uint256.Int // claimed + claimable over all stakes
	Dust      uint256.Int // deposited - earned, never paid out
	DustBound uint256.Int
}

// AuditNote walks every stake of the note. It checks that stakes sum to
// raised, that no investor earned more than a direct pro-rata split of all
// deposits would give them, and that rounding dust stays within
// investors + deposits * (raised/SCALE + 1).
// Caller holds e.stateMu for reading or e.writeMu.
func (v *InvariantValidator) AuditNote(e *noteEntry) (NoteAudit, error) {
	n := &e.note
	audit := NoteAudit{NoteID: n.ID, Investors: len(e.stakes)}
	audit.Deposited.Set(&n.TotalDeposited)

	weights := make([]fpmath.StakeWeight, 0, len(e.stakes))
	earned := make(map[common.Address]*uint256.Int, len(e.stakes))
	sumInvested := new(uint256.Int)
	sumClaimed := new(uint256.Int)

	for investor, s := range e.stakes {
		sumInvested.Add(sumInvested, &s.Invested)
		sumClaimed.Add(sumClaimed, &s.Claimed)

		pending, err := fpmath.Pending(&s.Invested, &n.AccPerShare, &s.RewardDebt)
		if err != nil {
			return audit, fmt.Errorf("note %d investor %s: %w", n.ID, investor.Hex(), err)
		}
		total := new(uint256.Int).Add(pending, &s.Claimed)
		earned[investor] = total
		audit.Earned.Add(&audit.Earned, total)

		weights = append(weights, fpmath.StakeWeight{Investor: investor, Invested: new(uint256.Int).Set(&s.Invested)})
	}

	if !sumInvested.Eq(&n.Raised) {
		return audit, fmt.Errorf("note %d: stakes sum to %s, raised is %s",
			n.ID, fpmath.FormatAmount(sumInvested), fpmath.FormatAmount(&n.Raised))
	}
	if !sumClaimed.Eq(&n.TotalClaimed) {
		return audit, fmt.Errorf("note %d: stakes claimed %s, note claimed %s",
			n.ID, fpmath.FormatAmount(sumClaimed), fpmath.FormatAmount(&n.TotalClaimed))
	}
	if audit.Earned.Gt(&n.TotalDeposited) {
		return audit, fmt.Errorf("note %d: earned %s exceeds deposited %s",
			n.ID, fpmath.FormatAmount(&audit.Earned), fpmath.FormatAmount(&n.TotalDeposited))
	}

	if !n.TotalDeposited.IsZero() {
		settlement, err := fpmath.ComputeProRata(&n.TotalDeposited, weights)
		if err != nil {
			return audit, fmt.Errorf("note %d: %w", n.ID, err)
		}
		for _, share := range settlement.Shares {
			if got := earned[share.Investor]; got.Gt(share.Amount) {
				return audit, fmt.Errorf("note %d investor %s: earned %s above pro-rata share %s",
					n.ID, share.Investor.Hex(), fpmath.FormatAmount(got), fpmath.FormatAmount(share.Amount))
			}
		}
	}

	audit.Dust.Sub(&n.TotalDeposited, &audit.Earned)

	perDeposit := new(uint256.Int).Div(&n.Raised, fpmath.Scale)
	perDeposit.AddUint64(perDeposit, 1)
	audit.DustBound.Mul(perDeposit, uint256.NewInt(n.DepositCount))
	audit.DustBound.AddUint64(&audit.DustBound, uint64(len(e.stakes)))

	if audit.Dust.Gt(&audit.DustBound) {
		return audit, fmt.Errorf("note %d: dust %s exceeds bound %s",
			n.ID, fpmath.FormatAmount(&audit.Dust), fpmath.FormatAmount(&audit.DustBound))
	}

	return audit, nil
}
