// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ScaleDecimals is the number of fractional digits carried by acc_per_share.
const ScaleDecimals = 18

var (
	// Scale is 10^18. acc_per_share is expressed in units of 1/Scale per unit of stake.
	Scale = uint256.NewInt(1_000_000_000_000_000_000)

	// MaxAmount is the largest value accepted for any externally supplied amount (2^128 - 1).
	MaxAmount = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

var (
	ErrAmountOverflow = errors.New("math: amount exceeds 128 bits")
	ErrInvalidAmount  = errors.New("math: invalid amount")
	ErrZeroDivisor    = errors.New("math: division by zero")
)

// MulDiv computes floor(x * y / d) with a 512-bit intermediate.
// Every division that can lead to a payout rounds toward zero, so the ledger
// never distributes more than it received.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrZeroDivisor
	}

	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return z, nil
}

// AccPerShareDelta returns floor(amount * Scale / raised), the increase in the
// per-unit-stake accumulator produced by one yield deposit.
func AccPerShareDelta(amount, raised *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, Scale, raised)
}

// Accrued returns floor(invested * accPerShare / Scale): the total yield a stake
// has earned since the note was created.
func Accrued(invested, accPerShare *uint256.Int) (*uint256.Int, error) {
	return MulDiv(invested, accPerShare, Scale)
}

// Pending returns Accrued(invested, acc) - rewardDebt.
// A reward debt larger than the accrued amount means the stake bookkeeping is
// corrupt; it is reported as an error instead of wrapping around.
func Pending(invested, accPerShare, rewardDebt *uint256.Int) (*uint256.Int, error) {
	accrued, err := Accrued(invested, accPerShare)
	if err != nil {
		return nil, err
	}
	if accrued.Lt(rewardDebt) {
		return nil, fmt.Errorf("reward debt %s exceeds accrued %s", FormatAmount(rewardDebt), FormatAmount(accrued))
	}
	return new(uint256.Int).Sub(accrued, rewardDebt), nil
}

// CheckedAdd returns a + b, failing if the sum exceeds MaxAmount.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || sum.Gt(MaxAmount) {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// ValidateAmount checks that v fits in 128 bits.
func ValidateAmount(v *uint256.Int) error {
	if v.Gt(MaxAmount) {
		return ErrAmountOverflow
	}
	return nil
}

// ParseAmount parses a base-10 integer string into a 128-bit bounded amount.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := ParseUint256(s)
	if err != nil {
		return nil, err
	}
	if v.Gt(MaxAmount) {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

// ParseUint256 parses a base-10 integer string using the full 256 bits.
// Accumulator values are stored this way; they are not bounded by MaxAmount.
func ParseUint256(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants in tests and fixtures.
func MustParseAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatAmount renders v as a base-10 integer string.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.ToBig().String()
}

// FormatUnits renders a base-unit amount with the token's decimals, e.g.
// FormatUnits(1_500_000, 6) == "1.5".
func FormatUnits(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}
