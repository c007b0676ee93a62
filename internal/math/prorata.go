// internal/math/prorata.go
package math

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StakeWeight is one investor's weight in a direct pro-rata split.
type StakeWeight struct {
	Investor common.Address
	Invested *uint256.Int
}

// ProRataShare is one investor's floor(invested * amount / total) share.
type ProRataShare struct {
	Investor common.Address
	Amount   *uint256.Int
}

// ProRataSettlement is a direct (investor-iterating) split of one deposit.
// The accumulator never pays an investor more than their share here; it is
// used by the auditor to bound rounding dust.
type ProRataSettlement struct {
	Amount      *uint256.Int
	Total       *uint256.Int
	Shares      []ProRataShare
	Distributed *uint256.Int
	Dust        *uint256.Int // Amount - Distributed, never paid out
}

// ComputeProRata splits amount across stakes in proportion to Invested,
// flooring each share. Stakes are sorted by investor address so the result is
// deterministic regardless of input order.
func ComputeProRata(amount *uint256.Int, stakes []StakeWeight) (*ProRataSettlement, error) {
	sorted := make([]StakeWeight, len(stakes))
	copy(sorted, stakes)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Investor[:], sorted[j].Investor[:]) < 0
	})

	total := new(uint256.Int)
	for _, s := range sorted {
		total.Add(total, s.Invested)
	}
	if total.IsZero() {
		return nil, ErrZeroDivisor
	}

	settlement := &ProRataSettlement{
		Amount:      new(uint256.Int).Set(amount),
		Total:       total,
		Shares:      make([]ProRataShare, 0, len(sorted)),
		Distributed: new(uint256.Int),
	}

	for _, s := range sorted {
		if s.Invested.IsZero() {
			continue
		}

		share, err := MulDiv(s.Invested, amount, total)
		if err != nil {
			return nil, err
		}

		settlement.Shares = append(settlement.Shares, ProRataShare{
			Investor: s.Investor,
			Amount:   share,
		})
		settlement.Distributed.Add(settlement.Distributed, share)
	}

	settlement.Dust = new(uint256.Int).Sub(amount, settlement.Distributed)
	return settlement, nil
}
