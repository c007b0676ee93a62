// Package token holds the payout side of claims: an in-memory ledger for
// development and tests, and a NATS request/reply client for production.
package token

import (
	fpmath "NoteLedger/internal/math"
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sasha-s/go-deadlock"
)

var ErrInjectedFailure = errors.New("token: injected transfer failure")

// Transfer is one payout recorded by MemoryLedger.
type Transfer struct {
	Token  common.Address
	To     common.Address
	Amount *uint256.Int
}

// FailureFunc decides whether a transfer should fail. Returning nil lets it through.
type FailureFunc func(token, to common.Address, amount *uint256.Int) error

// MemoryLedger credits balances in memory. Failures can be injected to
// exercise the claim rollback path.
type MemoryLedger struct {
	mu        deadlock.Mutex
	balances  map[common.Address]map[common.Address]*uint256.Int
	transfers []Transfer
	failNext  int
	failErr   error
	failFunc  FailureFunc
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Transfer credits amount of token to to.
func (m *MemoryLedger) Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	if m.failFunc != nil {
		if err := m.failFunc(token, to, amount); err != nil {
			return err
		}
	}

	holders, ok := m.balances[token]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		m.balances[token] = holders
	}
	bal, ok := holders[to]
	if !ok {
		bal = new(uint256.Int)
		holders[to] = bal
	}
	bal.Add(bal, amount)

	m.transfers = append(m.transfers, Transfer{Token: token, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// FailNext makes the next n transfers fail with err (ErrInjectedFailure when nil).
func (m *MemoryLedger) FailNext(n int, err error) {
	if err == nil {
		err = ErrInjectedFailure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// SetFailureFunc installs fn; nil removes it.
func (m *MemoryLedger) SetFailureFunc(fn FailureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFunc = fn
}

// BalanceOf returns what holder has received of token.
func (m *MemoryLedger) BalanceOf(token, holder common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bal, ok := m.balances[token][holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// TotalPaid sums every successful transfer of token.
func (m *MemoryLedger) TotalPaid(token common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := new(uint256.Int)
	for _, bal := range m.balances[token] {
		total.Add(total, bal)
	}
	return total
}

// Transfers returns a copy of the transfer log.
func (m *MemoryLedger) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// String is handy in test failure output.
func (t Transfer) String() string {
	return t.To.Hex() + " <- " + fpmath.FormatAmount(t.Amount) + " " + t.Token.Hex()
}
