package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenLedger moves tokens out of the ledger's custody. Claim calls Transfer
// synchronously while holding the note's writer lock; an error leaves the
// investor's stake untouched.
type TokenLedger interface {
	Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error
}
