package token

import (
	"NoteLedger/internal/ledger"
	fpmath "NoteLedger/internal/math"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultPayoutSubject is where payout requests are sent.
const DefaultPayoutSubject = "notes.payouts.transfer"

var ErrPayoutRejected = errors.New("token: payout rejected")

// PayoutRequest is the body sent to the payout service.
type PayoutRequest struct {
	RequestID uuid.UUID      `json:"request_id"`
	Token     common.Address `json:"token"`
	To        common.Address `json:"to"`
	Amount    string         `json:"amount"`
}

// PayoutReply is what the payout service answers.
type PayoutReply struct {
	OK     bool   `json:"ok"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NATSTransferer asks an external payout service to move tokens using NATS
// request/reply. The call blocks until the service answers or the timeout
// elapses; the claim is only recorded on an OK reply.
type NATSTransferer struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewNATSTransferer(nc *nats.Conn, subject string, timeout time.Duration, logger zerolog.Logger) *NATSTransferer {
	if subject == "" {
		subject = DefaultPayoutSubject
	}
	return &NATSTransferer{
		nc:      nc,
		subject: subject,
		timeout: timeout,
		logger:  logger,
	}
}

func (t *NATSTransferer) Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	req := PayoutRequest{
		RequestID: ledger.RequestIDFromContext(ctx),
		Token:     token,
		To:        to,
		Amount:    fpmath.FormatAmount(amount),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal payout: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := t.nc.RequestWithContext(ctx, t.subject, data)
	if err != nil {
		return fmt.Errorf("payout request: %w", err)
	}

	var reply PayoutReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode payout reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrPayoutRejected, reply.Error)
	}

	t.logger.Debug().
		Str("request_id", req.RequestID.String()).
		Str("to", to.Hex()).
		Str("amount", req.Amount).
		Str("tx_hash", reply.TxHash).
		Dur("took", time.Since(start)).
		Msg("payout confirmed")
	return nil
}
