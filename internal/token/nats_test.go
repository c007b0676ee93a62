package token_test

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/testutil"
	"NoteLedger/internal/token"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	testutil.RequireIntegration(t)

	nc, err := nats.Connect(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("test NATS not available: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

// respond answers payout requests on subject with reply and records what
// it was asked.
func respond(t *testing.T, nc *nats.Conn, subject string, reply token.PayoutReply) <-chan token.PayoutRequest {
	t.Helper()

	seen := make(chan token.PayoutRequest, 4)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var req token.PayoutRequest
		if err := json.Unmarshal(msg.Data, &req); err == nil {
			seen <- req
		}
		data, _ := json.Marshal(reply)
		msg.Respond(data)
	})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })
	require.NoError(t, nc.Flush())
	return seen
}

func TestNATSTransferer_OK(t *testing.T) {
	nc := connectTestNATS(t)
	subject := "notes.payouts.test." + uuid.NewString()
	seen := respond(t, nc, subject, token.PayoutReply{OK: true, TxHash: "0xabc"})

	tr := token.NewNATSTransferer(nc, subject, 2*time.Second, zerolog.Nop())
	rid := uuid.New()
	ctx := ledger.ContextWithRequestID(context.Background(), rid)

	require.NoError(t, tr.Transfer(ctx, testutil.TokenAddr, testutil.Alice, uint256.NewInt(600)))

	req := <-seen
	assert.Equal(t, rid, req.RequestID)
	assert.Equal(t, testutil.Alice, req.To)
	assert.Equal(t, "600", req.Amount)
}

func TestNATSTransferer_Rejected(t *testing.T) {
	nc := connectTestNATS(t)
	subject := "notes.payouts.test." + uuid.NewString()
	respond(t, nc, subject, token.PayoutReply{OK: false, Error: "insufficient treasury"})

	tr := token.NewNATSTransferer(nc, subject, 2*time.Second, zerolog.Nop())
	err := tr.Transfer(context.Background(), testutil.TokenAddr, testutil.Alice, uint256.NewInt(1))
	assert.ErrorIs(t, err, token.ErrPayoutRejected)
	assert.Contains(t, err.Error(), "insufficient treasury")
}

func TestNATSTransferer_NoResponder(t *testing.T) {
	nc := connectTestNATS(t)
	tr := token.NewNATSTransferer(nc, "notes.payouts.nobody."+uuid.NewString(), 200*time.Millisecond, zerolog.Nop())

	err := tr.Transfer(context.Background(), testutil.TokenAddr, testutil.Alice, uint256.NewInt(1))
	assert.Error(t, err)
}
