package ingestion_test

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/ingestion"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

// fakeJetStream captures publishes instead of sending them.
type fakeJetStream struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: ingestion.EventStream, Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeJetStream) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestOutboundPublisher_SubjectsAndPayload(t *testing.T) {
	entries := testutil.Journal(t)
	in := make(chan ledger.Entry, len(entries))
	for _, e := range entries {
		in <- e
	}
	close(in)

	js := &fakeJetStream{}
	p := ingestion.NewOutboundPublisher(js, in, zerolog.Nop())
	require.NoError(t, p.Run(context.Background()))

	msgs := js.all()
	require.Len(t, msgs, len(entries))

	note := entries[0].NoteID
	assert.Equal(t, "notes.ledger.events.NoteCreated."+note.String(), msgs[0].subject)
	assert.Equal(t, "notes.ledger.events.YieldDeposited."+note.String(), msgs[3].subject)
	assert.Equal(t, "notes.ledger.events.Claimed."+note.String(), msgs[4].subject)

	var got ledger.Entry
	require.NoError(t, json.Unmarshal(msgs[3].data, &got))
	assert.Equal(t, entries[3].StateHash, got.StateHash)
	assert.NoError(t, got.VerifyHash())
	for _, m := range msgs {
		assert.Equal(t, 1, m.opts, "entries are published with a dedup id")
	}
}

// A failing publish is logged and skipped; the loop keeps draining.
func TestOutboundPublisher_ErrorsAreNotFatal(t *testing.T) {
	entries := testutil.Journal(t)
	in := make(chan ledger.Entry, len(entries))
	for _, e := range entries {
		in <- e
	}
	close(in)

	js := &fakeJetStream{err: errors.New("no responders")}
	p := ingestion.NewOutboundPublisher(js, in, zerolog.Nop())
	assert.NoError(t, p.Run(context.Background()))
	assert.Empty(t, in)
}

func TestCommandInjector(t *testing.T) {
	js := &fakeJetStream{}
	inj := ingestion.NewCommandInjector(js)

	invest := &command.Invest{ID: uuid.New(), Note: 3, Investor: testutil.Alice, Amount: uint256.NewInt(25)}
	require.NoError(t, inj.Inject(context.Background(), invest))

	msgs := js.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "notes.commands.invest", msgs[0].subject)

	raw := ingestion.RawMessage{Subject: msgs[0].subject, Data: msgs[0].data}
	cmd, err := ingestion.ParseRawMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, invest, cmd)

	err = inj.Inject(context.Background(), &command.Claim{Note: 3, Investor: testutil.Alice})
	assert.ErrorIs(t, err, command.ErrInvalidCommand)
}
