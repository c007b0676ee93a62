package ingestion_test

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/core"
	"NoteLedger/internal/ingestion"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor records commands per note and fails with the error
// registered for a request id.
type recordingExecutor struct {
	mu     sync.Mutex
	byNote map[ledger.NoteID][]uuid.UUID
	fail   map[uuid.UUID]error
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		byNote: make(map[ledger.NoteID][]uuid.UUID),
		fail:   make(map[uuid.UUID]error),
	}
}

func (r *recordingExecutor) Execute(_ context.Context, cmd command.Command) (command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[cmd.RequestID()]; ok {
		return command.Result{}, err
	}
	r.byNote[cmd.NoteID()] = append(r.byNote[cmd.NoteID()], cmd.RequestID())
	return command.Result{RequestID: cmd.RequestID(), NoteID: cmd.NoteID()}, nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ids := range r.byNote {
		n += len(ids)
	}
	return n
}

type settled struct {
	mu                sync.Mutex
	acks, naks, terms int
}

func (s *settled) raw(t *testing.T, cmd command.Command) ingestion.RawMessage {
	t.Helper()
	data, err := command.Encode(cmd)
	require.NoError(t, err)
	subject, err := ingestion.SubjectFor(cmd.CommandType())
	require.NoError(t, err)

	inc := func(n *int) func() {
		return func() {
			s.mu.Lock()
			*n++
			s.mu.Unlock()
		}
	}
	return ingestion.RawMessage{
		Subject:   subject,
		Type:      cmd.CommandType(),
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   inc(&s.acks),
		NakFunc:   inc(&s.naks),
		TermFunc:  inc(&s.terms),
	}
}

func (s *settled) get() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks, s.naks, s.terms
}

func claimFor(note ledger.NoteID) *command.Claim {
	return &command.Claim{
		ID:       uuid.New(),
		Note:     note,
		Investor: common.BytesToAddress([]byte{1}),
	}
}

func TestDispatcher_PreservesPerNoteOrder(t *testing.T) {
	exec := newRecordingExecutor()
	in := make(chan ingestion.RawMessage, 256)
	var s settled

	want := make(map[ledger.NoteID][]uuid.UUID)
	for i := 0; i < 40; i++ {
		note := ledger.NoteID(i%5 + 1)
		c := claimFor(note)
		want[note] = append(want[note], c.ID)
		in <- s.raw(t, c)
	}
	close(in)

	d := ingestion.NewDispatcher(exec, in, 3, nil, zerolog.Nop())
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, want, exec.byNote)
	acks, naks, _ := s.get()
	assert.Equal(t, 40, acks)
	assert.Zero(t, naks)
}

func TestDispatcher_SettlesByOutcome(t *testing.T) {
	exec := newRecordingExecutor()
	in := make(chan ingestion.RawMessage, 8)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var s settled

	rejected := claimFor(1)
	exec.fail[rejected.ID] = fmt.Errorf("note 1: %w", ledger.ErrNothingToClaim)
	payoutDown := claimFor(1)
	exec.fail[payoutDown.ID] = fmt.Errorf("claim: %w", ledger.ErrTransferFailed)
	dup := claimFor(1)
	exec.fail[dup.ID] = core.ErrDuplicateRequest

	in <- s.raw(t, claimFor(1))
	in <- s.raw(t, rejected)
	in <- s.raw(t, payoutDown)
	in <- s.raw(t, dup)
	in <- ingestion.RawMessage{
		Subject:  "notes.commands.claim",
		Data:     []byte("garbage"),
		AckFunc:  func() { t.Error("garbage must not be acked") },
		TermFunc: func() { s.mu.Lock(); s.terms++; s.mu.Unlock() },
	}
	close(in)

	d := ingestion.NewDispatcher(exec, in, 2, metrics, zerolog.Nop())
	require.NoError(t, d.Run(context.Background()))

	acks, naks, terms := s.get()
	assert.Equal(t, 3, acks) // applied, rejected, duplicate
	assert.Equal(t, 1, naks) // payout failure is redelivered
	assert.Equal(t, 1, terms)
	assert.Equal(t, 1, exec.count())
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.IngestParseErrors.WithLabelValues("notes.commands.claim")))
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.IngestToApply))
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	in := make(chan ingestion.RawMessage)
	d := ingestion.NewDispatcher(newRecordingExecutor(), in, 4, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
