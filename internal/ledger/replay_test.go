package ledger_test

import (
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/token"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildHistory runs a small workload and returns the ledger and its journal.
func buildHistory(t *testing.T) (*ledger.Ledger, []ledger.Entry) {
	t.Helper()
	l, _, sink := newTestLedger(t)

	id := mustCreate(t, l, 100)
	mustInvest(t, l, id, alice, 60)
	mustInvest(t, l, id, bob, 40)
	mustDeposit(t, l, id, 10)
	_, err := l.Claim(context.Background(), id, alice)
	require.NoError(t, err)
	mustDeposit(t, l, id, 5)

	other := mustCreate(t, l, 7)
	mustInvest(t, l, other, carol, 3)

	return l, sink.entries
}

func TestApply_RebuildsState(t *testing.T) {
	orig, entries := buildHistory(t)

	replayed := ledger.New(token.NewMemoryLedger())
	for _, e := range entries {
		require.NoError(t, replayed.Apply(e))
	}

	assert.Equal(t, orig.NoteCount(), replayed.NoteCount())
	assert.Equal(t, orig.Sequence(), replayed.Sequence())

	for _, id := range []ledger.NoteID{1, 2} {
		want, _ := orig.GetNoteStatus(id)
		got, _ := replayed.GetNoteStatus(id)
		assert.True(t, want.Raised.Eq(&got.Raised))
		assert.True(t, want.AccPerShare.Eq(&got.AccPerShare))
		assert.Equal(t, want.Closed, got.Closed)
		assert.True(t, want.TotalClaimed.Eq(&got.TotalClaimed))
	}

	assert.Equal(t, uint64(3), claimable(t, replayed, 1, alice))
	assert.Equal(t, uint64(6), claimable(t, replayed, 1, bob))

	hist, _ := replayed.DepositHistory(1)
	assert.Len(t, hist, 2)
}

func TestApply_RejectsGap(t *testing.T) {
	_, entries := buildHistory(t)

	l := ledger.New(token.NewMemoryLedger())
	require.NoError(t, l.Apply(entries[0]))

	err := l.Apply(entries[2])
	assert.ErrorContains(t, err, "sequence gap")
}

func TestApply_RejectsTamperedAmount(t *testing.T) {
	_, entries := buildHistory(t)

	l := ledger.New(token.NewMemoryLedger())
	for _, e := range entries[:4] {
		require.NoError(t, l.Apply(e))
	}

	claim := entries[4]
	require.Equal(t, ledger.EntryClaimed, claim.Type)
	claim.Amount.SetUint64(7)
	assert.Error(t, l.Apply(claim))
}

func TestApply_SkipsAlreadyApplied(t *testing.T) {
	_, entries := buildHistory(t)

	l := ledger.New(token.NewMemoryLedger())
	require.NoError(t, l.Apply(entries[0]))

	err := l.Apply(entries[0])
	assert.True(t, errors.Is(err, ledger.ErrAlreadyApplied))
}

func TestSnapshot_RestoreThenReplayTail(t *testing.T) {
	l, tl, sink := newTestLedger(t)
	id := mustCreate(t, l, 100)
	mustInvest(t, l, id, alice, 60)
	mustInvest(t, l, id, bob, 40)
	mustDeposit(t, l, id, 10)

	snap := l.ExportState()

	_, err := l.Claim(context.Background(), id, alice)
	require.NoError(t, err)
	mustDeposit(t, l, id, 5)
	require.Equal(t, uint64(6), tl.BalanceOf(tokenAddr, alice).Uint64())

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded ledger.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored := ledger.New(token.NewMemoryLedger())
	require.NoError(t, restored.RestoreState(&decoded))
	assert.Equal(t, uint64(6), claimable(t, restored, id, alice))

	for _, e := range sink.entries {
		if e.Sequence <= decoded.Sequence {
			continue
		}
		require.NoError(t, restored.Apply(e))
	}

	assert.Equal(t, uint64(3), claimable(t, restored, id, alice))
	assert.Equal(t, uint64(6), claimable(t, restored, id, bob))
	assert.NoError(t, restored.AuditAll())

	// New mutations continue the chain where the original left off.
	paid, err := restored.Claim(context.Background(), id, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), paid.Uint64())
}

func TestSnapshot_RestoreRequiresEmptyLedger(t *testing.T) {
	l, _ := buildHistory(t)
	snap := l.ExportState()

	assert.Error(t, l.RestoreState(snap))
}

func TestEntryJSON_RoundTripKeepsHash(t *testing.T) {
	_, entries := buildHistory(t)

	for _, e := range entries {
		data, err := json.Marshal(e)
		require.NoError(t, err)

		var back ledger.Entry
		require.NoError(t, json.Unmarshal(data, &back))
		assert.NoError(t, back.VerifyHash(), "%s seq %d", e.Type, e.NoteSeq)
		assert.Equal(t, e.StateHash, back.StateHash)
	}
}

// relink recomputes an edited entry's hash so only the chain and post-state
// checks can reject it.
func relink(e *ledger.Entry) {
	h := ledger.NewChainHasher()
	h.Reset(e.PrevHash)
	e.StateHash = h.Compute(e.NoteID, e.NoteSeq, e.Digest())
}

func TestApply_RejectedNoteCreatedRegistersNothing(t *testing.T) {
	_, entries := buildHistory(t)

	cases := []struct {
		name string
		edit func(e *ledger.Entry)
		msg  string
	}{
		{"prev hash off genesis", func(e *ledger.Entry) { e.PrevHash = [32]byte{1} }, "prev hash"},
		{"post-state raised", func(e *ledger.Entry) { e.Raised.SetUint64(1) }, "diverges"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := ledger.New(token.NewMemoryLedger())

			bad := entries[0]
			require.Equal(t, ledger.EntryNoteCreated, bad.Type)
			tc.edit(&bad)
			relink(&bad)

			assert.ErrorContains(t, l.Apply(bad), tc.msg)
			assert.Equal(t, uint64(0), l.NoteCount())
			assert.Equal(t, uint64(0), l.Sequence())
			_, err := l.GetNoteStatus(bad.NoteID)
			assert.True(t, errors.Is(err, ledger.ErrNoteNotFound))

			// The untouched entry still applies: the id was never taken.
			require.NoError(t, l.Apply(entries[0]))
			assert.Equal(t, uint64(1), l.NoteCount())
		})
	}
}

func TestApply_RejectedInvestRestoresNote(t *testing.T) {
	_, entries := buildHistory(t)

	l := ledger.New(token.NewMemoryLedger())
	require.NoError(t, l.Apply(entries[0]))
	require.NoError(t, l.Apply(entries[1]))

	// Bob's investment closes the note; claim it did not.
	bad := entries[2]
	require.Equal(t, ledger.EntryInvested, bad.Type)
	bad.Closed = false
	relink(&bad)

	assert.ErrorContains(t, l.Apply(bad), "diverges")

	st, err := l.GetNoteStatus(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), st.Raised.Uint64())
	assert.False(t, st.Closed)
	assert.Equal(t, 1, st.InvestorCount)

	stake, err := l.StakeOf(1, bob)
	require.NoError(t, err)
	assert.True(t, stake.Invested.IsZero())

	require.NoError(t, l.Apply(entries[2]))
	st, _ = l.GetNoteStatus(1)
	assert.True(t, st.Closed)
}

func TestApply_RejectedDepositRestoresNote(t *testing.T) {
	_, entries := buildHistory(t)

	l := ledger.New(token.NewMemoryLedger())
	for _, e := range entries[:3] {
		require.NoError(t, l.Apply(e))
	}

	bad := entries[3]
	require.Equal(t, ledger.EntryYieldDeposited, bad.Type)
	bad.AccPerShare.AddUint64(&bad.AccPerShare, 1)
	relink(&bad)

	assert.ErrorContains(t, l.Apply(bad), "diverges")

	st, err := l.GetNoteStatus(1)
	require.NoError(t, err)
	assert.True(t, st.AccPerShare.IsZero())
	assert.True(t, st.TotalDeposited.IsZero())
	hist, err := l.DepositHistory(1)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Equal(t, uint64(0), claimable(t, l, 1, alice))

	require.NoError(t, l.Apply(entries[3]))
	assert.Equal(t, uint64(6), claimable(t, l, 1, alice))
}
