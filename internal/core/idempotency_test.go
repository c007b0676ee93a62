package core_test

import (
	"NoteLedger/internal/core"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type lookupFunc func(ctx context.Context, id uuid.UUID) (bool, error)

func (f lookupFunc) HasRequest(ctx context.Context, id uuid.UUID) (bool, error) { return f(ctx, id) }

func TestIdempotencyLRU_EvictsOldest(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	lru.Add(a)
	lru.Add(b)
	lru.Add(c)

	assert.False(t, lru.Contains(a))
	assert.True(t, lru.Contains(b))
	assert.True(t, lru.Contains(c))
	assert.Equal(t, 2, lru.Size())
	assert.Equal(t, int64(1), lru.Evictions())
}

func TestIdempotencyLRU_RemoveAndWarm(t *testing.T) {
	lru := core.NewIdempotencyLRU(10)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	lru.WarmFromKeys(ids)
	assert.Equal(t, 3, lru.Size())

	lru.Remove(ids[1])
	assert.False(t, lru.Contains(ids[1]))
	assert.Equal(t, 2, lru.Size())
}

func TestIdempotencyChecker_ReserveRelease(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, nil, nil, zerolog.Nop())
	id := uuid.New()

	assert.False(t, ic.Reserve(context.Background(), "Claim", id))
	assert.True(t, ic.Reserve(context.Background(), "Claim", id))

	ic.Release(id)
	assert.False(t, ic.Reserve(context.Background(), "Claim", id))
}

// A failing store lookup lets the command through.
func TestIdempotencyChecker_StoreErrorIsNotDuplicate(t *testing.T) {
	store := lookupFunc(func(context.Context, uuid.UUID) (bool, error) {
		return false, errors.New("db down")
	})
	ic := core.NewIdempotencyChecker(10, store, nil, zerolog.Nop())

	assert.False(t, ic.Reserve(context.Background(), "Invest", uuid.New()))
}

func TestIdempotencyChecker_Warm(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, nil, nil, zerolog.Nop())
	id := uuid.New()
	ic.Warm([]uuid.UUID{id})

	assert.True(t, ic.Reserve(context.Background(), "Invest", id))
}
