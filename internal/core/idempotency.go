package core

import (
	"NoteLedger/internal/observability"
	"container/list"
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

// RequestLookup is the store-side dedup lookup (tier 2).
type RequestLookup interface {
	HasRequest(ctx context.Context, id uuid.UUID) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication keyed by request id.
//
// Reserve puts the id in the LRU before the command runs, so a concurrent
// retry of the same request is caught while the first is still in flight.
// A command that fails calls Release so the client may retry it.
type IdempotencyChecker struct {
	mu  deadlock.Mutex
	lru *IdempotencyLRU

	store   RequestLookup
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIdempotencyChecker(capacity int, store RequestLookup, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Reserve reports whether id was already seen. When it returns false the id
// is now reserved and the caller must either keep it (success) or Release it.
func (ic *IdempotencyChecker) Reserve(ctx context.Context, command string, id uuid.UUID) bool {
	// Tier 1: LRU check (hot path)
	ic.mu.Lock()
	if ic.lru.Contains(id) {
		ic.mu.Unlock()
		ic.recordDuplicate(command, "lru")
		return true
	}
	ic.lru.Add(id)
	size := ic.lru.Size()
	ic.mu.Unlock()

	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(size))
	}

	// Tier 2: store check (cold path)
	if ic.store == nil {
		return false
	}
	found, err := ic.store.HasRequest(ctx, id)
	if err != nil {
		// A store outage must not block commands; the LRU still covers
		// everything applied since start-up.
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		ic.logger.Warn().Err(err).Str("request_id", id.String()).Msg("store dedup lookup failed")
		return false
	}
	if found {
		ic.recordDuplicate(command, "store")
		return true
	}
	return false
}

// Release forgets a reservation whose command did not apply.
func (ic *IdempotencyChecker) Release(id uuid.UUID) {
	ic.mu.Lock()
	ic.lru.Remove(id)
	ic.mu.Unlock()
}

// Warm loads recently applied request ids, oldest first.
func (ic *IdempotencyChecker) Warm(ids []uuid.UUID) {
	ic.mu.Lock()
	ic.lru.WarmFromKeys(ids)
	size := ic.lru.Size()
	ic.mu.Unlock()

	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(size))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(command, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(command, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU set of request ids. Not thread-safe; the checker
// guards it.
type IdempotencyLRU struct {
	capacity int
	cache    map[uuid.UUID]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[uuid.UUID]*list.Element, min(capacity, 1<<16)),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key uuid.UUID) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key uuid.UUID) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	lru.cache[key] = lru.lruList.PushFront(key)

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) Remove(key uuid.UUID) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.Remove(elem)
		delete(lru.cache, key)
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(uuid.UUID))
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of keys on restart so recently applied
// requests do not fall through to the store.
func (lru *IdempotencyLRU) WarmFromKeys(keys []uuid.UUID) {
	for _, key := range keys {
		lru.Add(key)
	}
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
