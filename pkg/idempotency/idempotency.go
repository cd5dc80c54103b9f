// Package idempotency implements CrewLedger's idempotency guard: a
// key+scope-hash registry giving at-most-once semantics for bulk
// mutations, with bounded repeat-detection latency.
//
// The guard follows a two-tier idempotency store shape: a durable
// backing Store (the relational database, inside the caller's
// transaction) is the source of truth, and an optional fast-path Cache
// (Redis) short-circuits the repeat-detection bound under load without
// ever becoming the source of truth itself.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/peycheff/crewledger/pkg/canon"
)

// ErrDuplicateKey is returned when a key has already been recorded.
// The caller maps this to HTTP 409 duplicate_idempotency_key, echoing
// StoredScopeHash.
type ErrDuplicateKey struct {
	Key             string
	StoredScopeHash string
}

func (e *ErrDuplicateKey) Error() string {
	return "idempotency: duplicate key " + e.Key
}

// Record is the persisted row shape backing IdempotencyKey in the
// data model.
type Record struct {
	Key       string
	ScopeHash string
	Status    string // always "applied"
	CreatedAt time.Time
}

// Store is the durable backing registry (implemented against the
// relational store; see pkg/store). All operations must run inside
// the caller's surrounding transaction so the idempotency insert
// commits iff the domain effect does.
type Store interface {
	// Insert writes a new key row. It must return ErrKeyExists (a
	// sentinel, not ErrDuplicateKey) if the key is already present, so
	// the guard can read back the stored scope hash for the 409 body.
	Insert(ctx context.Context, key, scopeHash string, now time.Time) error
	// Get looks up an existing key's stored scope hash.
	Get(ctx context.Context, key string) (Record, bool, error)
}

// ErrKeyExists is the sentinel a Store implementation returns from
// Insert when the primary key already exists (e.g. a unique
// constraint violation).
var ErrKeyExists = errors.New("idempotency: key exists")

// Cache is an optional fast-path existence check (Redis) consulted
// before the durable Store to keep warm-path repeat detection well
// under the 100 ms bound. A Cache miss is not authoritative: the guard
// always still confirms against Store.
type Cache interface {
	// Peek returns the cached scope hash for key, if present.
	Peek(ctx context.Context, key string) (scopeHash string, ok bool)
	// Remember stores key -> scopeHash with a bounded TTL.
	Remember(ctx context.Context, key, scopeHash string, ttl time.Duration)
}

// Guard enforces at-most-once semantics for a scope (the canonical
// JSON of a request body).
type Guard struct {
	store Store
	cache Cache
	ttl   time.Duration
}

// New creates a Guard. cache may be nil (correctness never depends on
// it; it only trims tail latency).
func New(store Store, cache Cache, cacheTTL time.Duration) *Guard {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Guard{store: store, cache: cache, ttl: cacheTTL}
}

// Ensure implements ensure_idempotent(key, scope):
//  1. If key already present, return *ErrDuplicateKey (409) with the
//     stored scope_hash.
//  2. Otherwise insert (key, scope_hash, "applied", now) and return nil.
//
// Ensure must be called inside the same transaction as the domain
// effect it is guarding, so a process crash between the two never
// leaves a committed idempotency row with no matching effect.
func (g *Guard) Ensure(ctx context.Context, key string, scope any, now time.Time) error {
	scopeHash, err := canon.SHA256Hex(scope)
	if err != nil {
		return err
	}

	if g.cache != nil {
		if cached, ok := g.cache.Peek(ctx, key); ok {
			return &ErrDuplicateKey{Key: key, StoredScopeHash: cached}
		}
	}

	err = g.store.Insert(ctx, key, scopeHash, now)
	if err == nil {
		if g.cache != nil {
			g.cache.Remember(ctx, key, scopeHash, g.ttl)
		}
		return nil
	}
	if errors.Is(err, ErrKeyExists) {
		rec, found, getErr := g.store.Get(ctx, key)
		if getErr != nil {
			return getErr
		}
		if !found {
			// Raced with a concurrent insert between the failed Insert
			// and this Get; treat conservatively as a duplicate with an
			// unknown hash rather than silently letting the call through.
			return &ErrDuplicateKey{Key: key, StoredScopeHash: ""}
		}
		if g.cache != nil {
			g.cache.Remember(ctx, key, rec.ScopeHash, g.ttl)
		}
		return &ErrDuplicateKey{Key: key, StoredScopeHash: rec.ScopeHash}
	}
	return err
}
