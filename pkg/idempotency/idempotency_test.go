package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard() *idempotency.Guard {
	return idempotency.New(idempotency.NewMemoryStore(), idempotency.NewMemoryCache(), time.Minute)
}

func TestEnsure_FirstCallSucceeds(t *testing.T) {
	g := newGuard()
	err := g.Ensure(context.Background(), "req-1", map[string]any{"a": 1}, time.Now())
	require.NoError(t, err)
}

// TestEnsure_ReplaySameKeyFails is's idempotency replay
// invariant: reusing a key, even with a different payload, fails.
func TestEnsure_ReplaySameKeyFails(t *testing.T) {
	g := newGuard()
	ctx := context.Background()

	err := g.Ensure(ctx, "req-12345", map[string]any{"ids": []int{1, 2, 3}, "by": "admin"}, time.Now())
	require.NoError(t, err)

	err = g.Ensure(ctx, "req-12345", map[string]any{"ids": []int{9}}, time.Now())
	var dup *idempotency.ErrDuplicateKey
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "req-12345", dup.Key)
	assert.NotEmpty(t, dup.StoredScopeHash)
}

// TestEnsure_RepeatDetectionWithin100ms is's bounds property.
func TestEnsure_RepeatDetectionWithin100ms(t *testing.T) {
	g := newGuard()
	ctx := context.Background()
	require.NoError(t, g.Ensure(ctx, "warm-key", map[string]any{"x": 1}, time.Now()))

	start := time.Now()
	err := g.Ensure(ctx, "warm-key", map[string]any{"x": 1}, time.Now())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.LessOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestEnsure_KeyOrderIndependentScopeHash(t *testing.T) {
	g1 := newGuard()
	g2 := newGuard()
	ctx := context.Background()

	err1 := g1.Ensure(ctx, "k", map[string]any{"a": 1, "b": 2}, time.Now())
	err2 := g2.Ensure(ctx, "k", map[string]any{"b": 2, "a": 1}, time.Now())
	require.NoError(t, err1)
	require.NoError(t, err2)

	// Replaying each against itself with the other's key order must
	// still be recognized as the same scope.
	err := g1.Ensure(ctx, "k", map[string]any{"b": 2, "a": 1}, time.Now())
	var dup *idempotency.ErrDuplicateKey
	require.True(t, errors.As(err, &dup))
}
