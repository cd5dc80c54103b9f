package canon_test

import (
	"testing"

	"github.com/peycheff/crewledger/pkg/canon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSHA256Hex_KeyOrderIndependent is the core correctness property of
// the idempotency guard: hashing two
// maps with the same keys/values in different insertion order must
// yield the same digest.
func TestSHA256Hex_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"kind": "task", "id": 7, "reason": "dup"}
	b := map[string]any{"reason": "dup", "id": 7, "kind": "task"}

	ha, err := canon.SHA256Hex(a)
	require.NoError(t, err)
	hb, err := canon.SHA256Hex(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestSHA256Hex_DifferentPayloadDifferentHash(t *testing.T) {
	h1, err := canon.SHA256Hex(map[string]any{"amount": "10.00"})
	require.NoError(t, err)
	h2, err := canon.SHA256Hex(map[string]any{"amount": "10.01"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestShort12(t *testing.T) {
	assert.Equal(t, "abcdefabcdef", canon.Short12("abcdefabcdef0123456789"))
	assert.Equal(t, "abc", canon.Short12("abc"))
}
