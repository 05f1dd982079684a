package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/policy"
)

func TestHashArgs_KeyOrderDoesNotAffectHash(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"y": 1, "x": 2}}
	b := map[string]any{"c": map[string]any{"x": 2, "y": 1}, "a": 2, "b": 1}

	hashA, err := policy.HashArgs(a)
	require.NoError(t, err)
	hashB, err := policy.HashArgs(b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestHashArgs_ArrayOrderAffectsHash(t *testing.T) {
	a := map[string]any{"items": []any{1, 2, 3}}
	b := map[string]any{"items": []any{3, 2, 1}}

	hashA, err := policy.HashArgs(a)
	require.NoError(t, err)
	hashB, err := policy.HashArgs(b)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestHashArgs_DifferentValuesDiffer(t *testing.T) {
	hashA, err := policy.HashArgs(map[string]any{"amount_cents": 100})
	require.NoError(t, err)
	hashB, err := policy.HashArgs(map[string]any{"amount_cents": 200})
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestHashArgs_Deterministic(t *testing.T) {
	args := map[string]any{"to_address": "0xabc", "amount_cents": 500}
	first, err := policy.HashArgs(args)
	require.NoError(t, err)
	second, err := policy.HashArgs(args)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "sha256 hex digest is 64 characters")
}

func TestHashArgs_EmptyArgs(t *testing.T) {
	hash, err := policy.HashArgs(map[string]any{})
	require.NoError(t, err)
	assert.Len(t, hash, 64)
}
