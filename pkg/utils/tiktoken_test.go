package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Greater(t, counter.CountTokens("approve the backend engineer role at acme"), 3)
}

func TestValidateTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	assert.True(t, counter.ValidateTokenLimit("short", 10))
	assert.False(t, counter.ValidateTokenLimit("this sentence is definitely longer than two tokens", 2))
}

func TestNilCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, 2, counter.CountTokens("12345678"))
}
