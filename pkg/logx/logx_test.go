package logx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true)
	SetDebugDomains([]string{"session"})
	defer func() {
		SetDebug(false)
		SetDebugDomains(nil)
	}()

	assert.True(t, IsDebugEnabled("session"))
	assert.False(t, IsDebugEnabled("pipeline"))

	// No filter means all domains.
	SetDebugDomains(nil)
	assert.True(t, IsDebugEnabled("pipeline"))
}

func TestDebugDisabledByDefault(t *testing.T) {
	SetDebug(false)
	assert.False(t, IsDebugEnabled("session"))
}

func TestRecentEntriesFilterByComponent(t *testing.T) {
	logger := NewLogger("logx-test-a")
	other := NewLogger("logx-test-b")

	logger.Info("first message")
	other.Info("other message")
	logger.Warn("second message")

	entries := RecentEntries("logx-test-a", time.Time{})
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "logx-test-a", e.Component)
	}
}

func TestRecentEntriesFilterBySince(t *testing.T) {
	logger := NewLogger("logx-since-test")
	logger.Info("old message")

	cutoff := time.Now().UTC().Add(time.Second)
	entries := RecentEntries("logx-since-test", cutoff)
	assert.Empty(t, entries)
}
