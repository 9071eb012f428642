// ABOUTME: Tests for token usage persistence
// ABOUTME: Covers per-run retrieval and filtered aggregate statistics

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveUsage_GetRunUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveUsage(ctx, &TokenUsage{
		ID: "u1", RunID: "run-1", ConversationID: "c1", AgentID: "echo",
		InputTokens: 10, OutputTokens: 5, CreatedAt: now,
	}))
	require.NoError(t, s.SaveUsage(ctx, &TokenUsage{
		ID: "u2", RunID: "run-1", ConversationID: "c1", MessageID: "m1", AgentID: "echo",
		InputTokens: 15, OutputTokens: 7, CacheReadTokens: 3, CreatedAt: now,
	}))
	require.NoError(t, s.SaveUsage(ctx, &TokenUsage{
		ID: "u3", RunID: "run-2", ConversationID: "c1", AgentID: "echo",
		InputTokens: 1, CreatedAt: now,
	}))

	got, err := s.GetRunUsage(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].ID)
	assert.Equal(t, "", got[0].MessageID)
	assert.Equal(t, "u2", got[1].ID)
	assert.Equal(t, "m1", got[1].MessageID)
	assert.Equal(t, int64(3), got[1].CacheReadTokens)
}

func TestGetUsageStats_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	records := []*TokenUsage{
		{ID: "1", RunID: "r1", ConversationID: "c", AgentID: "echo", PrincipalID: "alice", InputTokens: 100, OutputTokens: 10, CreatedAt: old},
		{ID: "2", RunID: "r2", ConversationID: "c", AgentID: "echo", PrincipalID: "bob", InputTokens: 20, OutputTokens: 2, ReasoningTokens: 4, CreatedAt: recent},
		{ID: "3", RunID: "r3", ConversationID: "c", AgentID: "other", PrincipalID: "alice", InputTokens: 5, OutputTokens: 5, CacheWriteTokens: 9, CreatedAt: recent},
	}
	for _, r := range records {
		require.NoError(t, s.SaveUsage(ctx, r))
	}

	all, err := s.GetUsageStats(ctx, UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(125), all.TotalInput)
	assert.Equal(t, int64(17), all.TotalOutput)
	assert.Equal(t, int64(9), all.TotalCacheWrite)
	assert.Equal(t, int64(146), all.TotalTokens)
	assert.Equal(t, int64(3), all.RequestCount)

	alice := "alice"
	byAlice, err := s.GetUsageStats(ctx, UsageFilter{PrincipalID: &alice})
	require.NoError(t, err)
	assert.Equal(t, int64(2), byAlice.RequestCount)
	assert.Equal(t, int64(120), byAlice.TotalTokens)

	echo := "echo"
	since := time.Now().Add(-time.Hour)
	recentEcho, err := s.GetUsageStats(ctx, UsageFilter{AgentID: &echo, Since: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(1), recentEcho.RequestCount)
	assert.Equal(t, int64(26), recentEcho.TotalTokens)

	until := time.Now().Add(-time.Hour)
	older, err := s.GetUsageStats(ctx, UsageFilter{Until: &until})
	require.NoError(t, err)
	assert.Equal(t, int64(1), older.RequestCount)

	nobody := "nobody"
	empty, err := s.GetUsageStats(ctx, UsageFilter{PrincipalID: &nobody})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalTokens)
	assert.Equal(t, int64(0), empty.RequestCount)
}
