// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema setup, conversation upserts, message persistence and chains

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/runstream/internal/events"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.UpsertConversation(context.Background(), &Conversation{
		ID: id, AgentID: "echo", PrincipalID: "user-1", CreatedAt: now, UpdatedAt: now,
	}))
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestUpsertConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)

	require.NoError(t, s.UpsertConversation(ctx, &Conversation{
		ID: "c1", AgentID: "echo", PrincipalID: "p1", CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, s.UpsertConversation(ctx, &Conversation{
		ID: "c1", AgentID: "other", PrincipalID: "p2", Title: "Greetings", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "echo", conv.AgentID)
	assert.Equal(t, "p1", conv.PrincipalID)
	assert.Equal(t, "Greetings", conv.Title)
	assert.WithinDuration(t, created, conv.CreatedAt, time.Millisecond)
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt))

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConversation(t, s, "c1")

	msg := &Message{
		ID:              "m2",
		ConversationID:  "c1",
		ParentMessageID: "m1",
		Sender:          "Echo",
		Text:            "Echo: hi",
		Content: []events.ContentPart{
			{Type: events.ContentText, Text: "Echo: hi"},
			{Type: events.ContentToolCall, ToolCall: &events.ToolCall{ID: "call_1", Name: "clock", Output: "noon"}},
		},
		Model:      "gpt-4o-mini",
		TokenCount: 12,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ParentMessageID)
	assert.Equal(t, "Echo: hi", got.Text)
	assert.Equal(t, msg.Content, got.Content)
	assert.Equal(t, int64(12), got.TokenCount)
	assert.False(t, got.IsCreatedByUser)

	// Saving again updates in place
	msg.Text = "Echo: hi there"
	msg.Unfinished = true
	require.NoError(t, s.SaveMessage(ctx, msg))
	got, err = s.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi there", got.Text)
	assert.True(t, got.Unfinished)

	_, err = s.GetMessage(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveMessage_IDFromAnotherConversationConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConversation(t, s, "c1")
	seedConversation(t, s, "c2")

	require.NoError(t, s.SaveMessage(ctx, &Message{ID: "m1", ConversationID: "c1", Sender: "User", Text: "mine", IsCreatedByUser: true, CreatedAt: time.Now()}))

	err := s.SaveMessage(ctx, &Message{ID: "m1", ConversationID: "c2", Sender: "User", Text: "theirs", IsCreatedByUser: true, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "mine", got.Text)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestGetConversationMessages_Ordered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConversation(t, s, "c1")

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			ID:              id,
			ConversationID:  "c1",
			Sender:          "User",
			Text:            id,
			IsCreatedByUser: true,
			CreatedAt:       base.Add(time.Duration(i) * 500 * time.Millisecond),
		}))
	}

	msgs, err := s.GetConversationMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, "c", msgs[2].ID)
	assert.True(t, msgs[0].IsCreatedByUser)
}

func TestGetMessageChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConversation(t, s, "c1")

	// root <- u1 <- a1 <- u2, plus a sibling branch root <- u1 <- a1b
	chain := []struct{ id, parent string }{
		{"root", ""}, {"u1", "root"}, {"a1", "u1"}, {"u2", "a1"}, {"a1b", "u1"},
	}
	for _, m := range chain {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			ID: m.id, ConversationID: "c1", ParentMessageID: m.parent, Sender: "x", CreatedAt: time.Now(),
		}))
	}

	got, err := s.GetMessageChain(ctx, "u2", 0)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"root", "u1", "a1", "u2"}, ids)

	got, err = s.GetMessageChain(ctx, "u2", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "u2", got[1].ID)

	got, err = s.GetMessageChain(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
