// ABOUTME: Store interface and data types for runstream-gateway persistence
// ABOUTME: Defines Conversation, Message and TokenUsage records and their store interfaces

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/runstream/internal/events"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an ID is already taken by another conversation.
var ErrConflict = errors.New("conflict")

// Conversation groups the messages exchanged with one agent.
type Conversation struct {
	ID          string
	AgentID     string
	PrincipalID string
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is a persisted conversation message. ParentMessageID links a
// message to the one it replies to.
type Message struct {
	ID              string
	ConversationID  string
	ParentMessageID string
	Sender          string
	Text            string
	Content         []events.ContentPart
	IsCreatedByUser bool
	Error           bool
	Unfinished      bool
	Model           string
	TokenCount      int64
	CreatedAt       time.Time
}

// TokenUsage is one usage record reported during a run.
type TokenUsage struct {
	ID               string
	RunID            string
	ConversationID   string
	MessageID        string
	PrincipalID      string
	AgentID          string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	ReasoningTokens  int64
	CreatedAt        time.Time
}

// UsageFilter narrows GetUsageStats. Nil fields are not filtered.
type UsageFilter struct {
	AgentID     *string
	PrincipalID *string
	Since       *time.Time
	Until       *time.Time
}

// UsageStats is aggregated token usage.
type UsageStats struct {
	TotalInput      int64 `json:"total_input"`
	TotalOutput     int64 `json:"total_output"`
	TotalCacheRead  int64 `json:"total_cache_read"`
	TotalCacheWrite int64 `json:"total_cache_write"`
	TotalReasoning  int64 `json:"total_reasoning"`
	TotalTokens     int64 `json:"total_tokens"`
	RequestCount    int64 `json:"request_count"`
}

// ConversationStore persists conversations.
type ConversationStore interface {
	UpsertConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]*Message, error)
	GetMessageChain(ctx context.Context, leafID string, limit int) ([]*Message, error)
}

// UsageStore persists token usage.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetRunUsage(ctx context.Context, runID string) ([]*TokenUsage, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// Store is everything the gateway persists.
type Store interface {
	ConversationStore
	MessageStore
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}
