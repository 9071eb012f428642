// ABOUTME: Read-side HTTP API: balance, usage statistics, run usage and conversation messages
// ABOUTME: Also holds the JSON helpers and store/protocol message conversion

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/runstream/internal/auth"
	"github.com/2389/runstream/internal/protocol"
	"github.com/2389/runstream/internal/store"
)

// UsageStatsResponse is the JSON response for GET /api/stats/usage.
type UsageStatsResponse struct {
	store.UsageStats
	PrincipalID string `json:"principal_id"`
	Since       string `json:"since,omitempty"`
	Until       string `json:"until,omitempty"`
}

// RunUsageResponse is the JSON response for GET /api/runs/{id}/usage.
type RunUsageResponse struct {
	RunID           string        `json:"run_id"`
	Records         []UsageRecord `json:"records"`
	InputTokens     int64         `json:"input_tokens"`
	OutputTokens    int64         `json:"output_tokens"`
	ReasoningTokens int64         `json:"reasoning_tokens"`
	TotalTokens     int64         `json:"total_tokens"`
}

// UsageRecord is one model call's token usage.
type UsageRecord struct {
	Model            string    `json:"model"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64     `json:"cache_write_tokens,omitempty"`
	ReasoningTokens  int64     `json:"reasoning_tokens,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ConversationMessagesResponse is the JSON response for
// GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string             `json:"conversationId"`
	Title          string             `json:"title,omitempty"`
	Messages       []protocol.Message `json:"messages"`
}

// balance returns the principal's remaining credits.
func (g *Gateway) balance(ctx context.Context, principalID string) (int64, error) {
	stats, err := g.store.GetUsageStats(ctx, store.UsageFilter{PrincipalID: &principalID})
	if err != nil {
		return 0, err
	}
	return g.config.Balance.StartCredits - stats.TotalTokens, nil
}

// handleBalance handles GET /api/balance.
func (g *Gateway) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !g.config.Balance.Enabled {
		g.sendJSONError(w, http.StatusNotFound, "balance is not enabled")
		return
	}

	credits, err := g.balance(r.Context(), auth.PrincipalID(r.Context()))
	if err != nil {
		g.logger.Error("failed to compute balance", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, protocol.BalanceResponse{TokenCredits: credits})
}

// handleUsageStats handles GET /api/stats/usage for the calling principal.
// Optional ?since= and ?until= take RFC 3339 timestamps; ?agent_id= filters
// by agent.
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	principalID := auth.PrincipalID(r.Context())
	filter := store.UsageFilter{PrincipalID: &principalID}
	q := r.URL.Query()

	if agentID := q.Get("agent_id"); agentID != "" {
		filter.AgentID = &agentID
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid "+p.name+": expected RFC 3339 timestamp")
			return
		}
		*p.dst = &t
	}

	stats, err := g.store.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to get usage stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, UsageStatsResponse{
		UsageStats:  *stats,
		PrincipalID: principalID,
		Since:       q.Get("since"),
		Until:       q.Get("until"),
	})
}

// handleRunUsage handles GET /api/runs/{id}/usage. Runs the caller does not
// own read as not found.
func (g *Gateway) handleRunUsage(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	principalID := auth.PrincipalID(r.Context())

	rows, err := g.store.GetRunUsage(r.Context(), runID)
	if err != nil {
		g.logger.Error("failed to get run usage", "run_id", runID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := RunUsageResponse{RunID: runID, Records: []UsageRecord{}}
	for _, u := range rows {
		if u.PrincipalID != principalID {
			continue
		}
		resp.Records = append(resp.Records, UsageRecord{
			Model:            u.Model,
			InputTokens:      u.InputTokens,
			OutputTokens:     u.OutputTokens,
			CacheReadTokens:  u.CacheReadTokens,
			CacheWriteTokens: u.CacheWriteTokens,
			ReasoningTokens:  u.ReasoningTokens,
			CreatedAt:        u.CreatedAt,
		})
		resp.InputTokens += u.InputTokens
		resp.OutputTokens += u.OutputTokens
		resp.ReasoningTokens += u.ReasoningTokens
	}
	if len(resp.Records) == 0 {
		g.sendJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	// Same sum as UsageStats.TotalTokens, which balances are charged from.
	resp.TotalTokens = resp.InputTokens + resp.OutputTokens + resp.ReasoningTokens
	g.writeJSON(w, http.StatusOK, resp)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := g.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.PrincipalID != auth.PrincipalID(r.Context())) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	msgs, err := g.store.GetConversationMessages(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to get messages", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ConversationMessagesResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Messages:       make([]protocol.Message, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toProtocolMessage(m))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes v as a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write JSON response", "error", err)
	}
}

// sendJSONError writes an error body clients can parse at either nesting level.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, protocol.NewErrorBody(message))
}

func toStoreMessage(m protocol.Message, at time.Time) *store.Message {
	return &store.Message{
		ID:              m.MessageID,
		ConversationID:  m.ConversationID,
		ParentMessageID: m.ParentMessageID,
		Sender:          m.Sender,
		Text:            m.Text,
		Content:         m.Content,
		IsCreatedByUser: m.IsCreatedByUser,
		Error:           m.Error,
		Unfinished:      m.Unfinished,
		Model:           m.Model,
		TokenCount:      m.TokenCount,
		CreatedAt:       at,
	}
}

func toProtocolMessage(m *store.Message) protocol.Message {
	return protocol.Message{
		MessageID:       m.ID,
		ConversationID:  m.ConversationID,
		ParentMessageID: m.ParentMessageID,
		Sender:          m.Sender,
		Text:            m.Text,
		Content:         m.Content,
		IsCreatedByUser: m.IsCreatedByUser,
		Error:           m.Error,
		Unfinished:      m.Unfinished,
		Endpoint:        protocol.EndpointAgents,
		Model:           m.Model,
		TokenCount:      m.TokenCount,
	}
}
