// ABOUTME: POST /api/agents/chat: runs an agent and streams its events as SSE frames
// ABOUTME: Writes created, then step frames, then exactly one final unless the run was aborted

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/runstream/internal/auth"
	"github.com/2389/runstream/internal/config"
	"github.com/2389/runstream/internal/content"
	"github.com/2389/runstream/internal/engine"
	"github.com/2389/runstream/internal/events"
	"github.com/2389/runstream/internal/protocol"
	"github.com/2389/runstream/internal/run"
	"github.com/2389/runstream/internal/sse"
	"github.com/2389/runstream/internal/store"
	"github.com/2389/runstream/internal/usage"
)

const (
	maxRequestBody = 1 << 20
	titleWords     = 8
	persistTimeout = 5 * time.Second
)

// chatTurn carries everything finalize needs once the run returns.
type chatTurn struct {
	agent        config.AgentConfig
	principalID  string
	conversation *store.Conversation
	userMessage  protocol.Message
	runID        string
	model        string
	aggregator   *content.Aggregator
	usage        *usage.Collector
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	agent, ok := g.config.Agent(req.AgentID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}

	// Check streaming support before doing any work (fail fast)
	if _, ok := w.(http.Flusher); !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	principalID := auth.PrincipalID(ctx)

	if g.config.Balance.Enabled {
		credits, err := g.balance(ctx, principalID)
		if err != nil {
			g.logger.Error("failed to compute balance", "principal_id", principalID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if credits <= 0 {
			g.sendJSONError(w, http.StatusPaymentRequired, "Insufficient token credits")
			return
		}
	}

	conv, err := g.resolveConversation(ctx, req, agent, principalID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to resolve conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	parentID := req.ParentMessageID
	if parentID == "" {
		parentID = protocol.NoParentID
	}
	history, err := g.history(ctx, conv.ID, parentID)
	if err != nil {
		g.logger.Error("failed to load history", "conversation_id", conv.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	turn := &chatTurn{
		agent:        agent,
		principalID:  principalID,
		conversation: conv,
		runID:        firstNonEmpty(req.ResponseMessageID, uuid.NewString()),
		model:        engine.LLMConfig(agent.ModelOptions).Model(),
		aggregator:   content.New(g.logger),
		usage:        usage.NewCollector(),
	}
	turn.userMessage = protocol.Message{
		MessageID:       firstNonEmpty(req.MessageID, uuid.NewString()),
		ConversationID:  conv.ID,
		ParentMessageID: parentID,
		Sender:          protocol.SenderUser,
		Text:            req.Text,
		IsCreatedByUser: true,
		Endpoint:        protocol.EndpointAgents,
	}

	enc := sse.NewEncoder(w)
	handlers, err := events.DefaultHandlers(events.Options{
		Writer:     enc,
		Aggregator: turn.aggregator,
		Usage:      turn.usage,
		Logger:     g.logger,
	})
	if err != nil {
		g.logger.Error("failed to build event handlers", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// The run outlives the request: only the abort endpoint or shutdown stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	active := newActiveRun(turn.runID, conv.ID, principalID, cancel)
	if err := g.runs.add(active); err != nil {
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	defer g.runs.remove(active)

	tools, toolMap, _ := engine.SelectTools(agent.Tools, g.tools)
	rn, err := g.launcher.CreateRun(runCtx, run.Options{
		Agent:          agent,
		Tools:          tools,
		ToolMap:        toolMap,
		ModelOptions:   agent.ModelOptions,
		RunID:          turn.runID,
		CustomHandlers: handlers,
	})
	if err != nil {
		g.logger.Error("failed to create run", "run_id", turn.runID, "agent_id", agent.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	if err := g.saveRequest(ctx, turn); errors.Is(err, store.ErrConflict) {
		g.sendJSONError(w, http.StatusConflict, "message id already in use")
		return
	} else if err != nil {
		g.logger.Error("failed to persist request", "conversation_id", conv.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sse.PrepareHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := enc.Send(protocol.CreatedFrame{Created: true, Message: turn.userMessage}); err != nil {
		g.logger.Debug("failed to write created frame", "error", err)
	}

	provider, _ := run.ProviderFor(agent.Provider)
	input := engine.Input{Messages: append(history, engine.Message{Role: engine.RoleUser, Content: req.Text})}
	_, runErr := rn.ProcessStream(runCtx, input,
		run.RunConfig(provider, conv.ID, turn.runID),
		run.ToolErrorLogger(g.logger.With("run_id", turn.runID)),
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		g.logger.Error("run failed", "run_id", turn.runID, "error", runErr)
	}

	final := g.finalize(context.WithoutCancel(ctx), turn, runErr)
	if active.finish(final) {
		if err := enc.Send(final); err != nil {
			g.logger.Debug("failed to write final frame", "run_id", turn.runID, "error", err)
		}
	}
}

// resolveConversation loads the caller's conversation or creates a new one.
// A conversation owned by another principal is reported as not found.
func (g *Gateway) resolveConversation(ctx context.Context, req protocol.ChatRequest, agent config.AgentConfig, principalID string) (*store.Conversation, error) {
	if req.ConversationID != "" && req.ConversationID != "new" {
		conv, err := g.store.GetConversation(ctx, req.ConversationID)
		if err == nil {
			if conv.PrincipalID != principalID {
				return nil, store.ErrNotFound
			}
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	id := req.ConversationID
	if id == "" || id == "new" {
		id = uuid.NewString()
	}
	now := g.now()
	return &store.Conversation{
		ID:          id,
		AgentID:     agent.ID,
		PrincipalID: principalID,
		Title:       titleFrom(req.Text),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// history returns the branch ending at parentID as engine messages.
func (g *Gateway) history(ctx context.Context, conversationID, parentID string) ([]engine.Message, error) {
	if parentID == protocol.NoParentID {
		return nil, nil
	}
	chain, err := g.store.GetMessageChain(ctx, parentID, store.DefaultChainLimit)
	if err != nil {
		return nil, err
	}

	msgs := make([]engine.Message, 0, len(chain))
	for _, m := range chain {
		if m.ConversationID != conversationID || m.Error || m.Text == "" {
			continue
		}
		role := engine.RoleAssistant
		if m.IsCreatedByUser {
			role = engine.RoleUser
		}
		msgs = append(msgs, engine.Message{Role: role, Content: m.Text})
	}
	return msgs, nil
}

func (g *Gateway) saveRequest(ctx context.Context, turn *chatTurn) error {
	if err := g.store.UpsertConversation(ctx, turn.conversation); err != nil {
		return err
	}
	msg := toStoreMessage(turn.userMessage, g.now())
	return g.store.SaveMessage(ctx, msg)
}

// finalize persists the response and its usage and builds the final frame.
// Persistence failures are logged; the client still gets a final frame.
func (g *Gateway) finalize(ctx context.Context, turn *chatTurn, runErr error) *protocol.FinalFrame {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	parts := turn.aggregator.Parts()
	cancelled := errors.Is(runErr, context.Canceled)
	failed := runErr != nil && !cancelled
	if failed {
		parts = append(parts, events.ContentPart{Type: events.ContentError, Error: runErr.Error()})
	}

	totals := turn.usage.Totals()
	response := protocol.Message{
		MessageID:       turn.runID,
		ConversationID:  turn.conversation.ID,
		ParentMessageID: turn.userMessage.MessageID,
		Sender:          senderName(turn.agent),
		Text:            content.TextOf(parts),
		Content:         parts,
		Error:           failed,
		Unfinished:      cancelled,
		Endpoint:        protocol.EndpointAgents,
		Model:           turn.model,
		TokenCount:      totals.OutputTokens,
	}

	now := g.now()
	if err := g.store.SaveMessage(ctx, toStoreMessage(response, now)); err != nil {
		g.logger.Error("failed to persist response", "run_id", turn.runID, "error", err)
	}
	for _, rec := range turn.usage.Records() {
		if err := g.store.SaveUsage(ctx, g.usageRow(turn, rec, now)); err != nil {
			g.logger.Error("failed to persist usage", "run_id", turn.runID, "error", err)
		}
	}
	turn.conversation.UpdatedAt = now
	if err := g.store.UpsertConversation(ctx, turn.conversation); err != nil {
		g.logger.Error("failed to touch conversation", "conversation_id", turn.conversation.ID, "error", err)
	}

	g.logger.Info("run finished",
		"run_id", turn.runID,
		"conversation_id", turn.conversation.ID,
		"agent_id", turn.agent.ID,
		"usage_records", totals.Records,
		"total_tokens", totals.Total(),
		"cancelled", cancelled,
		"error", failed,
	)

	request := turn.userMessage
	return &protocol.FinalFrame{
		Final: true,
		Conversation: protocol.Conversation{
			ConversationID: turn.conversation.ID,
			Title:          turn.conversation.Title,
			Endpoint:       protocol.EndpointAgents,
			AgentID:        turn.agent.ID,
		},
		Title:           turn.conversation.Title,
		RequestMessage:  &request,
		ResponseMessage: &response,
		Error:           failed,
	}
}

func (g *Gateway) usageRow(turn *chatTurn, rec usage.Record, at time.Time) *store.TokenUsage {
	return &store.TokenUsage{
		ID:               uuid.NewString(),
		RunID:            turn.runID,
		ConversationID:   turn.conversation.ID,
		MessageID:        turn.runID,
		PrincipalID:      turn.principalID,
		AgentID:          turn.agent.ID,
		Model:            firstNonEmpty(rec.Model, turn.model),
		InputTokens:      rec.InputTokens,
		OutputTokens:     rec.OutputTokens,
		CacheReadTokens:  rec.CacheRead(),
		CacheWriteTokens: rec.CacheCreation(),
		ReasoningTokens:  rec.Reasoning(),
		CreatedAt:        at,
	}
}

func senderName(a config.AgentConfig) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func titleFrom(text string) string {
	words := strings.Fields(text)
	if len(words) > titleWords {
		return strings.Join(words[:titleWords], " ") + "..."
	}
	return strings.Join(words, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
