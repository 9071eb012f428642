// ABOUTME: POST /api/agents/chat/abort: the control plane that actually stops a run
// ABOUTME: Cancels the run, waits for it to finalize and returns the partial final data

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/runstream/internal/auth"
	"github.com/2389/runstream/internal/config"
	"github.com/2389/runstream/internal/protocol"
)

func (g *Gateway) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req protocol.AbortRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" && req.AbortKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversationId or abortKey is required")
		return
	}

	active, ok := g.runs.lookup(req.AbortKey, req.ConversationID)
	if !ok || active.principalID != auth.PrincipalID(r.Context()) {
		g.sendJSONError(w, http.StatusNotFound, ErrRunNotFound.Error())
		return
	}

	if !active.abort() {
		// Finished on its own; the stream already carried its final frame.
		g.sendJSONError(w, http.StatusNotFound, ErrRunNotFound.Error())
		return
	}
	g.logger.Info("aborting run", "run_id", active.runID, "conversation_id", active.conversationID)

	wait := g.config.Runs.AbortWait
	if wait <= 0 {
		wait = config.DefaultAbortWait
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	final, err := active.wait(ctx)
	if errors.Is(err, ErrAbortTimeout) {
		g.logger.Warn("run did not finalize after abort", "run_id", active.runID, "wait", wait)
		g.sendJSONError(w, http.StatusGatewayTimeout, err.Error())
		return
	}

	resp := protocol.AbortResponse(*final)
	resp.Aborted = true
	g.writeJSON(w, http.StatusOK, resp)
}
