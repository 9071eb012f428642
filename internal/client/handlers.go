// ABOUTME: Frame handlers that turn lifecycle, step and legacy frames into conversation state
// ABOUTME: The final and error handlers also settle the completion key and submitting flag

package client

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/2389/runstream/internal/content"
	"github.com/2389/runstream/internal/dedupe"
	"github.com/2389/runstream/internal/events"
	"github.com/2389/runstream/internal/protocol"
)

// GenericErrorText is shown when a failure carries no server message.
const GenericErrorText = "An error occurred while processing your request. Please try again."

// maxContentGap bounds how far past the last part a content frame may land.
const maxContentGap = 64

// Handlers applies frames to State.
type Handlers struct {
	state     *State
	completed *dedupe.Cache
	logger    *slog.Logger
}

// responseMessage returns the response the submission is building, or the
// initial placeholder when nothing has been rendered yet.
func (h *Handlers) responseMessage(sub *Submission) protocol.Message {
	initial := sub.InitialResponse()
	if msg, ok := h.state.Message(sub.Slot, initial.MessageID); ok {
		return msg
	}
	return initial
}

func (h *Handlers) created(sub *Submission) {
	user := sub.UserMessage()
	response := sub.InitialResponse()
	response.ParentMessageID = user.MessageID
	if user.ConversationID != "" {
		response.ConversationID = user.ConversationID
	}
	sub.setInitialResponse(response)

	msgs := append(append([]protocol.Message(nil), sub.Prior...), user, response)
	h.state.SetMessages(sub.Slot, msgs)
	h.state.SetConversationID(sub.Slot, user.ConversationID)
	h.state.SetShowStopButton(sub.Slot, true)
	h.state.observer.MessageUpdated(sub.Slot, response)
}

func (h *Handlers) step(sub *Submission, kind events.Kind, data json.RawMessage) {
	if kind == events.KindRunStep {
		step, err := events.Decode[events.RunStep](data)
		if err != nil {
			h.logger.Warn("ignoring malformed run step", "error", err)
			return
		}
		// runId names the response message the step belongs to.
		if step.RunID != "" && step.RunID != sub.InitialResponse().MessageID {
			h.logger.Debug("run step for a different response", "run_id", step.RunID)
		}
	}

	sub.aggregator.Aggregate(kind, data)

	msg := h.responseMessage(sub)
	msg.Content = sub.aggregator.Parts()
	msg.Text = sub.aggregator.Text()
	h.state.UpsertMessage(sub.Slot, msg)
}

func (h *Handlers) sync(sub *Submission, frame protocol.SyncFrame) {
	msgs := append([]protocol.Message(nil), sub.Prior...)
	if frame.RequestMessage != nil {
		sub.setUserMessage(*frame.RequestMessage)
		msgs = append(msgs, *frame.RequestMessage)
	} else {
		msgs = append(msgs, sub.UserMessage())
	}
	if frame.ResponseMessage != nil {
		sub.setInitialResponse(*frame.ResponseMessage)
		msgs = append(msgs, *frame.ResponseMessage)
	}
	h.state.SetMessages(sub.Slot, msgs)
	h.state.SetConversationID(sub.Slot, frame.ConversationID)
}

func (h *Handlers) content(sub *Submission, frame protocol.ContentFrame) {
	if frame.Index < 0 {
		return
	}
	msg := h.responseMessage(sub)
	if frame.Index > len(msg.Content)+maxContentGap {
		h.logger.Debug("ignoring content frame far past the last part", "index", frame.Index, "parts", len(msg.Content))
		return
	}
	parts := append([]events.ContentPart(nil), msg.Content...)
	for len(parts) <= frame.Index {
		parts = append(parts, events.ContentPart{Type: events.ContentText})
	}

	part := &parts[frame.Index]
	switch frame.Type {
	case events.ContentText:
		part.Type = events.ContentText
		part.Text += frame.TextValue()
	case events.ContentToolCall:
		part.Type = events.ContentToolCall
		if frame.ToolCall != nil {
			tc := *frame.ToolCall
			part.ToolCall = &tc
		}
	case events.ContentError:
		part.Type = events.ContentError
		part.Error = frame.TextValue()
	default:
		h.logger.Debug("ignoring unknown content type", "type", frame.Type)
		return
	}

	msg.Content = parts
	msg.Text = content.TextOf(parts)
	h.state.UpsertMessage(sub.Slot, msg)
}

// message applies a legacy full-text frame.
func (h *Handlers) message(sub *Submission, frame protocol.TextFrame) {
	msg := sub.InitialResponse()
	msg.Text = frame.Value()
	if len(frame.Plugin) > 0 {
		msg.Plugin = frame.Plugin
	}
	if len(frame.Plugins) > 0 {
		msg.Plugins = frame.Plugins
	}
	sub.setInitialResponse(msg)
	h.state.UpsertMessage(sub.Slot, msg)
}

func (h *Handlers) final(sub *Submission, frame protocol.FinalFrame) {
	h.completed.Mark(sub.AbortKey())
	h.state.SetShowStopButton(sub.Slot, false)

	var msgs []protocol.Message
	if len(frame.RunMessages) > 0 {
		msgs = frame.RunMessages
	} else {
		msgs = append([]protocol.Message(nil), sub.Prior...)
		if frame.RequestMessage != nil {
			msgs = append(msgs, *frame.RequestMessage)
		} else {
			msgs = append(msgs, sub.UserMessage())
		}
		if frame.ResponseMessage != nil {
			msgs = append(msgs, *frame.ResponseMessage)
		}
	}
	h.state.SetMessages(sub.Slot, msgs)
	h.state.SetConversationID(sub.Slot, frame.Conversation.ConversationID)
	h.state.SetSubmitting(sub.Slot, false)
	h.state.finished(sub.Slot, frame)
}

func (h *Handlers) error(sub *Submission, body *protocol.ErrorBody) {
	sub.errored.Store(true)

	text := strings.TrimSpace(body.Text())
	if text == "" {
		text = GenericErrorText
	}

	user := sub.UserMessage()
	response := h.responseMessage(sub)
	response.ParentMessageID = user.MessageID
	response.Text = text
	response.Error = true

	msgs := append(append([]protocol.Message(nil), sub.Prior...), user, response)
	h.state.SetMessages(sub.Slot, msgs)
	if body != nil {
		h.state.SetConversationID(sub.Slot, body.ConversationID)
	}
	h.state.SetShowStopButton(sub.Slot, false)

	h.completed.Remove(sub.AbortKey())
	h.state.SetSubmitting(sub.Slot, false)
	h.state.failed(sub.Slot, text)
}
