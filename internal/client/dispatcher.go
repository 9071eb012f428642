// ABOUTME: Classifies incoming frames by field presence and routes them to handlers
// ABOUTME: Owns the cancel path that aborts an unfinished run exactly once per completion key

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/runstream/internal/dedupe"
	"github.com/2389/runstream/internal/events"
	"github.com/2389/runstream/internal/protocol"
)

// FrameKind is the family a frame belongs to.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameFinal
	FrameCreated
	FrameStep
	FrameSync
	FrameContent
)

func (k FrameKind) String() string {
	switch k {
	case FrameFinal:
		return "final"
	case FrameCreated:
		return "created"
	case FrameStep:
		return "event"
	case FrameSync:
		return "sync"
	case FrameContent:
		return "type"
	default:
		return "text"
	}
}

// discriminants in priority order.
var discriminants = []struct {
	field string
	kind  FrameKind
}{
	{"final", FrameFinal},
	{"created", FrameCreated},
	{"event", FrameStep},
	{"sync", FrameSync},
	{"type", FrameContent},
}

var jsonNull = []byte("null")

// present reports whether field exists and is not JSON null.
func present(fields map[string]json.RawMessage, field string) bool {
	v, ok := fields[field]
	return ok && len(v) > 0 && !bytes.Equal(bytes.TrimSpace(v), jsonNull)
}

// Classify picks a frame's family. ambiguous is set when more than one
// discriminant field is present; the highest priority one wins.
func Classify(fields map[string]json.RawMessage) (kind FrameKind, ambiguous bool) {
	kind = FrameText
	found := false
	for _, d := range discriminants {
		if !present(fields, d.field) {
			continue
		}
		if found {
			return kind, true
		}
		kind, found = d.kind, true
	}
	return kind, false
}

// Dispatcher routes one submission's frames.
type Dispatcher struct {
	sub          *Submission
	state        *State
	control      Control
	completed    *dedupe.Cache
	handlers     *Handlers
	checkBalance bool
	logger       *slog.Logger
}

// NewDispatcher wires a dispatcher for sub. completed is the completion
// tracker shared by every slot of the session.
func NewDispatcher(sub *Submission, state *State, control Control, completed *dedupe.Cache, checkBalance bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatcher", "slot", sub.Slot)
	return &Dispatcher{
		sub:          sub,
		state:        state,
		control:      control,
		completed:    completed,
		handlers:     &Handlers{state: state, completed: completed, logger: logger},
		checkBalance: checkBalance,
		logger:       logger,
	}
}

// Dispatch handles one frame. Frames after a final frame, or after the
// submission's key was marked complete, are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) {
	if d.sub.Terminated() || d.completed.Check(d.sub.AbortKey()) {
		d.logger.Debug("ignoring frame after completion")
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		d.logger.Warn("ignoring malformed frame", "error", err)
		return
	}

	kind, ambiguous := Classify(fields)
	if ambiguous {
		d.logger.Warn("frame carries more than one discriminant", "classified_as", kind.String())
	}

	switch kind {
	case FrameFinal:
		var frame protocol.FinalFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Warn("ignoring malformed final frame", "error", err)
			return
		}
		d.mergePlugins(&frame)
		d.handlers.final(d.sub, frame)
		d.refreshBalance(ctx)
		d.sub.terminated.Store(true)

	case FrameCreated:
		user := d.sub.UserMessage()
		merged := user
		if err := json.Unmarshal(fields["message"], &merged); err != nil && present(fields, "message") {
			d.logger.Warn("ignoring malformed created message", "error", err)
			merged = user
		}
		merged.OverrideParentMessageID = user.OverrideParentMessageID
		d.sub.setUserMessage(merged)
		d.state.SetActiveRunID(d.sub.Slot, uuid.New().String())
		d.handlers.created(d.sub)

	case FrameStep:
		var frame protocol.StepFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Warn("ignoring malformed step frame", "error", err)
			return
		}
		k, err := events.ParseKind(frame.Event)
		if err != nil {
			d.logger.Debug("ignoring unknown step event", "event", frame.Event)
			return
		}
		d.handlers.step(d.sub, k, frame.Data)

	case FrameSync:
		var frame protocol.SyncFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Warn("ignoring malformed sync frame", "error", err)
			return
		}
		d.state.SetActiveRunID(d.sub.Slot, uuid.New().String())
		d.handlers.sync(d.sub, frame)

	case FrameContent:
		var frame protocol.ContentFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Warn("ignoring malformed content frame", "error", err)
			return
		}
		if frame.Type == events.ContentText {
			d.sub.mu.Lock()
			if frame.Index < d.sub.lastTextIndex {
				d.logger.Debug("text content index moved backwards", "index", frame.Index, "last", d.sub.lastTextIndex)
			}
			d.sub.lastTextIndex = frame.Index
			d.sub.mu.Unlock()
		}
		d.handlers.content(d.sub, frame)

	default:
		var frame protocol.TextFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Warn("ignoring malformed text frame", "error", err)
			return
		}
		if !present(fields, "message") {
			return
		}
		d.handlers.message(d.sub, frame)
	}
}

// mergePlugins carries plugin data seen during the stream onto the final
// response when the gateway did not repeat it.
func (d *Dispatcher) mergePlugins(frame *protocol.FinalFrame) {
	if frame.ResponseMessage == nil {
		return
	}
	initial := d.sub.InitialResponse()
	if len(frame.ResponseMessage.Plugin) == 0 {
		frame.ResponseMessage.Plugin = initial.Plugin
	}
	if len(frame.ResponseMessage.Plugins) == 0 {
		frame.ResponseMessage.Plugins = initial.Plugins
	}
}

// Error runs the error path. body may be nil when the failure carried no
// parseable error.
func (d *Dispatcher) Error(_ context.Context, body *protocol.ErrorBody) {
	d.handlers.error(d.sub, body)
}

// Cancel stops the submission's run. A second cancel for the same key, or a
// cancel after the final frame, only clears the submitting flag.
func (d *Dispatcher) Cancel(ctx context.Context) {
	key := d.sub.AbortKey()
	if d.completed.CheckAndMark(key) {
		d.state.SetSubmitting(d.sub.Slot, false)
		d.completed.Remove(key)
		return
	}

	req := protocol.AbortRequest{
		ConversationID: d.cancelConversationID(),
		AbortKey:       key,
		Endpoint:       protocol.EndpointAgents,
	}
	d.logger.Info("aborting run", "abort_key", key, "conversation_id", req.ConversationID)

	resp, err := d.control.Abort(ctx, req)
	if err != nil {
		d.logger.Warn("abort request failed", "error", err)
		var terr *TransportError
		var body *protocol.ErrorBody
		if errors.As(err, &terr) {
			body = terr.ErrorBody()
		}
		d.handlers.error(d.sub, body)
		d.state.SetSubmitting(d.sub.Slot, false)
		return
	}

	if resp.Final {
		d.handlers.final(d.sub, *resp)
		return
	}
	d.state.SetSubmitting(d.sub.Slot, false)
}

// cancelConversationID prefers the latest message's conversation, then the
// user message's, then the submission's.
func (d *Dispatcher) cancelConversationID() string {
	if msgs := d.state.Messages(d.sub.Slot); len(msgs) > 0 {
		if id := msgs[len(msgs)-1].ConversationID; id != "" {
			return id
		}
	}
	if id := d.sub.UserMessage().ConversationID; id != "" {
		return id
	}
	return d.sub.ConversationID
}

func (d *Dispatcher) refreshBalance(ctx context.Context) {
	if !d.checkBalance {
		return
	}
	n, err := d.control.Balance(context.WithoutCancel(ctx))
	if err != nil {
		d.logger.Debug("balance refresh failed", "error", err)
		return
	}
	d.state.SetBalance(n)
}

func (d *Dispatcher) connecting() {
	d.state.SetReady(d.sub.Slot, Connecting)
}

func (d *Dispatcher) open() {
	d.state.SetAbortScroll(d.sub.Slot, false)
	d.state.SetReady(d.sub.Slot, Open)
}

func (d *Dispatcher) closed() {
	d.state.SetReady(d.sub.Slot, Closed)
}

// transportError refreshes the balance and runs the error path with the
// parsed body, if any.
func (d *Dispatcher) transportError(ctx context.Context, terr *TransportError) {
	d.logger.Warn("stream failed", "status", terr.StatusCode, "error", terr)
	d.refreshBalance(ctx)

	body := terr.ErrorBody()
	if body == nil {
		d.state.SetSubmitting(d.sub.Slot, false)
	}
	d.Error(ctx, body)
}
