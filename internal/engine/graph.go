// ABOUTME: Per-run step bookkeeping and the engine's default stream and tool-end handlers
// ABOUTME: Turns raw model chunks into run steps, deltas and step completions

package engine

import (
	"github.com/google/uuid"

	"github.com/2389/runstream/internal/events"
)

type toolStep struct {
	stepID string
	index  int
	name   string
	args   string
}

// Graph tracks the steps of one run and routes events to handlers.
type Graph struct {
	runID    string
	threadID string
	provider string

	custom   events.Handlers
	defaults events.Handlers
	metadata events.Metadata

	nextIndex     int
	messageStepID string
	toolSteps     map[string]*toolStep
	newID         func() string
}

// NewGraph returns a graph for one run. Custom handlers take precedence over
// the graph's own defaults.
func NewGraph(runID, threadID, provider string, custom events.Handlers) *Graph {
	g := &Graph{
		runID:     runID,
		threadID:  threadID,
		provider:  provider,
		custom:    custom,
		toolSteps: make(map[string]*toolStep),
		newID:     func() string { return "step_" + uuid.NewString() },
		metadata: events.Metadata{
			"run_id":    runID,
			"thread_id": threadID,
			"provider":  provider,
		},
	}
	g.defaults = DefaultHandlers(g)
	return g
}

// DefaultHandlers returns the engine-owned handlers bound to g.
func DefaultHandlers(g *Graph) events.Handlers {
	return events.Handlers{
		events.KindChatModelStream: &chatModelStreamHandler{g: g},
		events.KindToolEnd:         &toolEndHandler{g: g},
	}
}

func (g *Graph) RunID() string    { return g.runID }
func (g *Graph) ThreadID() string { return g.threadID }
func (g *Graph) Provider() string { return g.provider }

// Dispatch routes an event to its handler. Unhandled kinds are dropped.
func (g *Graph) Dispatch(kind events.Kind, data any) {
	if h := Resolve(g.custom, g.defaults, kind); h != nil {
		h.Handle(kind, data, g.metadata, g)
	}
}

// ensureMessageStep opens a message_creation step if none is open.
func (g *Graph) ensureMessageStep() string {
	if g.messageStepID != "" {
		return g.messageStepID
	}
	step := events.RunStep{
		ID:    g.newID(),
		RunID: g.runID,
		Index: g.nextIndex,
		Type:  events.StepMessageCreation,
		StepDetails: events.StepDetails{
			Type:            events.StepMessageCreation,
			MessageCreation: &events.MessageCreation{MessageID: g.runID},
		},
	}
	g.nextIndex++
	g.messageStepID = step.ID
	g.Dispatch(events.KindRunStep, step)
	return step.ID
}

// ensureToolStep opens a tool_calls step for a newly seen call ID.
func (g *Graph) ensureToolStep(chunk events.ToolCallChunk) *toolStep {
	if ts, ok := g.toolSteps[chunk.ID]; ok {
		return ts
	}
	ts := &toolStep{stepID: g.newID(), index: g.nextIndex, name: chunk.Name}
	g.nextIndex++
	g.toolSteps[chunk.ID] = ts
	// Text after a tool call belongs to a new message step.
	g.messageStepID = ""
	g.Dispatch(events.KindRunStep, events.RunStep{
		ID:    ts.stepID,
		RunID: g.runID,
		Index: ts.index,
		Type:  events.StepToolCalls,
		StepDetails: events.StepDetails{
			Type:      events.StepToolCalls,
			ToolCalls: []events.ToolCall{{ID: chunk.ID, Name: chunk.Name}},
		},
	})
	return ts
}

type chatModelStreamHandler struct {
	g *Graph
}

func (h *chatModelStreamHandler) Handle(_ events.Kind, data any, _ events.Metadata, _ events.Graph) {
	chunk, err := events.Decode[events.ModelStreamChunk](data)
	if err != nil {
		return
	}
	for _, tc := range chunk.ToolCallChunks {
		ts := h.g.ensureToolStep(tc)
		ts.args += tc.Args
		if tc.Args == "" {
			continue
		}
		h.g.Dispatch(events.KindRunStepDelta, events.RunStepDelta{
			ID: ts.stepID,
			Delta: events.RunStepDeltaBody{
				Type:      events.StepToolCalls,
				ToolCalls: []events.ToolCallChunk{{Args: tc.Args, Index: tc.Index}},
			},
		})
	}
	if chunk.Content == "" {
		return
	}
	stepID := h.g.ensureMessageStep()
	h.g.Dispatch(events.KindMessageDelta, events.MessageDelta{
		ID: stepID,
		Delta: events.MessageDeltaBody{
			Content: []events.ContentPart{{Type: events.ContentText, Text: chunk.Content}},
		},
	})
}

type toolEndHandler struct {
	g *Graph
}

func (h *toolEndHandler) Handle(_ events.Kind, data any, _ events.Metadata, _ events.Graph) {
	end, err := events.Decode[events.ToolEndData](data)
	if err != nil {
		return
	}
	ts, ok := h.g.toolSteps[end.ToolCallID]
	if !ok {
		return
	}
	args := end.Input
	if args == "" {
		args = ts.args
	}
	h.g.Dispatch(events.KindRunStepCompleted, events.RunStepCompleted{
		Result: events.ToolResult{
			ID:    ts.stepID,
			Index: ts.index,
			Type:  events.ContentToolCall,
			ToolCall: events.ToolCall{
				ID:     end.ToolCallID,
				Name:   ts.name,
				Args:   args,
				Output: end.Output,
			},
		},
	})
}

var _ events.Graph = (*Graph)(nil)
