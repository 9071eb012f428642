// ABOUTME: Folds run step, delta and completion events into ordered message content parts
// ABOUTME: Used by the gateway for persistence and by clients for live rendering

package content

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/runstream/internal/events"
)

// Aggregator builds a message's content parts from step events. Parts are
// indexed by the step's index.
type Aggregator struct {
	mu     sync.Mutex
	parts  []*events.ContentPart
	steps  map[string]events.RunStep
	logger *slog.Logger
}

// New returns an empty aggregator.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		steps:  make(map[string]events.RunStep),
		logger: logger.With("component", "content"),
	}
}

// Aggregate applies one event. Kinds that carry no content are ignored.
func (a *Aggregator) Aggregate(kind events.Kind, data any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch kind {
	case events.KindRunStep:
		step, err := events.Decode[events.RunStep](data)
		if err != nil {
			a.logger.Warn("ignoring malformed run step", "error", err)
			return
		}
		a.steps[step.ID] = step
		if step.StepDetails.Type == events.StepToolCalls {
			for _, tc := range step.StepDetails.ToolCalls {
				tc.Args = ""
				a.update(step.Index, events.ContentPart{Type: events.ContentToolCall, ToolCall: &tc}, false)
			}
		}

	case events.KindMessageDelta:
		delta, err := events.Decode[events.MessageDelta](data)
		if err != nil {
			a.logger.Warn("ignoring malformed message delta", "error", err)
			return
		}
		step, ok := a.steps[delta.ID]
		if !ok {
			a.logger.Warn("message delta for unknown step", "step_id", delta.ID)
			return
		}
		for _, part := range delta.Delta.Content {
			a.update(step.Index, part, false)
		}

	case events.KindRunStepDelta:
		delta, err := events.Decode[events.RunStepDelta](data)
		if err != nil {
			a.logger.Warn("ignoring malformed run step delta", "error", err)
			return
		}
		step, ok := a.steps[delta.ID]
		if !ok {
			a.logger.Warn("run step delta for unknown step", "step_id", delta.ID)
			return
		}
		for _, chunk := range delta.Delta.ToolCalls {
			a.update(step.Index, events.ContentPart{
				Type:     events.ContentToolCall,
				ToolCall: &events.ToolCall{ID: chunk.ID, Name: chunk.Name, Args: chunk.Args},
			}, false)
		}

	case events.KindRunStepCompleted:
		done, err := events.Decode[events.RunStepCompleted](data)
		if err != nil {
			a.logger.Warn("ignoring malformed run step completion", "error", err)
			return
		}
		if done.Result.Type != events.ContentToolCall {
			return
		}
		tc := done.Result.ToolCall
		a.update(done.Result.Index, events.ContentPart{Type: events.ContentToolCall, ToolCall: &tc}, true)
	}
}

// update merges part into the slot at index. Text appends. Tool call args
// append unless final is set, in which case the call is replaced.
func (a *Aggregator) update(index int, part events.ContentPart, final bool) {
	if index < 0 {
		return
	}
	for len(a.parts) <= index {
		a.parts = append(a.parts, nil)
	}

	cur := a.parts[index]
	if cur == nil {
		p := part
		if p.ToolCall != nil {
			tc := *p.ToolCall
			p.ToolCall = &tc
		}
		a.parts[index] = &p
		return
	}

	switch part.Type {
	case events.ContentText:
		if cur.Type != events.ContentText {
			a.logger.Warn("content type changed at index", "index", index, "from", cur.Type, "to", part.Type)
			*cur = events.ContentPart{Type: events.ContentText}
		}
		cur.Text += part.Text

	case events.ContentToolCall:
		if part.ToolCall == nil {
			return
		}
		if cur.ToolCall == nil {
			cur.Type = events.ContentToolCall
			cur.ToolCall = &events.ToolCall{}
		}
		tc := cur.ToolCall
		if part.ToolCall.ID != "" {
			tc.ID = part.ToolCall.ID
		}
		if part.ToolCall.Name != "" {
			tc.Name = part.ToolCall.Name
		}
		if final {
			tc.Args = part.ToolCall.Args
			tc.Output = part.ToolCall.Output
		} else {
			tc.Args += part.ToolCall.Args
		}

	default:
		p := part
		a.parts[index] = &p
	}
}

// Parts returns a copy of the aggregated parts in index order, skipping
// slots no event has filled.
func (a *Aggregator) Parts() []events.ContentPart {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]events.ContentPart, 0, len(a.parts))
	for _, p := range a.parts {
		if p == nil {
			continue
		}
		cp := *p
		if cp.ToolCall != nil {
			tc := *cp.ToolCall
			cp.ToolCall = &tc
		}
		out = append(out, cp)
	}
	return out
}

// Text concatenates the text parts.
func (a *Aggregator) Text() string {
	return TextOf(a.Parts())
}

// TextOf concatenates the text parts of parts.
func TextOf(parts []events.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == events.ContentText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

var _ events.ContentAggregator = (*Aggregator)(nil)
