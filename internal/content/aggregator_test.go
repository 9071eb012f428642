// ABOUTME: Tests for content aggregation across message and tool call steps
// ABOUTME: Drives the aggregator with typed and JSON-decoded payloads

package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/runstream/internal/events"
)

func messageStep(id string, index int) events.RunStep {
	return events.RunStep{
		ID:    id,
		RunID: "run-1",
		Index: index,
		Type:  events.StepMessageCreation,
		StepDetails: events.StepDetails{
			Type:            events.StepMessageCreation,
			MessageCreation: &events.MessageCreation{MessageID: "run-1"},
		},
	}
}

func textDelta(id, text string) events.MessageDelta {
	return events.MessageDelta{
		ID:    id,
		Delta: events.MessageDeltaBody{Content: []events.ContentPart{{Type: events.ContentText, Text: text}}},
	}
}

func TestAggregator_TextDeltasAppend(t *testing.T) {
	a := New(nil)
	a.Aggregate(events.KindRunStep, messageStep("step_1", 0))
	a.Aggregate(events.KindMessageDelta, textDelta("step_1", "Hello"))
	a.Aggregate(events.KindMessageDelta, textDelta("step_1", ", world"))

	parts := a.Parts()
	require.Len(t, parts, 1)
	assert.Equal(t, events.ContentText, parts[0].Type)
	assert.Equal(t, "Hello, world", parts[0].Text)
	assert.Equal(t, "Hello, world", a.Text())
}

func TestAggregator_DeltaForUnknownStepIgnored(t *testing.T) {
	a := New(nil)
	a.Aggregate(events.KindMessageDelta, textDelta("missing", "x"))
	assert.Empty(t, a.Parts())
}

func TestAggregator_ToolCallLifecycle(t *testing.T) {
	a := New(nil)
	a.Aggregate(events.KindRunStep, events.RunStep{
		ID:    "step_tool",
		RunID: "run-1",
		Index: 0,
		Type:  events.StepToolCalls,
		StepDetails: events.StepDetails{
			Type:      events.StepToolCalls,
			ToolCalls: []events.ToolCall{{ID: "call_1", Name: "clock", Args: "ignored"}},
		},
	})
	a.Aggregate(events.KindRunStepDelta, events.RunStepDelta{
		ID:    "step_tool",
		Delta: events.RunStepDeltaBody{Type: events.StepToolCalls, ToolCalls: []events.ToolCallChunk{{Args: `{"tz":`}}},
	})
	a.Aggregate(events.KindRunStepDelta, events.RunStepDelta{
		ID:    "step_tool",
		Delta: events.RunStepDeltaBody{Type: events.StepToolCalls, ToolCalls: []events.ToolCallChunk{{Args: `"UTC"}`}}},
	})

	parts := a.Parts()
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0].ToolCall)
	assert.Equal(t, `{"tz":"UTC"}`, parts[0].ToolCall.Args)
	assert.Equal(t, "clock", parts[0].ToolCall.Name)

	a.Aggregate(events.KindRunStepCompleted, events.RunStepCompleted{Result: events.ToolResult{
		ID:       "step_tool",
		Index:    0,
		Type:     events.ContentToolCall,
		ToolCall: events.ToolCall{ID: "call_1", Name: "clock", Args: `{"tz":"UTC"}`, Output: "12:00"},
	}})

	parts = a.Parts()
	require.Len(t, parts, 1)
	assert.Equal(t, "12:00", parts[0].ToolCall.Output)
	assert.Equal(t, `{"tz":"UTC"}`, parts[0].ToolCall.Args)
}

func TestAggregator_OrdersByIndexAndSkipsGaps(t *testing.T) {
	a := New(nil)
	a.Aggregate(events.KindRunStep, messageStep("b", 2))
	a.Aggregate(events.KindRunStep, messageStep("a", 0))
	a.Aggregate(events.KindMessageDelta, textDelta("b", "second"))
	a.Aggregate(events.KindMessageDelta, textDelta("a", "first"))

	parts := a.Parts()
	require.Len(t, parts, 2)
	assert.Equal(t, "first", parts[0].Text)
	assert.Equal(t, "second", parts[1].Text)
}

func TestAggregator_AcceptsDecodedJSON(t *testing.T) {
	a := New(nil)

	var step, delta map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"id":"s1","runId":"r","index":0,"type":"message_creation","stepDetails":{"type":"message_creation"}}`), &step))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"s1","delta":{"content":[{"type":"text","text":"hi"}]}}`), &delta))

	a.Aggregate(events.KindRunStep, step)
	a.Aggregate(events.KindMessageDelta, json.RawMessage(`{"id":"s1","delta":{"content":[{"type":"text","text":"!"}]}}`))
	a.Aggregate(events.KindMessageDelta, delta)

	assert.Equal(t, "!hi", a.Text())
}

func TestAggregator_IgnoresOtherKindsAndStrings(t *testing.T) {
	a := New(nil)
	a.Aggregate(events.KindChatModelEnd, events.ModelEndData{})
	a.Aggregate(events.KindRunStep, "")
	assert.Empty(t, a.Parts())
}

func TestAggregator_PartsAreCopies(t *testing.T) {
	a := New(nil)
	a.Aggregate(events.KindRunStep, events.RunStep{
		ID: "t", Index: 0, Type: events.StepToolCalls,
		StepDetails: events.StepDetails{Type: events.StepToolCalls, ToolCalls: []events.ToolCall{{ID: "c", Name: "clock"}}},
	})
	parts := a.Parts()
	parts[0].ToolCall.Name = "mutated"
	assert.Equal(t, "clock", a.Parts()[0].ToolCall.Name)
}
