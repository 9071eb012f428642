// ABOUTME: Payload types carried by engine events and forwarded verbatim in wire frames
// ABOUTME: JSON tags match the wire shape clients decode

package events

import (
	"encoding/json"
	"fmt"

	"github.com/2389/runstream/internal/usage"
)

// StepType distinguishes the two kinds of run step.
type StepType string

const (
	StepMessageCreation StepType = "message_creation"
	StepToolCalls       StepType = "tool_calls"
)

// ContentType identifies a content part.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentToolCall ContentType = "tool_call"
	ContentError    ContentType = "error"
)

// ToolCall is a tool invocation as it appears inside content parts and steps.
type ToolCall struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   string `json:"args"`
	Output string `json:"output,omitempty"`
}

// ContentPart is one element of a message's aggregated content.
type ContentPart struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ToolCall *ToolCall   `json:"tool_call,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// MessageCreation points a message_creation step at the message it produces.
type MessageCreation struct {
	MessageID string `json:"message_id"`
}

// StepDetails describes what a run step does.
type StepDetails struct {
	Type            StepType         `json:"type"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
}

// RunStep announces a new step. Index is the content slot the step fills.
type RunStep struct {
	ID          string        `json:"id"`
	RunID       string        `json:"runId"`
	Index       int           `json:"index"`
	Type        StepType      `json:"type"`
	StepDetails StepDetails   `json:"stepDetails"`
	Usage       *usage.Record `json:"usage,omitempty"`
}

// MessageDeltaBody carries incremental content for a message step.
type MessageDeltaBody struct {
	Content []ContentPart `json:"content"`
}

// MessageDelta appends content to the step with the given ID.
type MessageDelta struct {
	ID    string           `json:"id"`
	Delta MessageDeltaBody `json:"delta"`
}

// ToolCallChunk is a fragment of a streamed tool call.
type ToolCallChunk struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Args  string `json:"args"`
	Index int    `json:"index"`
}

// RunStepDeltaBody carries incremental tool call arguments.
type RunStepDeltaBody struct {
	Type      StepType        `json:"type"`
	ToolCalls []ToolCallChunk `json:"tool_calls,omitempty"`
}

// RunStepDelta updates the step with the given ID.
type RunStepDelta struct {
	ID    string           `json:"id"`
	Delta RunStepDeltaBody `json:"delta"`
}

// ToolResult is the completed state of a tool call step.
type ToolResult struct {
	ID       string      `json:"id"`
	Index    int         `json:"index"`
	Type     ContentType `json:"type"`
	ToolCall ToolCall    `json:"tool_call"`
}

// RunStepCompleted reports a finished tool call.
type RunStepCompleted struct {
	Result ToolResult `json:"result"`
}

// ModelOutput is the final output of one model invocation.
type ModelOutput struct {
	Content       string        `json:"content,omitempty"`
	UsageMetadata *usage.Record `json:"usage_metadata,omitempty"`
}

// ModelEndData is the payload of a chat-model-end event.
type ModelEndData struct {
	Output *ModelOutput `json:"output"`
}

// ToolEndData is the payload of a tool-end event.
type ToolEndData struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Input      string `json:"input"`
	Output     string `json:"output"`
}

// ModelStreamChunk is one streamed fragment from the model.
type ModelStreamChunk struct {
	Content        string          `json:"content,omitempty"`
	ToolCallChunks []ToolCallChunk `json:"tool_call_chunks,omitempty"`
}

// Decode coerces an event payload into T. It accepts T, *T, raw JSON, or any
// value that round-trips through JSON into T (such as a decoded map).
func Decode[T any](data any) (T, error) {
	var zero T
	switch v := data.(type) {
	case nil:
		return zero, fmt.Errorf("decoding %T: nil payload", zero)
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("decoding %T: nil payload", zero)
		}
		return *v, nil
	case json.RawMessage:
		return unmarshalAs[T](v)
	case []byte:
		return unmarshalAs[T](v)
	case string:
		return zero, fmt.Errorf("decoding %T: unexpected string payload", zero)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return zero, fmt.Errorf("decoding %T: %w", zero, err)
		}
		return unmarshalAs[T](b)
	}
}

func unmarshalAs[T any](b []byte) (T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decoding %T: %w", out, err)
	}
	return out, nil
}
