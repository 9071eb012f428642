// ABOUTME: JSON shapes exchanged between the gateway and chat clients
// ABOUTME: Submissions, lifecycle frames, conversation messages and error bodies

package protocol

import (
	"encoding/json"

	"github.com/2389/runstream/internal/events"
)

// Senders
const (
	SenderUser = "User"
)

// EndpointAgents is the only endpoint the gateway serves.
const EndpointAgents = "agents"

// Message is a conversation message as the client stores it.
type Message struct {
	MessageID               string               `json:"messageId"`
	ConversationID          string               `json:"conversationId,omitempty"`
	ParentMessageID         string               `json:"parentMessageId,omitempty"`
	OverrideParentMessageID string               `json:"overrideParentMessageId,omitempty"`
	Sender                  string               `json:"sender,omitempty"`
	Text                    string               `json:"text"`
	Content                 []events.ContentPart `json:"content,omitempty"`
	IsCreatedByUser         bool                 `json:"isCreatedByUser"`
	Error                   bool                 `json:"error,omitempty"`
	Unfinished              bool                 `json:"unfinished,omitempty"`
	Endpoint                string               `json:"endpoint,omitempty"`
	Model                   string               `json:"model,omitempty"`
	TokenCount              int64                `json:"tokenCount,omitempty"`
	Plugin                  json.RawMessage      `json:"plugin,omitempty"`
	Plugins                 json.RawMessage      `json:"plugins,omitempty"`
}

// Conversation identifies the conversation a run belongs to.
type Conversation struct {
	ConversationID string `json:"conversationId"`
	Title          string `json:"title,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
}

// ChatRequest is the body of a chat submission.
type ChatRequest struct {
	Text            string `json:"text"`
	ConversationID  string `json:"conversationId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	MessageID       string `json:"messageId,omitempty"`
	// ResponseMessageID lets the client pick the response id, which is
	// also the run id and the abort key.
	ResponseMessageID string `json:"responseMessageId,omitempty"`
	AgentID           string `json:"agent_id"`
	Endpoint          string `json:"endpoint,omitempty"`
}

// NoParentID is the parent id of the first message in a conversation.
const NoParentID = "00000000-0000-0000-0000-000000000000"

// AbortRequest asks the gateway to stop the run for a conversation.
type AbortRequest struct {
	ConversationID string `json:"conversationId"`
	AbortKey       string `json:"abortKey"`
	Endpoint       string `json:"endpoint,omitempty"`
}

// CreatedFrame acknowledges the user message.
type CreatedFrame struct {
	Created bool    `json:"created"`
	Message Message `json:"message"`
}

// FinalFrame is the terminal frame of a run. It is also the body of an
// abort response.
type FinalFrame struct {
	Final           bool         `json:"final"`
	Conversation    Conversation `json:"conversation"`
	Title           string       `json:"title,omitempty"`
	RequestMessage  *Message     `json:"requestMessage,omitempty"`
	ResponseMessage *Message     `json:"responseMessage,omitempty"`
	RunMessages     []Message    `json:"runMessages,omitempty"`
	Error           bool         `json:"error,omitempty"`
	Aborted         bool         `json:"aborted,omitempty"`
}

// AbortResponse is returned by the abort endpoint.
type AbortResponse = FinalFrame

// StepFrame carries one engine event.
type StepFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SyncFrame replaces the optimistic request and response with the server's.
type SyncFrame struct {
	Sync            bool     `json:"sync"`
	ConversationID  string   `json:"conversationId"`
	ThreadID        string   `json:"thread_id,omitempty"`
	RequestMessage  *Message `json:"requestMessage,omitempty"`
	ResponseMessage *Message `json:"responseMessage,omitempty"`
}

// ContentFrame upserts one content part of a response message.
type ContentFrame struct {
	Type           events.ContentType `json:"type"`
	Index          int                `json:"index"`
	MessageID      string             `json:"messageId,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	ThreadID       string             `json:"thread_id,omitempty"`
	Text           json.RawMessage    `json:"text,omitempty"`
	ToolCall       *events.ToolCall   `json:"tool_call,omitempty"`
}

// TextValue returns the frame's text, which is either a string or
// {"value": "..."}.
func (c ContentFrame) TextValue() string {
	if len(c.Text) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.Text, &s); err == nil {
		return s
	}
	var v struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(c.Text, &v); err == nil {
		return v.Value
	}
	return ""
}

// TextFrame is the legacy full-text update.
type TextFrame struct {
	Text            *string         `json:"text,omitempty"`
	Response        *string         `json:"response,omitempty"`
	Message         json.RawMessage `json:"message,omitempty"`
	Initial         bool            `json:"initial,omitempty"`
	ParentMessageID string          `json:"parentMessageId,omitempty"`
	MessageID       string          `json:"messageId,omitempty"`
	Plugin          json.RawMessage `json:"plugin,omitempty"`
	Plugins         json.RawMessage `json:"plugins,omitempty"`
}

// Value returns text, or response when text is absent.
func (t TextFrame) Value() string {
	if t.Text != nil {
		return *t.Text
	}
	if t.Response != nil {
		return *t.Response
	}
	return ""
}

// ErrorBody is the JSON the gateway returns for request errors.
type ErrorBody struct {
	Message        string        `json:"message"`
	Response       *ErrorWrapper `json:"response,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// ErrorWrapper nests the message the way HTTP client libraries report it.
type ErrorWrapper struct {
	Data ErrorData `json:"data"`
}

// ErrorData holds the nested error message.
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorBody builds an error body carrying msg at both levels.
func NewErrorBody(msg string) ErrorBody {
	return ErrorBody{Message: msg, Response: &ErrorWrapper{Data: ErrorData{Message: msg}}}
}

// Text returns the most specific message in the body.
func (e *ErrorBody) Text() string {
	if e == nil {
		return ""
	}
	if e.Response != nil && e.Response.Data.Message != "" {
		return e.Response.Data.Message
	}
	return e.Message
}

// BalanceResponse reports a principal's remaining credits.
type BalanceResponse struct {
	TokenCredits int64 `json:"tokenCredits"`
}
