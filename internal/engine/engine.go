// ABOUTME: Contract between the gateway and an agent execution engine
// ABOUTME: A run consumes a message list and reports progress through event handlers

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/runstream/internal/events"
)

var (
	// ErrMissingRunID is returned when a graph config has no run ID.
	ErrMissingRunID = errors.New("run id is required")
	// ErrMissingProvider is returned when the LLM config names no provider.
	ErrMissingProvider = errors.New("llm provider is required")
	// ErrUnknownTool is returned when the model calls a tool the run was not given.
	ErrUnknownTool = errors.New("unknown tool")
)

// Roles for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the conversation handed to the engine.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is what a run processes.
type Input struct {
	Messages []Message
}

// LLMConfig holds provider and model options. Well-known keys are
// "provider", "model", "streaming" and "streamUsage".
type LLMConfig map[string]any

// Provider returns the configured provider name.
func (c LLMConfig) Provider() string {
	s, _ := c["provider"].(string)
	return s
}

// Model returns the configured model name.
func (c LLMConfig) Model() string {
	s, _ := c["model"].(string)
	return s
}

// Bool returns a boolean option.
func (c LLMConfig) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// GraphConfig configures a run's graph.
type GraphConfig struct {
	RunID                  string
	LLMConfig              LLMConfig
	Tools                  []Tool
	ToolMap                map[string]Tool
	Instructions           string
	AdditionalInstructions string
}

// RunConfig is passed to ProcessStream.
type RunConfig struct {
	ThreadID   string
	RunID      string
	Provider   string
	StreamMode string
	Version    string
}

// ToolExecutionError describes a failed tool invocation.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (%s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Callbacks receive out-of-band notifications during a run.
type Callbacks struct {
	// ToolError is called when a tool fails. The run continues.
	ToolError func(ctx context.Context, err *ToolExecutionError)
}

// Engine constructs runs.
type Engine interface {
	CreateRun(cfg GraphConfig, handlers events.Handlers) (Run, error)
}

// Run executes once. ProcessStream blocks until the event sequence is
// exhausted, the context is cancelled, or the engine fails.
type Run interface {
	ID() string
	ProcessStream(ctx context.Context, input Input, cfg RunConfig, cb Callbacks) ([]Message, error)
}

// Resolve picks the handler for kind: a custom handler wins over the engine
// default. It returns nil when neither exists.
func Resolve(custom, defaults events.Handlers, kind events.Kind) events.Handler {
	if h, ok := custom[kind]; ok && h != nil {
		return h
	}
	if h, ok := defaults[kind]; ok && h != nil {
		return h
	}
	return nil
}
