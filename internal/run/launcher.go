// ABOUTME: Creates engine runs for an agent, merging streaming defaults with model options
// ABOUTME: Construction failures surface as CreationError before any frame is written

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/runstream/internal/config"
	"github.com/2389/runstream/internal/engine"
	"github.com/2389/runstream/internal/events"
)

// ErrNilRun is the cause when an engine returns neither a run nor an error.
var ErrNilRun = errors.New("Failed to create run")

// ErrUnknownProvider is the cause when an agent names an unmapped provider.
var ErrUnknownProvider = errors.New("unknown provider")

// providerEndpoints maps agent endpoints to engine provider names.
var providerEndpoints = map[string]string{
	"openAI":      "openAI",
	"azureOpenAI": "azureOpenAI",
	"anthropic":   "anthropic",
	"bedrock":     "bedrock",
	"ollama":      "ollama",
	"google":      "vertexai",
}

// ProviderFor returns the engine provider for an agent endpoint.
func ProviderFor(endpoint string) (string, bool) {
	p, ok := providerEndpoints[endpoint]
	return p, ok
}

// CreationError wraps any failure to construct a run.
type CreationError struct {
	RunID string
	Err   error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("creating run %s: %v", e.RunID, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Options describe the run to create.
type Options struct {
	Agent          config.AgentConfig
	Tools          []engine.Tool
	ToolMap        map[string]engine.Tool
	ModelOptions   map[string]any
	RunID          string
	CustomHandlers events.Handlers
}

// Launcher creates runs on an engine.
type Launcher struct {
	engine engine.Engine
	logger *slog.Logger
}

// NewLauncher returns a launcher for e.
func NewLauncher(e engine.Engine, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{engine: e, logger: logger.With("component", "run")}
}

// LLMConfig builds the model config for agent: provider and streaming
// defaults first, model options override key by key.
func LLMConfig(provider string, modelOptions map[string]any) engine.LLMConfig {
	cfg := engine.LLMConfig{
		"provider":    provider,
		"streaming":   true,
		"streamUsage": true,
	}
	for k, v := range modelOptions {
		cfg[k] = v
	}
	return cfg
}

// CreateRun constructs a run. It does not start consuming events.
func (l *Launcher) CreateRun(ctx context.Context, opts Options) (engine.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CreationError{RunID: opts.RunID, Err: err}
	}

	provider, ok := ProviderFor(opts.Agent.Provider)
	if !ok {
		return nil, &CreationError{RunID: opts.RunID, Err: fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Agent.Provider)}
	}

	graphCfg := engine.GraphConfig{
		RunID:                  opts.RunID,
		LLMConfig:              LLMConfig(provider, opts.ModelOptions),
		Tools:                  opts.Tools,
		ToolMap:                opts.ToolMap,
		Instructions:           opts.Agent.Instructions,
		AdditionalInstructions: opts.Agent.AdditionalInstructions,
	}

	r, err := l.engine.CreateRun(graphCfg, opts.CustomHandlers)
	if err != nil {
		return nil, &CreationError{RunID: opts.RunID, Err: err}
	}
	if r == nil {
		return nil, &CreationError{RunID: opts.RunID, Err: ErrNilRun}
	}

	l.logger.Debug("created run",
		"run_id", opts.RunID,
		"agent_id", opts.Agent.ID,
		"provider", provider,
		"tools", len(opts.Tools),
	)
	return r, nil
}

// RunConfig returns the stream config for a run in a conversation.
func RunConfig(provider, conversationID, runID string) engine.RunConfig {
	return engine.RunConfig{
		ThreadID:   conversationID,
		RunID:      runID,
		Provider:   provider,
		StreamMode: "values",
		Version:    "v2",
	}
}

// ToolErrorLogger returns callbacks that log tool failures without aborting
// the run.
func ToolErrorLogger(logger *slog.Logger) engine.Callbacks {
	if logger == nil {
		logger = slog.Default()
	}
	return engine.Callbacks{
		ToolError: func(_ context.Context, err *engine.ToolExecutionError) {
			logger.Error("tool execution failed",
				"tool", err.Tool,
				"call_id", err.CallID,
				"error", err.Err,
			)
		},
	}
}
