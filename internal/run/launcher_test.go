// ABOUTME: Tests for run creation, LLM config merging and the tool error callback
// ABOUTME: Uses a capturing engine to observe the graph config passed through

package run

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/runstream/internal/config"
	"github.com/2389/runstream/internal/engine"
	"github.com/2389/runstream/internal/events"
)

type capturingEngine struct {
	cfg      engine.GraphConfig
	handlers events.Handlers
	run      engine.Run
	err      error
}

func (c *capturingEngine) CreateRun(cfg engine.GraphConfig, h events.Handlers) (engine.Run, error) {
	c.cfg = cfg
	c.handlers = h
	return c.run, c.err
}

type stubRun struct{ id string }

func (s stubRun) ID() string { return s.id }
func (s stubRun) ProcessStream(context.Context, engine.Input, engine.RunConfig, engine.Callbacks) ([]engine.Message, error) {
	return nil, nil
}

func TestLLMConfig_ModelOptionsOverride(t *testing.T) {
	cfg := LLMConfig("openAI", map[string]any{"model": "gpt-4o", "streaming": false})

	assert.Equal(t, "openAI", cfg.Provider())
	assert.Equal(t, "gpt-4o", cfg.Model())
	assert.False(t, cfg.Bool("streaming"))
	assert.True(t, cfg.Bool("streamUsage"))
}

func TestProviderFor(t *testing.T) {
	p, ok := ProviderFor("google")
	assert.True(t, ok)
	assert.Equal(t, "vertexai", p)

	p, ok = ProviderFor("anthropic")
	assert.True(t, ok)
	assert.Equal(t, "anthropic", p)

	_, ok = ProviderFor("mystery")
	assert.False(t, ok)
}

func TestCreateRun_PassesGraphConfig(t *testing.T) {
	eng := &capturingEngine{run: stubRun{id: "resp-1"}}
	l := NewLauncher(eng, nil)
	custom := events.Handlers{events.KindRunStep: events.HandlerFunc(func(events.Kind, any, events.Metadata, events.Graph) {})}
	clock := engine.Clock{}

	r, err := l.CreateRun(context.Background(), Options{
		Agent: config.AgentConfig{
			ID:                     "a1",
			Provider:               "google",
			Instructions:           "be brief",
			AdditionalInstructions: "and kind",
		},
		Tools:          []engine.Tool{clock},
		ToolMap:        map[string]engine.Tool{"clock": clock},
		ModelOptions:   map[string]any{"model": "gemini"},
		RunID:          "resp-1",
		CustomHandlers: custom,
	})
	require.NoError(t, err)
	assert.Equal(t, "resp-1", r.ID())

	assert.Equal(t, "resp-1", eng.cfg.RunID)
	assert.Equal(t, "vertexai", eng.cfg.LLMConfig.Provider())
	assert.Equal(t, "gemini", eng.cfg.LLMConfig.Model())
	assert.True(t, eng.cfg.LLMConfig.Bool("streaming"))
	assert.Equal(t, "be brief", eng.cfg.Instructions)
	assert.Equal(t, "and kind", eng.cfg.AdditionalInstructions)
	assert.Len(t, eng.cfg.Tools, 1)
	assert.Contains(t, eng.cfg.ToolMap, "clock")
	assert.Contains(t, eng.handlers, events.KindRunStep)
}

func TestCreateRun_Failures(t *testing.T) {
	engineErr := errors.New("engine exploded")
	tests := []struct {
		name    string
		eng     *capturingEngine
		agent   config.AgentConfig
		wantErr error
	}{
		{"engine error", &capturingEngine{err: engineErr}, config.AgentConfig{Provider: "openAI"}, engineErr},
		{"nil run", &capturingEngine{}, config.AgentConfig{Provider: "openAI"}, ErrNilRun},
		{"unknown provider", &capturingEngine{run: stubRun{}}, config.AgentConfig{Provider: "nope"}, ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewLauncher(tt.eng, nil).CreateRun(context.Background(), Options{Agent: tt.agent, RunID: "r1"})
			assert.Nil(t, r)
			var ce *CreationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "r1", ce.RunID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateRun_NilRunMessage(t *testing.T) {
	_, err := NewLauncher(&capturingEngine{}, nil).CreateRun(context.Background(), Options{
		Agent: config.AgentConfig{Provider: "openAI"},
		RunID: "r1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to create run")
}

func TestCreateRun_WithEchoEngine(t *testing.T) {
	l := NewLauncher(engine.NewEcho(0, nil), nil)
	r, err := l.CreateRun(context.Background(), Options{
		Agent: config.AgentConfig{ID: "echo", Provider: "openAI"},
		RunID: "resp-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "resp-9", r.ID())
}

func TestRunConfig(t *testing.T) {
	rc := RunConfig("openAI", "conv-1", "resp-1")
	assert.Equal(t, "conv-1", rc.ThreadID)
	assert.Equal(t, "resp-1", rc.RunID)
	assert.Equal(t, "openAI", rc.Provider)
	assert.Equal(t, "v2", rc.Version)
}

func TestToolErrorLogger_LogsAtError(t *testing.T) {
	var buf bytes.Buffer
	cb := ToolErrorLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	cb.ToolError(context.Background(), &engine.ToolExecutionError{Tool: "clock", CallID: "c1", Err: errors.New("tz missing")})

	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "tool execution failed")
	assert.Contains(t, buf.String(), "tz missing")
}
