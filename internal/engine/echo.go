// ABOUTME: Deterministic engine that echoes the last user message word by word
// ABOUTME: "/tool <name> <args>" exercises the tool call path before replying

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/runstream/internal/events"
	"github.com/2389/runstream/internal/usage"
)

const toolPrefix = "/tool "

// EchoEngine builds runs that stream a reply derived from the input.
type EchoEngine struct {
	// Delay is slept between streamed words.
	Delay  time.Duration
	Logger *slog.Logger
}

// NewEcho returns an echo engine.
func NewEcho(delay time.Duration, logger *slog.Logger) *EchoEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoEngine{Delay: delay, Logger: logger.With("component", "engine")}
}

// CreateRun validates cfg and returns a run bound to handlers.
func (e *EchoEngine) CreateRun(cfg GraphConfig, handlers events.Handlers) (Run, error) {
	if cfg.RunID == "" {
		return nil, ErrMissingRunID
	}
	if cfg.LLMConfig.Provider() == "" {
		return nil, ErrMissingProvider
	}
	return &echoRun{cfg: cfg, handlers: handlers, engine: e}, nil
}

type echoRun struct {
	cfg      GraphConfig
	handlers events.Handlers
	engine   *EchoEngine
}

func (r *echoRun) ID() string { return r.cfg.RunID }

func (r *echoRun) ProcessStream(ctx context.Context, input Input, rc RunConfig, cb Callbacks) ([]Message, error) {
	logger := r.engine.Logger.With("run_id", r.cfg.RunID, "thread_id", rc.ThreadID)
	g := NewGraph(r.cfg.RunID, rc.ThreadID, r.cfg.LLMConfig.Provider(), r.handlers)

	prompt := lastUserText(input.Messages)
	promptTokens := countWords(r.cfg.Instructions) + countWords(r.cfg.AdditionalInstructions)
	for _, m := range input.Messages {
		promptTokens += countWords(m.Content)
	}

	logger.Debug("run started", "messages", len(input.Messages), "streaming", r.cfg.LLMConfig.Bool("streaming"))

	var reply string
	if name, args, ok := parseToolCommand(prompt); ok {
		callID, err := r.streamToolCall(ctx, g, name, args)
		if err != nil {
			return input.Messages, err
		}
		r.modelEnd(g, "", promptTokens, countWords(args)+1)
		output := r.invokeTool(ctx, g, callID, name, args, cb)
		reply = fmt.Sprintf("%s returned: %s", name, output)
	} else {
		reply = "Echo: " + prompt
	}

	words := strings.Fields(reply)
	for i, w := range words {
		if err := r.pause(ctx); err != nil {
			logger.Debug("run cancelled", "words_sent", i)
			return input.Messages, err
		}
		if i > 0 {
			w = " " + w
		}
		g.Dispatch(events.KindChatModelStream, events.ModelStreamChunk{Content: w})
	}

	r.modelEnd(g, reply, promptTokens, len(words))

	logger.Debug("run finished", "reply_words", len(words))
	return append(input.Messages, Message{Role: RoleAssistant, Content: reply}), nil
}

func (r *echoRun) streamToolCall(ctx context.Context, g *Graph, name, args string) (string, error) {
	callID := "call_" + uuid.NewString()
	g.Dispatch(events.KindChatModelStream, events.ModelStreamChunk{
		ToolCallChunks: []events.ToolCallChunk{{ID: callID, Name: name}},
	})
	if err := r.pause(ctx); err != nil {
		return "", err
	}
	if args != "" {
		g.Dispatch(events.KindChatModelStream, events.ModelStreamChunk{
			ToolCallChunks: []events.ToolCallChunk{{ID: callID, Args: args}},
		})
	}
	return callID, nil
}

// invokeTool runs the named tool. Failures are reported through cb and
// become the tool's output.
func (r *echoRun) invokeTool(ctx context.Context, g *Graph, callID, name, args string, cb Callbacks) string {
	var output string
	var err error
	if tool, ok := r.cfg.ToolMap[name]; ok {
		output, err = tool.Invoke(ctx, args)
	} else {
		err = fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err != nil {
		if cb.ToolError != nil {
			cb.ToolError(ctx, &ToolExecutionError{Tool: name, CallID: callID, Err: err})
		}
		output = "Error: " + err.Error()
	}

	g.Dispatch(events.KindToolEnd, events.ToolEndData{
		ToolCallID: callID,
		Name:       name,
		Input:      args,
		Output:     output,
	})
	return output
}

func (r *echoRun) modelEnd(g *Graph, content string, input, output int) {
	g.Dispatch(events.KindChatModelEnd, events.ModelEndData{
		Output: &events.ModelOutput{
			Content: content,
			UsageMetadata: &usage.Record{
				InputTokens:  int64(input),
				OutputTokens: int64(output),
				TotalTokens:  int64(input + output),
				Model:        r.cfg.LLMConfig.Model(),
			},
		},
	})
}

func (r *echoRun) pause(ctx context.Context) error {
	if r.engine.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.engine.Delay):
		return nil
	}
}

func parseToolCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, toolPrefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(text, toolPrefix))
	if rest == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	return name, strings.TrimSpace(args), true
}

func lastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
