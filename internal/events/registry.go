// ABOUTME: Builds the gateway's custom event handlers for a single run
// ABOUTME: Usage is collected on model end; step and delta events are written and aggregated

package events

import (
	"fmt"
	"log/slog"

	"github.com/2389/runstream/internal/sse"
	"github.com/2389/runstream/internal/usage"
)

// FrameWriter emits one wire frame.
type FrameWriter interface {
	SendEvent(frame sse.Frame) error
}

// ContentAggregator folds step and delta events into message content.
type ContentAggregator interface {
	Aggregate(kind Kind, data any)
}

// ConfigurationError reports a registry built without a required collaborator.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("event handlers: %s is required", e.Missing)
}

// Options are the collaborators handlers write to.
type Options struct {
	Writer     FrameWriter
	Aggregator ContentAggregator
	Usage      *usage.Collector
	Logger     *slog.Logger
}

// DefaultHandlers returns a handler for every RouteCustom kind.
func DefaultHandlers(opts Options) (Handlers, error) {
	if opts.Writer == nil {
		return nil, &ConfigurationError{Missing: "frame writer"}
	}
	if opts.Aggregator == nil {
		return nil, &ConfigurationError{Missing: "content aggregator"}
	}
	if opts.Usage == nil {
		return nil, &ConfigurationError{Missing: "usage collector"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	fwd := &forwarder{writer: opts.Writer, aggregator: opts.Aggregator, logger: logger}
	handlers := make(Handlers)
	for _, k := range Kinds() {
		if k.Route() != RouteCustom {
			continue
		}
		switch k {
		case KindChatModelEnd:
			handlers[k] = &ModelEndHandler{usage: opts.Usage, logger: logger}
		case KindRunStep, KindRunStepDelta, KindRunStepCompleted, KindMessageDelta:
			handlers[k] = fwd
		default:
			return nil, fmt.Errorf("event handlers: no custom handler for %s", k)
		}
	}
	return handlers, nil
}

// ModelEndHandler appends the usage metadata of each finished model call.
type ModelEndHandler struct {
	usage  *usage.Collector
	logger *slog.Logger
}

// NewModelEndHandler returns a handler that appends to c.
func NewModelEndHandler(c *usage.Collector, logger *slog.Logger) *ModelEndHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelEndHandler{usage: c, logger: logger}
}

// Handle records data.output.usage_metadata when present.
func (h *ModelEndHandler) Handle(kind Kind, data any, metadata Metadata, graph Graph) {
	if graph == nil || metadata == nil {
		h.logger.Warn("model end event missing run context or metadata",
			"has_graph", graph != nil,
			"has_metadata", metadata != nil,
		)
		return
	}
	end, err := Decode[ModelEndData](data)
	if err != nil {
		h.logger.Warn("malformed model end payload", "error", err, "run_id", graph.RunID())
		return
	}
	if end.Output == nil || end.Output.UsageMetadata == nil {
		return
	}
	h.usage.Append(*end.Output.UsageMetadata)
}

// forwarder writes the event as a frame, then aggregates it.
type forwarder struct {
	writer     FrameWriter
	aggregator ContentAggregator
	logger     *slog.Logger
}

func (f *forwarder) Handle(kind Kind, data any, _ Metadata, _ Graph) {
	// A dropped client must not stop aggregation; the run still finalizes.
	if err := f.writer.SendEvent(sse.Frame{Event: kind.String(), Data: data}); err != nil {
		f.logger.Debug("writing frame", "event", kind.String(), "error", err)
	}
	f.aggregator.Aggregate(kind, data)
}
