// ABOUTME: Tests for event kinds, routing, payload decoding and the gateway handlers
// ABOUTME: Uses in-memory frame writers and aggregators to observe handler effects

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/runstream/internal/sse"
	"github.com/2389/runstream/internal/usage"
)

type recordingWriter struct {
	frames []sse.Frame
	err    error
	log    *[]string
}

func (w *recordingWriter) SendEvent(f sse.Frame) error {
	if w.log != nil {
		*w.log = append(*w.log, "write:"+f.Event)
	}
	w.frames = append(w.frames, f)
	return w.err
}

type recordingAggregator struct {
	kinds []Kind
	log   *[]string
}

func (a *recordingAggregator) Aggregate(kind Kind, _ any) {
	a.kinds = append(a.kinds, kind)
	if a.log != nil {
		*a.log = append(*a.log, "aggregate:"+kind.String())
	}
}

type stubGraph struct{}

func (stubGraph) RunID() string    { return "run-1" }
func (stubGraph) ThreadID() string { return "conv-1" }
func (stubGraph) Provider() string { return "openAI" }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKind_NamesRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("on_something_else")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestKind_JSON(t *testing.T) {
	b, err := json.Marshal(KindRunStepDelta)
	require.NoError(t, err)
	assert.Equal(t, `"on_run_step_delta"`, string(b))

	var k Kind
	require.NoError(t, json.Unmarshal([]byte(`"on_message_delta"`), &k))
	assert.Equal(t, KindMessageDelta, k)
}

func TestRoutes_EveryKindRouted(t *testing.T) {
	assert.Len(t, Kinds(), 7)
	for _, k := range Kinds() {
		r := k.Route()
		assert.True(t, r == RouteCustom || r == RouteEngine, "kind %s has no route", k)
	}
	assert.Equal(t, RouteEngine, KindToolEnd.Route())
	assert.Equal(t, RouteEngine, KindChatModelStream.Route())
}

func TestDefaultHandlers_MissingCollaborators(t *testing.T) {
	w := &recordingWriter{}
	agg := &recordingAggregator{}
	c := usage.NewCollector()

	tests := []struct {
		name    string
		opts    Options
		missing string
	}{
		{"no writer", Options{Aggregator: agg, Usage: c}, "frame writer"},
		{"no aggregator", Options{Writer: w, Usage: c}, "content aggregator"},
		{"no usage", Options{Writer: w, Aggregator: agg}, "usage collector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := DefaultHandlers(tt.opts)
			assert.Nil(t, h)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.missing, cfgErr.Missing)
		})
	}
}

func TestDefaultHandlers_CoversCustomRoutes(t *testing.T) {
	h, err := DefaultHandlers(Options{
		Writer:     &recordingWriter{},
		Aggregator: &recordingAggregator{},
		Usage:      usage.NewCollector(),
	})
	require.NoError(t, err)

	for _, k := range Kinds() {
		_, ok := h[k]
		assert.Equal(t, k.Route() == RouteCustom, ok, "kind %s", k)
	}
}

func TestForwarder_WritesThenAggregates(t *testing.T) {
	var order []string
	w := &recordingWriter{log: &order}
	agg := &recordingAggregator{log: &order}
	h, err := DefaultHandlers(Options{Writer: w, Aggregator: agg, Usage: usage.NewCollector()})
	require.NoError(t, err)

	step := RunStep{ID: "step_1", RunID: "run-1", Type: StepMessageCreation}
	h[KindRunStep].Handle(KindRunStep, step, Metadata{}, stubGraph{})

	assert.Equal(t, []string{"write:on_run_step", "aggregate:on_run_step"}, order)
	require.Len(t, w.frames, 1)
	assert.Equal(t, step, w.frames[0].Data)
}

func TestForwarder_AggregatesEvenWhenWriteFails(t *testing.T) {
	var logBuf bytes.Buffer
	w := &recordingWriter{err: errors.New("client went away")}
	agg := &recordingAggregator{}
	h, err := DefaultHandlers(Options{Writer: w, Aggregator: agg, Usage: usage.NewCollector(), Logger: newTestLogger(&logBuf)})
	require.NoError(t, err)

	h[KindMessageDelta].Handle(KindMessageDelta, MessageDelta{ID: "step_1"}, nil, nil)

	assert.Equal(t, []Kind{KindMessageDelta}, agg.kinds)
	assert.Contains(t, logBuf.String(), "client went away")
}

func TestForwarder_AllForwardedKinds(t *testing.T) {
	w := &recordingWriter{}
	agg := &recordingAggregator{}
	h, err := DefaultHandlers(Options{Writer: w, Aggregator: agg, Usage: usage.NewCollector()})
	require.NoError(t, err)

	kinds := []Kind{KindRunStep, KindRunStepDelta, KindRunStepCompleted, KindMessageDelta}
	for _, k := range kinds {
		h[k].Handle(k, map[string]any{"id": "s"}, Metadata{}, stubGraph{})
	}

	assert.Equal(t, kinds, agg.kinds)
	require.Len(t, w.frames, 4)
	for i, k := range kinds {
		assert.Equal(t, k.String(), w.frames[i].Event)
	}
}

func TestModelEnd_AppendsUsageInOrder(t *testing.T) {
	c := usage.NewCollector()
	h := NewModelEndHandler(c, nil)

	u1 := usage.Record{InputTokens: 10, OutputTokens: 2}
	u2 := usage.Record{InputTokens: 4, OutputTokens: 9}
	h.Handle(KindChatModelEnd, ModelEndData{Output: &ModelOutput{UsageMetadata: &u1}}, Metadata{"run_id": "run-1"}, stubGraph{})
	h.Handle(KindChatModelEnd, &ModelEndData{Output: &ModelOutput{UsageMetadata: &u2}}, Metadata{}, stubGraph{})
	h.Handle(KindChatModelEnd, ModelEndData{Output: &ModelOutput{UsageMetadata: &u1}}, Metadata{}, stubGraph{})

	assert.Equal(t, []usage.Record{u1, u2, u1}, c.Records())
}

func TestModelEnd_DecodesRawJSON(t *testing.T) {
	c := usage.NewCollector()
	h := NewModelEndHandler(c, nil)

	raw := json.RawMessage(`{"output":{"usage_metadata":{"input_tokens":7,"output_tokens":3}}}`)
	h.Handle(KindChatModelEnd, raw, Metadata{}, stubGraph{})

	require.Equal(t, 1, c.Len())
	assert.Equal(t, int64(7), c.Records()[0].InputTokens)
}

func TestModelEnd_NoUsageIsIgnored(t *testing.T) {
	c := usage.NewCollector()
	h := NewModelEndHandler(c, nil)

	h.Handle(KindChatModelEnd, ModelEndData{}, Metadata{}, stubGraph{})
	h.Handle(KindChatModelEnd, ModelEndData{Output: &ModelOutput{Content: "hi"}}, Metadata{}, stubGraph{})

	assert.Equal(t, 0, c.Len())
}

func TestModelEnd_MissingContextWarnsWithoutPanic(t *testing.T) {
	var logBuf bytes.Buffer
	c := usage.NewCollector()
	h := NewModelEndHandler(c, newTestLogger(&logBuf))
	u := usage.Record{InputTokens: 1}
	data := ModelEndData{Output: &ModelOutput{UsageMetadata: &u}}

	assert.NotPanics(t, func() {
		h.Handle(KindChatModelEnd, data, nil, stubGraph{})
		h.Handle(KindChatModelEnd, data, Metadata{}, nil)
		h.Handle(KindChatModelEnd, nil, nil, nil)
	})

	assert.Equal(t, 0, c.Len())
	assert.Contains(t, logBuf.String(), "level=WARN")
	assert.Contains(t, logBuf.String(), "missing run context or metadata")
}

func TestModelEnd_MalformedPayloadWarns(t *testing.T) {
	var logBuf bytes.Buffer
	c := usage.NewCollector()
	h := NewModelEndHandler(c, newTestLogger(&logBuf))

	h.Handle(KindChatModelEnd, "not an object", Metadata{}, stubGraph{})

	assert.Equal(t, 0, c.Len())
	assert.Contains(t, logBuf.String(), "malformed model end payload")
}

func TestDecode_Variants(t *testing.T) {
	want := RunStep{ID: "step_1", RunID: "run-1", Index: 2, Type: StepToolCalls}

	got, err := Decode[RunStep](want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = Decode[RunStep](&want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := json.Marshal(want)
	require.NoError(t, err)
	got, err = Decode[RunStep](json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	got, err = Decode[RunStep](asMap)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Decode[RunStep](nil)
	assert.Error(t, err)
	_, err = Decode[RunStep]((*RunStep)(nil))
	assert.Error(t, err)
	_, err = Decode[RunStep]("")
	assert.Error(t, err)
}
