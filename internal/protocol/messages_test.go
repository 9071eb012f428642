// ABOUTME: Tests for protocol helpers: error bodies, text values and text keys
// ABOUTME: Decodes frames the way clients receive them

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/runstream/internal/events"
)

func TestErrorBody_Text(t *testing.T) {
	var nilBody *ErrorBody
	assert.Equal(t, "", nilBody.Text())

	b := NewErrorBody("agent not found")
	assert.Equal(t, "agent not found", b.Text())

	var decoded ErrorBody
	require.NoError(t, json.Unmarshal([]byte(`{"message":"outer","response":{"data":{"message":"inner"}}}`), &decoded))
	assert.Equal(t, "inner", decoded.Text())

	var outer ErrorBody
	require.NoError(t, json.Unmarshal([]byte(`{"message":"only outer"}`), &outer))
	assert.Equal(t, "only outer", outer.Text())
}

func TestContentFrame_TextValue(t *testing.T) {
	var f ContentFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"text","index":1,"text":{"value":"hi"}}`), &f))
	assert.Equal(t, "hi", f.TextValue())

	require.NoError(t, json.Unmarshal([]byte(`{"type":"text","index":1,"text":"plain"}`), &f))
	assert.Equal(t, "plain", f.TextValue())

	assert.Equal(t, "", ContentFrame{}.TextValue())
}

func TestTextFrame_ResponseAlias(t *testing.T) {
	var f TextFrame
	require.NoError(t, json.Unmarshal([]byte(`{"response":"legacy"}`), &f))
	assert.Equal(t, "legacy", f.Value())

	require.NoError(t, json.Unmarshal([]byte(`{"text":"new","response":"legacy"}`), &f))
	assert.Equal(t, "new", f.Value())
}

func TestLatestText(t *testing.T) {
	assert.Equal(t, "", LatestText(nil, false))
	assert.Equal(t, "direct", LatestText(&Message{Text: "direct"}, true))

	m := &Message{Content: []events.ContentPart{
		{Type: events.ContentText, Text: "first"},
		{Type: events.ContentToolCall, ToolCall: &events.ToolCall{Name: "clock"}},
		{Type: events.ContentText, Text: ""},
	}}
	assert.Equal(t, "first", LatestText(m, false))
	assert.Equal(t, "first-0", LatestText(m, true))
}

func TestTextKey(t *testing.T) {
	m := &Message{MessageID: "m1", Text: "hello world, again"}
	assert.Equal(t, "m1__18rld, again__c1", TextKey(m, "c1"))

	m.ConversationID = "own"
	assert.Equal(t, "m1__18rld, again__own", TextKey(m, "c1"))

	assert.Equal(t, "", TextKey(nil, "c1"))
}
