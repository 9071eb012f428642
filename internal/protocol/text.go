// ABOUTME: Helpers for reading message text and deriving stable keys from it
// ABOUTME: Mirrors how clients pick the latest text and key streaming updates

package protocol

import (
	"strconv"
	"strings"

	"github.com/2389/runstream/internal/events"
)

// TextKeyDivider separates the fields of a text key.
const TextKeyDivider = "__"

// LatestText returns the message's text, or the last non-empty text content
// part. With includeIndex the part's index is appended as "-<index>".
func LatestText(m *Message, includeIndex bool) string {
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	for i := len(m.Content) - 1; i >= 0; i-- {
		p := m.Content[i]
		if p.Type != events.ContentText || p.Text == "" {
			continue
		}
		if includeIndex {
			return p.Text + "-" + strconv.Itoa(i)
		}
		return p.Text
	}
	return ""
}

// TextKey identifies a message's current text state. It changes whenever
// the latest text grows.
func TextKey(m *Message, convoID string) string {
	if m == nil {
		return ""
	}
	text := LatestText(m, true)
	tail := text
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	cid := m.ConversationID
	if cid == "" {
		cid = convoID
	}
	return strings.Join([]string{m.MessageID, strconv.Itoa(len(text)) + tail, cid}, TextKeyDivider)
}
