// ABOUTME: Tool contract and the built-in tools agents may enable by name
// ABOUTME: Tools receive raw argument text and return output text

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tool is a callable the model can invoke.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args string) (string, error)
}

// Clock reports the current time, optionally in a named location.
type Clock struct {
	Now func() time.Time
}

func (Clock) Name() string        { return "clock" }
func (Clock) Description() string { return `Current time. Args: {"tz": "Europe/Paris"} or empty.` }

func (c Clock) Invoke(_ context.Context, args string) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().UTC()

	args = strings.TrimSpace(args)
	if args != "" {
		var req struct {
			TZ string `json:"tz"`
		}
		if err := json.Unmarshal([]byte(args), &req); err != nil {
			return "", fmt.Errorf("parsing clock args: %w", err)
		}
		if req.TZ != "" {
			loc, err := time.LoadLocation(req.TZ)
			if err != nil {
				return "", fmt.Errorf("loading location %q: %w", req.TZ, err)
			}
			t = t.In(loc)
		}
	}
	return t.Format(time.RFC3339), nil
}

// WordCount counts whitespace-separated words in its argument text.
type WordCount struct{}

func (WordCount) Name() string        { return "word_count" }
func (WordCount) Description() string { return "Counts the words in the given text." }

func (WordCount) Invoke(_ context.Context, args string) (string, error) {
	return strconv.Itoa(len(strings.Fields(args))), nil
}

// Builtins returns the built-in tools keyed by name.
func Builtins() map[string]Tool {
	tools := []Tool{Clock{}, WordCount{}}
	out := make(map[string]Tool, len(tools))
	for _, t := range tools {
		out[t.Name()] = t
	}
	return out
}

// SelectTools resolves tool names against available. Unknown names are
// returned separately so callers can report them.
func SelectTools(names []string, available map[string]Tool) (tools []Tool, toolMap map[string]Tool, unknown []string) {
	toolMap = make(map[string]Tool, len(names))
	for _, n := range names {
		t, ok := available[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		if _, dup := toolMap[n]; dup {
			continue
		}
		tools = append(tools, t)
		toolMap[n] = t
	}
	return tools, toolMap, unknown
}
