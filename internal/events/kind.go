// ABOUTME: Enumerated set of engine event kinds and the route each one takes
// ABOUTME: Array-backed tables are length-checked against the kind count at compile time

package events

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when parsing a name that is not a declared event kind.
var ErrUnknownKind = errors.New("unknown event kind")

// Kind identifies an event emitted by the execution engine.
type Kind int

const (
	KindChatModelEnd Kind = iota
	KindToolEnd
	KindChatModelStream
	KindRunStep
	KindRunStepDelta
	KindRunStepCompleted
	KindMessageDelta

	kindCount
)

var kindNames = [...]string{
	KindChatModelEnd:     "on_chat_model_end",
	KindToolEnd:          "on_tool_end",
	KindChatModelStream:  "on_chat_model_stream",
	KindRunStep:          "on_run_step",
	KindRunStepDelta:     "on_run_step_delta",
	KindRunStepCompleted: "on_run_step_completed",
	KindMessageDelta:     "on_message_delta",
}

// Route says who owns the handler for a kind.
type Route int

const (
	// RouteCustom kinds are handled by the gateway's registry.
	RouteCustom Route = iota + 1
	// RouteEngine kinds are handled by the engine's built-in defaults
	// unless a custom handler is registered for them.
	RouteEngine
)

// Routes assigns every declared kind exactly one route.
var Routes = [...]Route{
	KindChatModelEnd:     RouteCustom,
	KindToolEnd:          RouteEngine,
	KindChatModelStream:  RouteEngine,
	KindRunStep:          RouteCustom,
	KindRunStepDelta:     RouteCustom,
	KindRunStepCompleted: RouteCustom,
	KindMessageDelta:     RouteCustom,
}

// Adding a kind without a name or route fails to compile here.
var (
	_ [0]struct{} = [len(kindNames) - int(kindCount)]struct{}{}
	_ [0]struct{} = [len(Routes) - int(kindCount)]struct{}{}
)

// Kinds returns every declared kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < kindCount
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Route returns the route for k.
func (k Kind) Route() Route {
	if !k.Valid() {
		return 0
	}
	return Routes[k]
}

// ParseKind maps a wire name such as "on_run_step" back to its Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// MarshalText encodes the kind as its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a wire name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
