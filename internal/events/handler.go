// ABOUTME: Handler contract the engine invokes for every event it emits
// ABOUTME: Defines the graph context and metadata passed alongside the payload

package events

// Metadata is the per-event context the engine attaches (thread, run, step).
type Metadata map[string]any

// Graph is the engine's view of the run that emitted an event.
type Graph interface {
	RunID() string
	ThreadID() string
	Provider() string
}

// Handler processes one event. The engine calls handlers sequentially.
type Handler interface {
	Handle(kind Kind, data any, metadata Metadata, graph Graph)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(kind Kind, data any, metadata Metadata, graph Graph)

// Handle calls f.
func (f HandlerFunc) Handle(kind Kind, data any, metadata Metadata, graph Graph) {
	f(kind, data, metadata, graph)
}

// Handlers maps event kinds to their handlers.
type Handlers map[Kind]Handler
