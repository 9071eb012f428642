// Package events defines the execution engine's event vocabulary and the
// gateway handlers that turn those events into wire frames.
//
// # Kinds and Routes
//
// Every Kind is routed either to the gateway (RouteCustom) or to the engine's
// built-in defaults (RouteEngine). The name and route tables are arrays whose
// lengths are checked against the kind count at compile time.
//
// # Handlers
//
// DefaultHandlers builds, per run:
//
//   - a model-end handler that appends usage metadata to a usage.Collector
//   - a forwarder for step, step-delta, step-completed and message-delta
//     events that writes the frame and then aggregates the payload
//
// Construction fails with a *ConfigurationError when a collaborator is missing.
package events
