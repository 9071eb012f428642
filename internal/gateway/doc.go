// Package gateway serves the runstream HTTP API.
//
// # Chat Streaming
//
// POST /api/agents/chat starts a run for a configured agent and streams its
// events as Server-Sent Events. Every frame uses the SSE event name
// "message"; the JSON data tells frames apart:
//
//	{"created": true, "message": {...}}           the accepted user message
//	{"event": "on_run_step", "data": {...}}        one engine event
//	{"final": true, "responseMessage": {...}}      the terminal frame
//
// Run creation happens before any header is written, so a misconfigured
// agent yields a plain JSON 500 and no frames.
//
// # Cancellation
//
// The run's context is detached from the request: a client that drops the
// connection does not stop the run. POST /api/agents/chat/abort looks the
// run up by abort key (the response message id) or conversation id, cancels
// it, waits up to runs.abort_wait for it to finalize and returns the final
// data with "aborted": true. An aborted stream ends without a final frame.
//
// # Other Endpoints
//
//	GET /api/balance                       remaining token credits
//	GET /api/stats/usage                   aggregated token usage
//	GET /api/conversations/{id}/messages   persisted messages
//	GET /health, GET /health/ready         liveness and readiness
//
// API routes require a bearer token when auth.jwt_secret is set.
package gateway
