// Package sse encodes and decodes the Server-Sent Events framing used between
// runstream-gateway and its clients.
//
// Every frame is written as
//
//	event: message
//	data: <JSON>
//
// followed by a blank line. Step frames carry {"event": ..., "data": ...} as
// their JSON; lifecycle frames carry their own object (created, final).
package sse
