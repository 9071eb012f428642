// Package protocol defines the JSON shapes exchanged between runstream-gateway
// and its clients: submissions, lifecycle frames and conversation messages.
package protocol
