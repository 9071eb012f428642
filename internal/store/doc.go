// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package exposes small interfaces that SQLiteStore implements in
// a single struct:
//
//   - ConversationStore: conversations and their owning principal
//   - MessageStore: messages linked by parent message ID
//   - UsageStore: one row per usage record, plus aggregated statistics
//
// # Message Chains
//
// Messages form a tree through ParentMessageID. GetMessageChain walks from a
// leaf to the root and returns the branch in chronological order; the
// gateway uses it to rebuild history for a new run.
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC strings so range filters and
// ORDER BY compare them lexically.
package store
