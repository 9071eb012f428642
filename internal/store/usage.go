// ABOUTME: SQLite implementation for token usage tracking
// ABOUTME: Stores one row per usage record and serves aggregated statistics

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveUsage stores a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	query := `
		INSERT INTO message_usage (
			id, run_id, conversation_id, message_id, principal_id, agent_id, model,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, reasoning_tokens,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.RunID,
		usage.ConversationID,
		nullString(usage.MessageID),
		usage.PrincipalID,
		usage.AgentID,
		usage.Model,
		usage.InputTokens,
		usage.OutputTokens,
		usage.CacheReadTokens,
		usage.CacheWriteTokens,
		usage.ReasoningTokens,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"run_id", usage.RunID,
		"agent_id", usage.AgentID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// GetRunUsage retrieves all usage records for a run in insertion order.
func (s *SQLiteStore) GetRunUsage(ctx context.Context, runID string) ([]*TokenUsage, error) {
	query := `
		SELECT id, run_id, conversation_id, message_id, principal_id, agent_id, model,
		       input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, reasoning_tokens,
		       created_at
		FROM message_usage
		WHERE run_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*TokenUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COALESCE(SUM(cache_read_tokens), 0) as total_cache_read,
			COALESCE(SUM(cache_write_tokens), 0) as total_cache_write,
			COALESCE(SUM(reasoning_tokens), 0) as total_reasoning,
			COUNT(*) as request_count
		FROM message_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.AgentID != nil {
		query += " AND agent_id = ?"
		args = append(args, *filter.AgentID)
	}
	if filter.PrincipalID != nil {
		query += " AND principal_id = ?"
		args = append(args, *filter.PrincipalID)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.TotalCacheRead,
		&stats.TotalCacheWrite,
		&stats.TotalReasoning,
		&stats.RequestCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	// Total excludes cache tokens
	stats.TotalTokens = stats.TotalInput + stats.TotalOutput + stats.TotalReasoning

	return &stats, nil
}

// scanUsage scans a single usage row into a TokenUsage struct.
func scanUsage(rows *sql.Rows) (*TokenUsage, error) {
	var usage TokenUsage
	var messageID sql.NullString
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.RunID,
		&usage.ConversationID,
		&messageID,
		&usage.PrincipalID,
		&usage.AgentID,
		&usage.Model,
		&usage.InputTokens,
		&usage.OutputTokens,
		&usage.CacheReadTokens,
		&usage.CacheWriteTokens,
		&usage.ReasoningTokens,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.MessageID = messageID.String

	usage.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &usage, nil
}

// Ensure SQLiteStore implements UsageStore interface.
var _ UsageStore = (*SQLiteStore)(nil)
