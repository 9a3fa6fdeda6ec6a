package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/willsandim/SIGTAP/internal/models"
)

// RecordQuery inserts a query into the client's history, keeping the list
// deduplicated by exact string and capped at the configured limit. Re-asking
// an existing query moves it to the front.
func (s *Service) RecordQuery(ctx context.Context, clientID, query string) error {
	if clientID == "" || query == "" {
		return errors.New("client_id and query are required")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM history WHERE client_id = ? AND query = ?`, clientID, query,
	); err != nil {
		return fmt.Errorf("dedup history: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO history (client_id, query, asked_at) VALUES (?, ?, ?)`,
		clientID, query, now,
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	// The derived-table wrap keeps the prune statement valid on mysql too.
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM history WHERE client_id = ? AND query NOT IN (
			SELECT query FROM (
				SELECT query FROM history WHERE client_id = ? ORDER BY asked_at DESC LIMIT ?
			) keep
		)`,
		clientID, clientID, s.historyLimit,
	); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// ListHistory returns the client's recent queries, newest first.
func (s *Service) ListHistory(ctx context.Context, clientID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, asked_at FROM history WHERE client_id = ? ORDER BY asked_at DESC LIMIT ?`,
		clientID, s.historyLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.Query, &e.AskedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory removes all history entries for the client.
func (s *Service) ClearHistory(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
