package chat

import (
	"context"
	"log"
	"time"
)

const DefaultCleanupInterval = time.Hour

// StartSessionCleaner prunes sessions idle longer than maxIdle on a ticker.
// A maxIdle of zero disables pruning entirely.
func (s *Service) StartSessionCleaner(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.cleanupLoop(ctx, interval, maxIdle)
}

func (s *Service) cleanupLoop(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupIdleSessions(ctx, maxIdle); err != nil {
				log.Printf("cleanup idle sessions error: %v", err)
			}
		}
	}
}

func (s *Service) cleanupIdleSessions(ctx context.Context, maxIdle time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxIdle)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM message_sources WHERE message_id IN (
			SELECT m.id FROM messages m JOIN sessions s ON m.session_id = s.id
			WHERE s.updated_at <= ?
		)`, cutoff); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN (
			SELECT id FROM sessions WHERE updated_at <= ?
		)`, cutoff); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at <= ?`, cutoff)
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("pruned %d idle sessions", n)
	}
	return nil
}
