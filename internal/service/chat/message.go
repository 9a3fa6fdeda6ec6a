package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/willsandim/SIGTAP/internal/models"
)

// appendMessage stores one turn (with its sources) and touches the session's
// updated_at timestamp.
func (s *Service) appendMessage(ctx context.Context, sessionID int64, role models.Role, content string, sources []models.Source) (*models.Message, error) {
	if sessionID <= 0 {
		return nil, errors.New("session_id is required")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	for i, src := range sources {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO message_sources (message_id, position, uri, title) VALUES (?, ?, ?, ?)`,
			id, i, src.URI, src.Title,
		); err != nil {
			return nil, fmt.Errorf("insert source: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}

	return &models.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Sources:   sources,
		CreatedAt: now,
	}, nil
}

// GetMessage loads a single message with sources, verifying the owning client.
// Returns sql.ErrNoRows for unknown ids and foreign clients alike.
func (s *Service) GetMessage(ctx context.Context, clientID string, messageID int64) (*models.Message, error) {
	if messageID <= 0 {
		return nil, errors.New("invalid message id")
	}
	m := new(models.Message)
	err := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, m.created_at
		 FROM messages m JOIN sessions s ON m.session_id = s.id
		 WHERE m.id = ? AND s.client_id = ?`,
		messageID, clientID,
	).Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT uri, title FROM message_sources WHERE message_id = ? ORDER BY position ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.URI, &src.Title); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		m.Sources = append(m.Sources, src)
	}
	return m, rows.Err()
}
