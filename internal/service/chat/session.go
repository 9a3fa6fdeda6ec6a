package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/willsandim/SIGTAP/internal/models"
)

// CreateSession inserts a new session for the client and returns the record.
func (s *Service) CreateSession(ctx context.Context, clientID, title string) (*models.Session, error) {
	if clientID == "" {
		return nil, errors.New("client_id is required")
	}
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (client_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		clientID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.Session{ID: id, ClientID: clientID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// ListSessions returns the client's sessions ordered by last activity.
func (s *Service) ListSessions(ctx context.Context, clientID string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, title, created_at, updated_at FROM sessions WHERE client_id = ? ORDER BY updated_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.ClientID, &se.Title, &se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}

// GetSessionWithMessages returns one session and its ordered messages with
// sources attached. Returns sql.ErrNoRows when the session does not exist or
// belongs to another client.
func (s *Service) GetSessionWithMessages(ctx context.Context, clientID string, sessionID int64) (*models.Session, []*models.Message, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, title, created_at, updated_at FROM sessions WHERE id = ? AND client_id = ?`,
		sessionID,
		clientID,
	).Scan(&session.ID, &session.ClientID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return &session, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	byID := make(map[int64]*models.Message)
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return &session, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return &session, nil, err
	}

	srcRows, err := s.db.QueryContext(ctx,
		`SELECT ms.message_id, ms.uri, ms.title
		 FROM message_sources ms JOIN messages m ON ms.message_id = m.id
		 WHERE m.session_id = ? ORDER BY ms.message_id ASC, ms.position ASC`,
		sessionID,
	)
	if err != nil {
		return &session, nil, fmt.Errorf("list sources: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var (
			messageID int64
			src       models.Source
		)
		if err := srcRows.Scan(&messageID, &src.URI, &src.Title); err != nil {
			return &session, nil, fmt.Errorf("scan source: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Sources = append(m.Sources, src)
		}
	}
	return &session, messages, srcRows.Err()
}

// DeleteSession removes a session and all related messages for the client.
func (s *Service) DeleteSession(ctx context.Context, clientID string, sessionID int64) error {
	if sessionID <= 0 {
		return errors.New("invalid session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND client_id = ?`, sessionID, clientID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM message_sources WHERE message_id IN (SELECT id FROM messages WHERE session_id = ?)`,
		sessionID,
	); err != nil {
		return fmt.Errorf("delete sources: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// UpdateSessionTitle sets a session title for the specified client.
func (s *Service) UpdateSessionTitle(ctx context.Context, clientID string, sessionID int64, title string) error {
	if sessionID <= 0 {
		return errors.New("invalid session id")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ? AND client_id = ?`,
		title, sessionID, clientID,
	)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
