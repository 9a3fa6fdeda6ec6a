package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/willsandim/SIGTAP/internal/models"
)

const (
	// DefaultHistoryLimit caps the recent-query list per client.
	DefaultHistoryLimit = 20

	// DefaultTitle names a session until the first exchange produces one.
	DefaultTitle = "Nova consulta"

	// ErrorReply replaces the assistant answer when generation fails, whatever
	// the failure kind. It carries no sources.
	ErrorReply = "Desculpe, não foi possível processar sua consulta no momento. " +
		"Verifique sua conexão e tente novamente em instantes."
)

// ErrEmptyQuery rejects empty or whitespace-only queries before any model call.
var ErrEmptyQuery = errors.New("query cannot be empty")

// AnswerFunc produces the assistant answer for a query given the prior
// transcript. The worker layer supplies it, wrapping the generator and cache.
type AnswerFunc func(ctx context.Context, history []*models.Message, query string) (string, []models.Source, error)

// TitleGenerator names a session from its first exchange.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, query, answer string) (string, error)
}

// Service owns transcript, history, and session persistence.
type Service struct {
	db           *sql.DB
	titles       TitleGenerator
	historyLimit int
}

// NewService builds the chat service. titles may be nil (sessions keep the
// default title).
func NewService(db *sql.DB, titles TitleGenerator, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{db: db, titles: titles, historyLimit: historyLimit}
}
