package chat

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/willsandim/SIGTAP/internal/models"
)

type AskRequest struct {
	ClientID  string
	SessionID int64 // 0 starts a new session
	Query     string
	Answer    AnswerFunc
}

type AskResult struct {
	Session     *AskSession
	UserMessage *models.Message
	Assistant   *models.Message
	// Failed marks that the assistant message is the fixed error reply.
	Failed bool
}

type AskSession struct {
	*models.Session
	// TitleUpdated signals a freshly generated title the UI should pick up.
	TitleUpdated bool
}

// Ask runs one consultation turn: validate, persist the user message, produce
// the answer, persist the assistant message, record history. A generation
// failure of any kind is swallowed into the fixed error reply; only storage
// failures and unknown sessions surface as errors.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if req.Answer == nil {
		return nil, errors.New("answer function required")
	}

	var (
		session *models.Session
		prior   []*models.Message
		err     error
	)
	if req.SessionID == 0 {
		session, err = s.CreateSession(ctx, req.ClientID, DefaultTitle)
		if err != nil {
			return nil, err
		}
	} else {
		session, prior, err = s.GetSessionWithMessages(ctx, req.ClientID, req.SessionID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, err
			}
			return nil, err
		}
	}
	firstExchange := len(prior) == 0

	if err := s.RecordQuery(ctx, req.ClientID, query); err != nil {
		log.Printf("record history for client %s failed: %v", req.ClientID, err)
	}

	userMsg, err := s.appendMessage(ctx, session.ID, models.RoleUser, query, nil)
	if err != nil {
		return nil, err
	}

	content, sources, genErr := req.Answer(ctx, prior, query)
	failed := genErr != nil
	if failed {
		log.Printf("generate answer failed: %v", genErr)
		content = ErrorReply
		sources = nil
	}

	aiMsg, err := s.appendMessage(ctx, session.ID, models.RoleAssistant, content, sources)
	if err != nil {
		return nil, err
	}
	session.UpdatedAt = aiMsg.CreatedAt

	result := &AskResult{
		Session:     &AskSession{Session: session},
		UserMessage: userMsg,
		Assistant:   aiMsg,
		Failed:      failed,
	}

	if firstExchange && !failed && s.titles != nil {
		title, err := s.titles.GenerateTitle(ctx, query, content)
		if err != nil {
			log.Printf("generate session title failed: %v", err)
		} else if title != "" {
			if err := s.UpdateSessionTitle(ctx, req.ClientID, session.ID, title); err != nil {
				log.Printf("store session title failed: %v", err)
			} else {
				session.Title = title
				result.Session.TitleUpdated = true
			}
		}
	}
	return result, nil
}
