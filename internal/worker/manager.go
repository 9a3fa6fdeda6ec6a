package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/willsandim/SIGTAP/internal/models"
	"github.com/willsandim/SIGTAP/internal/redis"
	"github.com/willsandim/SIGTAP/internal/service/chat"
)

var (
	// ErrBusy rejects a consultation while another one is in flight for the
	// same client. The browser's loading flag enforced the same rule.
	ErrBusy = errors.New("consultation already in progress")

	// ErrRateLimited rejects clients that exceed the sliding-window ask limit.
	ErrRateLimited = errors.New("too many consultations, slow down")
)

// Generator produces an answer with grounding sources for a query.
type Generator interface {
	Generate(ctx context.Context, history []*models.Message, query string) (string, []models.Source, error)
}

type ManagerConfig struct {
	AskRatePerMinute int
	AnswerCacheTTL   time.Duration
}

// Manager serializes consultations per client and fronts the generator with
// the redis answer cache.
type Manager struct {
	svc   *chat.Service
	gen   Generator
	cache *answerCache
	cfg   ManagerConfig

	mu      sync.Mutex
	clients map[string]*clientState
}

func NewManager(svc *chat.Service, gen Generator, cacheClient *redis.Client, cfg ManagerConfig) *Manager {
	if cfg.AskRatePerMinute <= 0 {
		cfg.AskRatePerMinute = 10
	}
	if cfg.AnswerCacheTTL <= 0 {
		cfg.AnswerCacheTTL = 15 * time.Minute
	}
	return &Manager{
		svc:     svc,
		gen:     gen,
		cache:   newAnswerCache(cacheClient, cfg.AnswerCacheTTL),
		cfg:     cfg,
		clients: make(map[string]*clientState),
	}
}

// Ask runs one consultation turn for the client, holding its in-flight gate
// for the duration.
func (m *Manager) Ask(ctx context.Context, clientID string, sessionID int64, query string) (*chat.AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		// Rejected before the gate so an empty submit never counts as activity.
		return nil, chat.ErrEmptyQuery
	}

	state := m.ensureClient(clientID)
	if !state.tryAcquire() {
		return nil, ErrBusy
	}
	defer state.release()
	if !state.allow(m.cfg.AskRatePerMinute, time.Minute) {
		return nil, ErrRateLimited
	}

	answer := func(ctx context.Context, history []*models.Message, q string) (string, []models.Source, error) {
		ctx, cancel := context.WithTimeout(ctx, generateTimeout)
		defer cancel()
		if cached, ok := m.cache.Lookup(ctx, q); ok {
			debugLog("[worker] answer cache hit for client %s", clientID)
			return cached.Content, cached.Sources, nil
		}
		content, sources, err := m.gen.Generate(ctx, history, q)
		if err != nil {
			return "", nil, err
		}
		m.cache.Store(ctx, q, content, sources)
		return content, sources, nil
	}

	return m.svc.Ask(ctx, chat.AskRequest{
		ClientID:  clientID,
		SessionID: sessionID,
		Query:     query,
		Answer:    answer,
	})
}

// ClearHistory wipes the client's history and invalidates the shared answer
// cache so cleared queries are freshly generated next time.
func (m *Manager) ClearHistory(ctx context.Context, clientID string) error {
	if err := m.svc.ClearHistory(ctx, clientID); err != nil {
		return err
	}
	m.cache.InvalidateAll(ctx)
	return nil
}

const (
	generateTimeout = 2 * time.Minute
	clientIdleTTL   = time.Hour
	clientPruneSize = 1024
)

func (m *Manager) ensureClient(clientID string) *clientState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) > clientPruneSize {
		m.pruneLocked()
	}
	state, ok := m.clients[clientID]
	if !ok {
		state = newClientState()
		m.clients[clientID] = state
	}
	state.touch()
	return state
}

func (m *Manager) pruneLocked() {
	cutoff := time.Now().Add(-clientIdleTTL)
	for id, state := range m.clients {
		if state.idleSince(cutoff) {
			delete(m.clients, id)
		}
	}
}
