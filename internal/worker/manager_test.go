package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/willsandim/SIGTAP/internal/models"
	"github.com/willsandim/SIGTAP/internal/service/chat"
	"github.com/willsandim/SIGTAP/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

const testClient = "11111111-1111-1111-1111-111111111111"

func newTestManager(t *testing.T, gen Generator, cfg ManagerConfig) *Manager {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := chat.NewService(db, nil, chat.DefaultHistoryLimit)
	return NewManager(svc, gen, nil, cfg)
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	content string
	sources []models.Source
	err     error
	// block, when set, holds Generate until the channel is closed.
	block chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, history []*models.Message, query string) (string, []models.Source, error) {
	g.mu.Lock()
	g.calls++
	block := g.block
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	if g.err != nil {
		return "", nil, g.err
	}
	return g.content, g.sources, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestAskRoundTrip(t *testing.T) {
	gen := &fakeGenerator{content: "resposta", sources: []models.Source{{URI: "https://example.org"}}}
	m := newTestManager(t, gen, ManagerConfig{})

	result, err := m.Ask(context.Background(), testClient, 0, "pergunta")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if result.Assistant.Content != "resposta" {
		t.Fatalf("unexpected answer: %q", result.Assistant.Content)
	}
	if gen.callCount() != 1 {
		t.Fatalf("generator called %d times, want 1", gen.callCount())
	}
}

func TestAskEmptyQueryRejectedBeforeGate(t *testing.T) {
	gen := &fakeGenerator{content: "resposta"}
	m := newTestManager(t, gen, ManagerConfig{})

	if _, err := m.Ask(context.Background(), testClient, 0, "  \t "); !errors.Is(err, chat.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if gen.callCount() != 0 {
		t.Fatal("generator must not run for empty queries")
	}
	// The empty submit must not consume the in-flight gate.
	if _, err := m.Ask(context.Background(), testClient, 0, "pergunta"); err != nil {
		t.Fatalf("follow-up ask: %v", err)
	}
}

func TestAskBusyGate(t *testing.T) {
	gen := &fakeGenerator{content: "resposta", block: make(chan struct{})}
	m := newTestManager(t, gen, ManagerConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), testClient, 0, "primeira")
		done <- err
	}()

	// Wait until the first consultation is inside the generator.
	deadline := time.After(2 * time.Second)
	for gen.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first consultation never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := m.Ask(context.Background(), testClient, 0, "segunda"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(gen.block)
	if err := <-done; err != nil {
		t.Fatalf("first ask: %v", err)
	}

	// Gate released, next consultation goes through.
	gen.mu.Lock()
	gen.block = nil
	gen.mu.Unlock()
	if _, err := m.Ask(context.Background(), testClient, 0, "terceira"); err != nil {
		t.Fatalf("ask after release: %v", err)
	}
}

func TestAskBusyGateIsPerClient(t *testing.T) {
	gen := &fakeGenerator{content: "resposta", block: make(chan struct{})}
	m := newTestManager(t, gen, ManagerConfig{})
	other := "22222222-2222-2222-2222-222222222222"

	done := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), testClient, 0, "primeira")
		done <- err
	}()
	deadline := time.After(2 * time.Second)
	for gen.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first consultation never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	otherDone := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), other, 0, "pergunta de outro")
		otherDone <- err
	}()

	close(gen.block)
	if err := <-done; err != nil {
		t.Fatalf("first client: %v", err)
	}
	if err := <-otherDone; err != nil {
		t.Fatalf("second client must not be blocked by the first: %v", err)
	}
}

func TestAskRateLimited(t *testing.T) {
	gen := &fakeGenerator{content: "resposta"}
	m := newTestManager(t, gen, ManagerConfig{AskRatePerMinute: 2})

	ctx := context.Background()
	if _, err := m.Ask(ctx, testClient, 0, "um"); err != nil {
		t.Fatalf("ask 1: %v", err)
	}
	if _, err := m.Ask(ctx, testClient, 0, "dois"); err != nil {
		t.Fatalf("ask 2: %v", err)
	}
	if _, err := m.Ask(ctx, testClient, 0, "três"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestClearHistoryWipesEntries(t *testing.T) {
	gen := &fakeGenerator{content: "resposta"}
	m := newTestManager(t, gen, ManagerConfig{})
	ctx := context.Background()

	if _, err := m.Ask(ctx, testClient, 0, "pergunta"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if err := m.ClearHistory(ctx, testClient); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	entries, err := m.svc.ListHistory(ctx, testClient)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("history not cleared: %+v", entries)
	}
}

func TestClientStateSlidingWindow(t *testing.T) {
	s := newClientState()
	window := 50 * time.Millisecond

	if !s.allow(2, window) || !s.allow(2, window) {
		t.Fatal("first two hits should pass")
	}
	if s.allow(2, window) {
		t.Fatal("third hit inside the window should fail")
	}
	time.Sleep(window + 10*time.Millisecond)
	if !s.allow(2, window) {
		t.Fatal("hit after the window expired should pass")
	}
}

func TestNilAnswerCacheIsInert(t *testing.T) {
	var c *answerCache
	ctx := context.Background()
	if _, ok := c.Lookup(ctx, "q"); ok {
		t.Fatal("nil cache must miss")
	}
	c.Store(ctx, "q", "content", nil)
	c.InvalidateAll(ctx)
}
