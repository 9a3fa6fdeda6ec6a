package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/willsandim/SIGTAP/internal/models"
	"github.com/willsandim/SIGTAP/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

const testClient = "11111111-1111-1111-1111-111111111111"

func newTestService(t *testing.T, titles TitleGenerator) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// In-memory sqlite is per connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, titles, DefaultHistoryLimit)
}

type fakeTitles struct {
	title string
	err   error
	calls int
}

func (f *fakeTitles) GenerateTitle(ctx context.Context, query, answer string) (string, error) {
	f.calls++
	return f.title, f.err
}

func staticAnswer(content string, sources []models.Source) AnswerFunc {
	return func(ctx context.Context, history []*models.Message, query string) (string, []models.Source, error) {
		return content, sources, nil
	}
}

func TestAskNewSession(t *testing.T) {
	titles := &fakeTitles{title: "Valor de consulta"}
	svc := newTestService(t, titles)
	ctx := context.Background()

	sources := []models.Source{
		{URI: "https://sigtap.datasus.gov.br", Title: "SIGTAP"},
	}
	result, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "Qual o valor da consulta médica?",
		Answer:   staticAnswer("A consulta custa R$ 10,00.", sources),
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if result.Failed {
		t.Fatal("unexpected failed flag")
	}
	if result.Session.ID == 0 {
		t.Fatal("expected a new session id")
	}
	if result.UserMessage.Role != models.RoleUser || result.Assistant.Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %s / %s", result.UserMessage.Role, result.Assistant.Role)
	}
	if result.Assistant.Content != "A consulta custa R$ 10,00." {
		t.Fatalf("unexpected answer: %q", result.Assistant.Content)
	}
	if !result.Session.TitleUpdated || result.Session.Title != "Valor de consulta" {
		t.Fatalf("expected generated title, got %+v", result.Session)
	}
	if titles.calls != 1 {
		t.Fatalf("title generator called %d times, want 1", titles.calls)
	}

	// The full exchange must be persisted, sources included.
	session, messages, err := svc.GetSessionWithMessages(ctx, testClient, result.Session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Title != "Valor de consulta" {
		t.Fatalf("title not persisted: %q", session.Title)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if len(messages[1].Sources) != 1 || messages[1].Sources[0].URI != sources[0].URI {
		t.Fatalf("sources not persisted: %+v", messages[1].Sources)
	}
}

func TestAskFollowUpKeepsTitle(t *testing.T) {
	titles := &fakeTitles{title: "Primeira"}
	svc := newTestService(t, titles)
	ctx := context.Background()

	first, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "primeira pergunta",
		Answer:   staticAnswer("resposta", nil),
	})
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}
	second, err := svc.Ask(ctx, AskRequest{
		ClientID:  testClient,
		SessionID: first.Session.ID,
		Query:     "segunda pergunta",
		Answer:    staticAnswer("outra resposta", nil),
	})
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if second.Session.TitleUpdated {
		t.Fatal("follow-up exchange must not regenerate the title")
	}
	if titles.calls != 1 {
		t.Fatalf("title generator called %d times, want 1", titles.calls)
	}
}

func TestAskEmptyQuery(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Ask(context.Background(), AskRequest{
		ClientID: testClient,
		Query:    "   ",
		Answer:   staticAnswer("x", nil),
	})
	if !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestAskUnknownSession(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Ask(context.Background(), AskRequest{
		ClientID:  testClient,
		SessionID: 999,
		Query:     "pergunta",
		Answer:    staticAnswer("x", nil),
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAskGenerationFailureUsesErrorReply(t *testing.T) {
	titles := &fakeTitles{title: "nunca"}
	svc := newTestService(t, titles)
	ctx := context.Background()

	result, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "pergunta",
		Answer: func(ctx context.Context, history []*models.Message, query string) (string, []models.Source, error) {
			return "", nil, errors.New("api timeout")
		},
	})
	if err != nil {
		t.Fatalf("ask should not fail on generation error: %v", err)
	}
	if !result.Failed {
		t.Fatal("expected failed flag")
	}
	if result.Assistant.Content != ErrorReply {
		t.Fatalf("expected fixed error reply, got %q", result.Assistant.Content)
	}
	if len(result.Assistant.Sources) != 0 {
		t.Fatalf("error reply must carry no sources, got %+v", result.Assistant.Sources)
	}
	if titles.calls != 0 {
		t.Fatal("failed exchange must not generate a title")
	}
	if result.Session.Title != DefaultTitle {
		t.Fatalf("session title changed: %q", result.Session.Title)
	}

	// Even failed turns are recorded in the query history.
	entries, err := svc.ListHistory(ctx, testClient)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 || entries[0].Query != "pergunta" {
		t.Fatalf("history not recorded: %+v", entries)
	}
}

func TestAskPassesPriorTranscript(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "primeira",
		Answer:   staticAnswer("resposta um", nil),
	})
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}

	var got []*models.Message
	_, err = svc.Ask(ctx, AskRequest{
		ClientID:  testClient,
		SessionID: first.Session.ID,
		Query:     "segunda",
		Answer: func(ctx context.Context, history []*models.Message, query string) (string, []models.Source, error) {
			got = history
			return "resposta dois", nil, nil
		},
	})
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 prior messages, got %d", len(got))
	}
	if got[0].Content != "primeira" || got[1].Content != "resposta um" {
		t.Fatalf("unexpected transcript: %q / %q", got[0].Content, got[1].Content)
	}
}

func TestRecordQueryDedupAndCap(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := svc.RecordQuery(ctx, testClient, fmt.Sprintf("consulta %02d", i)); err != nil {
			t.Fatalf("record query %d: %v", i, err)
		}
	}
	entries, err := svc.ListHistory(ctx, testClient)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != DefaultHistoryLimit {
		t.Fatalf("expected %d entries, got %d", DefaultHistoryLimit, len(entries))
	}
	if entries[0].Query != "consulta 24" {
		t.Fatalf("newest first violated: %q", entries[0].Query)
	}
	if entries[len(entries)-1].Query != "consulta 05" {
		t.Fatalf("oldest entries not pruned: %q", entries[len(entries)-1].Query)
	}

	// Re-asking an existing query moves it to the front without growing the list.
	if err := svc.RecordQuery(ctx, testClient, "consulta 10"); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	entries, err = svc.ListHistory(ctx, testClient)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != DefaultHistoryLimit {
		t.Fatalf("dedup grew the list: %d", len(entries))
	}
	if entries[0].Query != "consulta 10" {
		t.Fatalf("re-asked query not at front: %q", entries[0].Query)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Query == "consulta 10" {
			t.Fatal("duplicate entry survived")
		}
	}
}

func TestHistoryIsPerClient(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	other := "22222222-2222-2222-2222-222222222222"

	if err := svc.RecordQuery(ctx, testClient, "minha consulta"); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := svc.ListHistory(ctx, other)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("history leaked across clients: %+v", entries)
	}
}

func TestClearHistory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		if err := svc.RecordQuery(ctx, testClient, q); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := svc.ClearHistory(ctx, testClient); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, err := svc.ListHistory(ctx, testClient)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("history not cleared: %+v", entries)
	}
}

func TestDeleteSession(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	result, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "pergunta",
		Answer:   staticAnswer("resposta", []models.Source{{URI: "https://example.org"}}),
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if err := svc.DeleteSession(ctx, testClient, result.Session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := svc.GetSessionWithMessages(ctx, testClient, result.Session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
	if err := svc.DeleteSession(ctx, testClient, result.Session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for repeated delete, got %v", err)
	}
}

func TestSessionOwnershipEnforced(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	other := "22222222-2222-2222-2222-222222222222"

	result, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "pergunta",
		Answer:   staticAnswer("resposta", nil),
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, _, err := svc.GetSessionWithMessages(ctx, other, result.Session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("foreign client read session: %v", err)
	}
	if err := svc.DeleteSession(ctx, other, result.Session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("foreign client deleted session: %v", err)
	}
	if _, err := svc.GetMessage(ctx, other, result.Assistant.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("foreign client read message: %v", err)
	}
}

func TestGetMessageLoadsSources(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	sources := []models.Source{
		{URI: "https://a.example", Title: "A"},
		{URI: "https://b.example", Title: "B"},
	}
	result, err := svc.Ask(ctx, AskRequest{
		ClientID: testClient,
		Query:    "pergunta",
		Answer:   staticAnswer("resposta", sources),
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	msg, err := svc.GetMessage(ctx, testClient, result.Assistant.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if len(msg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(msg.Sources))
	}
	if msg.Sources[0].URI != "https://a.example" || msg.Sources[1].URI != "https://b.example" {
		t.Fatalf("source order lost: %+v", msg.Sources)
	}
}

func TestListSessionsOrder(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Ask(ctx, AskRequest{ClientID: testClient, Query: "um", Answer: staticAnswer("r", nil)})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	second, err := svc.Ask(ctx, AskRequest{ClientID: testClient, Query: "dois", Answer: staticAnswer("r", nil)})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	// Touch the first session again so it becomes most recent.
	if _, err := svc.Ask(ctx, AskRequest{
		ClientID:  testClient,
		SessionID: first.Session.ID,
		Query:     "três",
		Answer:    staticAnswer("r", nil),
	}); err != nil {
		t.Fatalf("ask: %v", err)
	}

	sessions, err := svc.ListSessions(ctx, testClient)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first.Session.ID || sessions[1].ID != second.Session.ID {
		t.Fatalf("sessions not ordered by activity: %+v", sessions)
	}
}
