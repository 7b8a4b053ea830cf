package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archagent/internal/backend"
	"archagent/internal/config"
	"archagent/internal/models"
	"archagent/internal/storage"
)

// mockBackend satisfies Backend with canned responses. Function fields
// override the default success behavior.
type mockBackend struct {
	askFn     func(question string, repos []string, sessionID string) (*backend.AnalysisPayload, error)
	analyzeFn func(repoName string) (*backend.AnalysisPayload, error)
	suggestFn func(description, repoName string) (*backend.SuggestionsPayload, error)
	switchFn  func(repoName string) (*backend.SwitchPayload, error)

	lastQuestion string
	lastRepos    []string
	askCalls     int
}

func (m *mockBackend) AskQuestion(_ context.Context, question string, repos []string, sessionID string) (*backend.AnalysisPayload, error) {
	m.askCalls++
	m.lastQuestion = question
	m.lastRepos = repos
	if m.askFn != nil {
		return m.askFn(question, repos, sessionID)
	}
	return &backend.AnalysisPayload{Success: true, AnalysisSummary: "the answer"}, nil
}

func (m *mockBackend) AnalyzeRepo(_ context.Context, _, repoName string) (*backend.AnalysisPayload, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(repoName)
	}
	return &backend.AnalysisPayload{Success: true, AnalysisSummary: "layered architecture", MermaidDiagram: "graph TD"}, nil
}

func (m *mockBackend) AnalyzeUpload(_ context.Context, _ string, _ io.Reader, repoName string) (*backend.AnalysisPayload, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(repoName)
	}
	return &backend.AnalysisPayload{Success: true, AnalysisSummary: "upload analyzed"}, nil
}

func (m *mockBackend) SuggestFeature(_ context.Context, description, repoName string) (*backend.SuggestionsPayload, error) {
	if m.suggestFn != nil {
		return m.suggestFn(description, repoName)
	}
	return &backend.SuggestionsPayload{
		Success:     true,
		Suggestions: []backend.Suggestion{{Title: "Add a service layer", Description: "put it next to the handlers", Files: []string{"internal/service/feature.go"}}},
	}, nil
}

func (m *mockBackend) SwitchConversation(_ context.Context, repoName string) (*backend.SwitchPayload, error) {
	if m.switchFn != nil {
		return m.switchFn(repoName)
	}
	return &backend.SwitchPayload{Success: true, RepoName: repoName}, nil
}

func newTestService(t *testing.T, be Backend) *Service {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(storage.New(db, 0), be, 0)
}

func countThinking(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsThinking {
			n++
		}
	}
	return n
}

func TestAppendPreservesOrderAndUniqueIDs(t *testing.T) {
	svc := newTestService(t, &mockBackend{})

	for i := 0; i < 5; i++ {
		svc.appendMessage(models.Message{Role: models.RoleUser, Content: strings.Repeat("x", i+1)})
	}

	msgs := svc.Messages()
	if len(msgs) != 6 { // welcome + 5
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	seen := make(map[string]bool)
	for i, m := range msgs {
		if m.ID == "" {
			t.Fatalf("message %d has no id", i)
		}
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
		if m.Timestamp.IsZero() {
			t.Fatalf("message %d has no timestamp", i)
		}
	}
	for i := 1; i < 6; i++ {
		if len(msgs[i].Content) != i {
			t.Fatalf("insertion order not preserved at %d: %q", i, msgs[i].Content)
		}
	}
}

func TestReplaceThinkingKeepsPosition(t *testing.T) {
	svc := newTestService(t, &mockBackend{})
	svc.appendMessage(models.Message{Role: models.RoleUser, Content: "before"})
	svc.appendMessage(thinkingMessage("Thinking..."))
	svc.appendMessage(models.Message{Role: models.RoleSystem, Content: "after"})

	final := svc.replaceThinking(models.Message{Role: models.RoleAssistant, Content: "done"})

	msgs := svc.Messages()
	if len(msgs) != 4 { // welcome, before, done, after
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "before" || msgs[2].Content != "done" || msgs[3].Content != "after" {
		t.Fatalf("replacement not in place: %q %q %q", msgs[1].Content, msgs[2].Content, msgs[3].Content)
	}
	if msgs[2].ID != final.ID || msgs[2].IsThinking {
		t.Fatalf("final message not stored correctly: %#v", msgs[2])
	}
	if countThinking(msgs) != 0 {
		t.Fatalf("thinking placeholder left dangling")
	}
}

func TestAskWithoutRepositoriesAnswersWithGuidance(t *testing.T) {
	be := &mockBackend{}
	svc := newTestService(t, be)

	if err := svc.Ask(context.Background(), "How do I add auth?", nil); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if be.askCalls != 0 {
		t.Fatalf("backend should not be called without a repository scope")
	}
	msgs := svc.Messages()
	if len(msgs) != 3 { // welcome, user, guidance
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].Role != models.RoleUser || msgs[1].Content != "How do I add auth?" {
		t.Fatalf("user message mismatch: %#v", msgs[1])
	}
	last := msgs[2]
	if last.IsThinking || last.IsError {
		t.Fatalf("guidance message flags wrong: %#v", last)
	}
	if !strings.Contains(last.Content, "ZIP") || !strings.Contains(last.Content, "GitHub URL") {
		t.Fatalf("guidance text missing: %q", last.Content)
	}
	if svc.Busy() {
		t.Fatalf("busy flag stuck after local resolution")
	}
}

func TestAskResolvesMentionScope(t *testing.T) {
	be := &mockBackend{}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "my-app", URL: "https://github.com/me/my-app", Type: models.RepoTypeGitHub})
	svc.register(models.Repository{Name: "api-service", URL: "https://github.com/me/api-service", Type: models.RepoTypeGitHub})

	if err := svc.Ask(context.Background(), "fix bug in #my-app please", nil); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if be.lastQuestion != "fix bug in please" {
		t.Fatalf("cleaned question mismatch: %q", be.lastQuestion)
	}
	if len(be.lastRepos) != 1 || be.lastRepos[0] != "my-app" {
		t.Fatalf("scope mismatch: %v", be.lastRepos)
	}

	// the log shows the raw text, scoped to the mentioned repo
	msgs := svc.Messages()
	userMsg := msgs[len(msgs)-2]
	if userMsg.Content != "fix bug in #my-app please" || userMsg.RepoContext != "my-app" {
		t.Fatalf("user message mismatch: %#v", userMsg)
	}
}

func TestAskScopePriority(t *testing.T) {
	be := &mockBackend{}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "first", Type: models.RepoTypeUpload})
	svc.register(models.Repository{Name: "second", Type: models.RepoTypeUpload})

	// no mention, no active: most recently registered wins
	svc.ClearActive()
	if err := svc.Ask(context.Background(), "question one", nil); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(be.lastRepos) != 1 || be.lastRepos[0] != "second" {
		t.Fatalf("most-recent fallback mismatch: %v", be.lastRepos)
	}

	// active pointer beats most recent
	if err := svc.SetActive("first"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := svc.Ask(context.Background(), "question two", nil); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if be.lastRepos[0] != "first" {
		t.Fatalf("active pointer mismatch: %v", be.lastRepos)
	}

	// explicit override beats everything
	if err := svc.Ask(context.Background(), "question three", []string{"second"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if be.lastRepos[0] != "second" {
		t.Fatalf("override mismatch: %v", be.lastRepos)
	}
}

func TestAskBackendFailureResolvesThinking(t *testing.T) {
	be := &mockBackend{askFn: func(string, []string, string) (*backend.AnalysisPayload, error) {
		return nil, errors.New("connection refused")
	}}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})

	if err := svc.Ask(context.Background(), "anything", nil); err != nil {
		t.Fatalf("ask: %v", err)
	}
	msgs := svc.Messages()
	last := msgs[len(msgs)-1]
	if !last.IsError || last.IsThinking {
		t.Fatalf("expected terminal error message, got %#v", last)
	}
	if countThinking(msgs) != 0 {
		t.Fatalf("thinking placeholder left dangling")
	}
	if svc.Busy() {
		t.Fatalf("busy flag stuck after failure")
	}
}

func TestAnalyzeRepositorySuccess(t *testing.T) {
	svc := newTestService(t, &mockBackend{})

	if err := svc.AnalyzeRepository(context.Background(), "https://github.com/facebook/react"); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	repos := svc.Repositories()
	if len(repos) != 1 || repos[0].Name != "facebook-react" || repos[0].Type != models.RepoTypeGitHub {
		t.Fatalf("registry mismatch: %#v", repos)
	}
	if svc.ActiveRepository() != "facebook-react" {
		t.Fatalf("active repository not set: %q", svc.ActiveRepository())
	}

	msgs := svc.Messages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "facebook-react") || !strings.Contains(last.Content, "```mermaid") {
		t.Fatalf("report mismatch: %q", last.Content)
	}
	if last.RepoContext != "facebook-react" {
		t.Fatalf("report not scoped: %#v", last)
	}
}

func TestAnalyzeRepositoryValidationFailure(t *testing.T) {
	be := &mockBackend{analyzeFn: func(string) (*backend.AnalysisPayload, error) {
		return nil, &backend.StatusError{Code: http.StatusUnprocessableEntity}
	}}
	svc := newTestService(t, be)

	if err := svc.AnalyzeRepository(context.Background(), "https://github.com/not/areal"); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	msgs := svc.Messages()
	last := msgs[len(msgs)-1]
	if !last.IsError {
		t.Fatalf("expected error message, got %#v", last)
	}
	if !strings.Contains(last.Content, "https://github.com/facebook/react") || !strings.Contains(last.Content, "invalid URL format") {
		t.Fatalf("422 explanation missing: %q", last.Content)
	}
	if len(svc.Repositories()) != 0 {
		t.Fatalf("failed analysis must not register a repository")
	}
	if countThinking(msgs) != 0 || svc.Busy() {
		t.Fatalf("state not cleaned up after failure")
	}
}

func TestRegistryDeduplication(t *testing.T) {
	svc := newTestService(t, &mockBackend{})

	gh := models.Repository{Name: "me-app", URL: "https://github.com/me/app", Type: models.RepoTypeGitHub}
	if !svc.register(gh) {
		t.Fatalf("first github registration should create an entry")
	}
	if svc.register(gh) {
		t.Fatalf("same url must not register twice")
	}
	if len(svc.Repositories()) != 1 {
		t.Fatalf("expected registry of size 1")
	}

	up := models.Repository{Name: "proj", Type: models.RepoTypeUpload}
	if !svc.register(up) {
		t.Fatalf("first upload registration should create an entry")
	}
	if svc.register(models.Repository{Name: "PROJ", Type: models.RepoTypeUpload}) {
		t.Fatalf("same derived name must not register twice")
	}
	if len(svc.Repositories()) != 2 {
		t.Fatalf("expected registry of size 2, got %d", len(svc.Repositories()))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := newTestService(t, &mockBackend{})
	svc.register(models.Repository{Name: "my-app", URL: "https://github.com/me/my-app", Type: models.RepoTypeGitHub})
	svc.appendMessage(models.Message{Role: models.RoleUser, Content: "hello", RepoContext: "my-app"})
	svc.appendMessage(models.Message{Role: models.RoleAssistant, Content: "hi there"})

	snap := svc.Export()
	if snap.Version != models.SnapshotVersion || snap.SessionID == "" {
		t.Fatalf("snapshot header mismatch: %#v", snap)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	restored := newTestService(t, &mockBackend{})
	if err := restored.Import(data); err != nil {
		t.Fatalf("import: %v", err)
	}

	wantMsgs, _ := json.Marshal(svc.Messages())
	gotMsgs, _ := json.Marshal(restored.Messages())
	if string(wantMsgs) != string(gotMsgs) {
		t.Fatalf("messages not restored\nwant %s\ngot  %s", wantMsgs, gotMsgs)
	}
	wantRepos, _ := json.Marshal(svc.Repositories())
	gotRepos, _ := json.Marshal(restored.Repositories())
	if string(wantRepos) != string(gotRepos) {
		t.Fatalf("repositories not restored\nwant %s\ngot  %s", wantRepos, gotRepos)
	}
	if restored.SessionID() != svc.SessionID() {
		t.Fatalf("session id not restored")
	}
}

func TestImportRejectsMissingKeys(t *testing.T) {
	svc := newTestService(t, &mockBackend{})
	before, _ := json.Marshal(svc.Messages())

	for _, payload := range []string{
		`{"repositories": []}`,
		`{"messages": []}`,
		`not json at all`,
	} {
		if err := svc.Import([]byte(payload)); err == nil {
			t.Fatalf("import should reject %q", payload)
		}
	}

	after, _ := json.Marshal(svc.Messages())
	if string(before) != string(after) {
		t.Fatalf("state modified by rejected import")
	}
}

func TestNewChatIdempotence(t *testing.T) {
	svc := newTestService(t, &mockBackend{})
	svc.register(models.Repository{Name: "keep-me", Type: models.RepoTypeUpload})
	svc.appendMessage(models.Message{Role: models.RoleUser, Content: "old turn"})

	first := svc.NewChat()
	if got := svc.Messages(); len(got) != 1 || got[0].Role != models.RoleAssistant {
		t.Fatalf("log not reset to single welcome: %d messages", len(got))
	}
	second := svc.NewChat()
	if got := svc.Messages(); len(got) != 1 {
		t.Fatalf("second newChat broke the reset: %d messages", len(got))
	}
	if first == second {
		t.Fatalf("session ids must differ")
	}
	if len(svc.Repositories()) != 1 {
		t.Fatalf("registry must survive newChat")
	}
}

func TestSwitchToRepositorySynthesizesWelcome(t *testing.T) {
	be := &mockBackend{switchFn: func(repoName string) (*backend.SwitchPayload, error) {
		return &backend.SwitchPayload{Success: true, RepoName: repoName}, nil
	}}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})

	if err := svc.SwitchToRepository(context.Background(), "my-app"); err != nil {
		t.Fatalf("switch: %v", err)
	}

	msgs := svc.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected welcome + notice, got %d messages", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "my-app") {
		t.Fatalf("welcome must mention the repository: %q", msgs[0].Content)
	}
	if msgs[1].Role != models.RoleSystem || msgs[1].Content != "Switched to my-app conversation" {
		t.Fatalf("notice mismatch: %#v", msgs[1])
	}
	if svc.ActiveRepository() != "my-app" {
		t.Fatalf("active repository not set after switch")
	}
}

func TestSwitchToRepositoryRestoresHistory(t *testing.T) {
	be := &mockBackend{switchFn: func(repoName string) (*backend.SwitchPayload, error) {
		return &backend.SwitchPayload{
			Success:  true,
			RepoName: repoName,
			Messages: []backend.ConversationMessage{
				{Role: "user", Content: "what is this?", Timestamp: "2026-08-29T10:00:00Z"},
				{Role: "assistant", Content: "a parser"},
			},
		}, nil
	}}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})

	if err := svc.SwitchToRepository(context.Background(), "app"); err != nil { // substring lookup
		t.Fatalf("switch: %v", err)
	}
	msgs := svc.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected history + notice, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "what is this?" {
		t.Fatalf("history mismatch: %#v", msgs[0])
	}
	if !msgs[0].Timestamp.Equal(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp not parsed: %v", msgs[0].Timestamp)
	}
}

func TestSwitchFailureLeavesStateUnchanged(t *testing.T) {
	be := &mockBackend{switchFn: func(string) (*backend.SwitchPayload, error) {
		return nil, errors.New("boom")
	}}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})
	svc.SetActive("my-app")
	beforeLen := len(svc.Messages())

	if err := svc.SwitchToRepository(context.Background(), "other"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	msgs := svc.Messages()
	if len(msgs) != beforeLen+1 {
		t.Fatalf("expected exactly one appended error message")
	}
	if !msgs[len(msgs)-1].IsError {
		t.Fatalf("appended message should be an error: %#v", msgs[len(msgs)-1])
	}
	if svc.ActiveRepository() != "my-app" {
		t.Fatalf("active repository must be unchanged on failure")
	}
}

func TestSuggestFeature(t *testing.T) {
	svc := newTestService(t, &mockBackend{})

	if err := svc.SuggestFeature(context.Background(), "dark mode"); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("expected ErrNoRepository, got %v", err)
	}

	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})
	svc.SetActive("my-app")
	if err := svc.SuggestFeature(context.Background(), "dark mode"); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	msgs := svc.Messages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "Add a service layer") || last.RepoContext != "my-app" {
		t.Fatalf("suggestion report mismatch: %#v", last)
	}
}

func TestBusyRejectsSecondRequest(t *testing.T) {
	hold := make(chan struct{})
	started := make(chan struct{})
	be := &mockBackend{askFn: func(string, []string, string) (*backend.AnalysisPayload, error) {
		close(started)
		<-hold
		return &backend.AnalysisPayload{Success: true, AnalysisSummary: "late answer"}, nil
	}}
	svc := newTestService(t, be)
	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})

	done := make(chan error, 1)
	go func() { done <- svc.Ask(context.Background(), "slow question", nil) }()
	<-started

	if !svc.Busy() {
		t.Fatalf("busy flag should be up while a request is in flight")
	}
	if countThinking(svc.Messages()) != 1 {
		t.Fatalf("exactly one thinking placeholder expected mid-flight")
	}
	if err := svc.Ask(context.Background(), "second question", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := svc.SuggestFeature(context.Background(), "feature"); !errors.Is(err, ErrBusy) {
		t.Fatalf("busy gate must cover all chat-affecting operations, got %v", err)
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if svc.Busy() {
		t.Fatalf("busy flag stuck after completion")
	}
	if countThinking(svc.Messages()) != 0 {
		t.Fatalf("thinking placeholder left dangling")
	}
}

func TestClearHistory(t *testing.T) {
	svc := newTestService(t, &mockBackend{})
	svc.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})
	svc.SetActive("my-app")
	svc.appendMessage(models.Message{Role: models.RoleUser, Content: "turn"})
	oldSession := svc.SessionID()

	svc.ClearHistory()
	if len(svc.Messages()) != 1 || len(svc.Repositories()) != 0 {
		t.Fatalf("clear history must wipe log and registry")
	}
	if svc.ActiveRepository() != "" {
		t.Fatalf("active pointer must be cleared")
	}
	if svc.SessionID() == oldSession {
		t.Fatalf("session id must rotate")
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: filepath.Join(t.TempDir(), "state.db")}},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := storage.New(db, 0)

	first := NewService(store, &mockBackend{}, 0)
	first.register(models.Repository{Name: "my-app", Type: models.RepoTypeUpload})
	first.SetActive("my-app")
	first.appendMessage(models.Message{Role: models.RoleUser, Content: "persisted turn"})

	second := NewService(store, &mockBackend{}, 0)
	if second.SessionID() != first.SessionID() {
		t.Fatalf("session id not restored")
	}
	if second.ActiveRepository() != "my-app" {
		t.Fatalf("active repository not restored")
	}
	msgs := second.Messages()
	if len(msgs) != 2 || msgs[1].Content != "persisted turn" {
		t.Fatalf("messages not restored: %#v", msgs)
	}
}

func TestRepoNameDerivation(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://github.com/facebook/react", "facebook-react"},
		{"https://github.com/facebook/react.git", "facebook-react"},
		{"https://github.com/facebook/react/", "facebook-react"},
		{"github.com/me/tool", "me-tool"},
		{"just-a-name", "just-a-name"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := repoNameFromURL(tc.url); got != tc.want {
			t.Fatalf("repoNameFromURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
