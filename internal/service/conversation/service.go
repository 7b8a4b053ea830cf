// Package conversation is the chat state manager: the message log, the
// repository registry, the active-repository pointer and the request
// orchestrator that drives the analysis backend.
package conversation

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"archagent/internal/backend"
	"archagent/internal/format"
	"archagent/internal/mention"
	"archagent/internal/models"
	"archagent/internal/storage"
)

var (
	// ErrBusy rejects a submit while another request is in flight. There is
	// no queue and no cancellation; the caller must retry once idle.
	ErrBusy = errors.New("a request is already in progress")
	// ErrNoRepository rejects feature suggestions before any analysis.
	ErrNoRepository = errors.New("no repository has been analyzed yet")
)

// Backend is the narrow surface of the analysis backend the orchestrator
// needs. Satisfied by backend.Client.
type Backend interface {
	AskQuestion(ctx context.Context, question string, repos []string, sessionID string) (*backend.AnalysisPayload, error)
	AnalyzeRepo(ctx context.Context, repoURL, repoName string) (*backend.AnalysisPayload, error)
	AnalyzeUpload(ctx context.Context, filename string, contents io.Reader, repoName string) (*backend.AnalysisPayload, error)
	SuggestFeature(ctx context.Context, description, repoName string) (*backend.SuggestionsPayload, error)
	SwitchConversation(ctx context.Context, repoName string) (*backend.SwitchPayload, error)
}

// Service holds the full conversation state. All mutation goes through the
// mutex; the slot channel admits at most one chat-affecting request at a
// time, which also bounds the log to a single thinking placeholder.
type Service struct {
	store   *storage.Store
	backend Backend
	pacing  time.Duration

	slot chan struct{}

	mu        sync.RWMutex
	messages  []models.Message
	repos     []models.Repository
	active    string
	sessionID string
	sessions  map[string]models.SessionMeta
}

// NewService restores persisted state (or starts a fresh session) and wires
// the backend. pacing delays locally resolved answers; zero disables it.
func NewService(store *storage.Store, be Backend, pacing time.Duration) *Service {
	s := &Service{
		store:    store,
		backend:  be,
		pacing:   pacing,
		slot:     make(chan struct{}, 1),
		sessions: make(map[string]models.SessionMeta),
	}
	s.restore()
	return s
}

func (s *Service) restore() {
	s.store.Load(storage.KeyMessages, &s.messages)
	s.store.Load(storage.KeyRepositories, &s.repos)
	s.store.Load(storage.KeySessionID, &s.sessionID)
	s.store.Load(storage.KeyActiveRepo, &s.active)
	s.store.Load(storage.KeySessionMetadata, &s.sessions)
	if s.sessions == nil {
		s.sessions = make(map[string]models.SessionMeta)
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
		s.store.Save(storage.KeySessionID, s.sessionID)
	}
	if len(s.messages) == 0 {
		s.messages = []models.Message{welcomeMessage()}
		s.persistMessagesLocked()
	}
}

func welcomeMessage() models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   format.WelcomeMessage(),
		Timestamp: time.Now().UTC(),
	}
}

// Messages returns a copy of the current log.
func (s *Service) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Repositories returns a copy of the registry in registration order.
func (s *Service) Repositories() []models.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Repository, len(s.repos))
	copy(out, s.repos)
	return out
}

// ActiveRepository returns the current default question scope, or "".
func (s *Service) ActiveRepository() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SessionID returns the current session identifier.
func (s *Service) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Sessions returns a copy of the per-session metadata map.
func (s *Service) Sessions() map[string]models.SessionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.SessionMeta, len(s.sessions))
	for id, meta := range s.sessions {
		out[id] = meta
	}
	return out
}

// Busy reports whether a request is currently in flight.
func (s *Service) Busy() bool {
	return len(s.slot) > 0
}

// MentionSuggestions returns autocompletion candidates for the in-progress
// mention token ending at caret.
func (s *Service) MentionSuggestions(input string, caret int) []string {
	return mention.Suggest(input, caret, s.repoNames())
}

// NewChat starts a fresh session: new id, log reset to the welcome message,
// registry preserved. Returns the new session id.
func (s *Service) NewChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = uuid.NewString()
	s.store.Save(storage.KeySessionID, s.sessionID)
	s.messages = []models.Message{welcomeMessage()}
	s.persistMessagesLocked()
	return s.sessionID
}

// ClearHistory wipes everything: log, registry, active pointer, session
// metadata. A fresh session id is generated.
func (s *Service) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = uuid.NewString()
	s.repos = nil
	s.active = ""
	s.sessions = make(map[string]models.SessionMeta)
	s.messages = []models.Message{welcomeMessage()}
	s.store.Save(storage.KeySessionID, s.sessionID)
	s.store.Save(storage.KeyRepositories, []models.Repository{})
	s.store.Save(storage.KeyActiveRepo, "")
	s.persistMessagesLocked()
}

func (s *Service) acquire() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) release() {
	select {
	case <-s.slot:
	default:
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
