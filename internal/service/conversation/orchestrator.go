package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"archagent/internal/backend"
	"archagent/internal/format"
	"archagent/internal/mention"
	"archagent/internal/models"
)

// Ask submits a free-form question. The raw input (mentions included) goes
// into the log for display; the cleaned text goes to the backend. Scope
// priority: override > mentions > active pointer > most recent repository.
// With no scope resolvable the question is answered locally with guidance.
func (s *Service) Ask(ctx context.Context, input string, override []string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return errors.New("question cannot be empty")
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	cleaned, mentioned := mention.Resolve(input, s.repoNames())
	scope := s.resolveScope(override, mentioned)

	userMsg := models.Message{Role: models.RoleUser, Content: input}
	applyScope(&userMsg, scope)
	s.appendMessage(userMsg)
	s.appendMessage(thinkingMessage("Thinking..."))

	if len(scope) == 0 {
		// Nothing analyzed yet; answer locally. The pause is pacing only.
		time.Sleep(s.pacing)
		s.replaceThinking(models.Message{
			Role:    models.RoleAssistant,
			Content: format.NoScopeGuidance(),
		})
		return nil
	}

	question := strings.TrimSpace(cleaned)
	if question == "" {
		question = input
	}

	payload, err := s.backend.AskQuestion(ctx, question, scope, s.SessionID())
	if err != nil {
		final := models.Message{Role: models.RoleAssistant, Content: format.BackendErrorMessage(), IsError: true}
		applyScope(&final, scope)
		s.replaceThinking(final)
		return nil
	}

	final := models.Message{Role: models.RoleAssistant, Content: format.AnswerBody(payload)}
	applyScope(&final, scope)
	s.replaceThinking(final)
	return nil
}

// AnalyzeRepository sends a GitHub URL through the backend and registers the
// result as the active repository.
func (s *Service) AnalyzeRepository(ctx context.Context, repoURL string) error {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return errors.New("repository url cannot be empty")
	}
	name := repoNameFromURL(repoURL)
	if name == "" {
		return fmt.Errorf("cannot derive a repository name from %s", repoURL)
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	s.appendMessage(models.Message{Role: models.RoleUser, Content: fmt.Sprintf("Analyze repository: %s", repoURL)})
	s.appendMessage(thinkingMessage("Analyzing repository..."))

	payload, err := s.backend.AnalyzeRepo(ctx, repoURL, name)
	if err != nil {
		s.replaceThinking(models.Message{Role: models.RoleAssistant, Content: format.AnalyzeErrorMessage(err), IsError: true})
		return nil
	}

	s.register(models.Repository{Name: name, URL: repoURL, Type: models.RepoTypeGitHub})
	s.SetActive(name)
	s.replaceThinking(models.Message{Role: models.RoleAssistant, Content: format.AnalysisReport(name, payload), RepoContext: name})
	return nil
}

// AnalyzeFile sends an uploaded ZIP through the backend. The repository name
// is the filename with its extension stripped.
func (s *Service) AnalyzeFile(ctx context.Context, filename string, contents io.Reader) error {
	filename = strings.TrimSpace(filename)
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if name == "" {
		return errors.New("upload filename cannot be empty")
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	s.appendMessage(models.Message{Role: models.RoleUser, Content: fmt.Sprintf("Analyze uploaded codebase: %s", filename)})
	s.appendMessage(thinkingMessage("Analyzing uploaded codebase..."))

	payload, err := s.backend.AnalyzeUpload(ctx, filename, contents, name)
	if err != nil {
		s.replaceThinking(models.Message{Role: models.RoleAssistant, Content: format.AnalyzeErrorMessage(err), IsError: true})
		return nil
	}

	s.register(models.Repository{Name: name, Type: models.RepoTypeUpload})
	s.SetActive(name)
	s.replaceThinking(models.Message{Role: models.RoleAssistant, Content: format.AnalysisReport(name, payload), RepoContext: name})
	return nil
}

// SuggestFeature asks where a described feature belongs, scoped to the
// active (or most recent) repository. Fails when nothing is registered.
func (s *Service) SuggestFeature(ctx context.Context, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return errors.New("feature description cannot be empty")
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	repoName := s.suggestionScope()
	if repoName == "" {
		return ErrNoRepository
	}

	s.appendMessage(models.Message{Role: models.RoleUser, Content: fmt.Sprintf("Suggest a placement for: %s", description), RepoContext: repoName})
	s.appendMessage(thinkingMessage("Evaluating the architecture..."))

	payload, err := s.backend.SuggestFeature(ctx, description, repoName)
	if err != nil {
		s.replaceThinking(models.Message{Role: models.RoleAssistant, Content: format.BackendErrorMessage(), IsError: true, RepoContext: repoName})
		return nil
	}

	s.replaceThinking(models.Message{Role: models.RoleAssistant, Content: format.SuggestionsReport(description, payload), RepoContext: repoName})
	return nil
}

func (s *Service) suggestionScope() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active != "" {
		return s.active
	}
	if n := len(s.repos); n > 0 {
		return s.repos[n-1].Name
	}
	return ""
}

// SwitchToRepository loads that repository's persisted conversation from the
// backend, replacing the whole log. On failure an error message is appended
// and the state is otherwise unchanged.
func (s *Service) SwitchToRepository(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("repository name cannot be empty")
	}
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	target := name
	if repo, ok := s.Find(name); ok {
		target = repo.Name
	}

	payload, err := s.backend.SwitchConversation(ctx, target)
	if err != nil {
		s.appendMessage(models.Message{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("❌ Could not switch to %s: the conversation could not be loaded.", target),
			IsError: true,
		})
		return nil
	}

	repoName := payload.RepoName
	if repoName == "" {
		repoName = target
	}

	msgs := convertConversation(payload.Messages)
	if len(msgs) == 0 {
		msgs = []models.Message{{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   format.RepoWelcome(repoName),
			Timestamp: time.Now().UTC(),
		}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = msgs
	s.setActiveLocked(repoName)
	s.appendLocked(models.Message{Role: models.RoleSystem, Content: format.SwitchNotice(repoName)})
	s.persistMessagesLocked()
	return nil
}

func convertConversation(in []backend.ConversationMessage) []models.Message {
	var out []models.Message
	for _, m := range in {
		role := models.RoleAssistant
		switch m.Role {
		case "user":
			role = models.RoleUser
		case "system":
			role = models.RoleSystem
		}
		ts := time.Now().UTC()
		if parsed, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
			ts = parsed
		}
		out = append(out, models.Message{
			ID:        uuid.NewString(),
			Role:      role,
			Content:   m.Content,
			Timestamp: ts,
		})
	}
	return out
}

// repoNameFromURL derives the display name from a GitHub URL's owner/repo
// path segments: https://github.com/facebook/react -> facebook-react.
func repoNameFromURL(repoURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	path := trimmed
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		path = u.Path
	}

	var segs []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	switch {
	case len(segs) >= 2:
		return segs[len(segs)-2] + "-" + segs[len(segs)-1]
	case len(segs) == 1:
		return segs[0]
	default:
		return ""
	}
}
