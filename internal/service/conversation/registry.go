package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"archagent/internal/models"
	"archagent/internal/storage"
)

// register inserts a repository unless an entry for the same source already
// exists: GitHub entries are unique by URL, uploads by name. Reports whether
// a new entry was created.
func (s *Service) register(repo models.Repository) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.repos {
		if repo.Type == models.RepoTypeGitHub && existing.URL != "" && strings.EqualFold(existing.URL, repo.URL) {
			return false
		}
		if repo.Type == models.RepoTypeUpload && strings.EqualFold(existing.Name, repo.Name) {
			return false
		}
	}
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	if repo.AnalyzedAt.IsZero() {
		repo.AnalyzedAt = time.Now().UTC()
	}
	s.repos = append(s.repos, repo)
	s.store.Save(storage.KeyRepositories, s.repos)
	return true
}

// SetActive points the default question scope at a registered repository.
func (s *Service) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if strings.EqualFold(r.Name, name) {
			s.setActiveLocked(r.Name)
			return nil
		}
	}
	return fmt.Errorf("repository %s is not registered", name)
}

// ClearActive drops the active-repository pointer.
func (s *Service) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setActiveLocked("")
}

func (s *Service) setActiveLocked(name string) {
	s.active = name
	s.store.Save(storage.KeyActiveRepo, s.active)
}

// Find returns the first registry entry whose name contains query
// (case-insensitive), in registration order.
func (s *Service) Find(query string) (models.Repository, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(query)
	for _, r := range s.repos {
		if strings.Contains(strings.ToLower(r.Name), needle) {
			return r, true
		}
	}
	return models.Repository{}, false
}

func (s *Service) repoNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.repos))
	for i, r := range s.repos {
		names[i] = r.Name
	}
	return names
}

// resolveScope picks the repositories a question applies to, in priority
// order: explicit override, mention matches, the active pointer, then the
// most recently registered repository.
func (s *Service) resolveScope(override, mentioned []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(override) > 0 {
		var out []string
		for _, name := range override {
			for _, r := range s.repos {
				if strings.EqualFold(r.Name, name) {
					out = append(out, r.Name)
					break
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if len(mentioned) > 0 {
		return mentioned
	}
	if s.active != "" {
		return []string{s.active}
	}
	if n := len(s.repos); n > 0 {
		return []string{s.repos[n-1].Name}
	}
	return nil
}
