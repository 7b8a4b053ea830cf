package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"archagent/internal/models"
	"archagent/internal/storage"
)

// Export produces a full-state snapshot suitable for writing to a file.
func (s *Service) Export() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := models.Snapshot{
		Messages:     make([]models.Message, len(s.messages)),
		Repositories: make([]models.Repository, len(s.repos)),
		SessionID:    s.sessionID,
		ExportedAt:   time.Now().UTC(),
		Version:      models.SnapshotVersion,
	}
	copy(snap.Messages, s.messages)
	copy(snap.Repositories, s.repos)
	return snap
}

// Import replaces the current state with a previously exported snapshot.
// The file must carry both the messages and repositories keys; anything else
// is rejected with the state left unmodified.
func (s *Service) Import(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}
	if _, ok := probe["messages"]; !ok {
		return errors.New("import file is missing the messages key")
	}
	if _, ok := probe["repositories"]; !ok {
		return errors.New("import file is missing the repositories key")
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode import file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = snap.Messages
	s.repos = snap.Repositories
	if len(s.messages) == 0 {
		s.messages = []models.Message{welcomeMessage()}
	}
	if snap.SessionID != "" {
		s.sessionID = snap.SessionID
		s.store.Save(storage.KeySessionID, s.sessionID)
	}
	if s.active != "" && !s.activeStillRegisteredLocked() {
		s.setActiveLocked("")
	}
	s.store.Save(storage.KeyRepositories, s.repos)
	s.persistMessagesLocked()
	return nil
}

func (s *Service) activeStillRegisteredLocked() bool {
	for _, r := range s.repos {
		if strings.EqualFold(r.Name, s.active) {
			return true
		}
	}
	return false
}
