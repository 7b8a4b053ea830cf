package conversation

import (
	"time"

	"github.com/google/uuid"

	"archagent/internal/models"
	"archagent/internal/storage"
)

// appendMessage assigns id/timestamp when absent, appends to the log and
// persists. Returns the stored message.
func (s *Service) appendMessage(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg = s.appendLocked(msg)
	s.persistMessagesLocked()
	return msg
}

func (s *Service) appendLocked(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg
}

// replaceThinking atomically resolves the thinking placeholder: the first
// thinking message is replaced in place by final, stray extras are dropped,
// every other message keeps its position. With no placeholder present the
// final message is appended instead.
func (s *Service) replaceThinking(final models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if final.ID == "" {
		final.ID = uuid.NewString()
	}
	if final.Timestamp.IsZero() {
		final.Timestamp = time.Now().UTC()
	}

	out := make([]models.Message, 0, len(s.messages))
	replaced := false
	for _, m := range s.messages {
		if m.IsThinking {
			if !replaced {
				out = append(out, final)
				replaced = true
			}
			continue
		}
		out = append(out, m)
	}
	if !replaced {
		out = append(out, final)
	}
	s.messages = out
	s.persistMessagesLocked()
	return final
}

// persistMessagesLocked saves the log and refreshes this session's metadata
// entry (title from the first user turn, snippet from the latest turn).
func (s *Service) persistMessagesLocked() {
	s.store.Save(storage.KeyMessages, s.messages)

	meta := models.SessionMeta{
		Title:        "New chat",
		MessageCount: len(s.messages),
		LastUpdated:  time.Now().UTC(),
	}
	for _, m := range s.messages {
		if m.Role == models.RoleUser {
			meta.Title = truncate(m.Content, 48)
			break
		}
	}
	if n := len(s.messages); n > 0 {
		meta.Snippet = truncate(s.messages[n-1].Content, 80)
	}
	s.sessions[s.sessionID] = meta
	s.store.Save(storage.KeySessionMetadata, s.sessions)
}

func thinkingMessage(text string) models.Message {
	return models.Message{
		Role:       models.RoleAssistant,
		Content:    text,
		IsThinking: true,
	}
}

// applyScope records the resolved repository scope on a message.
func applyScope(msg *models.Message, scope []string) {
	switch len(scope) {
	case 0:
	case 1:
		msg.RepoContext = scope[0]
	default:
		msg.RepoContexts = append([]string(nil), scope...)
	}
}
