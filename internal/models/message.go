package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat turn in the conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// IsThinking marks a transient placeholder awaiting a backend response.
	// At most one such message exists in the log at a time.
	IsThinking bool `json:"isThinking,omitempty"`
	IsError    bool `json:"isError,omitempty"`
	// RepoContext / RepoContexts record which repositories the turn was
	// scoped to. A single scope uses RepoContext, multiple use RepoContexts.
	RepoContext  string   `json:"repoContext,omitempty"`
	RepoContexts []string `json:"repoContexts,omitempty"`
}
