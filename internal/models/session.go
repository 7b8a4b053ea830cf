package models

import "time"

// SessionMeta summarizes one chat session for the history sidebar. The full
// metadata map is persisted keyed by session id.
type SessionMeta struct {
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet"`
	MessageCount int       `json:"messageCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Snapshot is the export/import format for the full chat state.
type Snapshot struct {
	Messages     []Message    `json:"messages"`
	Repositories []Repository `json:"repositories"`
	SessionID    string       `json:"sessionId"`
	ExportedAt   time.Time    `json:"exportedAt"`
	Version      string       `json:"version"`
}

// SnapshotVersion is written into every export.
const SnapshotVersion = "1.0"
