package models

import "time"

// RepoType tells how a repository entered the registry.
type RepoType string

const (
	RepoTypeUpload RepoType = "upload"
	RepoTypeGitHub RepoType = "github"
)

// Repository is a previously analyzed codebase. Name is the stable handle
// used for mentions and the active-repository pointer.
type Repository struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	Type       RepoType  `json:"type"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}
