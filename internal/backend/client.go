// Package backend is the HTTP client for the analysis backend. The backend
// owns repository fetching, AI calls and diagram generation; this side only
// speaks its request/response surface.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// AnalysisPayload is the JSON shape shared by ask-question and analyze-repo
// responses. Legacy fields are still emitted by older backend builds.
type AnalysisPayload struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	Error           string   `json:"error"`
	AnalysisSummary string   `json:"analysis_summary"`
	MermaidDiagram  string   `json:"mermaid_diagram"`
	RepoContext     string   `json:"repo_context"`
	RepoContexts    []string `json:"repo_contexts"`

	RepositoryInfo map[string]any  `json:"repository_info"`
	Analysis       json.RawMessage `json:"analysis"`
	FileStructure  []string        `json:"file_structure"`
	Technologies   []string        `json:"technologies"`
}

// Suggestion is one feature-placement proposal.
type Suggestion struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Files          []string `json:"files"`
	Implementation string   `json:"implementation"`
}

// SuggestionsPayload is the suggest-feature response.
type SuggestionsPayload struct {
	Success            bool         `json:"success"`
	Error              string       `json:"error"`
	FeatureDescription string       `json:"feature_description"`
	Suggestions        []Suggestion `json:"suggestions"`
	ArchitecturalNotes string       `json:"architectural_notes"`
}

// ConversationMessage is one entry of a persisted backend conversation.
type ConversationMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// SwitchPayload is the conversation-switch response.
type SwitchPayload struct {
	Success  bool                  `json:"success"`
	RepoName string                `json:"repo_name"`
	Messages []ConversationMessage `json:"messages"`
	Message  string                `json:"message"`
	Error    string                `json:"error"`
}

// Client talks to the analysis backend. No timeout is configured: an
// in-flight request runs until the backend settles it.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// AskQuestion posts a question scoped to the given repositories. A single
// repository goes out as repo_context, several as a repo_contexts JSON array.
func (c *Client) AskQuestion(ctx context.Context, question string, repos []string, sessionID string) (*AnalysisPayload, error) {
	form := url.Values{}
	form.Set("question", question)
	switch len(repos) {
	case 0:
	case 1:
		form.Set("repo_context", repos[0])
	default:
		encoded, err := json.Marshal(repos)
		if err != nil {
			return nil, fmt.Errorf("encode repo contexts: %w", err)
		}
		form.Set("repo_contexts", string(encoded))
	}
	if sessionID != "" {
		form.Set("session_id", sessionID)
	}

	var payload AnalysisPayload
	if err := c.postForm(ctx, "/ask-question", form, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("backend error: %s", payload.Error)
	}
	return &payload, nil
}

// AnalyzeRepo asks the backend to fetch and analyze a GitHub repository.
func (c *Client) AnalyzeRepo(ctx context.Context, repoURL, repoName string) (*AnalysisPayload, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("repo_url", repoURL); err != nil {
		return nil, fmt.Errorf("write repo_url field: %w", err)
	}
	if err := writer.WriteField("repo_name", repoName); err != nil {
		return nil, fmt.Errorf("write repo_name field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	return c.analyze(ctx, &body, writer.FormDataContentType())
}

// AnalyzeUpload sends an uploaded ZIP archive for analysis.
func (c *Client) AnalyzeUpload(ctx context.Context, filename string, contents io.Reader, repoName string) (*AnalysisPayload, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, contents); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := writer.WriteField("repo_name", repoName); err != nil {
		return nil, fmt.Errorf("write repo_name field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	return c.analyze(ctx, &body, writer.FormDataContentType())
}

func (c *Client) analyze(ctx context.Context, body io.Reader, contentType string) (*AnalysisPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze-repo", body)
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var payload AnalysisPayload
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("backend error: %s", payload.Error)
	}
	return &payload, nil
}

// SuggestFeature asks for placement suggestions within a known repository.
func (c *Client) SuggestFeature(ctx context.Context, description, repoName string) (*SuggestionsPayload, error) {
	form := url.Values{}
	form.Set("feature_description", description)
	form.Set("repo_name", repoName)

	var payload SuggestionsPayload
	if err := c.postForm(ctx, "/suggest-feature", form, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("backend error: %s", payload.Error)
	}
	return &payload, nil
}

// SwitchConversation loads the persisted conversation for a repository.
func (c *Client) SwitchConversation(ctx context.Context, repoName string) (*SwitchPayload, error) {
	target := fmt.Sprintf("%s/api/conversations/%s/switch", c.baseURL, url.PathEscape(repoName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build switch request: %w", err)
	}

	var payload SwitchPayload
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("backend error: %s", payload.Error)
	}
	return &payload, nil
}

// Health probes the backend liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
