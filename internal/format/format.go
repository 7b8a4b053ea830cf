// Package format renders backend payloads and canned notices as Markdown.
// Everything here is a pure transform; no state, no side effects.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"archagent/internal/backend"
)

// WelcomeMessage opens every fresh chat.
func WelcomeMessage() string {
	return "👋 Welcome to the AI Code Architecture Agent!\n\n" +
		"Upload your codebase as a ZIP file or provide a GitHub URL and I will map the architecture, " +
		"draw diagrams, and help you decide where new features belong."
}

// RepoWelcome opens a switched-to conversation that has no history yet.
func RepoWelcome(repoName string) string {
	return fmt.Sprintf("👋 Welcome back! You are now chatting about **%s**. Ask me anything about its architecture.", repoName)
}

// SwitchNotice is the system message appended after a conversation switch.
func SwitchNotice(repoName string) string {
	return fmt.Sprintf("Switched to %s conversation", repoName)
}

// NoScopeGuidance answers a question asked before any repository exists.
func NoScopeGuidance() string {
	return "I don't have an analyzed repository to work with yet. " +
		"Please upload a ZIP of your codebase or provide a GitHub URL first, then ask me again."
}

// BackendErrorMessage is the generic failure text for questions and
// suggestions.
func BackendErrorMessage() string {
	return "❌ Sorry, something went wrong while talking to the analysis backend. " +
		"Please check that it is running and try again."
}

// AnalyzeErrorMessage maps an analysis failure to a user-facing explanation.
func AnalyzeErrorMessage(err error) string {
	switch {
	case backend.IsValidation(err):
		return "❌ The repository could not be analyzed because of an invalid URL format or an unsupported upload.\n\n" +
			"Likely causes:\n" +
			"- The URL is malformed — it should look like https://github.com/facebook/react\n" +
			"- The repository is private (only public repositories can be fetched)\n" +
			"- The uploaded file is not a valid ZIP archive"
	case backend.IsNotFound(err):
		return "❌ Repository not found. It may be private, or the owner/name may be misspelled. " +
			"Only public repositories can be analyzed."
	case backend.IsServerError(err):
		return "❌ The analysis backend hit an internal error. Please try again later."
	default:
		return BackendErrorMessage()
	}
}

// AnalysisReport renders a completed repository analysis.
func AnalysisReport(repoName string, p *backend.AnalysisPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 📊 Analysis of %s\n\n", repoName)

	if summary := firstNonEmpty(p.AnalysisSummary, p.Message); summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if p.MermaidDiagram != "" {
		b.WriteString("\n### 🗺️ Architecture Diagram\n\n```mermaid\n")
		b.WriteString(strings.TrimRight(p.MermaidDiagram, "\n"))
		b.WriteString("\n```\n")
	}
	writeLegacySections(&b, p)
	return strings.TrimRight(b.String(), "\n")
}

// AnswerBody renders the backend's answer to a question.
func AnswerBody(p *backend.AnalysisPayload) string {
	var b strings.Builder
	if p.AnalysisSummary != "" {
		b.WriteString(p.AnalysisSummary)
		b.WriteString("\n")
	} else if text := legacyAnalysisText(p.Analysis); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}
	if p.MermaidDiagram != "" {
		b.WriteString("\n```mermaid\n")
		b.WriteString(strings.TrimRight(p.MermaidDiagram, "\n"))
		b.WriteString("\n```\n")
	}
	writeLegacySections(&b, p)
	if b.Len() == 0 {
		return "I couldn't find anything to say about that. Try rephrasing the question."
	}
	return strings.TrimRight(b.String(), "\n")
}

// SuggestionsReport renders feature-placement suggestions.
func SuggestionsReport(description string, p *backend.SuggestionsPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 💡 Feature placement: %s\n", description)

	if len(p.Suggestions) == 0 {
		b.WriteString("\nNo concrete placement suggestions came back. The architectural notes below may still help.\n")
	}
	for i, s := range p.Suggestions {
		fmt.Fprintf(&b, "\n### %d. %s\n\n", i+1, s.Title)
		if s.Description != "" {
			b.WriteString(s.Description)
			b.WriteString("\n")
		}
		if len(s.Files) > 0 {
			b.WriteString("\n**Files to touch:**\n")
			for _, f := range s.Files {
				fmt.Fprintf(&b, "- `%s`\n", f)
			}
		}
		if s.Implementation != "" {
			b.WriteString("\n**Implementation sketch:**\n\n")
			b.WriteString(s.Implementation)
			b.WriteString("\n")
		}
	}
	if p.ArchitecturalNotes != "" {
		b.WriteString("\n### 📐 Architectural notes\n\n")
		b.WriteString(p.ArchitecturalNotes)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeLegacySections(b *strings.Builder, p *backend.AnalysisPayload) {
	if len(p.Technologies) > 0 {
		b.WriteString("\n**Technologies:**\n")
		for _, t := range p.Technologies {
			fmt.Fprintf(b, "- %s\n", t)
		}
	}
	if len(p.FileStructure) > 0 {
		b.WriteString("\n**File structure:**\n\n```\n")
		for _, f := range p.FileStructure {
			b.WriteString(f)
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
}

// legacyAnalysisText renders the legacy analysis field, which older backends
// emit either as a plain string or as a JSON object.
func legacyAnalysisText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	pretty, err := json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return ""
	}
	return "```json\n" + string(pretty) + "\n```"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
