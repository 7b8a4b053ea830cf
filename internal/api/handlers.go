package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"archagent/internal/service/conversation"
	"archagent/internal/storage"
)

// HealthChecker probes the analysis backend. Satisfied by backend.Client.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler wires HTTP routes to the conversation service.
type Handler struct {
	chat    *conversation.Service
	store   *storage.Store
	backend HealthChecker
}

// NewHandler constructs a Handler instance.
func NewHandler(chat *conversation.Service, store *storage.Store, backend HealthChecker) *Handler {
	return &Handler{chat: chat, store: store, backend: backend}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	chat := router.Group("/api/chat")
	chat.POST("/question", h.askQuestion)
	chat.POST("/analyze", h.analyze)
	chat.POST("/suggest", h.suggestFeature)
	chat.POST("/switch/:name", h.switchConversation)
	chat.POST("/new", h.newChat)
	chat.DELETE("/history", h.clearHistory)
	chat.GET("/messages", h.getMessages)
	chat.GET("/repositories", h.getRepositories)
	chat.GET("/sessions", h.getSessions)
	chat.GET("/state", h.getState)
	chat.GET("/suggestions", h.mentionSuggestions)
	chat.POST("/active/:name", h.setActive)
	chat.DELETE("/active", h.clearActive)
	chat.GET("/export", h.exportState)
	chat.POST("/import", h.importState)
}

type questionRequest struct {
	Question string   `json:"question"`
	Repos    []string `json:"repos"`
}

func (h *Handler) askQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.chat.Ask(c.Request.Context(), req.Question, req.Repos); err != nil {
		h.renderChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.chat.Messages()})
}

// analyze accepts either a repo_url form field or an uploaded ZIP file.
func (h *Handler) analyze(c *gin.Context) {
	if repoURL := c.PostForm("repo_url"); repoURL != "" {
		if err := h.chat.AnalyzeRepository(c.Request.Context(), repoURL); err != nil {
			h.renderChatError(c, err)
			return
		}
		c.JSON(http.StatusOK, h.analysisOutcome())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either repo_url or file must be provided"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("open upload: %v", err)})
		return
	}
	defer file.Close()

	if err := h.chat.AnalyzeFile(c.Request.Context(), fileHeader.Filename, file); err != nil {
		h.renderChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.analysisOutcome())
}

func (h *Handler) analysisOutcome() gin.H {
	return gin.H{
		"messages":          h.chat.Messages(),
		"repositories":      h.chat.Repositories(),
		"active_repository": h.chat.ActiveRepository(),
	}
}

type suggestRequest struct {
	Description string `json:"description"`
}

func (h *Handler) suggestFeature(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.chat.SuggestFeature(c.Request.Context(), req.Description); err != nil {
		h.renderChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.chat.Messages()})
}

func (h *Handler) switchConversation(c *gin.Context) {
	name := c.Param("name")
	if err := h.chat.SwitchToRepository(c.Request.Context(), name); err != nil {
		h.renderChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":          h.chat.Messages(),
		"active_repository": h.chat.ActiveRepository(),
	})
}

func (h *Handler) newChat(c *gin.Context) {
	sessionID := h.chat.NewChat()
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   h.chat.Messages(),
	})
}

func (h *Handler) clearHistory(c *gin.Context) {
	h.chat.ClearHistory()
	c.JSON(http.StatusOK, gin.H{
		"session_id": h.chat.SessionID(),
		"messages":   h.chat.Messages(),
	})
}

func (h *Handler) getMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.chat.Messages()})
}

func (h *Handler) getRepositories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"repositories":      h.chat.Repositories(),
		"active_repository": h.chat.ActiveRepository(),
	})
}

func (h *Handler) getSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.chat.Sessions()})
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"busy":              h.chat.Busy(),
		"saving":            h.store.Saving(),
		"last_saved":        h.store.LastSaved(),
		"session_id":        h.chat.SessionID(),
		"active_repository": h.chat.ActiveRepository(),
	})
}

func (h *Handler) mentionSuggestions(c *gin.Context) {
	input := c.Query("q")
	caret := len([]rune(input))
	if raw := c.Query("caret"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			caret = parsed
		}
	}
	suggestions := h.chat.MentionSuggestions(input, caret)
	if suggestions == nil {
		suggestions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (h *Handler) setActive(c *gin.Context) {
	if err := h.chat.SetActive(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_repository": h.chat.ActiveRepository()})
}

func (h *Handler) clearActive(c *gin.Context) {
	h.chat.ClearActive()
	c.Status(http.StatusNoContent)
}

func (h *Handler) exportState(c *gin.Context) {
	snap := h.chat.Export()
	filename := fmt.Sprintf("archagent-export-%s.json", snap.ExportedAt.Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) importState(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read import body failed"})
		return
	}
	if err := h.chat.Import(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":     h.chat.Messages(),
		"repositories": h.chat.Repositories(),
		"session_id":   h.chat.SessionID(),
	})
}

func (h *Handler) health(c *gin.Context) {
	status := gin.H{"status": "ok", "backend": "ok"}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.backend.Health(ctx); err != nil {
		status["backend"] = "unreachable"
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) renderChatError(c *gin.Context, err error) {
	if errors.Is(err, conversation.ErrBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
