package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/willsandim/SIGTAP/internal/markdown"
	"github.com/willsandim/SIGTAP/internal/models"
	"github.com/willsandim/SIGTAP/internal/service/chat"
	"github.com/willsandim/SIGTAP/internal/worker"
)

type WorkerManager interface {
	Ask(ctx context.Context, clientID string, sessionID int64, query string) (*chat.AskResult, error)
	ClearHistory(ctx context.Context, clientID string) error
}

// Handler wires HTTP routes to the chat service through the per-client worker
// manager.
type Handler struct {
	assistant *chat.Service
	workers   WorkerManager
}

// NewHandler constructs a Handler instance.
func NewHandler(service *chat.Service, workers WorkerManager) *Handler {
	return &Handler{
		assistant: service,
		workers:   workers,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(ClientMiddleware())
	api.POST("/chat", h.chat)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:session_id/messages", h.getSessionMessages)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.GET("/history", h.getHistory)
	api.DELETE("/history", h.clearHistory)
	api.GET("/messages/:message_id/export", h.exportMessage)
}

func (h *Handler) clientID(c *gin.Context) (string, bool) {
	id, ok := ClientIDFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "client identity missing"})
		return "", false
	}
	return id, true
}

type chatRequest struct {
	SessionID int64  `json:"session_id"`
	Query     string `json:"query"`
}

func (h *Handler) chat(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id cannot be negative"})
		return
	}

	result, err := h.workers.Ask(c.Request.Context(), clientID, req.SessionID, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyQuery):
			c.JSON(http.StatusBadRequest, gin.H{"error": "query must not be empty"})
		case errors.Is(err, worker.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "a consultation is already in progress"})
		case errors.Is(err, worker.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many consultations, please retry"})
		case errors.Is(err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	assistant := messagePayload(result.Assistant)
	assistant["blocks"] = markdown.Parse(result.Assistant.Content)
	assistant["failed"] = result.Failed

	c.JSON(http.StatusOK, gin.H{
		"session": gin.H{
			"id":            result.Session.ID,
			"title":         result.Session.Title,
			"title_updated": result.Session.TitleUpdated,
			"created_at":    result.Session.CreatedAt,
			"updated_at":    result.Session.UpdatedAt,
		},
		"user_message":      messagePayload(result.UserMessage),
		"assistant_message": assistant,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	seList, err := h.assistant.ListSessions(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(seList) == 0 {
		seList = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"session_list": seList})
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	session, messages, err := h.assistant.GetSessionWithMessages(c.Request.Context(), clientID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload := make([]gin.H, 0, len(messages))
	for _, m := range messages {
		p := messagePayload(m)
		if m.Role == models.RoleAssistant {
			p["blocks"] = markdown.Parse(m.Content)
		}
		payload = append(payload, p)
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": payload,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if err := h.assistant.DeleteSession(c.Request.Context(), clientID, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getHistory(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	entries, err := h.assistant.ListHistory(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(entries) == 0 {
		entries = make([]models.HistoryEntry, 0)
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) clearHistory(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	if err := h.workers.ClearHistory(c.Request.Context(), clientID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) exportMessage(c *gin.Context) {
	clientID, ok := h.clientID(c)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	msg, err := h.assistant.GetMessage(c.Request.Context(), clientID, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Consulta SIGTAP - %s\n\n", msg.CreatedAt.Format("02/01/2006 15:04"))
	b.WriteString(msg.Content)
	if len(msg.Sources) > 0 {
		b.WriteString("\n\nFontes:\n")
		for i, src := range msg.Sources {
			title := src.Title
			if title == "" {
				title = "Fonte"
			}
			fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, title, src.URI)
		}
	}

	filename := fmt.Sprintf("consulta-sigtap-%s.txt", uuid.NewString()[:8])
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(b.String()))
}

func messagePayload(m *models.Message) gin.H {
	payload := gin.H{
		"id":         m.ID,
		"session_id": m.SessionID,
		"role":       m.Role,
		"content":    m.Content,
		"created_at": m.CreatedAt,
	}
	if len(m.Sources) > 0 {
		payload["sources"] = m.Sources
	}
	return payload
}
