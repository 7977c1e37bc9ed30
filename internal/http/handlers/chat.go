package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/rewatch-backend/internal/http/response"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/services"
)

type ChatHandler struct {
	chat services.ChatService
}

func NewChatHandler(chat services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// POST /api/chat/threads
// body: { "title": "...", "video_ids": ["..."] }
func (h *ChatHandler) CreateThread(c *gin.Context) {
	var req struct {
		Title    string   `json:"title"`
		VideoIDs []string `json:"video_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	videoIDs, err := parseUUIDs(req.VideoIDs)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_ids", err)
		return
	}

	thread, err := h.chat.CreateThread(dbctx.Context{Ctx: c.Request.Context()}, req.Title, videoIDs)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_thread_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"thread": thread})
}

// GET /api/chat/threads?limit=50
func (h *ChatHandler) ListThreads(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	threads, err := h.chat.ListThreads(dbctx.Context{Ctx: c.Request.Context()}, limit)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "list_threads_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"threads": threads})
}

// GET /api/chat/threads/:id?limit=200
func (h *ChatHandler) GetThread(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return
	}
	limit := parseLimit(c.Query("limit"), 200)

	thread, messages, err := h.chat.GetThread(dbctx.Context{Ctx: c.Request.Context()}, threadID, limit)
	if err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "get_thread_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"thread": thread, "messages": messages})
}

// POST /api/chat/threads/:id/messages
// body: { "content": "..." }; Idempotency-Key header dedupes client retries.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		response.RespondError(c, http.StatusBadRequest, "content_required", nil)
		return
	}
	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	userMsg, assistantMsg, job, err := h.chat.SendMessage(dbctx.Context{Ctx: c.Request.Context()}, threadID, req.Content, idempotencyKey)
	if err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "send_message_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
		"job":               job,
	})
}

// POST /api/chat/threads/:id/archive
func (h *ChatHandler) ArchiveThread(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return
	}
	thread, err := h.chat.ArchiveThread(dbctx.Context{Ctx: c.Request.Context()}, threadID)
	if err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "archive_thread_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"thread": thread})
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
