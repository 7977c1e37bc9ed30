package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/rewatch-backend/internal/clients/gcp"
	"github.com/yungbote/rewatch-backend/internal/http/response"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/services"
	"github.com/yungbote/rewatch-backend/internal/sse"
)

// maxAvatarUploadBytes caps how much of an avatar upload gets read.
const maxAvatarUploadBytes = 10 << 20

type UserHandler struct {
	users  services.UserService
	hub    *sse.SSEHub // API server broadcasts directly to connected clients
	bucket gcp.BucketService
}

func NewUserHandler(users services.UserService, hub *sse.SSEHub, bucket gcp.BucketService) *UserHandler {
	return &UserHandler{users: users, hub: hub, bucket: bucket}
}

// GET /api/me
func (h *UserHandler) GetMe(c *gin.Context) {
	me, err := h.users.GetMe(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "get_me_failed", err)
		return
	}
	normalizeUserAvatarURL(h.bucket, me)
	response.RespondOK(c, gin.H{"me": me})
}

// PATCH /api/me/name
// body: { "first_name": "...", "last_name": "..." }
func (h *UserHandler) ChangeName(c *gin.Context) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	u, err := h.users.UpdateName(c.Request.Context(), req.FirstName, req.LastName)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "change_name_failed", err)
		return
	}
	normalizeUserAvatarURL(h.bucket, u)

	h.broadcastUser(u.ID.String(), sse.SSEEventUserAvatarUpdated, gin.H{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"avatar_url": u.AvatarURL, // name change regenerates the initials avatar
	})

	response.RespondOK(c, gin.H{"me": u})
}

// POST /api/me/avatar (multipart/form-data, field "file")
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	raw, ok := readUploadedFile(c, "file", maxAvatarUploadBytes)
	if !ok {
		return
	}

	u, err := h.users.UploadAvatarImage(c.Request.Context(), raw)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "upload_avatar_failed", err)
		return
	}
	normalizeUserAvatarURL(h.bucket, u)

	h.broadcastUser(u.ID.String(), sse.SSEEventUserAvatarUpdated, gin.H{"avatar_url": u.AvatarURL})

	response.RespondOK(c, gin.H{"me": u})
}

// readUploadedFile pulls one multipart file out of the request, enforcing the
// size cap. It writes the error response itself, so callers just bail on !ok.
func readUploadedFile(c *gin.Context, field string, maxBytes int64) ([]byte, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return nil, false
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "open_file_failed", err)
		return nil, false
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "read_file_failed", err)
		return nil, false
	}
	if int64(len(raw)) > maxBytes {
		response.RespondError(c, http.StatusBadRequest, "file_too_large", nil)
		return nil, false
	}
	return raw, true
}

func (h *UserHandler) broadcastUser(channel string, event sse.SSEEvent, data any) {
	if h == nil || h.hub == nil || strings.TrimSpace(channel) == "" {
		return
	}
	h.hub.Broadcast(sse.SSEMessage{Channel: channel, Event: event, Data: data})
}
