package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/http/response"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/services"
	"github.com/yungbote/rewatch-backend/internal/sse"
)

type VideoHandler struct {
	log    *logger.Logger
	videos services.VideoService
	jobs   services.JobService
	hub    *sse.SSEHub
}

func NewVideoHandler(log *logger.Logger, videos services.VideoService, jobs services.JobService, hub *sse.SSEHub) *VideoHandler {
	return &VideoHandler{
		log:    log.With("Handler", "VideoHandler"),
		videos: videos,
		jobs:   jobs,
		hub:    hub,
	}
}

// POST /api/videos
// body: { "url": "...", "title": "...", "language": "en" }
func (h *VideoHandler) Register(c *gin.Context) {
	var req struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Language string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		response.RespondError(c, http.StatusBadRequest, "url_required", nil)
		return
	}

	video, job, err := h.videos.Register(dbctx.Context{Ctx: c.Request.Context()}, services.RegisterVideoInput{
		URL:      req.URL,
		Title:    req.Title,
		Language: req.Language,
	})
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "register_video_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"video": video, "job": job})
}

// GET /api/videos?limit=50
func (h *VideoHandler) ListVideos(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	videos, err := h.videos.ListForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, limit)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "list_videos_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"videos": videos})
}

// GET /api/videos/:id
func (h *VideoHandler) GetVideo(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	video, err := h.videos.GetForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, videoID)
	if err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "get_video_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"video": video})
}

// DELETE /api/videos/:id
func (h *VideoHandler) DeleteVideo(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	if err := h.videos.DeleteForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, videoID); err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "delete_video_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/videos/:id/reingest
func (h *VideoHandler) Reingest(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	video, job, err := h.videos.ReingestForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, videoID)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(strings.ToLower(err.Error()), "already in progress") {
			status = http.StatusConflict
		}
		response.RespondError(c, status, "reingest_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"video": video, "job": job})
}

// GET /api/videos/:id/job
// Latest ingest job for the video, for clients that poll instead of stream.
func (h *VideoHandler) GetIngestJob(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	job, err := h.jobs.GetLatestForEntityForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, "video", videoID, types.JobTypeVideoIngest)
	if err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "get_ingest_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/videos/:id/events
// Streams ingest progress for one video over SSE. The ownership check runs
// before the stream opens; after that the client rides the video's channel.
func (h *VideoHandler) Events(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	video, err := h.videos.GetForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, videoID)
	if err != nil {
		response.RespondError(c, response.StatusForError(err, http.StatusBadRequest), "get_video_failed", err)
		return
	}

	client := h.hub.NewSSEClient(rd.UserID)
	h.hub.AddChannel(client, video.ID.String())

	// A terminal video will never emit again; send the current snapshot so
	// the client does not wait on a silent stream.
	if video.Status.Terminal() {
		client.Outbound <- sse.SSEMessage{
			Channel: video.ID.String(),
			Event:   sse.SSEEventVideoStatusChanged,
			Data:    gin.H{"video": video},
		}
	}

	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.hub.CloseClient(client)
}

func parseLimit(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
