package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/rewatch-backend/internal/http/response"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/services"
)

type SearchHandler struct {
	search services.SearchService
}

func NewSearchHandler(search services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// POST /api/search
// body: { "query": "...", "level": "detailed"|"thematic", "video_ids": [...], "limit": 10 }
// The response mirrors the model-facing tool envelope: failures arrive as
// { error, results: [], totalFound: 0 } with a 200, not as an HTTP error.
func (h *SearchHandler) Search(c *gin.Context) {
	var req struct {
		Query    string   `json:"query"`
		Level    string   `json:"level"`
		VideoIDs []string `json:"video_ids"`
		Limit    int      `json:"limit"`
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

	resp := h.search.SearchForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, services.SearchInput{
		Query:    req.Query,
		Level:    req.Level,
		VideoIDs: videoIDs,
		Limit:    req.Limit,
	})
	response.RespondOK(c, resp)
}
