package services

import (
	"strings"

	"github.com/google/uuid"

	videosrepo "github.com/yungbote/rewatch-backend/internal/data/repos/videos"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/search"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

type SearchInput struct {
	Query string
	// Level selects the granularity: "detailed" for precise facts,
	// "thematic" for broad topics.
	Level    string
	VideoIDs []uuid.UUID
	Limit    int
}

// SearchService scopes transcript retrieval to the request user. Video row
// ids are resolved to their YouTube ids through the caller's own library, so
// a caller can never search someone else's videos by guessing row ids.
type SearchService interface {
	SearchForRequestUser(dbc dbctx.Context, in SearchInput) search.Response
}

type searchService struct {
	log    *logger.Logger
	router search.Router
	videos videosrepo.VideoRepo
}

func NewSearchService(baseLog *logger.Logger, router search.Router, videoRepo videosrepo.VideoRepo) SearchService {
	return &searchService{
		log:    baseLog.With("service", "SearchService"),
		router: router,
		videos: videoRepo,
	}
}

var searchLevels = map[string]transcript.ChunkLevel{
	"detailed": transcript.LevelDetailed,
	"thematic": transcript.LevelThematic,
}

func (s *searchService) SearchForRequestUser(dbc dbctx.Context, in SearchInput) search.Response {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return search.Response{Results: []search.Result{}, Error: "not authenticated"}
	}

	levelKey := strings.ToLower(strings.TrimSpace(in.Level))
	if levelKey == "" {
		levelKey = "detailed"
	}
	level, ok := searchLevels[levelKey]
	if !ok {
		return search.Response{Results: []search.Result{}, Error: "level must be \"detailed\" or \"thematic\""}
	}

	youtubeIDs, err := s.resolveYouTubeIDs(dbc, rd.UserID, in.VideoIDs)
	if err != nil {
		s.log.Warn("video scope resolution failed", "user_id", rd.UserID, "error", err)
		return search.Response{Results: []search.Result{}, Error: "could not resolve video scope"}
	}
	if len(in.VideoIDs) > 0 && len(youtubeIDs) == 0 {
		// Every requested video was unknown or owned by someone else.
		return search.Response{Results: []search.Result{}, TotalFound: 0}
	}

	return s.router.Search(dbc.Ctx, search.Request{
		Query:    in.Query,
		UserID:   rd.UserID.String(),
		VideoIDs: youtubeIDs,
		Limit:    in.Limit,
		Level:    level,
	})
}

func (s *searchService) resolveYouTubeIDs(dbc dbctx.Context, ownerID uuid.UUID, rowIDs []uuid.UUID) ([]string, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	rows, err := s.videos.GetByIDs(dbc, rowIDs)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, v := range rows {
		if v == nil || v.OwnerUserID != ownerID {
			continue
		}
		if yid := strings.TrimSpace(v.YoutubeID); yid != "" {
			out = append(out, yid)
		}
	}
	return out, nil
}
