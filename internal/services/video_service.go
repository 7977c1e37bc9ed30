package services

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/clients/gcp"
	videosrepo "github.com/yungbote/rewatch-backend/internal/data/repos/videos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/zeroentropy"
	"github.com/yungbote/rewatch-backend/internal/search"
)

type RegisterVideoInput struct {
	// URL is a YouTube watch URL (youtube.com/watch?v=, youtu.be/, shorts,
	// embed) or a bare video id.
	URL      string
	Title    string
	Language string
}

type VideoService interface {
	// Register adds a video to the caller's library and enqueues ingestion.
	// Registering an already-known video is idempotent: a READY video is
	// returned as-is, a FAILED one is re-queued.
	Register(dbc dbctx.Context, in RegisterVideoInput) (*types.Video, *types.JobRun, error)
	ListForRequestUser(dbc dbctx.Context, limit int) ([]*types.Video, error)
	GetForRequestUser(dbc dbctx.Context, videoID uuid.UUID) (*types.Video, error)
	// DeleteForRequestUser soft-deletes the row and best-effort cleans the
	// video's index pages and archived transcript.
	DeleteForRequestUser(dbc dbctx.Context, videoID uuid.UUID) error
	// ReingestForRequestUser re-queues a terminal (READY or FAILED) video
	// for a fresh ingest cycle.
	ReingestForRequestUser(dbc dbctx.Context, videoID uuid.UUID) (*types.Video, *types.JobRun, error)
}

type videoService struct {
	db  *gorm.DB
	log *logger.Logger

	videos videosrepo.VideoRepo
	jobs   JobService
	ze     zeroentropy.Client
	bucket gcp.BucketService
	notify JobNotifier
}

func NewVideoService(
	db *gorm.DB,
	baseLog *logger.Logger,
	videoRepo videosrepo.VideoRepo,
	jobService JobService,
	ze zeroentropy.Client,
	bucket gcp.BucketService,
	notify JobNotifier,
) VideoService {
	return &videoService{
		db:     db,
		log:    baseLog.With("service", "VideoService"),
		videos: videoRepo,
		jobs:   jobService,
		ze:     ze,
		bucket: bucket,
		notify: notify,
	}
}

func (s *videoService) Register(dbc dbctx.Context, in RegisterVideoInput) (*types.Video, *types.JobRun, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, fmt.Errorf("not authenticated")
	}
	if s.videos == nil || s.jobs == nil {
		return nil, nil, fmt.Errorf("video service not fully wired")
	}
	youtubeID, err := ParseYouTubeID(in.URL)
	if err != nil {
		return nil, nil, err
	}

	var (
		video      *types.Video
		job        *types.JobRun
		createdNew bool
		dispatchID uuid.UUID
	)
	err = dbc.Conn(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		existing, err := s.videos.GetByOwnerAndYoutubeID(inner, rd.UserID, youtubeID)
		if err != nil {
			return err
		}
		if existing != nil {
			video = existing
			if title := strings.TrimSpace(in.Title); title != "" && existing.Title == "" {
				if err := s.videos.UpdateFields(inner, existing.ID, map[string]interface{}{"title": title}); err != nil {
					return err
				}
				existing.Title = title
			}
			if existing.Status == types.VideoStatusReady {
				return nil
			}
			if existing.Status == types.VideoStatusFailed {
				// FAILED has no successors in the transition guard, so a
				// fresh cycle re-arms through UpdateFields.
				if err := s.videos.UpdateFields(inner, existing.ID, map[string]interface{}{
					"status": types.VideoStatusQueued,
					"error":  "",
				}); err != nil {
					return err
				}
				existing.Status = types.VideoStatusQueued
				existing.Error = ""
			}
			enq, made, err := s.jobs.EnqueueVideoIngestIfNeeded(inner, rd.UserID, existing.ID, "register")
			if err != nil {
				return err
			}
			job = enq
			if made && enq != nil {
				dispatchID = enq.ID
			}
			return nil
		}

		now := time.Now().UTC()
		v := &types.Video{
			ID:          uuid.New(),
			OwnerUserID: rd.UserID,
			YoutubeID:   youtubeID,
			Title:       strings.TrimSpace(in.Title),
			Language:    strings.TrimSpace(in.Language),
			Status:      types.VideoStatusQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.videos.Create(inner, []*types.Video{v}); err != nil {
			return err
		}
		video = v
		createdNew = true

		enq, made, err := s.jobs.EnqueueVideoIngestIfNeeded(inner, rd.UserID, v.ID, "register")
		if err != nil {
			return err
		}
		job = enq
		if made && enq != nil {
			dispatchID = enq.ID
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if createdNew && s.notify != nil && video != nil {
		s.notify.VideoStatusChanged(rd.UserID, video)
	}
	if dispatchID != uuid.Nil {
		if err := s.jobs.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, dispatchID); err != nil {
			return video, job, err
		}
	}
	return video, job, nil
}

func (s *videoService) ListForRequestUser(dbc dbctx.Context, limit int) ([]*types.Video, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	return s.videos.ListByUser(dbc.WithFallback(s.db), rd.UserID, limit)
}

func (s *videoService) GetForRequestUser(dbc dbctx.Context, videoID uuid.UUID) (*types.Video, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if videoID == uuid.Nil {
		return nil, fmt.Errorf("missing video id")
	}
	rows, err := s.videos.GetByIDs(dbc.WithFallback(s.db), []uuid.UUID{videoID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil || rows[0].OwnerUserID != rd.UserID {
		return nil, fmt.Errorf("video not found")
	}
	return rows[0], nil
}

func (s *videoService) DeleteForRequestUser(dbc dbctx.Context, videoID uuid.UUID) error {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return fmt.Errorf("not authenticated")
	}
	video, err := s.GetForRequestUser(dbc, videoID)
	if err != nil {
		return err
	}

	if err := s.videos.Delete(dbc.WithFallback(s.db), rd.UserID, videoID); err != nil {
		return err
	}

	// Index and archive cleanup is best-effort; the rows are already gone
	// and a re-register would overwrite any leftovers anyway.
	s.cleanupIndexPages(dbc, rd.UserID, video.YoutubeID)
	if s.bucket != nil && video.TranscriptBucketKey != "" {
		if err := s.bucket.DeleteFile(dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx)}, gcp.BucketCategoryTranscript, video.TranscriptBucketKey); err != nil {
			s.log.Warn("transcript archive delete failed", "video_id", videoID, "key", video.TranscriptBucketKey, "error", err)
		}
	}
	return nil
}

// cleanupIndexPages removes every indexed page belonging to the video. The
// prefix list can over-match other videos whose ids share the prefix, so
// each candidate path is parsed and checked before deletion.
func (s *videoService) cleanupIndexPages(dbc dbctx.Context, userID uuid.UUID, youtubeID string) {
	if s.ze == nil || youtubeID == "" {
		return
	}
	ctx := ctxutil.Default(dbc.Ctx)
	collection := zeroentropy.CollectionForUser(userID.String())
	infos, err := s.ze.DocumentInfoList(ctx, collection, youtubeID, 0)
	if err != nil {
		if !zeroentropy.IsNotFound(err) {
			s.log.Warn("index page list failed", "collection", collection, "youtube_id", youtubeID, "error", err)
		}
		return
	}
	for _, info := range infos {
		parsed, perr := search.ParsePath(info.Path)
		if perr != nil || parsed.VideoID != youtubeID {
			continue
		}
		if err := s.ze.DeleteDocument(ctx, collection, info.Path); err != nil && !zeroentropy.IsNotFound(err) {
			s.log.Warn("index page delete failed", "collection", collection, "path", info.Path, "error", err)
		}
	}
}

func (s *videoService) ReingestForRequestUser(dbc dbctx.Context, videoID uuid.UUID) (*types.Video, *types.JobRun, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, fmt.Errorf("not authenticated")
	}
	video, err := s.GetForRequestUser(dbc, videoID)
	if err != nil {
		return nil, nil, err
	}
	if !video.Status.Terminal() {
		return nil, nil, fmt.Errorf("video ingest already in progress")
	}

	var (
		job        *types.JobRun
		dispatchID uuid.UUID
	)
	err = dbc.Conn(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		// Terminal states have no successors in the transition guard, so
		// the re-arm goes through UpdateFields.
		if err := s.videos.UpdateFields(inner, videoID, map[string]interface{}{
			"status": types.VideoStatusQueued,
			"error":  "",
		}); err != nil {
			return err
		}
		video.Status = types.VideoStatusQueued
		video.Error = ""

		enq, made, err := s.jobs.EnqueueVideoIngestIfNeeded(inner, rd.UserID, videoID, "reingest")
		if err != nil {
			return err
		}
		job = enq
		if made && enq != nil {
			dispatchID = enq.ID
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if s.notify != nil {
		s.notify.VideoStatusChanged(rd.UserID, video)
	}
	if dispatchID != uuid.Nil {
		if err := s.jobs.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, dispatchID); err != nil {
			return video, job, err
		}
	}
	return video, job, nil
}

// ParseYouTubeID extracts the video id from a watch URL or validates a bare
// id. Accepted hosts: youtube.com (watch, shorts, embed, live, v paths) and
// youtu.be.
func ParseYouTubeID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("missing video url")
	}
	if isYouTubeID(raw) {
		return raw, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unrecognized video url %q", raw)
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com":
		path := strings.Trim(u.Path, "/")
		switch {
		case path == "watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(path, "shorts/"),
			strings.HasPrefix(path, "embed/"),
			strings.HasPrefix(path, "live/"),
			strings.HasPrefix(path, "v/"):
			parts := strings.SplitN(path, "/", 2)
			if len(parts) == 2 {
				id = parts[1]
			}
		}
	default:
		return "", fmt.Errorf("unrecognized video url %q", raw)
	}

	id = strings.TrimSpace(id)
	if i := strings.IndexAny(id, "/?&"); i >= 0 {
		id = id[:i]
	}
	if !isYouTubeID(id) {
		return "", fmt.Errorf("unrecognized video url %q", raw)
	}
	return id, nil
}

func isYouTubeID(s string) bool {
	if len(s) < 5 || len(s) > 64 {
		return false
	}
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !ok {
			return false
		}
	}
	return true
}
