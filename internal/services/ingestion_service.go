package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/clients/gcp"
	redisclient "github.com/yungbote/rewatch-backend/internal/clients/redis"
	videosrepo "github.com/yungbote/rewatch-backend/internal/data/repos/videos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/captions"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/zeroentropy"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

const transcriptCacheTTL = 24 * time.Hour

// indexPageConcurrency bounds parallel page submissions so one large video
// cannot saturate the index API.
const indexPageConcurrency = 4

// TranscriptArchiveKey is the bucket key a video's raw caption fetch is
// archived under.
func TranscriptArchiveKey(youtubeID string) string {
	return "transcripts/" + youtubeID + ".json"
}

// ProcessedTranscript is the output of the segment-processing step: the
// normalized segment list plus both chunk levels built from it.
type ProcessedTranscript struct {
	Segments []types.CaptionSegment
	Detailed []transcript.Chunk
	Thematic []transcript.Chunk
}

// IngestionService holds the per-step business logic of the video ingest
// pipeline. Every method is safe to re-run: status writes are guarded by the
// transition table, the transcript fetch reads through cache and archive
// tiers before touching the provider, and page submission tolerates
// already-indexed conflicts.
type IngestionService interface {
	// SetStatus applies a transition-table-guarded status write, mirrors it
	// onto the in-memory row, and emits a status-changed event.
	SetStatus(ctx context.Context, video *types.Video, to types.VideoStatus) error
	MarkFailed(ctx context.Context, video *types.Video, message string) error

	// BeginProcessing moves a video into PROCESSING at the start of a run.
	// A QUEUED video follows the transition table; a FAILED one is re-armed
	// the same way re-ingestion re-arms it, so a retried job run can make
	// another pass instead of bouncing off the terminal state.
	BeginProcessing(ctx context.Context, video *types.Video) error

	// ExtractTranscript resolves the raw caption segments for a video via the
	// lookup chain Redis cache -> bucket archive -> provider. A provider fetch
	// archives and caches the result before returning, so a retried run after
	// a crash never refetches.
	ExtractTranscript(ctx context.Context, video *types.Video) ([]types.CaptionSegment, error)

	// ProcessSegments validates transcript quality and, when acceptable,
	// normalizes the segments and builds both chunk levels.
	ProcessSegments(ctx context.Context, video *types.Video, segments []types.CaptionSegment) (*ProcessedTranscript, error)

	EnsureUserCollection(ctx context.Context, ownerUserID uuid.UUID) (string, error)

	// IndexTranscriptPages submits both chunk levels as indexable pages.
	// Returns how many pages were submitted or already present; an error
	// reports the first page that could not be submitted.
	IndexTranscriptPages(ctx context.Context, collection string, video *types.Video, pr *ProcessedTranscript) (int, error)

	// FinalizeReady persists the resolved collection id and flips the video
	// to READY.
	FinalizeReady(ctx context.Context, video *types.Video, collection string) error
}

type ingestionService struct {
	db     *gorm.DB
	log    *logger.Logger
	videos videosrepo.VideoRepo

	captions captions.Client
	cache    redisclient.TranscriptCache
	bucket   gcp.BucketService
	ze       zeroentropy.Client
	notify   JobNotifier

	thresholds transcript.QualityThresholds
}

func NewIngestionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	videos videosrepo.VideoRepo,
	captionsClient captions.Client,
	cache redisclient.TranscriptCache,
	bucket gcp.BucketService,
	ze zeroentropy.Client,
	notify JobNotifier,
) IngestionService {
	return &ingestionService{
		db:         db,
		log:        baseLog.With("service", "IngestionService"),
		videos:     videos,
		captions:   captionsClient,
		cache:      cache,
		bucket:     bucket,
		ze:         ze,
		notify:     notify,
		thresholds: transcript.DefaultQualityThresholds(),
	}
}

func (s *ingestionService) SetStatus(ctx context.Context, video *types.Video, to types.VideoStatus) error {
	if video == nil || video.ID == uuid.Nil {
		return fmt.Errorf("video required")
	}
	changed := video.Status != to
	if err := s.videos.UpdateStatus(dbctx.Context{Ctx: ctx}, video.ID, to, ""); err != nil {
		// A status write that cannot land is terminal for the run; the row
		// must never claim a state it did not reach.
		return fmt.Errorf("persist status %s: %w", to, err)
	}
	video.Status = to
	if to != types.VideoStatusFailed {
		video.Error = ""
	}
	s.emitStatus(video, changed)
	return nil
}

func (s *ingestionService) MarkFailed(ctx context.Context, video *types.Video, message string) error {
	if video == nil || video.ID == uuid.Nil {
		return fmt.Errorf("video required")
	}
	if strings.TrimSpace(message) == "" {
		message = "Ingestion failed"
	}
	changed := video.Status != types.VideoStatusFailed || video.Error != message
	if err := s.videos.UpdateStatus(dbctx.Context{Ctx: ctx}, video.ID, types.VideoStatusFailed, message); err != nil {
		return err
	}
	video.Status = types.VideoStatusFailed
	video.Error = message
	s.emitStatus(video, changed)
	return nil
}

func (s *ingestionService) BeginProcessing(ctx context.Context, video *types.Video) error {
	if video == nil || video.ID == uuid.Nil {
		return fmt.Errorf("video required")
	}
	if video.Status == types.VideoStatusFailed {
		if err := s.videos.UpdateFields(dbctx.Context{Ctx: ctx}, video.ID, map[string]interface{}{
			"status": types.VideoStatusProcessing,
			"error":  "",
		}); err != nil {
			return fmt.Errorf("re-arm failed video: %w", err)
		}
		video.Status = types.VideoStatusProcessing
		video.Error = ""
		s.emitStatus(video, true)
		return nil
	}
	return s.SetStatus(ctx, video, types.VideoStatusProcessing)
}

func (s *ingestionService) emitStatus(video *types.Video, changed bool) {
	if !changed || s.notify == nil || video == nil {
		return
	}
	s.notify.VideoStatusChanged(video.OwnerUserID, video)
}

func (s *ingestionService) ExtractTranscript(ctx context.Context, video *types.Video) ([]types.CaptionSegment, error) {
	if video == nil {
		return nil, fmt.Errorf("video required")
	}
	youtubeID := strings.TrimSpace(video.YoutubeID)
	if youtubeID == "" {
		return nil, fmt.Errorf("video %s has no youtube id", video.ID)
	}

	if s.cache != nil {
		if segs, ok, err := s.cache.Get(ctx, youtubeID, video.Language); err != nil {
			s.log.Warn("transcript cache read failed", "youtube_id", youtubeID, "error", err)
		} else if ok && len(segs) > 0 {
			return segs, nil
		}
	}

	if segs := s.readArchive(ctx, youtubeID); len(segs) > 0 {
		s.fillCache(ctx, youtubeID, video.Language, segs)
		return segs, nil
	}

	segs, err := s.captions.FetchTranscript(ctx, youtubeID, captions.FetchOptions{
		Language: video.Language,
		CacheTTL: transcriptCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	s.writeArchive(ctx, video, youtubeID, segs)
	s.fillCache(ctx, youtubeID, video.Language, segs)
	return segs, nil
}

func (s *ingestionService) readArchive(ctx context.Context, youtubeID string) []types.CaptionSegment {
	if s.bucket == nil {
		return nil
	}
	rc, err := s.bucket.DownloadFile(ctx, gcp.BucketCategoryTranscript, TranscriptArchiveKey(youtubeID))
	if err != nil {
		return nil
	}
	defer rc.Close()

	var segs []types.CaptionSegment
	if err := json.NewDecoder(rc).Decode(&segs); err != nil {
		s.log.Warn("transcript archive unreadable, refetching", "youtube_id", youtubeID, "error", err)
		return nil
	}
	return segs
}

func (s *ingestionService) writeArchive(ctx context.Context, video *types.Video, youtubeID string, segs []types.CaptionSegment) {
	if s.bucket == nil {
		return
	}
	raw, err := json.Marshal(segs)
	if err != nil {
		return
	}
	key := TranscriptArchiveKey(youtubeID)
	if err := s.bucket.UploadFile(dbctx.Context{Ctx: ctx}, gcp.BucketCategoryTranscript, key, bytes.NewReader(raw)); err != nil {
		// Archive is an optimization tier; the fetched segments still flow on.
		s.log.Warn("transcript archive write failed", "youtube_id", youtubeID, "error", err)
		return
	}
	if video != nil && video.ID != uuid.Nil {
		if err := s.videos.UpdateFields(dbctx.Context{Ctx: ctx}, video.ID, map[string]interface{}{
			"transcript_bucket_key": key,
		}); err != nil {
			s.log.Warn("transcript archive key write failed", "video_id", video.ID, "error", err)
		} else {
			video.TranscriptBucketKey = key
		}
	}
}

func (s *ingestionService) fillCache(ctx context.Context, youtubeID, language string, segs []types.CaptionSegment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, youtubeID, language, segs, transcriptCacheTTL); err != nil {
		s.log.Warn("transcript cache write failed", "youtube_id", youtubeID, "error", err)
	}
}

func (s *ingestionService) ProcessSegments(ctx context.Context, video *types.Video, segments []types.CaptionSegment) (*ProcessedTranscript, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("transcript has no segments")
	}

	report := transcript.ValidateQuality(segments, s.thresholds)
	if !report.IsValid {
		return nil, fmt.Errorf("transcript rejected: %s", strings.Join(report.Issues, "; "))
	}

	normalized := transcript.Normalize(segments, transcript.DefaultMinViableDurationSec)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("transcript empty after normalization")
	}

	pr := &ProcessedTranscript{
		Segments: normalized,
		Detailed: transcript.BuildChunks(normalized, transcript.LevelDetailed),
		Thematic: transcript.BuildChunks(normalized, transcript.LevelThematic),
	}
	s.log.Info("processed transcript segments",
		"video_id", video.ID,
		"segments_in", len(segments),
		"segments_normalized", len(normalized),
		"detailed_chunks", len(pr.Detailed),
		"thematic_chunks", len(pr.Thematic),
	)
	return pr, nil
}

func (s *ingestionService) EnsureUserCollection(ctx context.Context, ownerUserID uuid.UUID) (string, error) {
	if ownerUserID == uuid.Nil {
		return "", fmt.Errorf("owner user id required")
	}
	collection := zeroentropy.CollectionForUser(ownerUserID.String())
	if err := s.ze.EnsureCollection(ctx, collection); err != nil {
		return "", err
	}
	return collection, nil
}

func (s *ingestionService) IndexTranscriptPages(ctx context.Context, collection string, video *types.Video, pr *ProcessedTranscript) (int, error) {
	if strings.TrimSpace(collection) == "" {
		return 0, fmt.Errorf("collection required")
	}
	if video == nil || pr == nil {
		return 0, fmt.Errorf("video and processed transcript required")
	}

	pages := BuildTranscriptPages(video, pr.Detailed, pr.Thematic)
	if len(pages) == 0 {
		return 0, fmt.Errorf("no pages to index")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexPageConcurrency)
	var submitted atomic.Int64
	for _, page := range pages {
		g.Go(func() error {
			err := s.ze.AddDocument(gctx, collection, page)
			if zeroentropy.IsConflict(err) {
				// Already indexed by an earlier attempt.
				submitted.Add(1)
				return nil
			}
			if err != nil {
				return fmt.Errorf("index page %s: %w", page.Path, err)
			}
			submitted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(submitted.Load()), fmt.Errorf("%d of %d pages submitted: %w", submitted.Load(), len(pages), err)
	}
	return int(submitted.Load()), nil
}

func (s *ingestionService) FinalizeReady(ctx context.Context, video *types.Video, collection string) error {
	if video == nil || video.ID == uuid.Nil {
		return fmt.Errorf("video required")
	}
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("collection required")
	}
	now := time.Now().UTC()
	if err := s.videos.UpdateFields(dbctx.Context{Ctx: ctx}, video.ID, map[string]interface{}{
		"collection_id": collection,
		"ingested_at":   now,
		"error":         "",
	}); err != nil {
		return fmt.Errorf("persist collection id: %w", err)
	}
	video.CollectionID = collection
	video.IngestedAt = &now
	return s.SetStatus(ctx, video, types.VideoStatusReady)
}

// BuildTranscriptPages lays out both chunk levels as indexable pages. Page
// paths number pages across the combined submission list (detailed first):
// the path suffix only has to be unique and stable, while the per-level
// chunk index lives in metadata.
func BuildTranscriptPages(video *types.Video, detailed, thematic []transcript.Chunk) []zeroentropy.Document {
	total := len(detailed) + len(thematic)
	if total == 0 {
		return nil
	}
	pages := make([]zeroentropy.Document, 0, total)
	n := 0
	for _, group := range [][]transcript.Chunk{detailed, thematic} {
		for _, c := range group {
			pages = append(pages, zeroentropy.Document{
				Path:    fmt.Sprintf("%s-chunk%d", video.YoutubeID, n),
				Content: c.Text,
				Metadata: map[string]string{
					"videoId":      video.YoutubeID,
					"videoTitle":   video.Title,
					"chunkLevel":   string(c.Level),
					"startTime":    formatSeconds(c.StartSec),
					"endTime":      formatSeconds(c.EndSec),
					"chunkIndex":   strconv.Itoa(c.ChunkIndex),
					"segmentCount": strconv.Itoa(c.SegmentCount),
				},
			})
			n++
		}
	}
	return pages
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
