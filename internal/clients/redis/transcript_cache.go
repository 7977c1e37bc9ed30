package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// TranscriptCache is the first tier of the transcript lookup chain
// (cache, then archive, then provider). Misses are (nil, false, nil);
// only transport faults surface as errors so callers can fall through.
type TranscriptCache interface {
	Get(ctx context.Context, videoID, language string) ([]types.CaptionSegment, bool, error)
	Set(ctx context.Context, videoID, language string, segments []types.CaptionSegment, ttl time.Duration) error
	Delete(ctx context.Context, videoID, language string) error
	Ping(ctx context.Context) error
	Close() error
}

type transcriptCache struct {
	log        *logger.Logger
	rdb        *goredis.Client
	defaultTTL time.Duration
}

func NewTranscriptCache(log *logger.Logger) (TranscriptCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	rdb, err := connect()
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(envutil.Int("TRANSCRIPT_CACHE_TTL_SECONDS", 86400)) * time.Second

	return &transcriptCache{
		log:        log.With("service", "TranscriptCache"),
		rdb:        rdb,
		defaultTTL: ttl,
	}, nil
}

func transcriptKey(videoID, language string) string {
	language = strings.TrimSpace(strings.ToLower(language))
	if language == "" {
		language = "any"
	}
	return "transcript:" + strings.TrimSpace(videoID) + ":" + language
}

func (c *transcriptCache) Get(ctx context.Context, videoID, language string) ([]types.CaptionSegment, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, transcriptKey(videoID, language)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("transcript cache get: %w", err)
	}
	var segments []types.CaptionSegment
	if err := json.Unmarshal(raw, &segments); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		c.log.Warn("corrupt transcript cache entry", "videoID", videoID, "error", err)
		return nil, false, nil
	}
	return segments, true, nil
}

func (c *transcriptCache) Set(ctx context.Context, videoID, language string, segments []types.CaptionSegment, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if len(segments) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("transcript cache marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, transcriptKey(videoID, language), raw, ttl).Err(); err != nil {
		return fmt.Errorf("transcript cache set: %w", err)
	}
	return nil
}

func (c *transcriptCache) Delete(ctx context.Context, videoID, language string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, transcriptKey(videoID, language)).Err(); err != nil {
		return fmt.Errorf("transcript cache delete: %w", err)
	}
	return nil
}

func (c *transcriptCache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("transcript cache not initialized")
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *transcriptCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
