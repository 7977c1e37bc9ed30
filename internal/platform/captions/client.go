package captions

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	types "github.com/yungbote/rewatch-backend/internal/domain/videos"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// Client fetches raw timestamped caption segments for a YouTube video.
// Failures in the provider's closed taxonomy come back as *ProviderError;
// transient transport faults come back unclassified so callers can retry.
type Client interface {
	FetchTranscript(ctx context.Context, videoID string, opts FetchOptions) ([]types.CaptionSegment, error)
}

// FetchOptions tunes a single fetch. CacheTTL is honored by caching
// implementations of Client; the raw provider client ignores it.
type FetchOptions struct {
	Language string
	CacheTTL time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &client{
		log: log.With("service", "CaptionsClient"),
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}, nil
}

func (c *client) FetchTranscript(ctx context.Context, videoID string, opts FetchOptions) ([]types.CaptionSegment, error) {
	videoID = strings.TrimSpace(videoID)
	if !validVideoID(videoID) {
		return nil, provErr(ProviderErrorInvalidID, videoID, nil)
	}

	watchURL := c.cfg.WatchBaseURL + "/watch?v=" + url.QueryEscape(videoID)
	page, err := c.fetchPage(ctx, watchURL, opts.Language)
	if err != nil {
		if isClientStatus(err) {
			return nil, provErr(ProviderErrorVideoUnavailable, videoID, err)
		}
		return nil, c.finishErr(videoID, "fetch watch page", err)
	}

	tracks, err := extractCaptionTracks(page, videoID)
	if err != nil {
		return nil, err
	}
	track, err := selectTrack(tracks, opts.Language, videoID)
	if err != nil {
		return nil, err
	}

	raw, err := c.fetchPage(ctx, track.BaseURL, opts.Language)
	if err != nil {
		if isClientStatus(err) {
			return nil, provErr(ProviderErrorNotAvailable, videoID, err)
		}
		return nil, c.finishErr(videoID, "fetch timedtext", err)
	}

	segments, err := parseTimedText(raw, track.LanguageCode)
	if err != nil {
		return nil, provErr(ProviderErrorNotAvailable, videoID, err)
	}
	if len(segments) == 0 {
		return nil, provErr(ProviderErrorNotAvailable, videoID, fmt.Errorf("empty transcript payload"))
	}

	c.log.Debug("fetched transcript",
		"video_id", videoID,
		"language", track.LanguageCode,
		"segments", len(segments),
	)
	return segments, nil
}

// finishErr stamps the video id onto classified provider failures and wraps
// everything else for upstream retry.
func (c *client) finishErr(videoID, op string, err error) error {
	var provider *ProviderError
	if errors.As(err, &provider) {
		if provider.VideoID == "" {
			provider.VideoID = videoID
		}
		return provider
	}
	return fmt.Errorf("%s for %s: %w", op, videoID, err)
}

// fetchPage GETs a url with exponential-backoff retry on transport faults and
// 5xx responses. Rate limiting and client errors are permanent.
func (c *client) fetchPage(ctx context.Context, pageURL, language string) (string, error) {
	var body string
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, pageURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		if language != "" {
			req.Header.Set("Accept-Language", language)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return backoff.Permanent(provErr(ProviderErrorRateLimited, "", &statusError{status: resp.StatusCode}))
		case resp.StatusCode >= 500:
			return &statusError{status: resp.StatusCode}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&statusError{status: resp.StatusCode})
		}
		body = string(raw)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Duration(c.cfg.RetryMaxElapsedSeconds) * time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(bo, ctxutil.Default(ctx))); err != nil {
		return "", err
	}
	return body, nil
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider http status=%d", e.status)
}

func isClientStatus(err error) bool {
	var statusErr *statusError
	return errors.As(err, &statusErr) && statusErr.status >= 400 && statusErr.status < 500 &&
		statusErr.status != http.StatusTooManyRequests
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

// extractCaptionTracks pulls the caption track list out of the watch page's
// embedded player response. A page with no captions block is classified by
// what else it carries: a recaptcha means throttling, a missing playability
// block means the video itself is gone, otherwise captions are disabled.
func extractCaptionTracks(page, videoID string) ([]captionTrack, error) {
	const captionsMarker = `"captions":`

	idx := strings.Index(page, captionsMarker)
	if idx < 0 {
		switch {
		case strings.Contains(page, `class="g-recaptcha"`):
			return nil, provErr(ProviderErrorRateLimited, videoID, nil)
		case !strings.Contains(page, `"playabilityStatus":`):
			return nil, provErr(ProviderErrorVideoUnavailable, videoID, nil)
		default:
			return nil, provErr(ProviderErrorDisabled, videoID, nil)
		}
	}

	rest := page[idx+len(captionsMarker):]
	end := strings.Index(rest, `,"videoDetails`)
	if end < 0 {
		return nil, provErr(ProviderErrorNotAvailable, videoID, fmt.Errorf("player response missing videoDetails boundary"))
	}

	var payload struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	}
	if err := json.Unmarshal([]byte(rest[:end]), &payload); err != nil {
		return nil, provErr(ProviderErrorNotAvailable, videoID, fmt.Errorf("decode caption tracks: %w", err))
	}
	if len(payload.Renderer.CaptionTracks) == 0 {
		return nil, provErr(ProviderErrorNotAvailable, videoID, nil)
	}
	return payload.Renderer.CaptionTracks, nil
}

// selectTrack picks the track for the requested language, falling back to a
// regional variant ("en" matches "en-US"). With no language requested it
// prefers a manually authored track over auto-generated ("asr") ones.
func selectTrack(tracks []captionTrack, language, videoID string) (captionTrack, error) {
	if language == "" {
		for _, t := range tracks {
			if t.Kind != "asr" {
				return t, nil
			}
		}
		return tracks[0], nil
	}
	for _, t := range tracks {
		if t.LanguageCode == language {
			return t, nil
		}
	}
	for _, t := range tracks {
		if strings.HasPrefix(t.LanguageCode, language+"-") {
			return t, nil
		}
	}
	return captionTrack{}, provErr(ProviderErrorNotAvailableInLanguage, videoID, fmt.Errorf("no track for language %q", language))
}

type timedTextDocument struct {
	XMLName xml.Name       `xml:"transcript"`
	Texts   []timedTextCue `xml:"text"`
}

type timedTextCue struct {
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"`
	Body  string  `xml:",chardata"`
}

func parseTimedText(raw, language string) ([]types.CaptionSegment, error) {
	var doc timedTextDocument
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode timedtext: %w", err)
	}

	segments := make([]types.CaptionSegment, 0, len(doc.Texts))
	for _, cue := range doc.Texts {
		// The XML decoder resolves one level of entities; the provider
		// double-escapes, so one more pass is needed.
		text := strings.TrimSpace(html.UnescapeString(cue.Body))
		segments = append(segments, types.CaptionSegment{
			Text:     text,
			Start:    cue.Start,
			Duration: cue.Dur,
			Language: language,
		})
	}
	return segments, nil
}

func validVideoID(id string) bool {
	if len(id) < 6 || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
