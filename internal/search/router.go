package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/rewatch-backend/internal/citations"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/zeroentropy"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

const (
	defaultLimit  = 10
	maxLimit      = 50
	searchTimeout = 15 * time.Second
)

// Request scopes one retrieval call. Level is chosen by the caller
// (typically a language-model tool choice), never inferred here.
type Request struct {
	Query    string
	UserID   string
	VideoIDs []string
	Limit    int
	Level    transcript.ChunkLevel
}

type Result struct {
	Content    string  `json:"content"`
	VideoID    string  `json:"videoId"`
	VideoTitle string  `json:"videoTitle"`
	Timestamp  string  `json:"timestamp"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Score      float64 `json:"score"`
}

// Response is the search tool's wire shape. Failures come back as a
// populated Error with empty Results, never as a raised error, so a
// conversation turn can degrade instead of aborting.
type Response struct {
	Results    []Result `json:"results"`
	TotalFound int      `json:"totalFound"`
	Error      string   `json:"error,omitempty"`
}

type Router interface {
	Search(ctx context.Context, req Request) Response
}

type router struct {
	log *logger.Logger
	ze  zeroentropy.Client
}

func NewRouter(log *logger.Logger, ze zeroentropy.Client) (Router, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ze == nil {
		return nil, fmt.Errorf("zeroentropy client required")
	}
	return &router{
		log: log.With("service", "SearchRouter"),
		ze:  ze,
	}, nil
}

func (r *router) Search(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), searchTimeout)
	defer cancel()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return failResponse("query is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return failResponse("user id is required")
	}
	if !req.Level.Valid() {
		return failResponse(fmt.Sprintf("unknown chunk level %q", string(req.Level)))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	collection := zeroentropy.CollectionForUser(req.UserID)
	filter := buildFilter(req.Level, req.VideoIDs)

	// Snippets carry content+score, document hits carry the metadata; the
	// two queries are independent so they fan out together.
	var (
		snippets []zeroentropy.Snippet
		docs     []zeroentropy.DocumentResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snippets, err = r.ze.TopSnippets(gctx, collection, query, limit, filter)
		return err
	})
	g.Go(func() error {
		var err error
		docs, err = r.ze.TopDocuments(gctx, collection, query, limit, filter)
		if err != nil {
			// Metadata enrichment is best-effort; path parsing covers
			// the gap when this side fails.
			r.log.Warn("metadata query failed, falling back to path parsing",
				"collection", collection,
				"error", err,
			)
			docs = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if zeroentropy.IsNotFound(err) {
			// Nothing indexed for this user yet.
			return Response{Results: []Result{}, TotalFound: 0}
		}
		r.log.Warn("search failed",
			"collection", collection,
			"level", string(req.Level),
			"error", err,
		)
		return failResponse(fmt.Sprintf("search failed: %v", err))
	}

	metaByPath := make(map[string]map[string]string, len(docs))
	for _, d := range docs {
		metaByPath[d.Path] = d.Metadata
	}

	results := make([]Result, 0, len(snippets))
	seen := make(map[string]bool, len(snippets))
	for _, s := range snippets {
		if seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		results = append(results, r.assemble(s, metaByPath[s.Path]))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	return Response{Results: results, TotalFound: len(results)}
}

// assemble joins one snippet with its page metadata. Metadata is the source
// of truth for the video id and timing; the path is the fallback for pages
// indexed without it.
func (r *router) assemble(s zeroentropy.Snippet, meta map[string]string) Result {
	res := Result{
		Content: s.Content,
		Score:   s.Score,
	}

	res.VideoID = meta["videoId"]
	res.VideoTitle = meta["videoTitle"]
	res.StartTime = parseSeconds(meta["startTime"])
	res.EndTime = parseSeconds(meta["endTime"])

	if res.VideoID == "" {
		parsed, err := ParsePath(s.Path)
		if err != nil {
			r.log.Debug("unparseable result path", "path", s.Path, "error", err)
			res.VideoID = s.Path
		} else {
			res.VideoID = parsed.VideoID
		}
	}

	res.Timestamp = citations.FormatTimestamp(res.StartTime)
	return res
}

func buildFilter(level transcript.ChunkLevel, videoIDs []string) map[string]any {
	levelClause := map[string]any{
		"chunkLevel": map[string]any{"$eq": string(level)},
	}
	if len(videoIDs) == 0 {
		return levelClause
	}
	scoped := make([]any, 0, len(videoIDs))
	for _, id := range videoIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			scoped = append(scoped, trimmed)
		}
	}
	if len(scoped) == 0 {
		return levelClause
	}
	return map[string]any{
		"$and": []any{
			levelClause,
			map[string]any{"videoId": map[string]any{"$in": scoped}},
		},
	}
}

func parseSeconds(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func failResponse(msg string) Response {
	return Response{Results: []Result{}, TotalFound: 0, Error: msg}
}
