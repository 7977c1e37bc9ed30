package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/platform/zeroentropy"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

type fakeIndexClient struct {
	snippets    []zeroentropy.Snippet
	docs        []zeroentropy.DocumentResult
	snippetsErr error
	docsErr     error

	snippetCollection string
	snippetQuery      string
	snippetK          int
	snippetFilter     map[string]any
	docCollection     string
}

func (f *fakeIndexClient) EnsureCollection(ctx context.Context, collection string) error {
	return nil
}

func (f *fakeIndexClient) AddDocument(ctx context.Context, collection string, doc zeroentropy.Document) error {
	return nil
}

func (f *fakeIndexClient) DeleteDocument(ctx context.Context, collection, path string) error {
	return nil
}

func (f *fakeIndexClient) DocumentInfoList(ctx context.Context, collection, pathPrefix string, limit int) ([]zeroentropy.DocumentInfo, error) {
	return nil, nil
}

func (f *fakeIndexClient) TopSnippets(ctx context.Context, collection, query string, k int, filter map[string]any) ([]zeroentropy.Snippet, error) {
	f.snippetCollection = collection
	f.snippetQuery = query
	f.snippetK = k
	f.snippetFilter = filter
	return f.snippets, f.snippetsErr
}

func (f *fakeIndexClient) TopDocuments(ctx context.Context, collection, query string, k int, filter map[string]any) ([]zeroentropy.DocumentResult, error) {
	f.docCollection = collection
	return f.docs, f.docsErr
}

func newTestRouter(t *testing.T, fake *fakeIndexClient) Router {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	r, err := NewRouter(log, fake)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestSearchJoinsSnippetsWithMetadata(t *testing.T) {
	fake := &fakeIndexClient{
		snippets: []zeroentropy.Snippet{
			{Path: "video-abc-def-123-chunk0", Content: "rockets use staged combustion", Score: 0.92},
		},
		docs: []zeroentropy.DocumentResult{
			{
				Path: "video-abc-def-123-chunk0",
				Metadata: map[string]string{
					"videoId":    "video-abc-def-123",
					"videoTitle": "Rocket Engines Explained",
					"startTime":  "615",
					"endTime":    "675.5",
				},
			},
		},
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "staged combustion",
		UserID: "User-42",
		Level:  transcript.LevelDetailed,
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	if resp.TotalFound != 1 || len(resp.Results) != 1 {
		t.Fatalf("result count: want=1 got=%d (total=%d)", len(resp.Results), resp.TotalFound)
	}

	got := resp.Results[0]
	if got.VideoID != "video-abc-def-123" {
		t.Fatalf("video id: want=%q got=%q", "video-abc-def-123", got.VideoID)
	}
	if got.VideoTitle != "Rocket Engines Explained" {
		t.Fatalf("video title: want=%q got=%q", "Rocket Engines Explained", got.VideoTitle)
	}
	if got.Timestamp != "10:15" {
		t.Fatalf("timestamp: want=%q got=%q", "10:15", got.Timestamp)
	}
	if got.StartTime != 615 || got.EndTime != 675.5 {
		t.Fatalf("timing: got start=%v end=%v", got.StartTime, got.EndTime)
	}
	if got.Score != 0.92 {
		t.Fatalf("score: want=0.92 got=%v", got.Score)
	}

	if fake.snippetCollection != "yt_transcripts_user_42" {
		t.Fatalf("collection: want=%q got=%q", "yt_transcripts_user_42", fake.snippetCollection)
	}
	levelClause, ok := fake.snippetFilter["chunkLevel"].(map[string]any)
	if !ok || levelClause["$eq"] != "1" {
		t.Fatalf("filter should pin chunkLevel=1, got %v", fake.snippetFilter)
	}
}

func TestSearchRecoversDashedVideoIDFromPath(t *testing.T) {
	fake := &fakeIndexClient{
		snippets: []zeroentropy.Snippet{
			{Path: "video-abc-def-123-chunk0", Content: "text", Score: 0.5},
		},
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "u1",
		Level:  transcript.LevelDetailed,
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("result count: want=1 got=%d", len(resp.Results))
	}
	if resp.Results[0].VideoID != "video-abc-def-123" {
		t.Fatalf("video id from path: want=%q got=%q", "video-abc-def-123", resp.Results[0].VideoID)
	}
}

func TestSearchRecoversLegacyPath(t *testing.T) {
	fake := &fakeIndexClient{
		snippets: []zeroentropy.Snippet{
			{Path: "abc-123-def-456-3", Content: "legacy page", Score: 0.5},
		},
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "u1",
		Level:  transcript.LevelThematic,
	})
	if len(resp.Results) != 1 {
		t.Fatalf("result count: want=1 got=%d", len(resp.Results))
	}
	if resp.Results[0].VideoID != "abc-123-def-456" {
		t.Fatalf("video id from legacy path: want=%q got=%q", "abc-123-def-456", resp.Results[0].VideoID)
	}
}

func TestSearchDedupesAndRanks(t *testing.T) {
	fake := &fakeIndexClient{
		snippets: []zeroentropy.Snippet{
			{Path: "vid-chunk1", Content: "weaker", Score: 0.4},
			{Path: "vid-chunk0", Content: "stronger", Score: 0.9},
			{Path: "vid-chunk1", Content: "duplicate", Score: 0.3},
		},
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "u1",
		Level:  transcript.LevelDetailed,
	})
	if len(resp.Results) != 2 {
		t.Fatalf("deduped count: want=2 got=%d", len(resp.Results))
	}
	if resp.Results[0].Content != "stronger" || resp.Results[1].Content != "weaker" {
		t.Fatalf("ranking: got [%q, %q]", resp.Results[0].Content, resp.Results[1].Content)
	}
	if resp.TotalFound != 2 {
		t.Fatalf("totalFound: want=2 got=%d", resp.TotalFound)
	}
}

func TestSearchAppliesLimit(t *testing.T) {
	fake := &fakeIndexClient{
		snippets: []zeroentropy.Snippet{
			{Path: "vid-chunk0", Content: "a", Score: 0.9},
			{Path: "vid-chunk1", Content: "b", Score: 0.8},
			{Path: "vid-chunk2", Content: "c", Score: 0.7},
		},
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "u1",
		Limit:  2,
		Level:  transcript.LevelDetailed,
	})
	if len(resp.Results) != 2 || resp.TotalFound != 2 {
		t.Fatalf("limited count: want=2 got=%d (total=%d)", len(resp.Results), resp.TotalFound)
	}
	if fake.snippetK != 2 {
		t.Fatalf("k forwarded to index: want=2 got=%d", fake.snippetK)
	}
}

func TestSearchVideoScopeFilter(t *testing.T) {
	fake := &fakeIndexClient{}
	r := newTestRouter(t, fake)

	r.Search(context.Background(), Request{
		Query:    "anything",
		UserID:   "u1",
		VideoIDs: []string{"vidA", " vidB ", ""},
		Level:    transcript.LevelThematic,
	})

	and, ok := fake.snippetFilter["$and"].([]any)
	if !ok || len(and) != 2 {
		t.Fatalf("expected $and filter with 2 clauses, got %v", fake.snippetFilter)
	}
	scope, ok := and[1].(map[string]any)["videoId"].(map[string]any)
	if !ok {
		t.Fatalf("expected videoId clause, got %v", and[1])
	}
	in, ok := scope["$in"].([]any)
	if !ok || len(in) != 2 || in[0] != "vidA" || in[1] != "vidB" {
		t.Fatalf("videoId $in: want=[vidA vidB] got=%v", scope["$in"])
	}
}

func TestSearchFailureReturnsStructuredError(t *testing.T) {
	fake := &fakeIndexClient{snippetsErr: errors.New("index exploded")}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "u1",
		Level:  transcript.LevelDetailed,
	})
	if resp.Error == "" {
		t.Fatalf("expected structured error")
	}
	if !strings.Contains(resp.Error, "search failed") {
		t.Fatalf("error text: got %q", resp.Error)
	}
	if resp.Results == nil || len(resp.Results) != 0 || resp.TotalFound != 0 {
		t.Fatalf("failed search must return empty results, got %+v", resp)
	}
}

func TestSearchMissingCollectionIsEmptyNotError(t *testing.T) {
	fake := &fakeIndexClient{
		snippetsErr: &zeroentropy.OperationError{
			Code:       zeroentropy.OperationErrorNotFound,
			Operation:  "top_snippets",
			StatusCode: 404,
		},
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "new-user",
		Level:  transcript.LevelDetailed,
	})
	if resp.Error != "" {
		t.Fatalf("missing collection should not error, got %q", resp.Error)
	}
	if len(resp.Results) != 0 || resp.TotalFound != 0 {
		t.Fatalf("missing collection should be empty, got %+v", resp)
	}
}

func TestSearchDegradesWhenMetadataQueryFails(t *testing.T) {
	fake := &fakeIndexClient{
		snippets: []zeroentropy.Snippet{
			{Path: "dQw4w9WgXcQ-chunk4", Content: "text", Score: 0.6},
		},
		docsErr: errors.New("metadata side down"),
	}
	r := newTestRouter(t, fake)

	resp := r.Search(context.Background(), Request{
		Query:  "anything",
		UserID: "u1",
		Level:  transcript.LevelDetailed,
	})
	if resp.Error != "" {
		t.Fatalf("metadata failure should degrade, got error %q", resp.Error)
	}
	if len(resp.Results) != 1 || resp.Results[0].VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("path fallback result: got %+v", resp.Results)
	}
}

func TestSearchValidatesInput(t *testing.T) {
	r := newTestRouter(t, &fakeIndexClient{})

	resp := r.Search(context.Background(), Request{UserID: "u1", Level: transcript.LevelDetailed})
	if resp.Error != "query is required" {
		t.Fatalf("empty query error: got %q", resp.Error)
	}

	resp = r.Search(context.Background(), Request{Query: "q", Level: transcript.LevelDetailed})
	if resp.Error != "user id is required" {
		t.Fatalf("empty user error: got %q", resp.Error)
	}

	resp = r.Search(context.Background(), Request{Query: "q", UserID: "u1", Level: "9"})
	if !strings.Contains(resp.Error, "unknown chunk level") {
		t.Fatalf("bad level error: got %q", resp.Error)
	}
}
