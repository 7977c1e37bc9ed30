package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	videosrepo "github.com/yungbote/rewatch-backend/internal/data/repos/videos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/search"
	"github.com/yungbote/rewatch-backend/internal/transcript"
)

type fakeRouter struct {
	lastReq  *search.Request
	response search.Response
}

func (f *fakeRouter) Search(_ context.Context, req search.Request) search.Response {
	f.lastReq = &req
	return f.response
}

type fakeVideoRepo struct {
	videosrepo.VideoRepo
	rows []*types.Video
	err  error
}

func (f *fakeVideoRepo) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*types.Video, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func searchTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func authedCtx(userID uuid.UUID) dbctx.Context {
	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: userID})
	return dbctx.Context{Ctx: ctx}
}

func TestSearchForRequestUserRequiresAuth(t *testing.T) {
	svc := NewSearchService(searchTestLogger(t), &fakeRouter{}, &fakeVideoRepo{})

	resp := svc.SearchForRequestUser(dbctx.Context{Ctx: context.Background()}, SearchInput{Query: "q"})
	if resp.Error != "not authenticated" {
		t.Fatalf("error: want=%q got=%q", "not authenticated", resp.Error)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(resp.Results))
	}
}

func TestSearchForRequestUserLevelHandling(t *testing.T) {
	userID := uuid.New()

	cases := []struct {
		name      string
		level     string
		wantLevel transcript.ChunkLevel
		wantErr   bool
	}{
		{name: "default_detailed", level: "", wantLevel: transcript.LevelDetailed},
		{name: "detailed", level: "detailed", wantLevel: transcript.LevelDetailed},
		{name: "thematic", level: "thematic", wantLevel: transcript.LevelThematic},
		{name: "case_insensitive", level: " Thematic ", wantLevel: transcript.LevelThematic},
		{name: "unknown", level: "verbose", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := &fakeRouter{response: search.Response{Results: []search.Result{}}}
			svc := NewSearchService(searchTestLogger(t), router, &fakeVideoRepo{})

			resp := svc.SearchForRequestUser(authedCtx(userID), SearchInput{Query: "q", Level: tc.level})
			if tc.wantErr {
				if resp.Error == "" {
					t.Fatalf("expected level error, got none")
				}
				if router.lastReq != nil {
					t.Fatalf("router should not be called on bad level")
				}
				return
			}
			if resp.Error != "" {
				t.Fatalf("unexpected error: %q", resp.Error)
			}
			if router.lastReq == nil {
				t.Fatalf("router was not called")
			}
			if router.lastReq.Level != tc.wantLevel {
				t.Fatalf("level: want=%q got=%q", tc.wantLevel, router.lastReq.Level)
			}
			if router.lastReq.UserID != userID.String() {
				t.Fatalf("user id: want=%q got=%q", userID.String(), router.lastReq.UserID)
			}
		})
	}
}

func TestSearchForRequestUserResolvesOwnVideosOnly(t *testing.T) {
	userID := uuid.New()
	ownID := uuid.New()
	foreignID := uuid.New()

	repo := &fakeVideoRepo{rows: []*types.Video{
		{ID: ownID, OwnerUserID: userID, YoutubeID: "dQw4w9WgXcQ"},
		{ID: foreignID, OwnerUserID: uuid.New(), YoutubeID: "aaaaaaaaaaa"},
	}}
	router := &fakeRouter{response: search.Response{Results: []search.Result{}}}
	svc := NewSearchService(searchTestLogger(t), router, repo)

	resp := svc.SearchForRequestUser(authedCtx(userID), SearchInput{
		Query:    "q",
		VideoIDs: []uuid.UUID{ownID, foreignID},
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	if router.lastReq == nil {
		t.Fatalf("router was not called")
	}
	if len(router.lastReq.VideoIDs) != 1 || router.lastReq.VideoIDs[0] != "dQw4w9WgXcQ" {
		t.Fatalf("video scope: want=[dQw4w9WgXcQ] got=%v", router.lastReq.VideoIDs)
	}
}

func TestSearchForRequestUserAllVideosFiltered(t *testing.T) {
	userID := uuid.New()

	// The only requested video belongs to someone else.
	repo := &fakeVideoRepo{rows: []*types.Video{
		{ID: uuid.New(), OwnerUserID: uuid.New(), YoutubeID: "aaaaaaaaaaa"},
	}}
	router := &fakeRouter{}
	svc := NewSearchService(searchTestLogger(t), router, repo)

	resp := svc.SearchForRequestUser(authedCtx(userID), SearchInput{
		Query:    "q",
		VideoIDs: []uuid.UUID{uuid.New()},
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	if resp.TotalFound != 0 || len(resp.Results) != 0 {
		t.Fatalf("expected empty success, got %+v", resp)
	}
	if router.lastReq != nil {
		t.Fatalf("router should not be called when the whole scope is filtered out")
	}
}

func TestSearchForRequestUserScopeLookupFailure(t *testing.T) {
	userID := uuid.New()
	repo := &fakeVideoRepo{err: errors.New("connection refused")}
	router := &fakeRouter{}
	svc := NewSearchService(searchTestLogger(t), router, repo)

	resp := svc.SearchForRequestUser(authedCtx(userID), SearchInput{
		Query:    "q",
		VideoIDs: []uuid.UUID{uuid.New()},
	})
	if resp.Error != "could not resolve video scope" {
		t.Fatalf("error: want=%q got=%q", "could not resolve video scope", resp.Error)
	}
	if router.lastReq != nil {
		t.Fatalf("router should not be called on scope failure")
	}
}
