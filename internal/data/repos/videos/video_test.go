package videos

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/rewatch-backend/internal/data/repos/testutil"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	videotypes "github.com/yungbote/rewatch-backend/internal/domain/videos"
	"github.com/yungbote/rewatch-backend/internal/pkg/dbctx"
)

func TestVideoRepoStatusMachine(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewVideoRepo(db, testutil.Logger(t))
	owner := testutil.SeedUser(t, ctx, tx, "status-machine")
	v := testutil.SeedVideo(t, ctx, tx, owner.ID, "dQw4w9WgXcQ", videotypes.StatusQueued)

	if err := repo.UpdateStatus(dbc, v.ID, videotypes.StatusProcessing, ""); err != nil {
		t.Fatalf("QUEUED -> PROCESSING: %v", err)
	}
	// Re-running the same step is a no-op success.
	if err := repo.UpdateStatus(dbc, v.ID, videotypes.StatusProcessing, ""); err != nil {
		t.Fatalf("PROCESSING -> PROCESSING: %v", err)
	}

	// Skipping ahead is rejected.
	err := repo.UpdateStatus(dbc, v.ID, videotypes.StatusReady, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("PROCESSING -> READY: want ErrIllegalTransition got %v", err)
	}

	steps := []types.VideoStatus{
		videotypes.StatusTranscriptExtracting,
		videotypes.StatusZeroEntropyProcessing,
		videotypes.StatusReady,
	}
	for _, next := range steps {
		if err := repo.UpdateStatus(dbc, v.ID, next, ""); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}

	rows, err := repo.GetByIDs(dbc, []uuid.UUID{v.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}
	if rows[0].Status != videotypes.StatusReady {
		t.Fatalf("status: want=READY got=%s", rows[0].Status)
	}
	if rows[0].IngestedAt == nil {
		t.Fatalf("READY should stamp ingested_at")
	}

	// READY is terminal, even for FAILED.
	err = repo.UpdateStatus(dbc, v.ID, videotypes.StatusFailed, "late failure")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("READY -> FAILED: want ErrIllegalTransition got %v", err)
	}
}

func TestVideoRepoFailurePersistsDiagnostic(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewVideoRepo(db, testutil.Logger(t))
	owner := testutil.SeedUser(t, ctx, tx, "failure-diag")
	v := testutil.SeedVideo(t, ctx, tx, owner.ID, "abc-123-def-456", videotypes.StatusTranscriptExtracting)

	if err := repo.UpdateStatus(dbc, v.ID, videotypes.StatusFailed, "Captions are disabled for this video"); err != nil {
		t.Fatalf("TRANSCRIPT_EXTRACTING -> FAILED: %v", err)
	}

	rows, err := repo.GetByIDs(dbc, []uuid.UUID{v.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}
	if rows[0].Status != videotypes.StatusFailed {
		t.Fatalf("status: want=FAILED got=%s", rows[0].Status)
	}
	if rows[0].Error != "Captions are disabled for this video" {
		t.Fatalf("error message: got=%q", rows[0].Error)
	}

	// FAILED is terminal.
	err = repo.UpdateStatus(dbc, v.ID, videotypes.StatusProcessing, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("FAILED -> PROCESSING: want ErrIllegalTransition got %v", err)
	}
}

func TestVideoRepoLookupAndDelete(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewVideoRepo(db, testutil.Logger(t))
	owner := testutil.SeedUser(t, ctx, tx, "lookup-delete")
	other := testutil.SeedUser(t, ctx, tx, "lookup-delete-other")
	v := testutil.SeedVideo(t, ctx, tx, owner.ID, "video-abc-def-123", videotypes.StatusQueued)

	got, err := repo.GetByOwnerAndYoutubeID(dbc, owner.ID, "video-abc-def-123")
	if err != nil {
		t.Fatalf("GetByOwnerAndYoutubeID: %v", err)
	}
	if got == nil || got.ID != v.ID {
		t.Fatalf("lookup: want=%s got=%v", v.ID, got)
	}

	missing, err := repo.GetByOwnerAndYoutubeID(dbc, owner.ID, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing lookup: err=%v got=%v", err, missing)
	}

	// Owner scoping: another user cannot delete the row.
	if err := repo.Delete(dbc, other.ID, v.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user delete: want ErrNotFound got %v", err)
	}
	if err := repo.Delete(dbc, owner.ID, v.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	listed, err := repo.ListByUser(dbc, owner.ID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("ListByUser after delete: want=0 got=%d", len(listed))
	}
}
