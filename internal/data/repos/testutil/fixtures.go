package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/rewatch-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, subject string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:          uuid.New(),
		AuthSubject: subject,
		Email:       subject + "@example.test",
		FirstName:   "A",
		LastName:    "B",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedVideo(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, youtubeID string, status types.VideoStatus) *types.Video {
	tb.Helper()
	v := &types.Video{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		YoutubeID:   youtubeID,
		Title:       "Video " + youtubeID,
		Status:      status,
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed video: %v", err)
	}
	return v
}

func SeedThread(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *types.ChatThread {
	tb.Helper()
	th := &types.ChatThread{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         "New Chat",
		Status:        "active",
		Metadata:      datatypes.JSON([]byte("{}")),
		LastMessageAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(th).Error; err != nil {
		tb.Fatalf("seed thread: %v", err)
	}
	return th
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID, seq int64, role, content string) *types.ChatMessage {
	tb.Helper()
	m := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: threadID,
		UserID:   userID,
		Seq:      seq,
		Role:     role,
		Status:   "done",
		Content:  content,
		Metadata: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func SeedJobRun(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, jobType, status string, entityID uuid.UUID) *types.JobRun {
	tb.Helper()
	j := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		JobType:     jobType,
		EntityType:  "video",
		EntityID:    &entityID,
		Status:      status,
		Stage:       status,
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job run: %v", err)
	}
	return j
}
