package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos/chat"
	"github.com/yungbote/rewatch-backend/internal/data/repos/jobs"
	"github.com/yungbote/rewatch-backend/internal/data/repos/users"
	"github.com/yungbote/rewatch-backend/internal/data/repos/videos"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type UserRepo = users.UserRepo

type VideoRepo = videos.VideoRepo

type ChatThreadRepo = chat.ChatThreadRepo
type ChatMessageRepo = chat.ChatMessageRepo

type JobRunRepo = jobs.JobRunRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return users.NewUserRepo(db, baseLog)
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return videos.NewVideoRepo(db, baseLog)
}

func NewChatThreadRepo(db *gorm.DB, baseLog *logger.Logger) ChatThreadRepo {
	return chat.NewChatThreadRepo(db, baseLog)
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
	return chat.NewChatMessageRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
