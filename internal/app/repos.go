package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type Repos struct {
	User        repos.UserRepo
	Video       repos.VideoRepo
	ChatThread  repos.ChatThreadRepo
	ChatMessage repos.ChatMessageRepo
	JobRun      repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:        repos.NewUserRepo(db, log),
		Video:       repos.NewVideoRepo(db, log),
		ChatThread:  repos.NewChatThreadRepo(db, log),
		ChatMessage: repos.NewChatMessageRepo(db, log),
		JobRun:      repos.NewJobRunRepo(db, log),
	}
}
