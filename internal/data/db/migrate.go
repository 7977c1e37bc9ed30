package db

import (
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Identity (mirrored from the hosted auth provider)
		&types.User{},

		// Video library + ingestion state
		&types.Video{},

		// Chat
		&types.ChatThread{},
		&types.ChatMessage{},

		// Background jobs
		&types.JobRun{},
	)
}
