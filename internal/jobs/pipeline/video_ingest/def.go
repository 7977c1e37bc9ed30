package video_ingest

import (
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/data/repos"
	types "github.com/yungbote/rewatch-backend/internal/domain"
	"github.com/yungbote/rewatch-backend/internal/jobs/orchestrator"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/services"
)

type Pipeline struct {
	db  *gorm.DB
	log *logger.Logger

	videos repos.VideoRepo
	ingest services.IngestionService

	engine *orchestrator.Engine
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	videos repos.VideoRepo,
	ingest services.IngestionService,
) *Pipeline {
	return &Pipeline{
		db:     db,
		log:    baseLog.With("job", types.JobTypeVideoIngest),
		videos: videos,
		ingest: ingest,
		engine: orchestrator.NewEngine(),
	}
}

func (p *Pipeline) Type() string { return types.JobTypeVideoIngest }
