package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/citations"
	"github.com/yungbote/rewatch-backend/internal/jobs/pipeline/chat_respond"
	"github.com/yungbote/rewatch-backend/internal/jobs/pipeline/video_ingest"
	jobruntime "github.com/yungbote/rewatch-backend/internal/jobs/runtime"
	jobworker "github.com/yungbote/rewatch-backend/internal/jobs/worker"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/search"
	"github.com/yungbote/rewatch-backend/internal/services"
	"github.com/yungbote/rewatch-backend/internal/sse"
	"github.com/yungbote/rewatch-backend/internal/temporalx"
	"github.com/yungbote/rewatch-backend/internal/temporalx/temporalworker"
)

type Services struct {
	// Core
	Avatar services.AvatarService
	User   services.UserService

	// Auth
	TokenVerifier services.TokenVerifier

	// Domain
	Video     services.VideoService
	Ingestion services.IngestionService
	Chat      services.ChatService
	Search    services.SearchService

	// Jobs + notifications
	JobNotifier  services.JobNotifier
	ChatNotifier services.ChatNotifier
	JobService   services.JobService

	// Job infra. Exactly one of TemporalWorker/JobWorker is non-nil on a
	// worker pod: Temporal when TEMPORAL_ADDRESS is set, the DB poller
	// otherwise.
	JobRegistry    *jobruntime.Registry
	TemporalWorker *temporalworker.Runner
	JobWorker      *jobworker.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, sseHub *sse.SSEHub, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	avatarService, err := services.NewAvatarService(db, log, clients.Bucket)
	if err != nil {
		return Services{}, fmt.Errorf("init avatar service: %w", err)
	}

	verifier, err := services.NewTokenVerifierFromEnv(nil)
	if err != nil {
		return Services{}, fmt.Errorf("init token verifier: %w", err)
	}

	userService := services.NewUserService(db, log, repos.User, avatarService)

	var emitter services.SSEEmitter
	if cfg.RunServer {
		// API: broadcast locally to connected clients
		emitter = &services.HubEmitter{Hub: sseHub}
	} else {
		// Worker: publish to Redis so API pods can fan out to clients
		if clients.SSEBus == nil {
			return Services{}, fmt.Errorf("worker requires REDIS_ADDR to publish SSE events")
		}
		emitter = &services.RedisEmitter{Bus: clients.SSEBus}
	}

	jobNotifier := services.NewJobNotifier(emitter)
	chatNotifier := services.NewChatNotifier(emitter)

	tcfg := temporalx.LoadConfig()
	jobService := services.NewJobService(db, log, repos.JobRun, jobNotifier, clients.Temporal, tcfg.TaskQueue)

	videoService := services.NewVideoService(db, log, repos.Video, jobService, clients.ZeroEntropy, clients.Bucket, jobNotifier)

	ingestionService := services.NewIngestionService(
		db,
		log,
		repos.Video,
		clients.Captions,
		clients.TranscriptCache,
		clients.Bucket,
		clients.ZeroEntropy,
		jobNotifier,
	)

	searchRouter, err := search.NewRouter(log, clients.ZeroEntropy)
	if err != nil {
		return Services{}, fmt.Errorf("init search router: %w", err)
	}
	searchService := services.NewSearchService(log, searchRouter, repos.Video)

	chatService := services.NewChatService(
		db,
		log,
		repos.JobRun,
		jobService,
		repos.ChatThread,
		repos.ChatMessage,
		repos.Video,
		chatNotifier,
	)

	// Job registry
	jobRegistry := jobruntime.NewRegistry()

	videoIngest := video_ingest.New(db, log, repos.Video, ingestionService)
	if err := jobRegistry.Register(videoIngest); err != nil {
		return Services{}, err
	}

	chatRespond := chat_respond.New(
		db,
		log,
		clients.OpenAI,
		searchRouter,
		repos.ChatThread,
		repos.ChatMessage,
		citations.NewParser(log),
		clients.Neo4j,
		chatNotifier,
	)
	if err := jobRegistry.Register(chatRespond); err != nil {
		return Services{}, err
	}

	var temporalRunner *temporalworker.Runner
	var pollWorker *jobworker.Worker
	if cfg.RunWorker {
		if clients.Temporal != nil {
			w, err := temporalworker.NewRunner(log, clients.Temporal, db, repos.JobRun, jobRegistry, jobNotifier)
			if err != nil {
				return Services{}, fmt.Errorf("init temporal worker: %w", err)
			}
			temporalRunner = w
		} else {
			log.Warn("TEMPORAL_ADDRESS not set; falling back to DB-polling job worker")
			pollWorker = jobworker.NewWorker(db, log, repos.JobRun, jobRegistry, jobNotifier)
		}
	}

	return Services{
		Avatar:         avatarService,
		User:           userService,
		TokenVerifier:  verifier,
		Video:          videoService,
		Ingestion:      ingestionService,
		Chat:           chatService,
		Search:         searchService,
		JobNotifier:    jobNotifier,
		ChatNotifier:   chatNotifier,
		JobService:     jobService,
		JobRegistry:    jobRegistry,
		TemporalWorker: temporalRunner,
		JobWorker:      pollWorker,
	}, nil
}
