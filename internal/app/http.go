package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/rewatch-backend/internal/http"
	httpH "github.com/yungbote/rewatch-backend/internal/http/handlers"
	httpMW "github.com/yungbote/rewatch-backend/internal/http/middleware"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/sse"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health   *httpH.HealthHandler
	User     *httpH.UserHandler
	Video    *httpH.VideoHandler
	Chat     *httpH.ChatHandler
	Job      *httpH.JobHandler
	Search   *httpH.SearchHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services, sseHub *sse.SSEHub, clients Clients) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db, clients.TranscriptCache),
		User:     httpH.NewUserHandler(services.User, sseHub, clients.Bucket),
		Video:    httpH.NewVideoHandler(log, services.Video, services.JobService, sseHub),
		Chat:     httpH.NewChatHandler(services.Chat),
		Job:      httpH.NewJobHandler(services.JobService),
		Search:   httpH.NewSearchHandler(services.Search),
		Realtime: httpH.NewRealtimeHandler(log, sseHub),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.TokenVerifier, services.User),
	}
}

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:             log,
		AuthMiddleware:  middleware.Auth,
		HealthHandler:   handlers.Health,
		UserHandler:     handlers.User,
		VideoHandler:    handlers.Video,
		ChatHandler:     handlers.Chat,
		JobHandler:      handlers.Job,
		SearchHandler:   handlers.Search,
		RealtimeHandler: handlers.Realtime,
	})
}
