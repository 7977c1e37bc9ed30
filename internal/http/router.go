package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/rewatch-backend/internal/http/handlers"
	httpMW "github.com/yungbote/rewatch-backend/internal/http/middleware"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler   *httpH.HealthHandler
	UserHandler     *httpH.UserHandler
	VideoHandler    *httpH.VideoHandler
	ChatHandler     *httpH.ChatHandler
	JobHandler      *httpH.JobHandler
	SearchHandler   *httpH.SearchHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("rewatch"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Ops (public)
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Healthz)
		r.GET("/readyz", cfg.HealthHandler.Readyz)
	}

	api := r.Group("/api")
	{
		// Every API route requires a verified bearer token.
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// User (Me)
		if cfg.UserHandler != nil {
			api.GET("/me", cfg.UserHandler.GetMe)
			api.PATCH("/me/name", cfg.UserHandler.ChangeName)
			api.POST("/me/avatar", cfg.UserHandler.UploadAvatar)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		}

		// Videos
		if cfg.VideoHandler != nil {
			api.POST("/videos", cfg.VideoHandler.Register)
			api.GET("/videos", cfg.VideoHandler.ListVideos)
			api.GET("/videos/:id", cfg.VideoHandler.GetVideo)
			api.DELETE("/videos/:id", cfg.VideoHandler.DeleteVideo)
			api.POST("/videos/:id/reingest", cfg.VideoHandler.Reingest)
			api.GET("/videos/:id/job", cfg.VideoHandler.GetIngestJob)
			api.GET("/videos/:id/events", cfg.VideoHandler.Events)
		}

		// Chat
		if cfg.ChatHandler != nil {
			api.POST("/chat/threads", cfg.ChatHandler.CreateThread)
			api.GET("/chat/threads", cfg.ChatHandler.ListThreads)
			api.GET("/chat/threads/:id", cfg.ChatHandler.GetThread)
			api.POST("/chat/threads/:id/messages", cfg.ChatHandler.SendMessage)
			api.POST("/chat/threads/:id/archive", cfg.ChatHandler.ArchiveThread)
		}

		// Search
		if cfg.SearchHandler != nil {
			api.POST("/search", cfg.SearchHandler.Search)
		}

		// Jobs
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.POST("/jobs/:id/restart", cfg.JobHandler.RestartJob)
		}
	}

	return r
}
