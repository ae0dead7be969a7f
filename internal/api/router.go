package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/gifengine/internal/api/handler"
	"github.com/timmy/gifengine/internal/api/middleware"
	"github.com/timmy/gifengine/internal/config"
	"github.com/timmy/gifengine/internal/logger"
)

// Handlers groups the services the router exposes.
type Handlers struct {
	Searcher handler.Searcher
	Stats    handler.StatsProvider
	Ingester handler.Ingester
	Liveness handler.LivenessScheduler
	DB       handler.Pinger
	Registry *prometheus.Registry
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h *Handlers, serverCfg *config.ServerConfig) *gin.Engine {
	switch serverCfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(h.Logger))
	r.Use(middleware.CORS(serverCfg.CORS))

	healthHandler := handler.NewHealthHandler(h.DB)
	searchHandler := handler.NewSearchHandler(h.Searcher, h.Stats)
	ingestHandler := handler.NewIngestHandler(h.Ingester)
	adminHandler := handler.NewAdminHandler(h.Liveness)

	r.GET("/health", healthHandler.Health)
	if h.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", searchHandler.Search)
		v1.GET("/search", searchHandler.SearchGet)

		v1.POST("/ingest", ingestHandler.Ingest)

		v1.GET("/stats", searchHandler.GetStats)

		admin := v1.Group("/admin")
		{
			admin.POST("/liveness", adminHandler.TriggerLiveness)
			admin.GET("/liveness", adminHandler.GetLivenessStatus)
		}
	}

	return r
}
