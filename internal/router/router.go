package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/handler"
	"github.com/traveltour/important-info-api/internal/middleware"
	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/service"
	"github.com/traveltour/important-info-api/pkg/config"
	"github.com/traveltour/important-info-api/pkg/logger"
	corsmiddleware "github.com/traveltour/important-info-api/pkg/middleware/cors"
	reqidmiddleware "github.com/traveltour/important-info-api/pkg/middleware/requestid"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config        *config.Config
	Logger        *zap.Logger
	Auth          *service.AuthService
	Metrics       *service.MetricsService
	Announcements *handler.AnnouncementHandler
	Notifications *handler.NotificationHandler
	Uploads       *handler.UploadHandler
	Events        *handler.EventsHandler
	Health        *handler.MetricsHandler
}

// New builds the gin engine with middleware and every route mounted.
func New(deps Deps) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", deps.Health.Health)
	r.GET("/metrics", deps.Health.Prometheus)

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Signed tokens carry their own authorization.
	r.GET("/files/:token", deps.Uploads.Download)

	api := r.Group(deps.Config.APIPrefix)
	api.Use(middleware.JWT(deps.Auth))
	{
		announcements := api.Group("/announcements")
		{
			announcements.POST("", middleware.RequireRoles(models.RoleAdmin), deps.Announcements.Create)
			announcements.GET("", middleware.RequireRoles(models.RoleAdmin), deps.Announcements.List)
			announcements.GET("/feed", deps.Announcements.Feed)
			announcements.GET("/unread-count", deps.Announcements.UnreadCount)
			announcements.GET("/:id", deps.Announcements.Get)
			announcements.POST("/:id/read", deps.Announcements.MarkRead)
			announcements.DELETE("/:id", deps.Announcements.Delete)
			announcements.DELETE("/:id/purge", middleware.RequireRoles(models.RoleAdmin), deps.Announcements.Purge)
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("", deps.Notifications.List)
			notifications.POST("/read-all", deps.Notifications.MarkAllRead)
			notifications.DELETE("", deps.Notifications.ClearAll)
		}

		api.POST("/uploads", deps.Uploads.Upload)
		api.GET("/events", deps.Events.Stream)
	}

	return r
}
