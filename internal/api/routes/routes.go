// Package routes assembles the operator API router.
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"applyflow/internal/api/handlers"
	"applyflow/internal/api/middleware"
	"applyflow/pkg/auth"
)

func SetupRoutes(h *handlers.Handler, a *auth.Authenticator, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORSMiddleware())

	v1 := router.Group("/api/v1")
	{
		// Public routes
		v1.GET("/health", h.HealthCheck)
		v1.POST("/auth/login", h.Login)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(a))
		{
			pipeline := protected.Group("/pipeline")
			{
				pipeline.GET("/status", h.GetStatus)
				pipeline.GET("/steps", h.GetSteps)
				pipeline.GET("/history", h.GetHistory)
				pipeline.POST("/start", h.Start)
				pipeline.POST("/pause", h.Pause)
				pipeline.POST("/resume", h.Resume)
				pipeline.POST("/restart", h.Restart)
				pipeline.POST("/skip", h.Skip)
			}

			// Browsers cannot set headers on websocket requests; the
			// token travels in the query string.
			protected.GET("/ws/messages", h.MessagesWebSocket)

			recordings := protected.Group("/recordings")
			{
				recordings.POST("", h.StartRecording)
				recordings.GET("/:id", h.GetRecording)
				recordings.DELETE("/:id", h.StopRecording)
				recordings.GET("/:id/ws", h.RecordingWebSocket)
			}
		}
	}

	return router
}
