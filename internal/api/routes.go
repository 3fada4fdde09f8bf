// services/ess/internal/api/routes.go
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes.
func SetupRoutes(router *gin.Engine, handlers *APIHandlers, logger *logrus.Logger) {
	// Global middleware
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	router.Use(CORS())

	// Health check (public)
	router.GET("/health", handlers.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// Read-only surface for the presentation layer
		v1.GET("/session", handlers.SessionSummary)
		v1.GET("/state/:function", handlers.StateSnapshot)
		v1.GET("/events", handlers.EventLog)
		v1.GET("/records/charge", handlers.ChargeRecords)
		v1.GET("/records/discharge", handlers.DischargeRecords)
		v1.GET("/commands", handlers.Commands)
		v1.GET("/commands/history", handlers.CommandHistory)
		v1.GET("/commands/:index", handlers.CommandByIndex)

		// Command issuance
		v1.POST("/commands/power", handlers.PowerControl)
		v1.POST("/commands/power-adjust", handlers.PowerAdjust)
		v1.POST("/commands/rate-model", handlers.RateModel)
		v1.POST("/commands/soc-limit", handlers.SOCLimit)

		// Topic administration
		v1.POST("/topics/mode", handlers.SetTopicMode)
		v1.POST("/topics/override", handlers.SetTopicOverride)
	}
}
