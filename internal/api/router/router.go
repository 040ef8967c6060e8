package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthCheck(deps.Health))

	jobHandler := handler.NewJobHandler(deps)
	accountHandler := handler.NewAccountHandler(deps)
	mediaHandler := handler.NewMediaHandler(deps)

	// Public media URLs fetched by the upstream platform
	r.GET("/media/*key", mediaHandler.GetMedia)
	r.HEAD("/media/*key", mediaHandler.GetMedia)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Schedule a single video
			jobs.POST("", jobHandler.CreateJob)

			// POST /api/v1/jobs/bulk - Schedule videos over the daily slots
			jobs.POST("/bulk", jobHandler.CreateBulkJobs)

			// GET /api/v1/jobs - List jobs by scheduled time
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		// GET /api/v1/accounts - Accounts available for publishing
		v1.GET("/accounts", accountHandler.ListAccounts)
	}

	return r
}

func healthCheck(checker handler.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			if err := checker.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "reels-api-service",
					"error":   "database unreachable",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "reels-api-service",
		})
	}
}
