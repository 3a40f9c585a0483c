package routes

import (
	"github.com/eduvault/backend/internal/handlers"
	"github.com/eduvault/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// SetupFeeRoutes sets up fee payment routes
func SetupFeeRoutes(router *gin.Engine, feeHandler *handlers.FeeHandler, limiter *middleware.RateLimiter, jwtSecret string) {
	fees := router.Group("/fees")
	fees.Use(limiter.Middleware())
	{
		fees.POST("/create-intent", feeHandler.CreateIntent)
		fees.POST("/verify", feeHandler.Verify)

		// Student records
		fees.GET("/history/:studentId",
			middleware.AuthMiddleware(jwtSecret),
			middleware.StudentParamMiddleware("studentId"),
			feeHandler.History,
		)
		fees.GET("/receipts/:reference", middleware.AuthMiddleware(jwtSecret), feeHandler.Receipt)
		fees.GET("/receipts/:reference/document", feeHandler.ReceiptDocument)
	}
}
