package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/eduvault/backend/internal/logger"
	"github.com/eduvault/backend/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig holds what the router needs besides the handlers
type RouterConfig struct {
	AllowedOrigins []string
	RequestsPerSec float64
	RequestBurst   int
	Gatherer       prometheus.Gatherer
	// Ping reports whether the database is reachable; nil skips the check
	Ping func(ctx context.Context) error
}

// NewRouter creates the engine with global middleware, health and metrics
// routes. The returned limiter must be stopped on shutdown.
func NewRouter(cfg RouterConfig, log *zap.Logger) (*gin.Engine, *middleware.RateLimiter) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig()))

	router.GET("/healthz", healthHandler(cfg.Ping))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	limiter := middleware.NewRateLimiter(cfg.RequestsPerSec, cfg.RequestBurst)
	return router, limiter
}

func healthHandler(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
