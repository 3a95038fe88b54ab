package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/handlers"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/services"
	"github.com/phonginreallife/inres-oncall/store"
)

// Dependencies are the pieces the HTTP surface is built from.
type Dependencies struct {
	Store      store.Store
	Authorizer authz.Authorizer
	Directory  *services.DirectoryService
	// Bot is nil when the webhook route should not be mounted.
	Bot *handlers.BotHandler
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	JWTSecret     string
	WebhookSecret string
	Logger        *zap.Logger
}

func NewGinRouter(deps Dependencies) *gin.Engine {
	logger := observability.OrNop(deps.Logger)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	// CORS for the status dashboard
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// PUBLIC ENDPOINTS

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if deps.Bot != nil {
		webhookHandler := handlers.NewWebhookHandler(deps.WebhookSecret, deps.Bot, logger)
		r.POST("/telegram/webhook/:secret", webhookHandler.Receive)
	}

	// PROTECTED ENDPOINTS (admins and leads with a bearer token)

	auth := handlers.NewAuthMiddleware(deps.JWTSecret, deps.Store, deps.Authorizer, logger)
	apiHandler := handlers.NewAPIHandler(deps.Directory)

	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireStaff())
	{
		v1.GET("/incidents/:id", apiHandler.GetIncident)

		teamRoutes := v1.Group("/teams/:team")
		{
			teamRoutes.GET("/roster", apiHandler.GetTeamRoster)
			teamRoutes.GET("/roster/today", apiHandler.GetTodayRoster)
		}
	}

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
