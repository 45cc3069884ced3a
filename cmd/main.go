// Mocksmith API server: chat-driven app mockup generation with a
// model-fallback pipeline, tiered quotas, and Figma export.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mocksmith/internal/ai"
	"mocksmith/internal/auth"
	"mocksmith/internal/cache"
	"mocksmith/internal/config"
	"mocksmith/internal/db"
	"mocksmith/internal/export"
	"mocksmith/internal/generation"
	"mocksmith/internal/handlers"
	"mocksmith/internal/logging"
	"mocksmith/internal/metrics"
	"mocksmith/internal/middleware"
	"mocksmith/internal/payments"
	"mocksmith/internal/storage"
	"mocksmith/internal/usage"
	"mocksmith/internal/websocket"
)

// progressPublisher fans pipeline events to websocket clients and the
// metrics counters.
type progressPublisher struct {
	hub *websocket.Hub
}

func (p progressPublisher) Publish(userID uint, event generation.Event) {
	metrics.Get().RecordPipelineEvent(event.Type, event.Model, event.Provider)
	p.hub.Publish(userID, event)
}

func main() {
	// No .env file is fine in containerized deploys.
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()
	logger := logging.L()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.NewDatabase(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		TimeZone: cfg.Database.TimeZone,
	})
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer database.Close()

	if err := database.SeedAdminUser(); err != nil {
		logger.Warn("admin seeding failed", zap.Error(err))
	}

	var redisClient *db.RedisClient
	var appCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisClient, err = db.NewRedisClient(db.RedisConfigFromEnv())
		if err != nil {
			logger.Warn("redis unavailable, using in-memory cache only", zap.Error(err))
			appCache = cache.NewRedisCache(nil)
		} else {
			defer redisClient.Close()
			appCache = cache.NewRedisCache(redisClient)
		}
	} else {
		appCache = cache.NewRedisCache(nil)
	}

	tracker := usage.NewTracker(database.DB, appCache)
	if err := tracker.Migrate(); err != nil {
		logger.Fatal("usage schema migration failed", zap.Error(err))
	}

	authService := auth.NewService(cfg.JWTSecret)
	stripeService := payments.NewStripeService(cfg.Stripe.SecretKey)

	store := buildStorage(cfg, logger)
	exporter := export.NewExporter(store)

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	registry := ai.NewRegistry(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	chain := generation.NewChain(cfg.Generation.Chain)
	pipeline := generation.NewPipeline(
		chain,
		registry,
		cfg.Generation.PlanningModel,
		ai.Provider(cfg.Generation.PlanningProvider),
		cfg.Generation.RetryBackoff,
		generation.WithPublisher(progressPublisher{hub: hub}),
	)

	handler := handlers.NewHandler(database.DB, authService, pipeline, tracker,
		stripeService, exporter, cfg.Generation.RequestTimeout)

	router := buildRouter(cfg, handler, authService, tracker, hub, database, redisClient)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("mocksmith listening",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.Int("chain_entries", len(cfg.Generation.Chain)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

func buildStorage(cfg *config.Config, logger *zap.Logger) storage.Provider {
	if cfg.AWS.Bucket != "" {
		s3Store, err := storage.NewS3Storage(context.Background(), storage.S3Config{
			Region:          cfg.AWS.Region,
			Bucket:          cfg.AWS.Bucket,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
		if err == nil {
			return s3Store
		}
		logger.Warn("s3 storage unavailable, falling back to local disk", zap.Error(err))
	}

	localStore, err := storage.NewLocalStorage(os.Getenv("EXPORT_DIR"))
	if err != nil {
		logger.Fatal("export storage unavailable", zap.Error(err))
	}
	return localStore
}

func buildRouter(cfg *config.Config, h *handlers.Handler, authService *auth.Service, tracker *usage.Tracker, hub *websocket.Hub, database *db.Database, redisClient *db.RedisClient) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.CORS(),
		middleware.Security(),
		metrics.PrometheusMiddleware(),
	)

	apiLimiter := middleware.NewIPRateLimiter(rate.Limit(20), 40)
	authLimiter := middleware.NewIPRateLimiter(rate.Limit(1), 5)
	quotas := middleware.NewQuotaChecker(tracker)

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "database": "ok"}
		code := http.StatusOK
		if err := database.Health(); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = redisClient.Health(c.Request.Context())
		}
		c.JSON(code, status)
	})
	router.GET("/metrics", metrics.PrometheusHandler())

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(apiLimiter))
	v1.Use(middleware.Timeout(cfg.Generation.RequestTimeout + 10*time.Second))

	// Public routes
	v1.POST("/auth/register", middleware.AuthRateLimit(authLimiter), h.Register)
	v1.POST("/auth/login", middleware.AuthRateLimit(authLimiter), h.Login)
	v1.POST("/auth/refresh", h.RefreshToken)
	v1.GET("/billing/plans", h.GetPlans)
	v1.POST("/webhooks/stripe", h.StripeWebhook)

	// Authenticated routes
	authed := v1.Group("/")
	authed.Use(middleware.RequireAuth(authService))
	{
		authed.GET("/auth/me", h.GetProfile)
		authed.PATCH("/auth/preferences", h.UpdatePreferences)

		authed.POST("/chat", quotas.CheckGenerationQuota(), h.Chat)

		authed.GET("/projects", h.ListProjects)
		authed.POST("/projects", quotas.CheckProjectQuota(), h.CreateProject)
		authed.GET("/projects/:id", h.GetProject)
		authed.PATCH("/projects/:id", h.UpdateProject)
		authed.DELETE("/projects/:id", h.DeleteProject)

		authed.GET("/projects/:id/screens", h.ListScreens)
		authed.PUT("/projects/:id/screens/order", h.ReorderScreens)
		authed.GET("/projects/:id/screens/:screen_id", h.GetScreen)
		authed.GET("/projects/:id/screens/:screen_id/render", h.RenderScreen)
		authed.DELETE("/projects/:id/screens/:screen_id", h.DeleteScreen)

		authed.POST("/projects/:id/exports", quotas.CheckFigmaExportQuota(), h.CreateExport)
		authed.GET("/projects/:id/exports", h.ListExports)
		authed.GET("/exports/download/*key", h.DownloadExport)

		authed.POST("/billing/checkout", h.CreateCheckoutSession)
		authed.POST("/billing/portal", h.CreateBillingPortal)
		authed.GET("/billing/subscription", h.GetSubscription)
		authed.PATCH("/billing/subscription", h.ChangeSubscriptionPlan)
		authed.DELETE("/billing/subscription", h.CancelSubscription)
		authed.POST("/billing/subscription/reactivate", h.ReactivateSubscription)
		authed.GET("/billing/invoices", h.ListInvoices)

		authed.GET("/usage", h.GetCurrentUsage)
		authed.GET("/generations", h.ListGenerations)

		authed.GET("/ws", hub.HandleWebSocket)
	}

	return router
}
