package main

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mocksmith/internal/auth"
	"mocksmith/internal/cache"
	"mocksmith/internal/config"
	"mocksmith/internal/handlers"
	"mocksmith/internal/payments"
	"mocksmith/internal/usage"
	"mocksmith/internal/websocket"
	"mocksmith/pkg/models"
)

// TestRouterRegistersAPIRoutes pins the API surface: every handler the
// frontend calls must be reachable, billing and export downloads included.
func TestRouterRegistersAPIRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.User{}))

	tracker := usage.NewTracker(gdb, cache.NewRedisCache(nil))
	require.NoError(t, tracker.Migrate())

	authService := auth.NewService("test-secret")
	h := handlers.NewHandler(gdb, authService, nil, tracker,
		payments.NewStripeService(""), nil, time.Minute)

	cfg := &config.Config{}
	cfg.Generation.RequestTimeout = time.Minute

	router := buildRouter(cfg, h, authService, tracker, websocket.NewHub(), nil, nil)

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"POST /api/v1/auth/register",
		"POST /api/v1/auth/login",
		"POST /api/v1/chat",
		"POST /api/v1/projects",
		"POST /api/v1/projects/:id/exports",
		"GET /api/v1/exports/download/*key",
		"GET /api/v1/billing/plans",
		"POST /api/v1/billing/checkout",
		"POST /api/v1/billing/portal",
		"GET /api/v1/billing/subscription",
		"PATCH /api/v1/billing/subscription",
		"DELETE /api/v1/billing/subscription",
		"POST /api/v1/billing/subscription/reactivate",
		"GET /api/v1/billing/invoices",
		"POST /api/v1/webhooks/stripe",
		"GET /api/v1/usage",
	}
	for _, route := range want {
		assert.True(t, registered[route], "missing route %s", route)
	}
}
