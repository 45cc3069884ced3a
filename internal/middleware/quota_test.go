package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mocksmith/internal/usage"
	"mocksmith/pkg/models"
)

func newQuotaTestEnv(t *testing.T) (*QuotaChecker, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Project{}, &models.Screen{}))

	tracker := usage.NewTracker(db, nil)
	require.NoError(t, tracker.Migrate())
	return NewQuotaChecker(tracker), db
}

// asUser injects the context keys normally set by RequireAuth.
func asUser(userID uint, tier string, admin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("subscription_tier", tier)
		c.Set("is_admin", admin)
		c.Next()
	}
}

func TestProjectQuotaBlocksAtLimit(t *testing.T) {
	checker, db := newQuotaTestEnv(t)

	user := models.User{Username: "fay", Email: "fay@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Project{Name: "p", OwnerID: user.ID}).Error)
	}

	r := gin.New()
	r.POST("/projects", asUser(user.ID, "free", false), checker.CheckProjectQuota(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/projects", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "QUOTA_EXCEEDED")
	assert.Contains(t, w.Body.String(), `"usage_type":"projects"`)
	assert.Contains(t, w.Body.String(), `"next_plan":"starter"`)
}

func TestQuotaSkipsGetRequests(t *testing.T) {
	checker, db := newQuotaTestEnv(t)

	user := models.User{Username: "gil", Email: "gil@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Project{Name: "p", OwnerID: user.ID}).Error)
	}

	r := gin.New()
	r.GET("/projects", asUser(user.ID, "free", false), checker.CheckProjectQuota(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQuotaAdminBypass(t *testing.T) {
	checker, db := newQuotaTestEnv(t)

	user := models.User{Username: "hal", Email: "hal@example.com", PasswordHash: "x", IsAdmin: true}
	require.NoError(t, db.Create(&user).Error)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Project{Name: "p", OwnerID: user.ID}).Error)
	}

	r := gin.New()
	r.POST("/projects", asUser(user.ID, "free", true), checker.CheckProjectQuota(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/projects", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestGenerationQuotaAllowsUnderLimit(t *testing.T) {
	checker, db := newQuotaTestEnv(t)

	user := models.User{Username: "ivy", Email: "ivy@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	r := gin.New()
	r.POST("/chat", asUser(user.ID, "free", false), checker.CheckGenerationQuota(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQuotaResponseCarriesResetTime(t *testing.T) {
	checker, db := newQuotaTestEnv(t)

	user := models.User{Username: "jon", Email: "jon@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	project := models.Project{Name: "p", OwnerID: user.ID}
	require.NoError(t, db.Create(&project).Error)
	pid := project.ID
	for i := 0; i < 30; i++ {
		require.NoError(t, checker.tracker.RecordGeneration(
			context.Background(), user.ID, &pid, "claude-sonnet-4-5", 100, 0.01))
	}

	r := gin.New()
	r.POST("/chat", asUser(user.ID, "free", false), checker.CheckGenerationQuota(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "reset_time")
	assert.Contains(t, w.Body.String(), `"period":"monthly"`)
}

func TestFormatUsageValue(t *testing.T) {
	assert.Equal(t, "Unlimited", formatUsageValue(usage.UsageProjects, -1))
	assert.Equal(t, "3 projects", formatUsageValue(usage.UsageProjects, 3))
	assert.Equal(t, "50.0 MB", formatUsageValue(usage.UsageStorageBytes, 50*1024*1024))
	assert.Equal(t, "1.5 GB", formatUsageValue(usage.UsageStorageBytes, 1536*1024*1024))
	assert.Equal(t, "30 generations", formatUsageValue(usage.UsageGenerations, 30))
}
