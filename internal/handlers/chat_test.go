package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mocksmith/internal/ai"
	"mocksmith/internal/auth"
	"mocksmith/internal/export"
	"mocksmith/internal/generation"
	"mocksmith/internal/payments"
	"mocksmith/internal/storage"
	"mocksmith/internal/usage"
	"mocksmith/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeClient scripts responses per call.
type fakeClient struct {
	provider ai.Provider
	generate func(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error)
	calls    int
}

func (f *fakeClient) Generate(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
	f.calls++
	return f.generate(ctx, params)
}

func (f *fakeClient) Provider() ai.Provider { return f.provider }

func (f *fakeClient) Health(ctx context.Context) error { return nil }

func (f *fakeClient) Stats() *ai.ProviderStats { return &ai.ProviderStats{Provider: f.provider} }

type testEnv struct {
	handler *Handler
	db      *gorm.DB
	user    *models.User
	client  *fakeClient
	router  *gin.Engine
}

func newTestEnv(t *testing.T, generate func(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error)) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Screen{},
		&models.GenerationRecord{}, &models.FigmaExport{},
	))

	tracker := usage.NewTracker(db, nil)
	require.NoError(t, tracker.Migrate())

	client := &fakeClient{provider: ai.ProviderAnthropic, generate: generate}
	registry := ai.NewRegistryWithClients(map[ai.Provider]ai.Client{
		ai.ProviderAnthropic: client,
	})
	chain := generation.NewChainFromEntries(
		generation.FallbackEntry{Model: "claude-sonnet-4-5", Provider: ai.ProviderAnthropic, MaxRetries: 1},
	)
	pipeline := generation.NewPipeline(chain, registry, "claude-haiku-4-5", ai.ProviderAnthropic, time.Millisecond,
		generation.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	handler := NewHandler(db, auth.NewService("test-secret"), pipeline, tracker,
		payments.NewStripeService(""), export.NewExporter(store), 5*time.Second)

	user := &models.User{Username: "nia", Email: "nia@example.com", PasswordHash: "x", PlanningMode: false}
	require.NoError(t, db.Create(user).Error)

	env := &testEnv{handler: handler, db: db, user: user, client: client}
	env.router = env.newRouter()
	return env
}

// newRouter wires routes behind a stub auth middleware for the test user.
func (e *testEnv) newRouter() *gin.Engine {
	r := gin.New()
	authed := r.Group("/", func(c *gin.Context) {
		c.Set("user_id", e.user.ID)
		c.Set("subscription_tier", e.user.SubscriptionTier)
		c.Set("is_admin", e.user.IsAdmin)
		c.Next()
	})
	authed.POST("/chat", e.handler.Chat)
	authed.POST("/projects", e.handler.CreateProject)
	authed.GET("/projects", e.handler.ListProjects)
	authed.GET("/projects/:id", e.handler.GetProject)
	authed.DELETE("/projects/:id", e.handler.DeleteProject)
	authed.POST("/projects/:id/exports", e.handler.CreateExport)
	authed.GET("/api/v1/exports/download/*key", e.handler.DownloadExport)
	authed.GET("/billing/plans", e.handler.GetPlans)
	authed.POST("/billing/checkout", e.handler.CreateCheckoutSession)
	authed.POST("/billing/portal", e.handler.CreateBillingPortal)
	authed.GET("/billing/subscription", e.handler.GetSubscription)
	authed.PATCH("/billing/subscription", e.handler.ChangeSubscriptionPlan)
	authed.DELETE("/billing/subscription", e.handler.CancelSubscription)
	authed.POST("/billing/subscription/reactivate", e.handler.ReactivateSubscription)
	authed.GET("/billing/invoices", e.handler.ListInvoices)
	return r
}

func (e *testEnv) request(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func buildResponse(text string) func(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
	return func(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
		return &ai.GenerateResult{
			Text:         text,
			Usage:        ai.Usage{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
			FinishReason: "stop",
		}, nil
	}
}

func TestChatDiscussReturnsText(t *testing.T) {
	env := newTestEnv(t, buildResponse("You could add a checkout flow."))

	w := env.post(t, "/chat", gin.H{"message": "what should my shop app have?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool         `json:"success"`
		Data    ChatResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "You could add a checkout flow.", resp.Data.Text)
	assert.Equal(t, "claude-sonnet-4-5", resp.Data.Model)
	assert.Equal(t, 300, resp.Data.Usage.TotalTokens)
	assert.NotEmpty(t, resp.Data.RequestID)
	assert.Empty(t, resp.Data.Screens)
}

func TestChatBuildPersistsScreens(t *testing.T) {
	builderOutput := "Here is your home screen.\n\n" +
		"```html screen:Home\n<html><body><h1>Shop</h1></body></html>\n```\n"
	env := newTestEnv(t, buildResponse(builderOutput))

	project := models.Project{Name: "shop", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)

	w := env.post(t, "/chat", gin.H{
		"project_id": project.ID,
		"message":    "make me a shop app",
		"mode":       "build",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data ChatResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Screens, 1)
	assert.Equal(t, "Home", resp.Data.Screens[0].Name)
	assert.Equal(t, "screens/home.html", resp.Data.Screens[0].Path)
	assert.NotContains(t, resp.Data.Text, "<html>")

	var stored models.Screen
	require.NoError(t, env.db.Where("project_id = ?", project.ID).First(&stored).Error)
	assert.Equal(t, "<html><body><h1>Shop</h1></body></html>", stored.Content)
	assert.Equal(t, 1, stored.Version)

	var record models.GenerationRecord
	require.NoError(t, env.db.Where("user_id = ?", env.user.ID).First(&record).Error)
	assert.Equal(t, "completed", record.Status)
	assert.Equal(t, 300, record.TotalTokens)

	var reloaded models.Project
	require.NoError(t, env.db.First(&reloaded, project.ID).Error)
	require.Len(t, reloaded.History, 2)
	assert.Equal(t, "user", reloaded.History[0].Role)
	assert.Equal(t, "assistant", reloaded.History[1].Role)
}

func TestChatRegeneratingScreenBumpsVersion(t *testing.T) {
	builderOutput := "```html screen:Home\n<html><body>v2</body></html>\n```"
	env := newTestEnv(t, buildResponse(builderOutput))

	project := models.Project{Name: "shop", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)
	require.NoError(t, env.db.Create(&models.Screen{
		ProjectID: project.ID, Name: "Home", Path: "screens/home.html",
		Content: "<html>v1</html>", Size: 14,
	}).Error)

	w := env.post(t, "/chat", gin.H{
		"project_id": project.ID,
		"message":    "restyle the home screen",
		"mode":       "build",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var screens []models.Screen
	require.NoError(t, env.db.Where("project_id = ?", project.ID).Find(&screens).Error)
	require.Len(t, screens, 1, "regeneration must replace, not duplicate")
	assert.Equal(t, 2, screens[0].Version)
	assert.Contains(t, screens[0].Content, "v2")
}

func TestChatExhaustedChainMaps502(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
		return nil, &ai.ProviderError{
			Provider: ai.ProviderAnthropic, Model: params.Model,
			Kind: ai.ErrOverloaded, StatusCode: 529, Message: "overloaded",
		}
	})

	w := env.post(t, "/chat", gin.H{"message": "make me an app", "mode": "build"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "MODELS_EXHAUSTED")

	var record models.GenerationRecord
	require.NoError(t, env.db.Where("user_id = ?", env.user.ID).First(&record).Error)
	assert.Equal(t, "failed", record.Status)
	assert.NotEmpty(t, record.ErrorMsg)
}

func TestChatFatalProviderErrorMaps400(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, params *ai.GenerateParams) (*ai.GenerateResult, error) {
		return nil, &ai.ProviderError{
			Provider: ai.ProviderAnthropic, Model: params.Model,
			Kind: ai.ErrBadRequest, StatusCode: 400, Message: "prompt too long",
		}
	})

	w := env.post(t, "/chat", gin.H{"message": "make me an app", "mode": "build"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_GENERATION_REQUEST")
	assert.Equal(t, 1, env.client.calls, "fatal errors must not be retried")
}

func TestChatRejectsUnknownMode(t *testing.T) {
	env := newTestEnv(t, buildResponse("ok"))

	w := env.post(t, "/chat", gin.H{"message": "hello", "mode": "paint"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_MODE")
}

func TestChatForeignProjectForbidden(t *testing.T) {
	env := newTestEnv(t, buildResponse("ok"))

	other := models.User{Username: "sam", Email: "sam@example.com", PasswordHash: "x"}
	require.NoError(t, env.db.Create(&other).Error)
	project := models.Project{Name: "theirs", OwnerID: other.ID}
	require.NoError(t, env.db.Create(&project).Error)

	w := env.post(t, "/chat", gin.H{"project_id": project.ID, "message": "steal this"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
