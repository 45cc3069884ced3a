package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocksmith/internal/auth"
	"mocksmith/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(t *testing.T) (*gin.Engine, *auth.Service, *models.User) {
	t.Helper()
	svc := auth.NewService("test-secret")
	user := &models.User{
		ID:               9,
		Username:         "ren",
		Email:            "ren@example.com",
		SubscriptionTier: "starter",
	}

	r := gin.New()
	r.GET("/protected", RequireAuth(svc), func(c *gin.Context) {
		userID, _ := GetUserID(c)
		tier, _ := GetUserTier(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "tier": tier})
	})
	r.GET("/admin", RequireAuth(svc), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/open", OptionalAuth(svc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"authed": IsAuthenticated(c)})
	})
	return r, svc, user
}

func bearerRequest(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	r, svc, user := newAuthRouter(t)

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/protected", pair.AccessToken))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":9`)
	assert.Contains(t, w.Body.String(), `"tier":"starter"`)
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	r, _, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/protected", ""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_HEADER_MISSING")
}

func TestRequireAuthRejectsMalformedHeader(t *testing.T) {
	r, _, _ := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_AUTH_HEADER")
}

func TestRequireAuthRejectsGarbageToken(t *testing.T) {
	r, _, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/protected", "not-a-jwt"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r, svc, user := newAuthRouter(t)

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/admin", pair.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "ADMIN_REQUIRED")

	user.IsAdmin = true
	pair, err = svc.GenerateTokens(user)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/admin", pair.AccessToken))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	r, svc, user := newAuthRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/open", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authed":false`)

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, bearerRequest("/open", pair.AccessToken))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authed":true`)
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)

	r := gin.New()
	r.GET("/ping", RateLimit(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// A different IP still has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
