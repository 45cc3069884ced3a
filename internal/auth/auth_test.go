package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocksmith/pkg/models"
)

func testUser() *models.User {
	return &models.User{
		ID:               42,
		Username:         "mia",
		Email:            "mia@example.com",
		SubscriptionTier: "pro",
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	svc := NewService("test-secret")

	hash, err := svc.HashPassword("s3cure-Passw0rd!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cure-Passw0rd!", hash)

	assert.NoError(t, svc.CheckPassword("s3cure-Passw0rd!", hash))
	assert.ErrorIs(t, svc.CheckPassword("wrong", hash), ErrInvalidCredentials)
}

func TestGenerateAndValidateTokens(t *testing.T) {
	svc := NewService("test-secret")

	pair, err := svc.GenerateTokens(testUser())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := svc.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "mia", claims.Username)
	assert.Equal(t, "pro", claims.Tier)
	assert.Equal(t, "mocksmith", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	pair, err := NewService("secret-a").GenerateTokens(testUser())
	require.NoError(t, err)

	_, err = NewService("secret-b").ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewService("test-secret")
	svc.tokenExpiry = -time.Minute

	pair, err := svc.GenerateTokens(testUser())
	require.NoError(t, err)

	_, err = svc.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshTokensRequiresRefreshKind(t *testing.T) {
	svc := NewService("test-secret")
	user := testUser()

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)

	// Access tokens must not be usable as refresh tokens.
	_, err = svc.RefreshTokens(pair.AccessToken, user)
	assert.Error(t, err)

	fresh, err := svc.RefreshTokens(pair.RefreshToken, user)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.AccessToken)

	// And not for a different user.
	other := testUser()
	other.ID = 7
	_, err = svc.RefreshTokens(pair.RefreshToken, other)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsUnsignedAlg(t *testing.T) {
	claims := &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewService("test-secret").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewUserDefaults(t *testing.T) {
	svc := NewService("test-secret")

	user, err := svc.NewUser(&RegisterRequest{
		Username: "kit",
		Email:    "Kit@Example.com",
		Password: "s3cure-Passw0rd!",
	})
	require.NoError(t, err)

	assert.Equal(t, "kit@example.com", user.Email)
	assert.Equal(t, "free", user.SubscriptionTier)
	assert.True(t, user.IsActive)
	assert.True(t, user.PlanningMode)
	assert.NoError(t, svc.CheckPassword("s3cure-Passw0rd!", user.PasswordHash))
}
