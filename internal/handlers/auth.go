package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mocksmith/internal/auth"
	"mocksmith/internal/middleware"
	"mocksmith/pkg/models"
)

// Register handles user registration.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	var existing models.User
	if err := h.DB.Where("email = ? OR username = ?", req.Email, req.Username).First(&existing).Error; err == nil {
		fail(c, http.StatusConflict, "USER_EXISTS", "User with this email or username already exists")
		return
	}

	user, err := h.Auth.NewUser(&req)
	if err != nil {
		fail(c, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}
	if err := h.DB.Create(user).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create user")
		return
	}

	tokens, err := h.Auth.GenerateTokens(user)
	if err != nil {
		fail(c, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate authentication tokens")
		return
	}

	created(c, gin.H{"user": publicUser(user), "tokens": tokens})
}

// Login handles user authentication.
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if !user.IsActive {
		fail(c, http.StatusForbidden, "ACCOUNT_DISABLED", "This account has been disabled")
		return
	}
	if err := h.Auth.CheckPassword(req.Password, user.PasswordHash); err != nil {
		fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	tokens, err := h.Auth.GenerateTokens(&user)
	if err != nil {
		fail(c, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate authentication tokens")
		return
	}

	ok(c, gin.H{"user": publicUser(&user), "tokens": tokens})
}

// RefreshToken exchanges a refresh token for a new token pair.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "refresh_token is required")
		return
	}

	claims, err := h.Auth.ValidateToken(req.RefreshToken)
	if err != nil {
		fail(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}

	var user models.User
	if err := h.DB.First(&user, claims.UserID).Error; err != nil {
		fail(c, http.StatusUnauthorized, "USER_NOT_FOUND", "User no longer exists")
		return
	}

	tokens, err := h.Auth.RefreshTokens(req.RefreshToken, &user)
	if err != nil {
		fail(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}

	ok(c, gin.H{"tokens": tokens})
}

// GetProfile returns the authenticated user's profile.
func (h *Handler) GetProfile(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}
	ok(c, publicUser(user))
}

// UpdatePreferences updates model and planning preferences.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}

	var req struct {
		PreferredModel *string `json:"preferred_model"`
		PlanningMode   *bool   `json:"planning_mode"`
		FullName       *string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	updates := map[string]interface{}{}
	if req.PreferredModel != nil {
		updates["preferred_model"] = *req.PreferredModel
	}
	if req.PlanningMode != nil {
		updates["planning_mode"] = *req.PlanningMode
	}
	if req.FullName != nil {
		updates["full_name"] = *req.FullName
	}
	if len(updates) == 0 {
		ok(c, publicUser(user))
		return
	}

	if err := h.DB.Model(user).Updates(updates).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update preferences")
		return
	}
	ok(c, publicUser(user))
}

// currentUser loads the authenticated user, writing the error response
// itself on failure.
func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, true
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusUnauthorized, "USER_NOT_FOUND", "User no longer exists")
		} else {
			fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to load user")
		}
		return nil, true
	}
	return &user, false
}

func publicUser(user *models.User) gin.H {
	return gin.H{
		"id":                user.ID,
		"username":          user.Username,
		"email":             user.Email,
		"full_name":         user.FullName,
		"avatar_url":        user.AvatarURL,
		"subscription_tier": user.SubscriptionTier,
		"preferred_model":   user.PreferredModel,
		"planning_mode":     user.PlanningMode,
		"is_verified":       user.IsVerified,
		"created_at":        user.CreatedAt,
	}
}
