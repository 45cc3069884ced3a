package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mocksmith/internal/middleware"
	"mocksmith/internal/usage"
	"mocksmith/pkg/models"
)

// GetCurrentUsage returns the caller's usage snapshot against plan limits.
func (h *Handler) GetCurrentUsage(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	tier, _ := middleware.GetUserTier(c)
	snapshot, err := h.Tracker.GetCurrentUsage(c.Request.Context(), userID, usage.PlanType(tier))
	if err != nil {
		fail(c, http.StatusInternalServerError, "USAGE_UNAVAILABLE", "Failed to load usage")
		return
	}
	ok(c, snapshot)
}

// ListGenerations returns the caller's generation history, newest first.
func (h *Handler) ListGenerations(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	page, limit := pageParams(c)
	query := h.DB.Model(&models.GenerationRecord{}).Where("user_id = ?", userID)
	if projectID := c.Query("project_id"); projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list generations")
		return
	}

	var records []models.GenerationRecord
	if err := query.Order("created_at DESC").Scopes(paginate(page, limit)).Find(&records).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list generations")
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		StandardResponse: StandardResponse{Success: true, Data: records},
		Pagination:       paginationInfo(page, limit, total),
	})
}
