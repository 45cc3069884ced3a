package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mocksmith/pkg/models"
)

// ListScreens returns the project's screens in display order.
func (h *Handler) ListScreens(c *gin.Context) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return
	}

	var screens []models.Screen
	if err := h.DB.Where("project_id = ?", project.ID).
		Order("position ASC, id ASC").Find(&screens).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list screens")
		return
	}
	ok(c, screens)
}

// GetScreen returns one screen's metadata and content.
func (h *Handler) GetScreen(c *gin.Context) {
	screen, errored := h.projectScreen(c)
	if errored {
		return
	}
	ok(c, screen)
}

// RenderScreen serves the screen's HTML document for iframe preview.
func (h *Handler) RenderScreen(c *gin.Context) {
	screen, errored := h.projectScreen(c)
	if errored {
		return
	}
	c.Header("Content-Security-Policy", "sandbox allow-scripts; default-src 'unsafe-inline' data:")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(screen.Content))
}

// DeleteScreen removes one screen and returns its bytes to the quota.
func (h *Handler) DeleteScreen(c *gin.Context) {
	screen, errored := h.projectScreen(c)
	if errored {
		return
	}

	if err := h.DB.Delete(screen).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete screen")
		return
	}

	if screen.Size > 0 {
		pid := screen.ProjectID
		_ = h.Tracker.RecordStorageChange(c.Request.Context(), mustUserID(c), &pid, -screen.Size)
	}
	ok(c, gin.H{"deleted": true})
}

// ReorderScreens sets the display positions for a project's screens.
func (h *Handler) ReorderScreens(c *gin.Context) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return
	}

	var req struct {
		ScreenIDs []uint `json:"screen_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "screen_ids is required")
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		for i, screenID := range req.ScreenIDs {
			result := tx.Model(&models.Screen{}).
				Where("id = ? AND project_id = ?", screenID, project.ID).
				Update("position", i)
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to reorder screens")
		return
	}
	ok(c, gin.H{"reordered": len(req.ScreenIDs)})
}

// projectScreen loads the :screen_id screen after the ownership check on
// the :id project.
func (h *Handler) projectScreen(c *gin.Context) (*models.Screen, bool) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return nil, true
	}

	screenID, err := strconv.ParseUint(c.Param("screen_id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_SCREEN_ID", "Invalid screen id")
		return nil, true
	}

	var screen models.Screen
	if err := h.DB.Where("project_id = ?", project.ID).First(&screen, uint(screenID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "SCREEN_NOT_FOUND", "Screen not found")
		} else {
			fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to load screen")
		}
		return nil, true
	}
	return &screen, false
}
