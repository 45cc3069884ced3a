package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mocksmith/internal/middleware"
	"mocksmith/pkg/models"
)

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=120"`
	Description string `json:"description" binding:"max=2000"`
	IsPublic    bool   `json:"is_public"`
}

// CreateProject creates a new mockup project.
func (h *Handler) CreateProject(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	project := models.Project{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
		IsPublic:    req.IsPublic,
	}
	if err := h.DB.Create(&project).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create project")
		return
	}

	if err := h.Tracker.RecordProjectCreation(c.Request.Context(), userID, project.ID); err != nil {
		// Usage accounting failure must not undo the create.
		_ = err
	}

	created(c, project)
}

// ListProjects returns the caller's projects, newest first.
func (h *Handler) ListProjects(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	page, limit := pageParams(c)
	query := h.DB.Model(&models.Project{}).Where("owner_id = ?", userID)
	if c.Query("archived") == "" {
		query = query.Where("is_archived = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list projects")
		return
	}

	var projects []models.Project
	if err := query.Order("updated_at DESC").Scopes(paginate(page, limit)).Find(&projects).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list projects")
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		StandardResponse: StandardResponse{Success: true, Data: projects},
		Pagination:       paginationInfo(page, limit, total),
	})
}

// GetProject returns one project with its screens.
func (h *Handler) GetProject(c *gin.Context) {
	project, errored := h.ownedProject(c, true)
	if errored {
		return
	}
	ok(c, project)
}

// UpdateProject renames or re-describes a project.
func (h *Handler) UpdateProject(c *gin.Context) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		IsPublic    *bool   `json:"is_public"`
		IsArchived  *bool   `json:"is_archived"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != "" {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
	}
	if req.IsArchived != nil {
		updates["is_archived"] = *req.IsArchived
	}
	if len(updates) > 0 {
		if err := h.DB.Model(project).Updates(updates).Error; err != nil {
			fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update project")
			return
		}
	}
	ok(c, project)
}

// DeleteProject soft-deletes a project and returns its storage quota.
func (h *Handler) DeleteProject(c *gin.Context) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return
	}

	var reclaimed int64
	h.DB.Model(&models.Screen{}).Where("project_id = ?", project.ID).
		Select("COALESCE(SUM(size), 0)").Scan(&reclaimed)

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.Screen{}).Error; err != nil {
			return err
		}
		return tx.Delete(project).Error
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete project")
		return
	}

	if reclaimed > 0 {
		pid := project.ID
		_ = h.Tracker.RecordStorageChange(c.Request.Context(), project.OwnerID, &pid, -reclaimed)
	}

	ok(c, gin.H{"deleted": true, "reclaimed_bytes": reclaimed})
}

// ownedProject loads the :id project and enforces ownership. Public
// projects are readable by anyone when withScreens lookups come from
// GetProject.
func (h *Handler) ownedProject(c *gin.Context, withScreens bool) (*models.Project, bool) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, true
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PROJECT_ID", "Invalid project id")
		return nil, true
	}

	query := h.DB
	if withScreens {
		query = query.Preload("Screens", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		})
	}

	var project models.Project
	if err := query.First(&project, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found")
		} else {
			fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to load project")
		}
		return nil, true
	}

	if project.OwnerID != userID && !(withScreens && project.IsPublic) {
		fail(c, http.StatusForbidden, "ACCESS_DENIED", "You do not have access to this project")
		return nil, true
	}
	return &project, false
}
