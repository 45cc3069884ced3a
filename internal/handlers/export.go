package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mocksmith/internal/metrics"
	"mocksmith/pkg/models"
)

// CreateExport builds a Figma bundle from the project's screens. The
// route sits behind the Figma export quota middleware.
func (h *Handler) CreateExport(c *gin.Context) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return
	}

	var screens []models.Screen
	if err := h.DB.Where("project_id = ?", project.ID).
		Order("position ASC, id ASC").Find(&screens).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to load screens")
		return
	}
	if len(screens) == 0 {
		fail(c, http.StatusBadRequest, "NO_SCREENS", "This project has no screens to export")
		return
	}

	start := time.Now()
	result, err := h.Exporter.Export(c.Request.Context(), project, screens)
	metrics.Get().ExportDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Get().ExportsTotal.WithLabelValues("error").Inc()
		fail(c, http.StatusInternalServerError, "EXPORT_FAILED", "Failed to build export bundle")
		return
	}
	metrics.Get().ExportsTotal.WithLabelValues("success").Inc()

	record := models.FigmaExport{
		ExportID:    result.ExportID,
		ProjectID:   project.ID,
		UserID:      project.OwnerID,
		ScreenCount: result.ScreenCount,
		SizeBytes:   result.SizeBytes,
		StorageKey:  result.StorageKey,
		DownloadURL: result.DownloadURL,
		Status:      "completed",
	}
	if err := h.DB.Create(&record).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to record export")
		return
	}

	_ = h.Tracker.RecordFigmaExport(c.Request.Context(), project.OwnerID, project.ID)
	created(c, record)
}

// DownloadExport streams a stored export bundle. Local storage presigns
// download URLs onto this route; S3 presigns straight to the bucket, so
// S3-backed exports never hit it.
func (h *Handler) DownloadExport(c *gin.Context) {
	userID := mustUserID(c)
	key := strings.TrimPrefix(c.Param("key"), "/")

	var record models.FigmaExport
	if err := h.DB.Where("storage_key = ? AND user_id = ?", key, userID).First(&record).Error; err != nil {
		fail(c, http.StatusNotFound, "EXPORT_NOT_FOUND", "Export not found")
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.ExportID+".zip"))
	if err := h.Exporter.Download(c.Request.Context(), record.StorageKey, c.Writer); err != nil {
		fail(c, http.StatusInternalServerError, "DOWNLOAD_FAILED", "Failed to read export bundle")
		return
	}
}

// ListExports returns the project's export history.
func (h *Handler) ListExports(c *gin.Context) {
	project, errored := h.ownedProject(c, false)
	if errored {
		return
	}

	var exports []models.FigmaExport
	if err := h.DB.Where("project_id = ?", project.ID).
		Order("created_at DESC").Limit(50).Find(&exports).Error; err != nil {
		fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list exports")
		return
	}
	ok(c, exports)
}
