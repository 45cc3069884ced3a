// REST API handlers. Every response uses the StandardResponse envelope;
// list endpoints add pagination metadata.

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mocksmith/internal/auth"
	"mocksmith/internal/export"
	"mocksmith/internal/generation"
	"mocksmith/internal/middleware"
	"mocksmith/internal/payments"
	"mocksmith/internal/usage"
)

// Handler contains all the dependencies for API handlers.
type Handler struct {
	DB       *gorm.DB
	Auth     *auth.Service
	Pipeline *generation.Pipeline
	Tracker  *usage.Tracker
	Stripe   *payments.StripeService
	Exporter *export.Exporter

	// RequestTimeout bounds one chat generation end to end.
	RequestTimeout time.Duration
}

// NewHandler creates a new handler instance.
func NewHandler(db *gorm.DB, authService *auth.Service, pipeline *generation.Pipeline, tracker *usage.Tracker, stripeService *payments.StripeService, exporter *export.Exporter, requestTimeout time.Duration) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 120 * time.Second
	}
	return &Handler{
		DB:             db,
		Auth:           authService,
		Pipeline:       pipeline,
		Tracker:        tracker,
		Stripe:         stripeService,
		Exporter:       exporter,
		RequestTimeout: requestTimeout,
	}
}

// StandardResponse represents a standard API response.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PaginatedResponse represents a paginated API response.
type PaginatedResponse struct {
	StandardResponse
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata.
type PaginationInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, StandardResponse{Success: false, Error: message, Code: code})
}

// pageParams reads ?page and ?limit with sane bounds.
func pageParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// paginate is a GORM scope applying page/limit offsets.
func paginate(page, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}

// mustUserID reads the authenticated user id; routes using it always
// sit behind RequireAuth.
func mustUserID(c *gin.Context) uint {
	userID, _ := middleware.GetUserID(c)
	return userID
}

func paginationInfo(page, limit int, total int64) *PaginationInfo {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &PaginationInfo{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
