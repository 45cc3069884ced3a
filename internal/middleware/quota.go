// Quota enforcement middleware. Returns 429 with upgrade information
// when a plan limit is reached.

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mocksmith/internal/metrics"
	"mocksmith/internal/usage"
)

// QuotaExceededResponse represents the response when quota is exceeded
type QuotaExceededResponse struct {
	Error      string                 `json:"error"`
	Code       string                 `json:"code"`
	UsageType  string                 `json:"usage_type"`
	Current    int64                  `json:"current"`
	Limit      int64                  `json:"limit"`
	Plan       string                 `json:"plan"`
	UpgradeURL string                 `json:"upgrade_url"`
	UpgradeMsg string                 `json:"upgrade_message"`
	NextPlan   string                 `json:"next_plan,omitempty"`
	NextLimit  int64                  `json:"next_limit,omitempty"`
	ResetTime  *time.Time             `json:"reset_time,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// QuotaChecker holds the usage tracker for quota enforcement
type QuotaChecker struct {
	tracker *usage.Tracker
}

// NewQuotaChecker creates a new quota checker
func NewQuotaChecker(tracker *usage.Tracker) *QuotaChecker {
	return &QuotaChecker{tracker: tracker}
}

// CheckProjectQuota gates project creation.
func (q *QuotaChecker) CheckProjectQuota() gin.HandlerFunc {
	return q.check(usage.UsageProjects, func(*gin.Context) int64 { return 1 })
}

// CheckGenerationQuota gates chat generation requests.
func (q *QuotaChecker) CheckGenerationQuota() gin.HandlerFunc {
	return q.check(usage.UsageGenerations, func(*gin.Context) int64 { return 1 })
}

// CheckFigmaExportQuota gates Figma exports.
func (q *QuotaChecker) CheckFigmaExportQuota() gin.HandlerFunc {
	return q.check(usage.UsageFigmaExports, func(*gin.Context) int64 { return 1 })
}

// CheckStorageQuota gates writes against the storage limit, using the
// request body size as the estimate.
func (q *QuotaChecker) CheckStorageQuota() gin.HandlerFunc {
	return q.check(usage.UsageStorageBytes, func(c *gin.Context) int64 {
		if c.Request.ContentLength > 0 {
			return c.Request.ContentLength
		}
		return 0
	})
}

// check builds a quota middleware for one usage type. Fails open on
// tracker errors so a degraded Redis or database never blocks traffic.
func (q *QuotaChecker) check(usageType usage.UsageType, amount func(*gin.Context) int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		userID, exists := GetUserID(c)
		if !exists {
			c.Next()
			return
		}
		if q.bypassesBilling(c) {
			c.Next()
			return
		}

		plan := q.getUserPlan(c)
		allowed, current, limit, err := q.tracker.CheckQuota(
			c.Request.Context(), userID, plan, usageType, amount(c),
		)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			q.sendQuotaExceeded(c, usageType, current, limit, plan)
			return
		}
		c.Next()
	}
}

// getUserPlan extracts the user's plan from context
func (q *QuotaChecker) getUserPlan(c *gin.Context) usage.PlanType {
	if tier, ok := GetUserTier(c); ok {
		return usage.PlanType(tier)
	}
	return usage.PlanFree
}

// bypassesBilling reports whether the user skips quota checks.
func (q *QuotaChecker) bypassesBilling(c *gin.Context) bool {
	if isAdmin, exists := c.Get("is_admin"); exists {
		if admin, ok := isAdmin.(bool); ok && admin {
			return true
		}
	}
	return false
}

// sendQuotaExceeded sends a 429 response with upgrade information
func (q *QuotaChecker) sendQuotaExceeded(c *gin.Context, usageType usage.UsageType, current, limit int64, plan usage.PlanType) {
	response := QuotaExceededResponse{
		Error:      quotaErrorMessage(usageType),
		Code:       "QUOTA_EXCEEDED",
		UsageType:  string(usageType),
		Current:    current,
		Limit:      limit,
		Plan:       string(plan),
		UpgradeURL: "/settings/billing",
		UpgradeMsg: upgradeMessage(plan),
		Timestamp:  time.Now().UTC(),
		RequestID:  c.GetString("request_id"),
		Details:    make(map[string]interface{}),
	}

	if nextPlan, nextLimit := nextPlanInfo(usageType, plan); nextPlan != "" {
		response.NextPlan = nextPlan
		response.NextLimit = nextLimit
	}

	// Monthly quotas reset at the start of next month.
	if usageType == usage.UsageGenerations || usageType == usage.UsageFigmaExports {
		now := time.Now().UTC()
		nextMonth := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		response.ResetTime = &nextMonth
		response.Details["period"] = "monthly"
	}

	response.Details["current_formatted"] = formatUsageValue(usageType, current)
	response.Details["limit_formatted"] = formatUsageValue(usageType, limit)

	metrics.Get().QuotaRejectionsTotal.WithLabelValues(string(usageType), string(plan)).Inc()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, response)
}

func quotaErrorMessage(usageType usage.UsageType) string {
	switch usageType {
	case usage.UsageProjects:
		return "Project limit reached. Upgrade your plan to create more projects."
	case usage.UsageScreens:
		return "Screen limit reached. Upgrade your plan to generate more screens."
	case usage.UsageStorageBytes:
		return "Storage limit reached. Upgrade your plan for more storage space."
	case usage.UsageGenerations:
		return "Monthly generation limit reached. Upgrade your plan to keep building."
	case usage.UsageFigmaExports:
		return "Monthly Figma export limit reached. Upgrade your plan to export more."
	default:
		return "Usage limit reached. Please upgrade your plan."
	}
}

func upgradeMessage(plan usage.PlanType) string {
	switch plan {
	case usage.PlanFree:
		return "Upgrade to Starter ($9/month) for 300 generations and 10 projects."
	case usage.PlanStarter:
		return "Upgrade to Pro ($24/month) for 2,000 generations and 50 projects."
	case usage.PlanPro:
		return "Upgrade to Team ($49/seat/month) for unlimited projects and exports."
	default:
		return "Contact sales for a custom plan."
	}
}

func nextPlanInfo(usageType usage.UsageType, currentPlan usage.PlanType) (string, int64) {
	var next usage.PlanType
	switch currentPlan {
	case usage.PlanFree:
		next = usage.PlanStarter
	case usage.PlanStarter:
		next = usage.PlanPro
	case usage.PlanPro:
		next = usage.PlanTeam
	default:
		return "", 0
	}

	limits := usage.GetPlanLimits(next)
	switch usageType {
	case usage.UsageProjects:
		return string(next), int64(limits.Projects)
	case usage.UsageScreens:
		return string(next), int64(limits.Screens)
	case usage.UsageStorageBytes:
		return string(next), limits.StorageBytes
	case usage.UsageGenerations:
		return string(next), int64(limits.Generations)
	case usage.UsageFigmaExports:
		return string(next), int64(limits.FigmaExports)
	}
	return string(next), 0
}

func formatUsageValue(usageType usage.UsageType, value int64) string {
	if value == -1 {
		return "Unlimited"
	}
	switch usageType {
	case usage.UsageStorageBytes:
		switch {
		case value >= 1024*1024*1024:
			return fmt.Sprintf("%.1f GB", float64(value)/(1024*1024*1024))
		case value >= 1024*1024:
			return fmt.Sprintf("%.1f MB", float64(value)/(1024*1024))
		case value >= 1024:
			return fmt.Sprintf("%.1f KB", float64(value)/1024)
		}
		return fmt.Sprintf("%d bytes", value)
	case usage.UsageProjects:
		return fmt.Sprintf("%d projects", value)
	case usage.UsageScreens:
		return fmt.Sprintf("%d screens", value)
	case usage.UsageGenerations:
		return fmt.Sprintf("%d generations", value)
	case usage.UsageFigmaExports:
		return fmt.Sprintf("%d exports", value)
	default:
		return fmt.Sprintf("%d", value)
	}
}
