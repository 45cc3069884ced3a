// Package usage tracks per-user consumption against subscription tier
// limits: projects, screens, storage, monthly generations and exports.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mocksmith/internal/cache"
	"mocksmith/internal/logging"
)

// UsageType represents different usage metrics
type UsageType string

const (
	UsageProjects     UsageType = "projects"
	UsageScreens      UsageType = "screens"
	UsageStorageBytes UsageType = "storage_bytes"
	UsageGenerations  UsageType = "generations"
	UsageFigmaExports UsageType = "figma_exports"
)

// PlanType represents subscription tiers
type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanStarter PlanType = "starter"
	PlanPro     PlanType = "pro"
	PlanTeam    PlanType = "team"
)

// PlanLimits defines limits for each plan. -1 means unlimited.
type PlanLimits struct {
	Projects     int   `json:"projects"`      // Max number of projects
	Screens      int   `json:"screens"`       // Max screens across all projects
	StorageBytes int64 `json:"storage_bytes"` // Max stored screen HTML in bytes
	Generations  int   `json:"generations"`   // Max generation requests per month
	FigmaExports int   `json:"figma_exports"` // Max Figma exports per month
}

// GetPlanLimits returns the limits for a given plan
func GetPlanLimits(plan PlanType) PlanLimits {
	switch plan {
	case PlanFree:
		return PlanLimits{
			Projects:     3,
			Screens:      15,
			StorageBytes: 50 * 1024 * 1024, // 50MB
			Generations:  30,               // 30/month
			FigmaExports: 2,                // 2/month
		}
	case PlanStarter:
		return PlanLimits{
			Projects:     10,
			Screens:      100,
			StorageBytes: 500 * 1024 * 1024, // 500MB
			Generations:  300,
			FigmaExports: 20,
		}
	case PlanPro:
		return PlanLimits{
			Projects:     50,
			Screens:      1000,
			StorageBytes: 5 * 1024 * 1024 * 1024, // 5GB
			Generations:  2000,
			FigmaExports: 200,
		}
	case PlanTeam:
		return PlanLimits{
			Projects:     -1,
			Screens:      -1,
			StorageBytes: 25 * 1024 * 1024 * 1024, // 25GB
			Generations:  10000,
			FigmaExports: -1,
		}
	default:
		return GetPlanLimits(PlanFree)
	}
}

// UsageRecord represents a single usage event stored in the database
type UsageRecord struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	Type      UsageType `json:"type" gorm:"not null;index;size:50"`
	Amount    int64     `json:"amount" gorm:"not null"`
	ProjectID *uint     `json:"project_id,omitempty" gorm:"index"`
	Metadata  string    `json:"metadata,omitempty" gorm:"type:text"` // JSON metadata
}

// DailyUsageSummary aggregates usage per day
type DailyUsageSummary struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Date      string    `json:"date" gorm:"uniqueIndex:idx_daily_user_type,priority:1;not null;size:10"` // "2026-08-25"
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_daily_user_type,priority:2;not null"`
	Type      UsageType `json:"type" gorm:"uniqueIndex:idx_daily_user_type,priority:3;not null;size:50"`
	Total     int64     `json:"total" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MonthlyUsageSummary aggregates usage per month
type MonthlyUsageSummary struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Month     string    `json:"month" gorm:"uniqueIndex:idx_monthly_user_type,priority:1;not null;size:7"` // "2026-08"
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_monthly_user_type,priority:2;not null"`
	Type      UsageType `json:"type" gorm:"uniqueIndex:idx_monthly_user_type,priority:3;not null;size:50"`
	Total     int64     `json:"total" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentUsage represents the user's current usage snapshot
type CurrentUsage struct {
	UserID            uint      `json:"user_id"`
	Plan              PlanType  `json:"plan"`
	Projects          int       `json:"projects"`
	ProjectsLimit     int       `json:"projects_limit"`
	Screens           int       `json:"screens"`
	ScreensLimit      int       `json:"screens_limit"`
	StorageBytes      int64     `json:"storage_bytes"`
	StorageLimit      int64     `json:"storage_limit"`
	Generations       int       `json:"generations"` // This month
	GenerationsLimit  int       `json:"generations_limit"`
	FigmaExports      int       `json:"figma_exports"` // This month
	FigmaExportsLimit int       `json:"figma_exports_limit"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	CachedAt          time.Time `json:"cached_at"`
}

// Tracker manages usage tracking with layered caching.
type Tracker struct {
	db    *gorm.DB
	cache *cache.RedisCache
	mu    sync.RWMutex

	localCache    map[uint]*cachedUsage
	localCacheTTL time.Duration
}

type cachedUsage struct {
	usage     *CurrentUsage
	expiresAt time.Time
}

// NewTracker creates a new usage tracker
func NewTracker(db *gorm.DB, redisCache *cache.RedisCache) *Tracker {
	tracker := &Tracker{
		db:            db,
		cache:         redisCache,
		localCache:    make(map[uint]*cachedUsage),
		localCacheTTL: 30 * time.Second,
	}
	go tracker.cleanupLoop()
	return tracker
}

// Migrate runs database migrations for usage tables
func (t *Tracker) Migrate() error {
	return t.db.AutoMigrate(
		&UsageRecord{},
		&DailyUsageSummary{},
		&MonthlyUsageSummary{},
	)
}

// RecordUsage records a usage event and rolls it into the summaries.
func (t *Tracker) RecordUsage(ctx context.Context, userID uint, usageType UsageType, amount int64, projectID *uint, metadata map[string]interface{}) error {
	record := &UsageRecord{
		UserID:    userID,
		Type:      usageType,
		Amount:    amount,
		ProjectID: projectID,
	}
	if metadata != nil {
		if metadataJSON, err := json.Marshal(metadata); err == nil {
			record.Metadata = string(metadataJSON)
		}
	}

	if err := t.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	now := time.Now().UTC()
	if err := t.bumpDailySummary(ctx, userID, usageType, amount, now.Format("2006-01-02")); err != nil {
		logging.S().Warnw("failed to update daily summary", "error", err)
	}
	if err := t.bumpMonthlySummary(ctx, userID, usageType, amount, now.Format("2006-01")); err != nil {
		logging.S().Warnw("failed to update monthly summary", "error", err)
	}

	t.invalidateCache(userID)
	return nil
}

func (t *Tracker) bumpDailySummary(ctx context.Context, userID uint, usageType UsageType, amount int64, date string) error {
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "user_id"}, {Name: "type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":      gorm.Expr("daily_usage_summaries.total + ?", amount),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&DailyUsageSummary{
		Date:   date,
		UserID: userID,
		Type:   usageType,
		Total:  amount,
	}).Error
}

func (t *Tracker) bumpMonthlySummary(ctx context.Context, userID uint, usageType UsageType, amount int64, month string) error {
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "month"}, {Name: "user_id"}, {Name: "type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":      gorm.Expr("monthly_usage_summaries.total + ?", amount),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&MonthlyUsageSummary{
		Month:  month,
		UserID: userID,
		Type:   usageType,
		Total:  amount,
	}).Error
}

// GetCurrentUsage retrieves current usage for a user with caching
func (t *Tracker) GetCurrentUsage(ctx context.Context, userID uint, plan PlanType) (*CurrentUsage, error) {
	t.mu.RLock()
	if cached, ok := t.localCache[userID]; ok && time.Now().Before(cached.expiresAt) {
		t.mu.RUnlock()
		return cached.usage, nil
	}
	t.mu.RUnlock()

	cacheKey := fmt.Sprintf("usage:current:%d", userID)
	if t.cache != nil {
		var usage CurrentUsage
		if err := t.cache.GetJSON(ctx, cacheKey, &usage); err == nil {
			t.storeLocal(userID, &usage)
			return &usage, nil
		}
	}

	usage, err := t.calculateCurrentUsage(ctx, userID, plan)
	if err != nil {
		return nil, err
	}

	if t.cache != nil {
		_ = t.cache.SetJSON(ctx, cacheKey, usage, 60*time.Second)
	}
	t.storeLocal(userID, usage)
	return usage, nil
}

func (t *Tracker) storeLocal(userID uint, usage *CurrentUsage) {
	t.mu.Lock()
	t.localCache[userID] = &cachedUsage{
		usage:     usage,
		expiresAt: time.Now().Add(t.localCacheTTL),
	}
	t.mu.Unlock()
}

// calculateCurrentUsage computes the snapshot from the database.
func (t *Tracker) calculateCurrentUsage(ctx context.Context, userID uint, plan PlanType) (*CurrentUsage, error) {
	limits := GetPlanLimits(plan)
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	usage := &CurrentUsage{
		UserID:            userID,
		Plan:              plan,
		ProjectsLimit:     limits.Projects,
		ScreensLimit:      limits.Screens,
		StorageLimit:      limits.StorageBytes,
		GenerationsLimit:  limits.Generations,
		FigmaExportsLimit: limits.FigmaExports,
		PeriodStart:       monthStart,
		PeriodEnd:         monthStart.AddDate(0, 1, 0).Add(-time.Second),
		CachedAt:          now,
	}

	var projectCount int64
	if err := t.db.WithContext(ctx).
		Table("projects").
		Where("owner_id = ? AND deleted_at IS NULL", userID).
		Count(&projectCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}
	usage.Projects = int(projectCount)

	var screenCount int64
	if err := t.db.WithContext(ctx).
		Table("screens").
		Joins("JOIN projects ON screens.project_id = projects.id").
		Where("projects.owner_id = ? AND screens.deleted_at IS NULL AND projects.deleted_at IS NULL", userID).
		Count(&screenCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count screens: %w", err)
	}
	usage.Screens = int(screenCount)

	var storageBytes int64
	if err := t.db.WithContext(ctx).
		Table("screens").
		Joins("JOIN projects ON screens.project_id = projects.id").
		Where("projects.owner_id = ? AND screens.deleted_at IS NULL AND projects.deleted_at IS NULL", userID).
		Select("COALESCE(SUM(screens.size), 0)").
		Scan(&storageBytes).Error; err != nil {
		return nil, fmt.Errorf("failed to calculate storage: %w", err)
	}
	usage.StorageBytes = storageBytes

	usage.Generations = int(t.monthlyTotal(ctx, userID, UsageGenerations, now.Format("2006-01"), monthStart))
	usage.FigmaExports = int(t.monthlyTotal(ctx, userID, UsageFigmaExports, now.Format("2006-01"), monthStart))

	return usage, nil
}

// monthlyTotal reads the summary row, falling back to counting raw
// records when the summary is missing.
func (t *Tracker) monthlyTotal(ctx context.Context, userID uint, usageType UsageType, month string, monthStart time.Time) int64 {
	var summary MonthlyUsageSummary
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND month = ?", userID, usageType, month).
		First(&summary).Error
	if err == nil {
		return summary.Total
	}

	var total int64
	t.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, usageType, monthStart).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total)
	return total
}

// CheckQuota checks whether adding additionalAmount of usageType would
// exceed the user's plan limit.
func (t *Tracker) CheckQuota(ctx context.Context, userID uint, plan PlanType, usageType UsageType, additionalAmount int64) (allowed bool, currentUsage int64, limit int64, err error) {
	usage, err := t.GetCurrentUsage(ctx, userID, plan)
	if err != nil {
		return false, 0, 0, err
	}

	limits := GetPlanLimits(plan)

	switch usageType {
	case UsageProjects:
		limit = int64(limits.Projects)
		currentUsage = int64(usage.Projects)
	case UsageScreens:
		limit = int64(limits.Screens)
		currentUsage = int64(usage.Screens)
	case UsageStorageBytes:
		limit = limits.StorageBytes
		currentUsage = usage.StorageBytes
	case UsageGenerations:
		limit = int64(limits.Generations)
		currentUsage = int64(usage.Generations)
	case UsageFigmaExports:
		limit = int64(limits.FigmaExports)
		currentUsage = int64(usage.FigmaExports)
	default:
		return true, 0, -1, nil // Unknown type, allow
	}

	if limit == -1 {
		return true, currentUsage, -1, nil
	}

	allowed = (currentUsage + additionalAmount) <= limit
	return allowed, currentUsage, limit, nil
}

// GetLimits returns the limits for a plan
func (t *Tracker) GetLimits(plan PlanType) PlanLimits {
	return GetPlanLimits(plan)
}

// invalidateCache invalidates all caches for a user
func (t *Tracker) invalidateCache(userID uint) {
	t.mu.Lock()
	delete(t.localCache, userID)
	t.mu.Unlock()

	if t.cache != nil {
		cacheKey := fmt.Sprintf("usage:current:%d", userID)
		_ = t.cache.Delete(context.Background(), cacheKey)
	}
}

// cleanupLoop periodically cleans up expired local cache entries
func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		now := time.Now()
		for userID, cached := range t.localCache {
			if now.After(cached.expiresAt) {
				delete(t.localCache, userID)
			}
		}
		t.mu.Unlock()
	}
}

// RecordGeneration records one generation request with its token usage.
func (t *Tracker) RecordGeneration(ctx context.Context, userID uint, projectID *uint, model string, tokens int, cost float64) error {
	return t.RecordUsage(ctx, userID, UsageGenerations, 1, projectID, map[string]interface{}{
		"model":  model,
		"tokens": tokens,
		"cost":   cost,
	})
}

// RecordStorageChange records a change in stored screen bytes. Negative
// amounts record deletions.
func (t *Tracker) RecordStorageChange(ctx context.Context, userID uint, projectID *uint, bytesChange int64) error {
	return t.RecordUsage(ctx, userID, UsageStorageBytes, bytesChange, projectID, nil)
}

// RecordProjectCreation records a new project.
func (t *Tracker) RecordProjectCreation(ctx context.Context, userID uint, projectID uint) error {
	pid := projectID
	return t.RecordUsage(ctx, userID, UsageProjects, 1, &pid, nil)
}

// RecordScreens records newly persisted screens.
func (t *Tracker) RecordScreens(ctx context.Context, userID uint, projectID uint, count int) error {
	pid := projectID
	return t.RecordUsage(ctx, userID, UsageScreens, int64(count), &pid, nil)
}

// RecordFigmaExport records one Figma export.
func (t *Tracker) RecordFigmaExport(ctx context.Context, userID uint, projectID uint) error {
	pid := projectID
	return t.RecordUsage(ctx, userID, UsageFigmaExports, 1, &pid, nil)
}
