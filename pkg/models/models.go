package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a Mocksmith account.
type User struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Basic user information
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	FullName     string `json:"full_name"`
	AvatarURL    string `json:"avatar_url"`

	// Account status
	IsActive   bool `json:"is_active" gorm:"default:true"`
	IsVerified bool `json:"is_verified" gorm:"default:false"`
	IsAdmin    bool `json:"is_admin" gorm:"default:false"` // Admin users have unlimited access

	// Subscription and billing
	SubscriptionTier     string    `json:"subscription_tier" gorm:"default:'free'"` // free, starter, pro, team
	SubscriptionEnd      time.Time `json:"subscription_end"`
	StripeCustomerID     string    `json:"-" gorm:"index"`
	StripeSubscriptionID string    `json:"-"`

	// Preferences
	PreferredModel string `json:"preferred_model" gorm:"default:'auto'"` // auto, or an explicit chain model
	PlanningMode   bool   `json:"planning_mode" gorm:"default:true"`     // run the design-brief stage on builds

	// Relationships
	Projects    []Project          `json:"projects" gorm:"foreignKey:OwnerID"`
	Generations []GenerationRecord `json:"generations" gorm:"foreignKey:UserID"`
}

// IsUnlimited returns true if the user bypasses all quota checks.
func (u *User) IsUnlimited() bool {
	return u.IsAdmin
}

// Project represents one app mockup: a named collection of screens built
// up over a chat conversation.
type Project struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`

	OwnerID    uint `json:"owner_id" gorm:"not null;index"`
	Owner      User `json:"owner" gorm:"foreignKey:OwnerID"`
	IsPublic   bool `json:"is_public" gorm:"default:false"`
	IsArchived bool `json:"is_archived" gorm:"default:false"`

	// Conversation state, serialized chat history for the generation calls
	History []ChatTurn `json:"history" gorm:"serializer:json"`

	// Relationships
	Screens     []Screen           `json:"screens" gorm:"foreignKey:ProjectID"`
	Generations []GenerationRecord `json:"generations" gorm:"foreignKey:ProjectID"`
	Exports     []FigmaExport      `json:"exports" gorm:"foreignKey:ProjectID"`
}

// ChatTurn is one message of a project's conversation history.
type ChatTurn struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Screen is a single generated mockup screen. Content is a complete
// self-contained HTML document rendered in an iframe.
type Screen struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	ProjectID uint    `json:"project_id" gorm:"not null;index"`
	Project   Project `json:"project" gorm:"foreignKey:ProjectID"`

	Name     string `json:"name" gorm:"not null"`
	Path     string `json:"path" gorm:"not null"` // screens/<slug>.html
	Content  string `json:"content" gorm:"type:text"`
	Size     int64  `json:"size" gorm:"default:0"`
	Position int    `json:"position" gorm:"default:0"` // display order in the project

	// Generation provenance
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Version  int    `json:"version" gorm:"default:1"`
}

// GenerationRecord tracks one chat request through the pipeline: which
// models were attempted, what it cost, and how it ended.
type GenerationRecord struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	RequestID string   `json:"request_id" gorm:"uniqueIndex;not null"` // UUID for tracking
	UserID    uint     `json:"user_id" gorm:"not null;index"`
	User      User     `json:"user" gorm:"foreignKey:UserID"`
	ProjectID *uint    `json:"project_id" gorm:"index"`
	Project   *Project `json:"project" gorm:"foreignKey:ProjectID"`

	// Request details
	Mode     string `json:"mode" gorm:"not null"` // discuss, build
	Prompt   string `json:"prompt" gorm:"type:text"`
	Planned  bool   `json:"planned" gorm:"default:false"`
	Model    string `json:"model"`    // model that produced the final response
	Provider string `json:"provider"` // provider of that model
	Attempts int    `json:"attempts" gorm:"default:1"`

	// Cumulative usage across planning, context selection and build calls
	PromptTokens     int     `json:"prompt_tokens" gorm:"default:0"`
	CompletionTokens int     `json:"completion_tokens" gorm:"default:0"`
	TotalTokens      int     `json:"total_tokens" gorm:"default:0"`
	Cost             float64 `json:"cost" gorm:"default:0.0"`
	Duration         int64   `json:"duration" gorm:"default:0"` // milliseconds

	// Request status
	Status   string `json:"status" gorm:"default:'pending'"` // pending, completed, failed
	ErrorMsg string `json:"error_msg"`
}

// FigmaExport tracks an export of a project's screens to a Figma-importable
// bundle stored in S3.
type FigmaExport struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	ExportID  string  `json:"export_id" gorm:"uniqueIndex;not null"` // UUID
	ProjectID uint    `json:"project_id" gorm:"not null;index"`
	Project   Project `json:"project" gorm:"foreignKey:ProjectID"`
	UserID    uint    `json:"user_id" gorm:"not null;index"`
	User      User    `json:"user" gorm:"foreignKey:UserID"`

	ScreenCount int    `json:"screen_count" gorm:"default:0"`
	SizeBytes   int64  `json:"size_bytes" gorm:"default:0"`
	StorageKey  string `json:"-"` // S3 object key
	DownloadURL string `json:"download_url"`

	Status   string `json:"status" gorm:"default:'pending'"` // pending, completed, failed
	ErrorMsg string `json:"error_msg"`
}
