package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Generation status values. The progression is forward-only:
// pending -> processing -> enhancing -> generating -> uploading -> completed,
// with failed reachable from any non-terminal state.
const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusEnhancing  = "enhancing"
	GenerationStatusGenerating = "generating"
	GenerationStatusUploading  = "uploading"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

const (
	ImageProviderDalle     = "dalle"
	ImageProviderStability = "stability"
)

func GenerationStatusIsTerminal(status string) bool {
	return status == GenerationStatusCompleted || status == GenerationStatusFailed
}

func GenerationStatusIsValid(status string) bool {
	switch status {
	case GenerationStatusPending, GenerationStatusProcessing, GenerationStatusEnhancing,
		GenerationStatusGenerating, GenerationStatusUploading,
		GenerationStatusCompleted, GenerationStatusFailed:
		return true
	}
	return false
}

type Generation struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User           *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
	OriginalPrompt string         `gorm:"type:text;not null;column:original_prompt" json:"original_prompt"`
	EnhancedPrompt *string        `gorm:"type:text;column:enhanced_prompt" json:"enhanced_prompt"`
	NegativePrompt *string        `gorm:"type:text;column:negative_prompt" json:"negative_prompt"`
	Status         string         `gorm:"not null;index;column:status" json:"status"`
	Provider       string         `gorm:"not null;column:provider" json:"provider"`
	Model          string         `gorm:"not null;column:model" json:"model"`
	Style          *string        `gorm:"column:style" json:"style"`
	Size           string         `gorm:"not null;default:'1024x1024';column:size" json:"size"`
	Quality        string         `gorm:"not null;default:'standard';column:quality" json:"quality"`
	ImageURL       *string        `gorm:"type:text;column:image_url" json:"image_url"`
	ThumbnailURL   *string        `gorm:"type:text;column:thumbnail_url" json:"thumbnail_url"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	ErrorMessage   *string        `gorm:"type:text;column:error_message" json:"error_message"`
	ErrorCode      *string        `gorm:"column:error_code" json:"error_code"`
	Attempts       int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt       *time.Time     `gorm:"column:locked_at;index" json:"-"`
	HeartbeatAt    *time.Time     `gorm:"column:heartbeat_at;index" json:"-"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Generation) TableName() string { return "generation" }

func (g *Generation) IsTerminal() bool {
	return GenerationStatusIsTerminal(g.Status)
}

func (g *Generation) DurationSeconds() *float64 {
	if g.StartedAt == nil || g.CompletedAt == nil {
		return nil
	}
	d := g.CompletedAt.Sub(*g.StartedAt).Seconds()
	return &d
}
