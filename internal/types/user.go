package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email            string         `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password         string         `gorm:"not null;column:password" json:"-"`
	DisplayName      string         `gorm:"column:display_name" json:"display_name"`
	Bio              string         `gorm:"column:bio" json:"bio"`
	AvatarBucketKey  string         `gorm:"column:avatar_bucket_key" json:"-"`
	AvatarURL        string         `gorm:"column:avatar_url" json:"avatar_url"`
	IsActive         bool           `gorm:"not null;default:true;column:is_active" json:"is_active"`
	Preferences      datatypes.JSON `gorm:"type:jsonb;column:preferences" json:"preferences"`
	GenerationCount  int            `gorm:"not null;default:0;column:generation_count" json:"generation_count"`
	LastGenerationAt *time.Time     `gorm:"column:last_generation_at" json:"last_generation_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}
