package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	// Subject claim of the hosted auth provider's session token.
	AuthSubject string `gorm:"uniqueIndex;not null;column:auth_subject" json:"auth_subject"`

	Email     string `gorm:"index;column:email" json:"email"`
	FirstName string `gorm:"column:first_name" json:"first_name"`
	LastName  string `gorm:"column:last_name" json:"last_name"`

	AvatarBucketKey string `gorm:"column:avatar_bucket_key" json:"avatar_bucket_key"`
	AvatarURL       string `gorm:"column:avatar_url" json:"avatar_url"`

	// Vector-index collection resolved on first ingestion; empty until then.
	CollectionID string `gorm:"column:collection_id;index" json:"collection_id,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }
