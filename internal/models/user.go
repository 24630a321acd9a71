package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a logged-in person and a digest recipient
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex:idx_users_email_not_deleted,where:deleted_at IS NULL;not null"`
	Name         string `gorm:"not null;default:''"`
	GitHubLogin  string `gorm:"column:github_login;not null;default:''"`
	AvatarURL    string `gorm:"not null;default:''"`
	Role         string `gorm:"not null;default:'user'"` // enum: 'user' or 'admin'
	LastLoginAt  *time.Time
	LastDigestAt *time.Time

	// Associations
	AuthIdentities []AuthIdentity  `gorm:"constraint:OnDelete:CASCADE;"`
	Memberships    []ProjectMember `gorm:"constraint:OnDelete:CASCADE;"`
}
