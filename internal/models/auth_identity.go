package models

import (
	"time"

	"gorm.io/gorm"
)

// AuthIdentity represents a user's OAuth identity with encrypted token storage
type AuthIdentity struct {
	gorm.Model
	UserID         uint   `gorm:"not null;index"`
	User           User   `gorm:"constraint:OnDelete:CASCADE;"`
	Provider       string `gorm:"not null"`                                                                        // e.g., "github"
	ProviderUserID string `gorm:"not null;uniqueIndex:idx_auth_identities_provider_user,where:deleted_at IS NULL"` // partial unique index
	AccessToken    string `gorm:"type:text"`                                                                       // stored encrypted
	RefreshToken   string `gorm:"type:text"`                                                                       // stored encrypted
	TokenExpiry    *time.Time
}

// BeforeSave encrypts tokens before saving to database.
// GCM produces different output each time due to random nonce.
func (a *AuthIdentity) BeforeSave(tx *gorm.DB) error {
	if err := encryptInPlace(&a.AccessToken); err != nil {
		return err
	}
	return encryptInPlace(&a.RefreshToken)
}

// AfterSave restores plaintext on the in-memory struct.
func (a *AuthIdentity) AfterSave(tx *gorm.DB) error {
	return a.AfterFind(tx)
}

// AfterFind decrypts tokens after loading from database
func (a *AuthIdentity) AfterFind(tx *gorm.DB) error {
	if err := decryptInPlace(&a.AccessToken); err != nil {
		return err
	}
	return decryptInPlace(&a.RefreshToken)
}
