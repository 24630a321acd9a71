package auth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"gorm.io/gorm"
)

// Session keys
const (
	SessionUserID = "user_id"
	SessionEmail  = "user_email"
	SessionName   = "user_name"
)

func withProvider(c *gin.Context) {
	// Gothic requires the "provider" query parameter
	q := c.Request.URL.Query()
	q.Set("provider", providerName)
	c.Request.URL.RawQuery = q.Encode()
}

// HandleLogin initiates the GitHub OAuth flow
func HandleLogin(c *gin.Context) {
	withProvider(c)
	gothic.BeginAuthHandler(c.Writer, c.Request)
}

// HandleCallback completes the OAuth flow, upserts the user, and stores the
// user id in the session.
func HandleCallback(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		withProvider(c)

		gothUser, err := gothic.CompleteUserAuth(c.Writer, c.Request)
		if err != nil {
			log.Printf("Auth error: %v", err)
			c.Redirect(http.StatusFound, "/login?error=auth_failed")
			return
		}

		user, err := UpsertUser(db, gothUser)
		if err != nil {
			log.Printf("User upsert error: %v", err)
			c.Redirect(http.StatusFound, "/login?error=auth_failed")
			return
		}

		session := sessions.Default(c)
		session.Set(SessionUserID, user.ID)
		session.Set(SessionEmail, user.Email)
		session.Set(SessionName, user.Name)
		if err := session.Save(); err != nil {
			log.Printf("Session save error: %v", err)
			c.Redirect(http.StatusFound, "/login?error=session_failed")
			return
		}

		log.Printf("User authenticated: %s (%s)", user.GitHubLogin, user.Email)
		c.Redirect(http.StatusFound, "/")
	}
}

// UpsertUser creates or refreshes the user and identity for an OAuth login.
// Tokens are encrypted at rest by the AuthIdentity hooks.
func UpsertUser(db *gorm.DB, gu goth.User) (*models.User, error) {
	if gu.Email == "" {
		return nil, errors.New("provider returned no email address")
	}

	var user models.User
	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		login := gu.NickName

		err := tx.Where("email = ?", gu.Email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				Email:       gu.Email,
				Name:        gu.Name,
				GitHubLogin: login,
				AvatarURL:   gu.AvatarURL,
				LastLoginAt: &now,
			}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up user: %w", err)
		default:
			if err := tx.Model(&user).Updates(map[string]interface{}{
				"name":          gu.Name,
				"github_login":  login,
				"avatar_url":    gu.AvatarURL,
				"last_login_at": now,
			}).Error; err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}
		}

		var identity models.AuthIdentity
		err = tx.Where("provider = ? AND provider_user_id = ?", gu.Provider, gu.UserID).First(&identity).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up identity: %w", err)
		}
		identity.UserID = user.ID
		identity.Provider = gu.Provider
		identity.ProviderUserID = gu.UserID
		identity.AccessToken = gu.AccessToken
		identity.RefreshToken = gu.RefreshToken
		if !gu.ExpiresAt.IsZero() {
			expiry := gu.ExpiresAt
			identity.TokenExpiry = &expiry
		}
		if err := tx.Save(&identity).Error; err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// HandleLogout clears the session and redirects to login
func HandleLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()

	if err := session.Save(); err != nil {
		log.Printf("Session clear error: %v", err)
	}

	c.Redirect(http.StatusFound, "/login")
}
