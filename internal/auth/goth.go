// Package auth handles GitHub login and session-protected routes.
package auth

import (
	"log"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/jimdaga/docpilot/internal/config"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/github"
)

const providerName = "github"

// InitProviders initializes Goth OAuth providers
func InitProviders(cfg *config.Config) {
	// Gothic keeps its own gorilla/sessions store separate from gin-contrib/sessions.
	// The default has Secure=true which breaks localhost (plain HTTP).
	gothStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	gothStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	gothic.Store = gothStore

	if cfg.GitHubClientID == "" {
		log.Println("WARNING: GITHUB_CLIENT_ID not set. OAuth login will not work until credentials are configured.")
		log.Println("See: GitHub -> Settings -> Developer settings -> OAuth Apps")
		return
	}

	goth.UseProviders(
		github.New(
			cfg.GitHubClientID,
			cfg.GitHubClientSecret,
			cfg.GitHubCallbackURL,
			"read:user",
			"user:email",
		),
	)

	log.Println("Goth providers initialized: github")
}
