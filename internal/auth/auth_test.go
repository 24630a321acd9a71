package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/testutil"
	"github.com/markbates/goth"
)

func TestUpsertUser(t *testing.T) {
	db := testutil.OpenDB(t)
	gu := goth.User{
		Provider:    "github",
		UserID:      "1001",
		Email:       "octo@docpilot.local",
		Name:        "Octo",
		NickName:    "octocat",
		AccessToken: "gho_first",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	first, err := UpsertUser(db, gu)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	gu.Name = "Octo Cat"
	gu.AccessToken = "gho_second"
	second, err := UpsertUser(db, gu)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same user, got %d and %d", first.ID, second.ID)
	}

	var user models.User
	db.First(&user, first.ID)
	if user.Name != "Octo Cat" || user.GitHubLogin != "octocat" || user.LastLoginAt == nil {
		t.Errorf("user not refreshed: %+v", user)
	}

	var identities []models.AuthIdentity
	db.Where("user_id = ?", first.ID).Find(&identities)
	if len(identities) != 1 || identities[0].AccessToken != "gho_second" {
		t.Errorf("expected one refreshed identity, got %+v", identities)
	}

	if _, err := UpsertUser(db, goth.User{Provider: "github", UserID: "2"}); err == nil {
		t.Error("expected error for login without email")
	}
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("docpilot_session", cookie.NewStore([]byte("test-secret"))))
	r.GET("/login-as/:id", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Set(SessionUserID, uint(9))
		s.Save()
		c.Status(http.StatusNoContent)
	})
	protected := r.Group("/", RequireAuth())
	protected.GET("/api/me", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": UserID(c)}) })
	protected.GET("/dashboard", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for anonymous API call, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("expected redirect to login, got %d %s", w.Code, w.Header().Get("Location"))
	}

	login := httptest.NewRecorder()
	r.ServeHTTP(login, httptest.NewRequest(http.MethodGet, "/login-as/9", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != `{"id":9}` {
		t.Errorf("expected authenticated response, got %d %s", w.Code, w.Body.String())
	}
}
