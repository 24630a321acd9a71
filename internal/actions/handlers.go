// Package actions serves the session-protected JSON routes that let project
// members start pipeline runs and inspect their status.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/docpilot/internal/auth"
	"github.com/jimdaga/docpilot/internal/jobs"
	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/notifications"
	"gorm.io/gorm"
)

// Response statuses
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
)

// Previewer compiles a placeholder digest.
type Previewer interface {
	Preview(ctx context.Context, project notifications.ProjectRef, recipient notifications.Recipient) notifications.Digest
}

// Handlers holds the collaborators of the action routes.
type Handlers struct {
	db         *gorm.DB
	kinds      *jobs.Registry
	dispatcher *jobs.Dispatcher
	previewer  Previewer
	logger     *slog.Logger
}

// NewHandlers creates the action handlers.
func NewHandlers(db *gorm.DB, kinds *jobs.Registry, dispatcher *jobs.Dispatcher, previewer Previewer, logger *slog.Logger) *Handlers {
	return &Handlers{db: db, kinds: kinds, dispatcher: dispatcher, previewer: previewer, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *Handlers) Register(api *gin.RouterGroup) {
	api.POST("/projects/:id/analysis", h.trigger(models.JobCodebaseAnalysis, projectOwner))
	api.POST("/projects/:id/recommendations", h.trigger(models.JobProjectRecommendations, projectOwner))
	api.POST("/projects/:id/sections/suggest", h.trigger(models.JobSectionSuggestions, projectOwner))
	api.POST("/projects/:id/update-checks", h.startUpdateCheck)
	api.POST("/sections/:id/recommendations", h.trigger(models.JobSectionRecommendations, ownerOf(&models.Section{})))
	api.POST("/articles/:id/generate", h.trigger(models.JobArticleGeneration, ownerOf(&models.Article{})))
	api.POST("/step-images/:id/render", h.trigger(models.JobMockupRender, stepImageOwner))
	api.GET("/projects/:id/status", h.projectStatus)
	api.GET("/projects/:id/digest-preview", h.digestPreview)
}

// ownerLookup returns the project owning record id.
type ownerLookup func(ctx context.Context, db *gorm.DB, id uint) (uint, error)

func projectOwner(ctx context.Context, db *gorm.DB, id uint) (uint, error) {
	var p models.Project
	if err := db.WithContext(ctx).Select("id").First(&p, id).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

// ownerOf reads project_id from the table of model.
func ownerOf(model interface{}) ownerLookup {
	return func(ctx context.Context, db *gorm.DB, id uint) (uint, error) {
		var ids []uint
		if err := db.WithContext(ctx).Model(model).Where("id = ?", id).Limit(1).Pluck("project_id", &ids).Error; err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, gorm.ErrRecordNotFound
		}
		return ids[0], nil
	}
}

func stepImageOwner(ctx context.Context, db *gorm.DB, id uint) (uint, error) {
	var ids []uint
	err := db.WithContext(ctx).Table("step_images").
		Joins("JOIN articles ON articles.id = step_images.article_id").
		Where("step_images.id = ? AND step_images.deleted_at IS NULL", id).
		Limit(1).Pluck("articles.project_id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return ids[0], nil
}

// authorize resolves the record's project and checks membership. It writes
// the error response and returns false when the caller may not proceed.
func (h *Handlers) authorize(c *gin.Context, lookup ownerLookup) (recordID, projectID uint, ok bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, 0, false
	}

	projectID, err = lookup(c.Request.Context(), h.db, uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, 0, false
	}
	if err != nil {
		h.logger.Error("Failed to resolve record owner", "record_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return 0, 0, false
	}

	var members int64
	if err := h.db.WithContext(c.Request.Context()).Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, auth.UserID(c)).Count(&members).Error; err != nil {
		h.logger.Error("Failed to check membership", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return 0, 0, false
	}
	if members == 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this project"})
		return 0, 0, false
	}
	return uint(id), projectID, true
}

// trigger dispatches kind for the addressed record. With force=true a
// completed or failed record is reset first.
func (h *Handlers) trigger(kind models.JobKind, lookup ownerLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, projectID, ok := h.authorize(c, lookup)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		var queued bool
		var err error
		if force, _ := strconv.ParseBool(c.Query("force")); force {
			queued, err = h.dispatcher.Rerun(ctx, kind, id)
		} else {
			queued, err = h.dispatcher.Dispatch(ctx, kind, id)
		}
		if err != nil {
			h.logger.Error("Failed to queue job", "job_kind", kind, "record_id", id, "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
			return
		}
		if queued {
			c.JSON(http.StatusAccepted, gin.H{"status": StatusQueued})
			return
		}
		h.notQueued(c, kind, id)
	}
}

// notQueued explains a guard no-op from the record's current state.
func (h *Handlers) notQueued(c *gin.Context, kind models.JobKind, id uint) {
	k, err := h.kinds.Get(kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap, err := lifecycle.Load(c.Request.Context(), h.db, k.Field(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": StatusInProgress})
		return
	}

	switch {
	case snap.Status.InFlight():
		c.JSON(http.StatusOK, gin.H{"status": StatusInProgress})
	case snap.Status == lifecycle.Failed && k.Field().Exhausted(snap.Attempts):
		c.JSON(http.StatusConflict, gin.H{
			"status": snap.Status.Label(),
			"error":  "retry limit reached, re-run with force=true",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"status": snap.Status.Label()})
	}
}

type updateCheckRequest struct {
	TargetSHA string `json:"target_sha"`
}

func (h *Handlers) startUpdateCheck(c *gin.Context) {
	_, projectID, ok := h.authorize(c, projectOwner)
	if !ok {
		return
	}

	var req updateCheckRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	check, queued, err := h.dispatcher.StartUpdateCheck(c.Request.Context(), projectID, req.TargetSHA)
	if errors.Is(err, jobs.ErrNoTargetCommit) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to start update check", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
		return
	}
	if queued {
		c.JSON(http.StatusAccepted, gin.H{"status": StatusQueued, "check_id": check.ID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusInProgress, "check_id": check.ID})
}

func (h *Handlers) projectStatus(c *gin.Context) {
	_, projectID, ok := h.authorize(c, projectOwner)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	resp := gin.H{"project_id": projectID}
	for key, field := range map[string]lifecycle.Field{
		"analysis":        jobs.ProjectAnalysisField,
		"recommendations": jobs.ProjectRecommendationsField,
		"sections":        jobs.ProjectSectionsField,
	} {
		snap, err := lifecycle.Load(ctx, h.db, field, projectID)
		if err != nil {
			h.logger.Error("Failed to load run status", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		entry := gin.H{"status": snap.Status.Label()}
		if snap.Error != "" {
			entry["error"] = snap.Error
		}
		resp[key] = entry
	}

	var check models.ArticleUpdateCheck
	if err := h.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id DESC").First(&check).Error; err == nil {
		resp["update_check"] = gin.H{"id": check.ID, "status": check.Status.Label(), "target_sha": check.TargetCommitSHA}
	}

	var pending int64
	h.db.WithContext(ctx).Model(&models.PendingNotification{}).
		Where("project_id = ? AND consumed_at IS NULL", projectID).Count(&pending)
	resp["pending_notifications"] = pending

	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) digestPreview(c *gin.Context) {
	_, projectID, ok := h.authorize(c, projectOwner)
	if !ok {
		return
	}

	var project models.Project
	if err := h.db.WithContext(c.Request.Context()).Select("id", "name", "slug").First(&project, projectID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var user models.User
	h.db.WithContext(c.Request.Context()).Select("id", "email", "name").First(&user, auth.UserID(c))

	digest := h.previewer.Preview(c.Request.Context(),
		notifications.ProjectRef{ID: project.ID, Name: project.Name, Slug: project.Slug},
		notifications.Recipient{UserID: user.ID, Email: user.Email, Name: user.Name},
	)
	c.JSON(http.StatusOK, digest)
}
