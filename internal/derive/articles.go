package derive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Article stores generated content and replaces the article's step images
// with one unrendered image per step that carries a mockup description.
// It returns the new step images so the caller can dispatch renders.
func (w *Writer) Article(ctx context.Context, tx *gorm.DB, article *models.Article, raw []byte) ([]models.StepImage, error) {
	var res ArticleResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Content) == "" {
		return nil, fmt.Errorf("%w: empty article content", ErrMalformedResult)
	}

	structured, err := json.Marshal(models.StructuredArticle{Steps: res.Steps})
	if err != nil {
		return nil, fmt.Errorf("failed to encode article steps: %w", err)
	}

	updates := map[string]interface{}{
		"content":            res.Content,
		"structured_content": datatypes.JSON(structured),
		"generated_at":       timeNow(),
	}
	if t := strings.TrimSpace(res.Title); t != "" {
		updates["title"] = t
		article.Title = t
	}
	if res.SourceCommitSHA != "" {
		updates["source_commit_sha"] = res.SourceCommitSHA
		article.SourceCommitSHA = res.SourceCommitSHA
	}
	if err := tx.WithContext(ctx).Model(&models.Article{}).Where("id = ?", article.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to store article %d: %w", article.ID, err)
	}
	article.Content = res.Content

	if err := tx.WithContext(ctx).Unscoped().Where("article_id = ?", article.ID).Delete(&models.StepImage{}).Error; err != nil {
		return nil, fmt.Errorf("failed to clear step images of article %d: %w", article.ID, err)
	}

	var images []models.StepImage
	for i, step := range res.Steps {
		if strings.TrimSpace(step.Mockup) == "" {
			continue
		}
		img := models.StepImage{ArticleID: article.ID, StepIndex: i, Description: step.Mockup}
		if err := tx.WithContext(ctx).Create(&img).Error; err != nil {
			return nil, fmt.Errorf("failed to create step image for article %d: %w", article.ID, err)
		}
		images = append(images, img)
	}

	if err := models.BumpCacheVersion(tx.WithContext(ctx), article.ProjectID); err != nil {
		return nil, fmt.Errorf("failed to bump cache version: %w", err)
	}
	return images, nil
}

// RenderedImage moves a rendered mockup from the tool's working directory into
// storage and records it on the step image.
func (w *Writer) RenderedImage(ctx context.Context, tx *gorm.DB, image *models.StepImage, raw []byte, resolve func(string) (string, error)) error {
	var res RenderResult
	if err := decode(raw, &res); err != nil {
		return err
	}
	src, err := resolve(res.ImagePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	var projectID uint
	if err := tx.WithContext(ctx).Model(&models.Article{}).Where("id = ?", image.ArticleID).
		Pluck("project_id", &projectID).Error; err != nil {
		return fmt.Errorf("failed to resolve project of article %d: %w", image.ArticleID, err)
	}

	rel := filepath.Join("projects", fmt.Sprint(projectID), "articles", fmt.Sprint(image.ArticleID),
		fmt.Sprintf("step-%d%s", image.StepIndex, filepath.Ext(src)))
	if err := copyFile(src, filepath.Join(w.storageDir, rel)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	now := timeNow()
	err = tx.WithContext(ctx).Model(&models.StepImage{}).Where("id = ?", image.ID).Updates(map[string]interface{}{
		"image_path":  filepath.ToSlash(rel),
		"width":       res.Width,
		"height":      res.Height,
		"rendered_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to store step image %d: %w", image.ID, err)
	}
	image.ImagePath = filepath.ToSlash(rel)
	image.RenderedAt = &now
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
