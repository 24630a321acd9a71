package manifests

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

//go:embed defaults/*.yaml
var defaultFS embed.FS

// Defaults returns the manifests compiled into the binary.
func Defaults() (map[models.JobKind]*Manifest, error) {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		return nil, err
	}
	return Discover(sub, "embedded")
}

// Load merges the embedded defaults with overrides from dir (if set).
// An override replaces the default for its kind.
func Load(dir string) (map[models.JobKind]*Manifest, error) {
	set, err := Defaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load default manifests: %w", err)
	}
	if dir == "" {
		return set, nil
	}

	overrides, err := Discover(os.DirFS(dir), dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("failed to read manifest dir %s: %w", dir, err)
	}
	for kind, m := range overrides {
		set[kind] = m
	}
	return set, nil
}

// Init loads manifests, syncs them to the database and returns the registry.
// Sync failures are logged, not fatal.
func Init(db *gorm.DB, dir string, logger *slog.Logger) (*Registry, error) {
	set, err := Load(dir)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	registry.Replace(set)
	if missing := registry.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("no manifest for job kinds %v", missing)
	}

	logger.Info("Loaded tool manifests", "count", registry.Count(), "override_dir", dir)
	if db != nil {
		Sync(db, registry, logger)
	}
	return registry, nil
}

// Sync upserts every manifest into the tool_manifests table.
func Sync(db *gorm.DB, registry *Registry, logger *slog.Logger) {
	for _, m := range registry.List() {
		if err := syncManifestToDB(db, m); err != nil {
			logger.Warn("Failed to sync manifest", "job_kind", m.Kind, "error", err)
			continue
		}
		logger.Debug("Synced manifest", "job_kind", m.Kind, "version", m.Version, "source", m.Source)
	}
}

func syncManifestToDB(db *gorm.DB, m *Manifest) error {
	var row models.ToolManifest
	result := db.Where("kind = ?", string(m.Kind)).First(&row)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		row = models.ToolManifest{
			Kind:           string(m.Kind),
			Version:        m.Version,
			Description:    m.Description,
			Checksum:       m.Checksum,
			TimeoutSeconds: m.TimeoutSeconds,
			MaxTurns:       m.MaxTurns,
		}
		return db.Create(&row).Error
	} else if result.Error != nil {
		return result.Error
	}

	if row.Checksum == m.Checksum {
		return nil
	}
	return db.Model(&row).Updates(map[string]interface{}{
		"version":         m.Version,
		"description":     m.Description,
		"checksum":        m.Checksum,
		"timeout_seconds": m.TimeoutSeconds,
		"max_turns":       m.MaxTurns,
	}).Error
}

// Watch reloads the registry whenever a file in dir changes. It blocks until
// ctx is cancelled. A reload that leaves a kind without a manifest is rejected
// and the previous set stays active.
func Watch(ctx context.Context, db *gorm.DB, registry *Registry, dir string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("Watching manifest directory", "dir", dir)

	// Reload once a burst of events settles.
	const settle = 250 * time.Millisecond
	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isManifestFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				timer.Reset(settle)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Manifest watcher error", "error", err)
		case <-timer.C:
			reload(db, registry, dir, logger)
		}
	}
}

func reload(db *gorm.DB, registry *Registry, dir string, logger *slog.Logger) {
	set, err := Load(dir)
	if err != nil {
		logger.Error("Failed to reload manifests", "error", err)
		return
	}
	if len(set) < len(models.JobKinds) {
		logger.Error("Reload left job kinds without a manifest, keeping previous set")
		return
	}
	registry.Replace(set)
	logger.Info("Reloaded tool manifests", "count", len(set))
	if db != nil {
		Sync(db, registry, logger)
	}
}
