package manifests

import (
	"io/fs"
	"log"
	"path"
	"strings"

	"github.com/jimdaga/docpilot/internal/models"
)

// Discover parses every *.yaml file at the root of fsys. Invalid manifests
// are logged and skipped so one bad file cannot take down the rest.
func Discover(fsys fs.FS, source string) (map[models.JobKind]*Manifest, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	found := make(map[models.JobKind]*Manifest)
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			log.Printf("Warning: failed to read manifest %s: %v", entry.Name(), err)
			continue
		}

		m, err := Parse(data)
		if err != nil {
			log.Printf("Warning: skipping manifest %s: %v", entry.Name(), err)
			continue
		}
		if _, dup := found[m.Kind]; dup {
			log.Printf("Warning: duplicate manifest for %s in %s, skipping %s", m.Kind, source, entry.Name())
			continue
		}
		m.Source = path.Join(source, entry.Name())
		found[m.Kind] = m
	}
	return found, nil
}

func isManifestFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
