// Package derive turns analysis tool results into domain records. Every
// method takes the caller's transaction so derived records and the status
// transition that publishes them commit together.
package derive

import (
	"log/slog"
	"strings"
	"time"
)

// UnavailableMarker prefixes fallback content written when the tool failed.
const UnavailableMarker = "AI analysis was unavailable for this change."

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Writer creates derived records.
type Writer struct {
	storageDir string
	logger     *slog.Logger
}

// NewWriter creates a writer. storageDir receives rendered images.
func NewWriter(storageDir string, logger *slog.Logger) *Writer {
	return &Writer{storageDir: storageDir, logger: logger}
}

// normalizeTitle is the key used for case-insensitive title dedup.
func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
