// Package jobs drives analysis runs through the shared status state machine.
// Each job kind is one Kind implementation; Runner owns the transitions.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/tool"
	"gorm.io/gorm"
)

var (
	// ErrIntegrity marks failures that indicate a bug or corrupt data rather
	// than an external fault. They fail the job loudly and are not retried.
	ErrIntegrity = errors.New("integrity error")
	// ErrUnknownKind is returned for a job kind with no registered variant.
	ErrUnknownKind = errors.New("unknown job kind")
)

// Job addresses one run of one kind on one record.
type Job struct {
	Kind     models.JobKind `json:"kind"`
	RecordID uint           `json:"record_id"`
}

// Work is what a kind prepared for one run.
type Work struct {
	RecordID  uint
	ProjectID uint
	// Event is the notification event type; empty means no notification.
	Event string
	// FailureEvent is queued for a final failure when Event is empty.
	FailureEvent string
	// Subject names the record in notification messages, e.g. "PR #42".
	Subject string
	// ActionPath is the app-relative link for notifications.
	ActionPath string
	Context    map[string]interface{}
	// Entity is the loaded record, owned by the kind.
	Entity interface{}
}

// Applied reports what a successful run wrote.
type Applied struct {
	Message   string
	FollowUps []Job
}

// Kind is one job variant: how to prepare the tool context, how to write
// derived records from a result, and what to leave behind on failure.
type Kind interface {
	Name() models.JobKind
	Field() lifecycle.Field
	Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error)
	Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error)
	Fallback(ctx context.Context, tx *gorm.DB, w *Work, reason string) error
}

// Registry maps job kinds to their variant.
type Registry struct {
	kinds map[models.JobKind]Kind
}

// NewRegistry creates a registry from kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[models.JobKind]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Name()] = k
	}
	return r
}

// Get returns the variant for kind.
func (r *Registry) Get(kind models.JobKind) (Kind, error) {
	k, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return k, nil
}

// All returns every registered variant in models.JobKinds order.
func (r *Registry) All() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for _, kind := range models.JobKinds {
		if k, ok := r.kinds[kind]; ok {
			out = append(out, k)
		}
	}
	return out
}

func integrity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// notFound converts a missing-record error into an integrity error.
func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return integrity("%s %d not found", what, id)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}
