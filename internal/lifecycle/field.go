package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Field locates one run-status column and its companions on a table.
// Attempts and MaxAttempts are only set for kinds with bounded automatic retry.
type Field struct {
	Table       string
	Status      string
	StartedAt   string
	Error       string
	Attempts    string
	MaxAttempts int
}

// Exhausted reports whether the retry budget is used up.
func (f Field) Exhausted(attempts int) bool {
	return f.Attempts != "" && f.MaxAttempts > 0 && attempts >= f.MaxAttempts
}

// Snapshot is the persisted run state of one row.
type Snapshot struct {
	Status    Status
	StartedAt *time.Time
	Error     string
	Attempts  int
}

// Enqueue moves a startable row (unset or failed) to pending.
// It returns false without error when the row is already in flight or
// completed, or when the retry budget of the field is exhausted.
func Enqueue(ctx context.Context, db *gorm.DB, f Field, id uint) (bool, error) {
	updates := map[string]interface{}{}
	if f.Error != "" {
		updates[f.Error] = ""
	}
	q := func(tx *gorm.DB) *gorm.DB {
		if f.Attempts != "" && f.MaxAttempts > 0 {
			return tx.Where(f.Attempts+" < ?", f.MaxAttempts)
		}
		return tx
	}
	return swap(ctx, db, f, id, sourcesOf(Pending), Pending, updates, q)
}

// Begin moves a pending row to running and stamps the start time.
// It must succeed before the external tool is invoked.
func Begin(ctx context.Context, db *gorm.DB, f Field, id uint) (bool, error) {
	updates := map[string]interface{}{}
	if f.StartedAt != "" {
		updates[f.StartedAt] = timeNow()
	}
	return swap(ctx, db, f, id, sourcesOf(Running), Running, updates, nil)
}

// Complete moves a running row to completed.
func Complete(ctx context.Context, db *gorm.DB, f Field, id uint) error {
	updates := map[string]interface{}{}
	if f.Error != "" {
		updates[f.Error] = ""
	}
	ok, err := swap(ctx, db, f, id, sourcesOf(Completed), Completed, updates, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s#%d is no longer running", ErrInvalidTransition, f.Table, id)
	}
	return nil
}

// Fail moves a pending or running row to failed, recording the reason and
// consuming one attempt when the field tracks attempts.
func Fail(ctx context.Context, db *gorm.DB, f Field, id uint, reason string) error {
	updates := map[string]interface{}{}
	if f.Error != "" {
		updates[f.Error] = truncate(reason, 2000)
	}
	if f.Attempts != "" {
		updates[f.Attempts] = gorm.Expr(f.Attempts + " + 1")
	}
	ok, err := swap(ctx, db, f, id, sourcesOf(Failed), Failed, updates, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s#%d is not in flight", ErrInvalidTransition, f.Table, id)
	}
	return nil
}

// Reset returns a completed or failed row to unset so it can be re-run.
// Only explicit user actions call this.
func Reset(ctx context.Context, db *gorm.DB, f Field, id uint) (bool, error) {
	updates := map[string]interface{}{}
	if f.Error != "" {
		updates[f.Error] = ""
	}
	if f.Attempts != "" {
		updates[f.Attempts] = 0
	}
	return swap(ctx, db, f, id, sourcesOf(Unset), Unset, updates, nil)
}

// Load reads the current run state of a row.
func Load(ctx context.Context, db *gorm.DB, f Field, id uint) (*Snapshot, error) {
	cols := []string{f.Status}
	if f.StartedAt != "" {
		cols = append(cols, f.StartedAt)
	}
	if f.Error != "" {
		cols = append(cols, f.Error)
	}
	if f.Attempts != "" {
		cols = append(cols, f.Attempts)
	}

	row := map[string]interface{}{}
	res := db.WithContext(ctx).Table(f.Table).Select(cols).
		Where("id = ? AND deleted_at IS NULL", id).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to load %s#%d status: %w", f.Table, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	snap := &Snapshot{Status: Status(asString(row[f.Status]))}
	if f.StartedAt != "" {
		if t, ok := row[f.StartedAt].(time.Time); ok {
			snap.StartedAt = &t
		}
	}
	if f.Error != "" {
		snap.Error = asString(row[f.Error])
	}
	if f.Attempts != "" {
		snap.Attempts = asInt(row[f.Attempts])
	}
	return snap, nil
}

// Stale returns ids of rows stuck in flight: running with a start time before
// the cutoff, or pending without progress since the cutoff.
func Stale(ctx context.Context, db *gorm.DB, f Field, cutoff time.Time) ([]uint, error) {
	var ids []uint
	q := db.WithContext(ctx).Table(f.Table).Where("deleted_at IS NULL")
	if f.StartedAt != "" {
		q = q.Where(
			fmt.Sprintf("((%s = ? AND %s < ?) OR (%s = ? AND updated_at < ?))", f.Status, f.StartedAt, f.Status),
			string(Running), cutoff, string(Pending), cutoff,
		)
	} else {
		q = q.Where(fmt.Sprintf("%s IN ? AND updated_at < ?", f.Status), []string{string(Pending), string(Running)}, cutoff)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale %s rows: %w", f.Table, err)
	}
	return ids, nil
}

// swap performs a conditional update: the row only changes if its status is
// one of from. The boolean reports whether this caller won the swap.
func swap(ctx context.Context, db *gorm.DB, f Field, id uint, from []Status, to Status,
	updates map[string]interface{}, scope func(*gorm.DB) *gorm.DB) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("%w: nothing transitions to %q", ErrInvalidTransition, to)
	}

	updates[f.Status] = string(to)
	updates["updated_at"] = timeNow()

	q := db.WithContext(ctx).Table(f.Table).Where("id = ? AND deleted_at IS NULL", id)
	q = whereStatusIn(q, f.Status, from)
	if scope != nil {
		q = scope(q)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to set %s#%d %s to %q: %w", f.Table, id, f.Status, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// whereStatusIn restricts q to rows whose status is one of states,
// treating NULL as unset.
func whereStatusIn(q *gorm.DB, column string, states []Status) *gorm.DB {
	values := make([]string, 0, len(states))
	hasUnset := false
	for _, s := range states {
		if s == Unset {
			hasUnset = true
		}
		values = append(values, string(s))
	}

	if hasUnset {
		return q.Where(fmt.Sprintf("(%s IS NULL OR %s IN ?)", column, column), values)
	}
	return q.Where(fmt.Sprintf("%s IN ?", column), values)
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// truncate keeps at most max bytes of valid UTF-8, cutting on a rune boundary.
func truncate(s string, max int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
