package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
)

const trackingLogColumns = `id, student_id, course_id, action, previous_value, new_value, performed_by, created_at`

// TrackingLogRepository persists the append-only progress audit trail.
// It deliberately exposes no update or delete operation.
type TrackingLogRepository struct {
	db *sqlx.DB
}

// NewTrackingLogRepository constructs the repository.
func NewTrackingLogRepository(db *sqlx.DB) *TrackingLogRepository {
	return &TrackingLogRepository{db: db}
}

// Append inserts entries atomically.
func (r *TrackingLogRepository) Append(ctx context.Context, logs ...models.TrackingLog) (err error) {
	if len(logs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tracking log transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = insertTrackingLogs(ctx, tx, logs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tracking logs: %w", err)
	}
	return nil
}

// List returns entries matching the filter in canonical (oldest first) order.
func (r *TrackingLogRepository) List(ctx context.Context, filter models.TrackingLogFilter) ([]models.TrackingLog, error) {
	where, args := trackingLogWhere(filter)
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT %s FROM tracking_logs%s ORDER BY created_at ASC, seq ASC LIMIT %d OFFSET %d",
		trackingLogColumns, where, limit, offset)

	var logs []models.TrackingLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("list tracking logs: %w", err)
	}
	return logs, nil
}

// Count returns how many entries match the filter, ignoring limit and offset.
func (r *TrackingLogRepository) Count(ctx context.Context, filter models.TrackingLogFilter) (int, error) {
	where, args := trackingLogWhere(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tracking_logs"+where, args...); err != nil {
		return 0, fmt.Errorf("count tracking logs: %w", err)
	}
	return total, nil
}

func trackingLogWhere(filter models.TrackingLogFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 4)
	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.CourseID != "" {
		add("course_id", filter.CourseID)
	}
	if filter.PerformedBy != "" {
		add("performed_by", filter.PerformedBy)
	}
	if filter.Action != "" {
		add("action", filter.Action)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func insertTrackingLogs(ctx context.Context, exec sqlx.ExecerContext, logs []models.TrackingLog) error {
	const query = `INSERT INTO tracking_logs (` + trackingLogColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i := range logs {
		entry := &logs[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		if entry.PerformedBy == "" {
			entry.PerformedBy = models.SystemActor
		}
		if _, err := exec.ExecContext(ctx, query,
			entry.ID,
			entry.StudentID,
			entry.CourseID,
			entry.Action,
			entry.PreviousValue,
			entry.NewValue,
			entry.PerformedBy,
			entry.Timestamp,
		); err != nil {
			return fmt.Errorf("insert tracking log %s: %w", entry.Action, err)
		}
	}
	return nil
}
