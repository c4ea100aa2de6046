package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var scheduleColumns = []string{
	"id", "tenant_id", "booking_id", "event_type", "due_at", "status",
	"attempts", "last_error", "next_attempt_at", "created_at", "completed_at",
}

func scanSchedule(row rowScanner) (models.AutomationSchedule, error) {
	var s models.AutomationSchedule
	err := row.Scan(&s.ID, &s.TenantID, &s.BookingID, &s.EventType, &s.DueAt, &s.Status,
		&s.Attempts, &s.LastError, &s.NextAttemptAt, &s.CreatedAt, &s.CompletedAt)
	return s, err
}

func (s *Store) CreateSchedule(ctx context.Context, sc *models.AutomationSchedule) error {
	sc.CreatedAt = utcNow()
	if sc.Status == "" {
		sc.Status = models.ScheduleStatusPending
	}
	sc.DueAt = sc.DueAt.UTC()

	query, args, err := psql.Insert("automation_schedules").
		Columns("tenant_id", "booking_id", "event_type", "due_at", "status", "attempts", "created_at").
		Values(sc.TenantID, sc.BookingID, sc.EventType, sc.DueAt, sc.Status, sc.Attempts, sc.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build schedule insert: %w", err)
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	sc.ID = id
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (*models.AutomationSchedule, error) {
	query, args, err := psql.Select(scheduleColumns...).From("automation_schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule select: %w", err)
	}
	sc, err := scanSchedule(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %d: %w", id, notFound(err))
	}
	return &sc, nil
}

// DueScheduleQuery selects pending schedules that are due at Now. Exactly one of
// IncludeTypes or ExcludeTypes is normally set so that two consumers can split
// the table between them.
type DueScheduleQuery struct {
	Now          time.Time
	Limit        int
	IncludeTypes []string
	ExcludeTypes []string
}

func (s *Store) GetDueSchedules(ctx context.Context, q DueScheduleQuery) ([]models.AutomationSchedule, error) {
	now := q.Now.UTC()
	qb := psql.Select(scheduleColumns...).From("automation_schedules").
		Where(sq.Eq{"status": models.ScheduleStatusPending}).
		Where(sq.LtOrEq{"due_at": now}).
		Where(sq.Or{sq.Eq{"next_attempt_at": nil}, sq.LtOrEq{"next_attempt_at": now}}).
		OrderBy("due_at ASC", "id ASC").
		Limit(uint64(q.Limit))
	if len(q.IncludeTypes) > 0 {
		qb = qb.Where(sq.Eq{"event_type": q.IncludeTypes})
	}
	if len(q.ExcludeTypes) > 0 {
		qb = qb.Where(sq.NotEq{"event_type": q.ExcludeTypes})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build due schedule query: %w", err)
	}
	return s.querySchedules(ctx, query, args...)
}

func (s *Store) IncrementScheduleAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.q.QueryRowContext(ctx,
		`UPDATE automation_schedules SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to increment schedule attempts: %w", notFound(err))
	}
	return attempts, nil
}

// SetScheduleStatus moves a schedule to status. Terminal statuses also stamp
// completed_at.
func (s *Store) SetScheduleStatus(ctx context.Context, id int64, status string, lastError *string) error {
	qb := psql.Update("automation_schedules").
		Set("status", status).
		Set("last_error", lastError).
		Where(sq.Eq{"id": id})
	if status != models.ScheduleStatusPending {
		qb = qb.Set("completed_at", utcNow())
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build schedule status update: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update schedule status: %w", err)
	}
	return nil
}

// RetrySchedule keeps a schedule pending with the given attempt count and
// postpones it until nextAttempt.
func (s *Store) RetrySchedule(ctx context.Context, id int64, attempts int, errMsg string, nextAttempt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE automation_schedules SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		models.ScheduleStatusPending, attempts, errMsg, nextAttempt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reschedule: %w", err)
	}
	return nil
}

// RecordScheduleFailure counts a failed attempt outside of the transaction that
// failed. The row becomes failed once attempts reach maxAttempts. It returns
// the resulting status and attempt count.
func (s *Store) RecordScheduleFailure(ctx context.Context, id int64, errMsg string, maxAttempts int, nextAttempt time.Time) (string, int, error) {
	var (
		status   string
		attempts int
	)
	err := s.q.QueryRowContext(ctx,
		`UPDATE automation_schedules
         SET attempts = attempts + 1,
             last_error = ?,
             next_attempt_at = ?,
             status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END,
             completed_at = CASE WHEN attempts + 1 >= ? THEN ? ELSE completed_at END
         WHERE id = ? AND status = ?
         RETURNING status, attempts`,
		errMsg, nextAttempt.UTC(), maxAttempts, models.ScheduleStatusFailed,
		maxAttempts, utcNow(), id, models.ScheduleStatusPending,
	).Scan(&status, &attempts)
	if err != nil {
		return "", 0, fmt.Errorf("failed to record schedule failure: %w", notFound(err))
	}
	return status, attempts, nil
}

// CancelPendingSchedules cancels every still-pending schedule of a booking.
func (s *Store) CancelPendingSchedules(ctx context.Context, bookingID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE automation_schedules SET status = ?, completed_at = ? WHERE booking_id = ? AND status = ?`,
		models.ScheduleStatusCancelled, utcNow(), bookingID, models.ScheduleStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel schedules: %w", err)
	}
	return res.RowsAffected()
}

// CancelPendingSchedulesOfTypes is CancelPendingSchedules limited to event types.
func (s *Store) CancelPendingSchedulesOfTypes(ctx context.Context, bookingID int64, eventTypes []string) (int64, error) {
	query, args, err := psql.Update("automation_schedules").
		Set("status", models.ScheduleStatusCancelled).
		Set("completed_at", utcNow()).
		Where(sq.Eq{"booking_id": bookingID, "status": models.ScheduleStatusPending, "event_type": eventTypes}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build schedule cancel: %w", err)
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel schedules: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteSchedulesForBooking(ctx context.Context, bookingID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM automation_schedules WHERE booking_id = ?`, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete schedules: %w", err)
	}
	return res.RowsAffected()
}

type ScheduleFilter struct {
	BookingID int64
	Status    string
	EventType string
	Limit     uint64
}

func (s *Store) ListSchedules(ctx context.Context, f ScheduleFilter) ([]models.AutomationSchedule, error) {
	qb := psql.Select(scheduleColumns...).From("automation_schedules").OrderBy("due_at ASC", "id ASC")
	if f.BookingID != 0 {
		qb = qb.Where(sq.Eq{"booking_id": f.BookingID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": f.Status})
	}
	if f.EventType != "" {
		qb = qb.Where(sq.Eq{"event_type": f.EventType})
	}
	if f.Limit > 0 {
		qb = qb.Limit(f.Limit)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule list: %w", err)
	}
	return s.querySchedules(ctx, query, args...)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]models.AutomationSchedule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var out []models.AutomationSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
