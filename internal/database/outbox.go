package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var outboxColumns = []string{
	"id", "tenant_id", "topic", "event_type", "entity_id", "payload", "correlation_id",
	"attempts", "status", "next_attempt_at", "last_error", "created_at", "published_at",
}

func scanOutbox(row rowScanner) (models.OutboxMessage, error) {
	var m models.OutboxMessage
	err := row.Scan(&m.ID, &m.TenantID, &m.Topic, &m.EventType, &m.EntityID, &m.Payload, &m.CorrelationID,
		&m.Attempts, &m.Status, &m.NextAttemptAt, &m.LastError, &m.CreatedAt, &m.PublishedAt)
	return m, err
}

// AppendOutbox records a pending event. It must be called with the Store of
// the transaction that performs the business change being reported.
func (s *Store) AppendOutbox(ctx context.Context, m *models.OutboxMessage) error {
	now := utcNow()
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
	if m.Payload == "" {
		m.Payload = "{}"
	}
	m.Status = models.OutboxStatusPending
	m.Attempts = 0
	m.CreatedAt = now
	m.NextAttemptAt = now

	query, args, err := psql.Insert("outbox_messages").
		Columns("tenant_id", "topic", "event_type", "entity_id", "payload", "correlation_id",
			"attempts", "status", "next_attempt_at", "created_at").
		Values(m.TenantID, m.Topic, m.EventType, m.EntityID, m.Payload, m.CorrelationID,
			m.Attempts, m.Status, m.NextAttemptAt, m.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build outbox insert: %w", err)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id
	return nil
}

// GetPendingOutbox returns due pending messages in insertion order.
func (s *Store) GetPendingOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	query, args, err := psql.Select(outboxColumns...).From("outbox_messages").
		Where(sq.Eq{"status": models.OutboxStatusPending}).
		Where(sq.LtOrEq{"next_attempt_at": now.UTC()}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build pending outbox query: %w", err)
	}
	return s.queryOutbox(ctx, query, args...)
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id int64) error {
	now := utcNow()
	_, err := s.q.ExecContext(ctx,
		`UPDATE outbox_messages SET status = ?, published_at = ?, attempts = attempts + 1, last_error = NULL
         WHERE id = ? AND status = ?`,
		models.OutboxStatusPublished, now, id, models.OutboxStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message published: %w", err)
	}
	return nil
}

// MarkOutboxAttemptFailed records a failed delivery. The row becomes failed once
// attempts reach maxAttempts, otherwise it is rescheduled for nextAttempt.
// It returns the resulting status.
func (s *Store) MarkOutboxAttemptFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, nextAttempt time.Time) (string, error) {
	var status string
	err := s.q.QueryRowContext(ctx,
		`UPDATE outbox_messages
         SET attempts = attempts + 1,
             last_error = ?,
             next_attempt_at = ?,
             status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
         WHERE id = ?
         RETURNING status`,
		errMsg, nextAttempt.UTC(), maxAttempts, models.OutboxStatusFailed, models.OutboxStatusPending, id,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to record outbox failure: %w", notFound(err))
	}
	return status, nil
}

type OutboxFilter struct {
	EventType string
	EntityID  int64
	Status    string
	Limit     uint64
}

func (s *Store) ListOutbox(ctx context.Context, f OutboxFilter) ([]models.OutboxMessage, error) {
	qb := psql.Select(outboxColumns...).From("outbox_messages").OrderBy("id ASC")
	if f.EventType != "" {
		qb = qb.Where(sq.Eq{"event_type": f.EventType})
	}
	if f.EntityID != 0 {
		qb = qb.Where(sq.Eq{"entity_id": f.EntityID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": f.Status})
	}
	if f.Limit > 0 {
		qb = qb.Limit(f.Limit)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox list: %w", err)
	}
	return s.queryOutbox(ctx, query, args...)
}

func (s *Store) queryOutbox(ctx context.Context, query string, args ...any) ([]models.OutboxMessage, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var msgs []models.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
