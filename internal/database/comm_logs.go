package database

import (
	"context"
	"fmt"

	"staybook/internal/models"
)

// CommunicationKey builds the per-channel idempotency key of a notification.
func CommunicationKey(eventType string, entityID int64, channel string) string {
	return fmt.Sprintf("%s:%d:%s", eventType, entityID, channel)
}

func (s *Store) HasSentCommunication(ctx context.Context, tenantID, key string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM communication_logs WHERE tenant_id = ? AND idempotency_key = ? AND status = ?`,
		tenantID, key, models.CommStatusSent,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check communication log: %w", err)
	}
	return n > 0, nil
}

// RecordCommunication stores a sent log. Recording the same key twice is a no-op.
func (s *Store) RecordCommunication(ctx context.Context, l *models.CommunicationLog) error {
	l.CreatedAt = utcNow()
	if l.Status == "" {
		l.Status = models.CommStatusSent
	}
	if l.IdempotencyKey == "" {
		l.IdempotencyKey = CommunicationKey(l.EventType, l.EntityID, l.Channel)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO communication_logs (tenant_id, idempotency_key, event_type, entity_id, channel, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (tenant_id, idempotency_key) DO UPDATE SET status = excluded.status`,
		l.TenantID, l.IdempotencyKey, l.EventType, l.EntityID, l.Channel, l.Status, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record communication: %w", err)
	}
	return nil
}

func (s *Store) ListCommunications(ctx context.Context, entityID int64) ([]models.CommunicationLog, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, tenant_id, idempotency_key, event_type, entity_id, channel, status, created_at
         FROM communication_logs WHERE entity_id = ? ORDER BY id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list communications: %w", err)
	}
	defer rows.Close()

	var logs []models.CommunicationLog
	for rows.Next() {
		var l models.CommunicationLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.IdempotencyKey, &l.EventType, &l.EntityID,
			&l.Channel, &l.Status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan communication: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
