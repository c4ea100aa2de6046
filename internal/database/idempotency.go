package database

import (
	"context"
	"fmt"

	"staybook/internal/models"
)

func (s *Store) GetIdempotencyRecord(ctx context.Context, tenantID, key string) (*models.IdempotencyRecord, error) {
	var r models.IdempotencyRecord
	err := s.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, key, request_hash, status_code, response_body, created_at
         FROM idempotency_keys WHERE tenant_id = ? AND key = ?`, tenantID, key,
	).Scan(&r.ID, &r.TenantID, &r.Key, &r.RequestHash, &r.StatusCode, &r.ResponseBody, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", notFound(err))
	}
	return &r, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, r *models.IdempotencyRecord) error {
	r.CreatedAt = utcNow()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, key, request_hash, status_code, response_body, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		r.TenantID, r.Key, r.RequestHash, r.StatusCode, r.ResponseBody, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("idempotency key %s: %w", r.Key, ErrDuplicate)
		}
		return fmt.Errorf("failed to save idempotency record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	return nil
}
