package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staybook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var blockColumns = []string{
	"id", "tenant_id", "unit_id", "booking_id", "start_date", "end_date",
	"kind", "status", "reason", "created_at", "updated_at",
}

func scanBlock(row rowScanner) (*models.AvailabilityBlock, error) {
	var (
		b          models.AvailabilityBlock
		start, end string
	)
	if err := row.Scan(&b.ID, &b.TenantID, &b.UnitID, &b.BookingID, &start, &end,
		&b.Kind, &b.Status, &b.Reason, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if b.EndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBlock inserts a ledger entry. A second entry for the same booking
// fails with ErrDuplicate.
func (s *Store) CreateBlock(ctx context.Context, b *models.AvailabilityBlock) error {
	now := utcNow()
	b.CreatedAt, b.UpdatedAt = now, now

	query, args, err := psql.Insert("availability_blocks").
		Columns(blockColumns[1:]...).
		Values(b.TenantID, b.UnitID, b.BookingID, formatDate(b.StartDate), formatDate(b.EndDate),
			b.Kind, b.Status, b.Reason, b.CreatedAt, b.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build block insert: %w", err)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger entry for booking already exists: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to create block: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	return nil
}

func (s *Store) GetBlock(ctx context.Context, id int64) (*models.AvailabilityBlock, error) {
	return s.getBlockWhere(ctx, sq.Eq{"id": id})
}

func (s *Store) GetBlockByBooking(ctx context.Context, bookingID int64) (*models.AvailabilityBlock, error) {
	return s.getBlockWhere(ctx, sq.Eq{"booking_id": bookingID})
}

func (s *Store) getBlockWhere(ctx context.Context, pred sq.Eq) (*models.AvailabilityBlock, error) {
	query, args, err := psql.Select(blockColumns...).From("availability_blocks").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build block select: %w", err)
	}
	b, err := scanBlock(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", notFound(err))
	}
	return b, nil
}

func (s *Store) UpdateBlock(ctx context.Context, b *models.AvailabilityBlock) error {
	b.UpdatedAt = utcNow()
	query, args, err := psql.Update("availability_blocks").SetMap(map[string]any{
		"unit_id":    b.UnitID,
		"start_date": formatDate(b.StartDate),
		"end_date":   formatDate(b.EndDate),
		"kind":       b.Kind,
		"status":     b.Status,
		"reason":     b.Reason,
		"updated_at": b.UpdatedAt,
	}).Where(sq.Eq{"id": b.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build block update: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update block: %w", err)
	}
	return nil
}

// FindOverlappingBlock returns the first active entry on the unit that
// intersects [start, end), ignoring the entry owned by excludeBookingID.
// It returns nil when the range is free.
func (s *Store) FindOverlappingBlock(ctx context.Context, unitID int64, start, end time.Time, excludeBookingID int64) (*models.AvailabilityBlock, error) {
	qb := psql.Select(blockColumns...).From("availability_blocks").
		Where(sq.Eq{"unit_id": unitID, "status": models.BlockStatusActive}).
		Where(sq.Lt{"start_date": formatDate(end)}).
		Where(sq.Gt{"end_date": formatDate(start)}).
		OrderBy("start_date ASC").
		Limit(1)
	if excludeBookingID != 0 {
		qb = qb.Where(sq.Or{sq.Eq{"booking_id": nil}, sq.NotEq{"booking_id": excludeBookingID}})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build overlap query: %w", err)
	}
	b, err := scanBlock(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check overlap: %w", err)
	}
	return b, nil
}

type BlockFilter struct {
	UnitID   int64
	From     time.Time
	To       time.Time
	Statuses []string
}

func (s *Store) ListBlocks(ctx context.Context, f BlockFilter) ([]*models.AvailabilityBlock, error) {
	qb := psql.Select(blockColumns...).From("availability_blocks").OrderBy("start_date ASC", "id ASC")
	if f.UnitID != 0 {
		qb = qb.Where(sq.Eq{"unit_id": f.UnitID})
	}
	if len(f.Statuses) > 0 {
		qb = qb.Where(sq.Eq{"status": f.Statuses})
	}
	if !f.To.IsZero() {
		qb = qb.Where(sq.Lt{"start_date": formatDate(f.To)})
	}
	if !f.From.IsZero() {
		qb = qb.Where(sq.Gt{"end_date": formatDate(f.From)})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build block list: %w", err)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*models.AvailabilityBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (s *Store) DeleteBlock(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM availability_blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBlocksForBooking(ctx context.Context, bookingID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM availability_blocks WHERE booking_id = ?`, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete booking blocks: %w", err)
	}
	return res.RowsAffected()
}
