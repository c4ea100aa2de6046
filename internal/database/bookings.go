package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var bookingColumns = []string{
	"id", "tenant_id", "unit_id", "guest_id", "guest_name", "guest_phone", "guest_chat_id",
	"check_in", "check_out", "status", "total_amount", "paid_amount", "currency", "payment_status",
	"notes", "confirmed_at", "checked_in_at", "checked_out_at", "cancelled_at",
	"created_at", "updated_at", "version",
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                 models.Booking
		checkIn, checkOut string
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.UnitID, &b.GuestID, &b.GuestName, &b.GuestPhone, &b.GuestChatID,
		&checkIn, &checkOut, &b.Status, &b.TotalAmount, &b.PaidAmount, &b.Currency, &b.PaymentStatus,
		&b.Notes, &b.ConfirmedAt, &b.CheckedInAt, &b.CheckedOutAt, &b.CancelledAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if b.CheckIn, err = parseDate(checkIn); err != nil {
		return nil, err
	}
	if b.CheckOut, err = parseDate(checkOut); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	now := utcNow()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	if b.Version == 0 {
		b.Version = 1
	}

	query, args, err := psql.Insert("bookings").
		Columns(bookingColumns[1:]...).
		Values(
			b.TenantID, b.UnitID, b.GuestID, b.GuestName, b.GuestPhone, b.GuestChatID,
			formatDate(b.CheckIn), formatDate(b.CheckOut), b.Status, b.TotalAmount, b.PaidAmount, b.Currency, b.PaymentStatus,
			b.Notes, b.ConfirmedAt, b.CheckedInAt, b.CheckedOutAt, b.CancelledAt,
			b.CreatedAt, b.UpdatedAt, b.Version,
		).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking insert: %w", err)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query, args, err := psql.Select(bookingColumns...).From("bookings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build booking select: %w", err)
	}
	b, err := scanBooking(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, notFound(err))
	}
	return b, nil
}

// UpdateBooking writes every mutable column, guarded by the version the caller
// read. On success b.Version is advanced.
func (s *Store) UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	b.UpdatedAt = utcNow()
	query, args, err := psql.Update("bookings").SetMap(map[string]any{
		"unit_id":        b.UnitID,
		"guest_id":       b.GuestID,
		"guest_name":     b.GuestName,
		"guest_phone":    b.GuestPhone,
		"guest_chat_id":  b.GuestChatID,
		"check_in":       formatDate(b.CheckIn),
		"check_out":      formatDate(b.CheckOut),
		"status":         b.Status,
		"total_amount":   b.TotalAmount,
		"paid_amount":    b.PaidAmount,
		"currency":       b.Currency,
		"payment_status": b.PaymentStatus,
		"notes":          b.Notes,
		"confirmed_at":   b.ConfirmedAt,
		"checked_in_at":  b.CheckedInAt,
		"checked_out_at": b.CheckedOutAt,
		"cancelled_at":   b.CancelledAt,
		"updated_at":     b.UpdatedAt,
		"version":        sq.Expr("version + 1"),
	}).Where(sq.Eq{"id": b.ID, "version": expectedVersion}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking update: %w", err)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	b.Version = expectedVersion + 1
	return nil
}

func (s *Store) DeleteBooking(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	qb := psql.Select(bookingColumns...).From("bookings").OrderBy("check_in ASC", "id ASC")
	if f.TenantID != "" {
		qb = qb.Where(sq.Eq{"tenant_id": f.TenantID})
	}
	if f.UnitID != 0 {
		qb = qb.Where(sq.Eq{"unit_id": f.UnitID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": f.Status})
	}
	if !f.From.IsZero() {
		qb = qb.Where(sq.Gt{"check_out": formatDate(f.From)})
	}
	if !f.To.IsZero() {
		qb = qb.Where(sq.Lt{"check_in": formatDate(f.To)})
	}
	if f.Limit > 0 {
		qb = qb.Limit(f.Limit)
	}
	if f.Offset > 0 {
		qb = qb.Offset(f.Offset)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build booking list: %w", err)
	}
	return s.queryBookings(ctx, query, args...)
}

// ListStaleHolds returns unpaid hold bookings not touched since before cutoff.
// A paid hold is waiting on an operator after a payment conflict.
func (s *Store) ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	query, args, err := psql.Select(bookingColumns...).From("bookings").
		Where(sq.Eq{"status": models.StatusHold}).
		Where(sq.NotEq{"payment_status": models.PaymentStatusPaid}).
		Where(sq.Lt{"updated_at": cutoff.UTC()}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale hold query: %w", err)
	}
	return s.queryBookings(ctx, query, args...)
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
