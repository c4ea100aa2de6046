package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var paymentColumns = []string{
	"id", "tenant_id", "booking_id", "amount", "currency", "method", "order_id",
	"provider_payment_id", "status", "created_at", "completed_at", "updated_at",
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.TenantID, &p.BookingID, &p.Amount, &p.Currency, &p.Method, &p.OrderID,
		&p.ProviderPaymentID, &p.Status, &p.CreatedAt, &p.CompletedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a pending payment. A second payment with the same
// order id for the tenant fails with ErrDuplicate.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	now := utcNow()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = models.PaymentPending
	}

	query, args, err := psql.Insert("payments").
		Columns(paymentColumns[1:]...).
		Values(p.TenantID, p.BookingID, p.Amount, p.Currency, p.Method, p.OrderID,
			p.ProviderPaymentID, p.Status, p.CreatedAt, p.CompletedAt, p.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build payment insert: %w", err)
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", p.OrderID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return s.getPaymentWhere(ctx, sq.Eq{"id": id})
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, tenantID, orderID string) (*models.Payment, error) {
	return s.getPaymentWhere(ctx, sq.Eq{"tenant_id": tenantID, "order_id": orderID})
}

func (s *Store) getPaymentWhere(ctx context.Context, pred sq.Eq) (*models.Payment, error) {
	query, args, err := psql.Select(paymentColumns...).From("payments").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment select: %w", err)
	}
	p, err := scanPayment(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", notFound(err))
	}
	return p, nil
}

// CompletePayment flips a pending or failed payment to completed. The
// boolean is false when another caller completed it first or it was refunded.
func (s *Store) CompletePayment(ctx context.Context, id int64, providerPaymentID string, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE payments SET status = ?, provider_payment_id = COALESCE(NULLIF(?, ''), provider_payment_id),
             completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		models.PaymentCompleted, providerPaymentID, at.UTC(), utcNow(), id, models.PaymentPending, models.PaymentFailed)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// FailPendingPayments marks the booking's pending payments failed.
func (s *Store) FailPendingPayments(ctx context.Context, bookingID int64) (int64, error) {
	return s.movePayments(ctx, bookingID, models.PaymentPending, models.PaymentFailed)
}

// RefundCompletedPayments marks the booking's completed payments refunded.
func (s *Store) RefundCompletedPayments(ctx context.Context, bookingID int64) (int64, error) {
	return s.movePayments(ctx, bookingID, models.PaymentCompleted, models.PaymentRefunded)
}

func (s *Store) movePayments(ctx context.Context, bookingID int64, from, to string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE booking_id = ? AND status = ?`,
		to, utcNow(), bookingID, from)
	if err != nil {
		return 0, fmt.Errorf("failed to move payments %s->%s: %w", from, to, err)
	}
	return res.RowsAffected()
}

// PaymentFilter narrows ListPayments. OrderID matches across tenants.
type PaymentFilter struct {
	BookingID int64
	OrderID   string
	Status    string
	Limit     uint64
}

func (s *Store) ListPayments(ctx context.Context, f PaymentFilter) ([]*models.Payment, error) {
	qb := psql.Select(paymentColumns...).From("payments").OrderBy("id ASC")
	if f.BookingID != 0 {
		qb = qb.Where(sq.Eq{"booking_id": f.BookingID})
	}
	if f.OrderID != "" {
		qb = qb.Where(sq.Eq{"order_id": f.OrderID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": f.Status})
	}
	if f.Limit > 0 {
		qb = qb.Limit(f.Limit)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment list: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
