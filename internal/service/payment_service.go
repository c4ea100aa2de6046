package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reconciliation outcomes.
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeCompleted        = "completed"
	OutcomeConflict         = "conflict"
	OutcomeOrphaned         = "orphaned"
	OutcomeAlreadyCompleted = "already_completed"
)

type PaymentService struct {
	db        *database.DB
	bookings  *BookingService
	keySecret string
	logger    zerolog.Logger
	now       func() time.Time
}

func NewPaymentService(db *database.DB, bookings *BookingService, cfg config.PaymentsConfig, logger *zerolog.Logger) *PaymentService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "payments").Logger()
	}
	return &PaymentService{db: db, bookings: bookings, keySecret: cfg.KeySecret, logger: l, now: time.Now}
}

type InitiatePaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	Method   string          `json:"method" validate:"max=32"`
	OrderID  string          `json:"order_id" validate:"max=64"`
}

// ReconcileResult describes what a payment completion did to its booking.
type ReconcileResult struct {
	Matched       bool            `json:"matched"`
	Outcome       string          `json:"outcome,omitempty"`
	Payment       *models.Payment `json:"payment,omitempty"`
	BookingID     int64           `json:"booking_id,omitempty"`
	BookingStatus string          `json:"booking_status,omitempty"`
	Conflict      *OverlapError   `json:"-"`
}

type paymentEventPayload struct {
	PaymentID          int64  `json:"payment_id"`
	BookingID          int64  `json:"booking_id"`
	OrderID            string `json:"order_id"`
	ProviderPaymentID  string `json:"provider_payment_id,omitempty"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	BookingStatus      string `json:"booking_status,omitempty"`
	ConflictingBlockID int64  `json:"conflicting_block_id,omitempty"`
	Source             string `json:"source"`
}

// Initiate opens a pending payment for a booking. A lead moves to hold so the
// dates are reserved while the guest pays.
func (s *PaymentService) Initiate(ctx context.Context, bookingID int64, req InitiatePaymentRequest) (*models.Payment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be > 0")
	}

	var p *models.Payment
	err := s.db.WithTx(ctx, func(st *database.Store) error {
		b, err := st.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if models.IsTerminal(b.Status) {
			return invalid("status", fmt.Sprintf("cannot take payment for a %s booking", b.Status))
		}

		if b.Status == models.StatusLead {
			previous := b.Status
			b.Status = models.StatusHold
			if err := st.UpdateBooking(ctx, b, b.Version); err != nil {
				return err
			}
			if err := syncLedger(ctx, st, b); err != nil {
				return err
			}
			if err := bookingEvent(ctx, st, b, models.EventBookingUpdated, previous); err != nil {
				return err
			}
		}

		p = &models.Payment{
			TenantID:  b.TenantID,
			BookingID: b.ID,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Method:    req.Method,
			OrderID:   req.OrderID,
			Status:    models.PaymentPending,
		}
		if p.Currency == "" {
			p.Currency = b.Currency
		}
		if p.OrderID == "" {
			p.OrderID = "order_" + uuid.NewString()
		}
		if err := st.CreatePayment(ctx, p); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return ErrDuplicateOrder
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("booking_id", bookingID).Str("order_id", p.OrderID).Str("amount", p.Amount.String()).Msg("payment initiated")
	return p, nil
}

// VerifyPayment handles the synchronous confirmation from the checkout page.
// A completion that could not confirm the booking is returned as *OverlapError.
func (s *PaymentService) VerifyPayment(ctx context.Context, tenantID, orderID, paymentID, signature string) (*ReconcileResult, error) {
	if orderID == "" || paymentID == "" {
		return nil, invalid("order_id", "order_id and payment_id are required")
	}
	if !VerifySignature(s.keySecret, []byte(orderID+"|"+paymentID), signature) {
		return nil, ErrInvalidSignature
	}

	p, err := s.db.Store().GetPaymentByOrderID(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.PaymentCompleted {
		return &ReconcileResult{Matched: true, Outcome: OutcomeAlreadyCompleted, Payment: p, BookingID: p.BookingID}, nil
	}

	res, err := s.completePayment(ctx, p.ID, paymentID, "verify")
	if err != nil {
		return nil, err
	}
	if res.Conflict != nil {
		return res, res.Conflict
	}
	return res, nil
}

// ReconcileWebhook applies an asynchronous provider notification. Unknown
// orders are reported as unmatched rather than failing the webhook. An empty
// tenantID looks the order up across tenants.
func (s *PaymentService) ReconcileWebhook(ctx context.Context, tenantID, orderID, providerPaymentID string) (*ReconcileResult, error) {
	p, err := s.webhookPayment(ctx, tenantID, orderID)
	if errors.Is(err, database.ErrNotFound) {
		s.logger.Warn().Str("order_id", orderID).Msg("webhook for unknown order")
		return &ReconcileResult{Matched: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Status == models.PaymentCompleted {
		return &ReconcileResult{Matched: true, Outcome: OutcomeAlreadyCompleted, Payment: p, BookingID: p.BookingID}, nil
	}
	return s.completePayment(ctx, p.ID, providerPaymentID, "webhook")
}

func (s *PaymentService) webhookPayment(ctx context.Context, tenantID, orderID string) (*models.Payment, error) {
	st := s.db.Store()
	if tenantID != "" {
		return st.GetPaymentByOrderID(ctx, tenantID, orderID)
	}
	list, err := st.ListPayments(ctx, database.PaymentFilter{OrderID: orderID, Limit: 2})
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, database.ErrNotFound
	case 1:
		return list[0], nil
	}
	return nil, invalid("order_id", "order id is used by several tenants, set notes.tenant_id on the order")
}

// completePayment is shared by the verify call and the webhook. The
// conditional update decides which caller wins; the loser sees
// OutcomeAlreadyCompleted.
func (s *PaymentService) completePayment(ctx context.Context, paymentID int64, providerPaymentID, source string) (*ReconcileResult, error) {
	res := &ReconcileResult{Matched: true}
	var previous string

	err := s.db.WithTx(ctx, func(st *database.Store) error {
		p, err := st.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		res.Payment, res.BookingID = p, p.BookingID
		if p.Status == models.PaymentCompleted {
			res.Outcome = OutcomeAlreadyCompleted
			return nil
		}

		now := s.now().UTC()
		won, err := st.CompletePayment(ctx, p.ID, providerPaymentID, now)
		if err != nil {
			return err
		}
		if !won {
			res.Outcome = OutcomeAlreadyCompleted
			return nil
		}
		p.Status = models.PaymentCompleted
		p.CompletedAt = &now
		if providerPaymentID != "" {
			p.ProviderPaymentID = &providerPaymentID
		}

		payload := paymentEventPayload{
			PaymentID:         p.ID,
			BookingID:         p.BookingID,
			OrderID:           p.OrderID,
			ProviderPaymentID: providerPaymentID,
			Amount:            p.Amount.StringFixed(2),
			Currency:          p.Currency,
			Source:            source,
		}

		b, err := st.GetBooking(ctx, p.BookingID)
		if errors.Is(err, database.ErrNotFound) {
			res.Outcome = OutcomeOrphaned
			return appendEvent(ctx, st, p.TenantID, models.TopicPayments, models.EventPaymentOrphaned, p.ID, payload)
		}
		if err != nil {
			return err
		}
		previous = b.Status
		payload.BookingStatus = b.Status

		switch b.Status {
		case models.StatusLead, models.StatusHold:
			overlapErr := checkOverlap(ctx, st, b.UnitID, b.CheckIn, b.CheckOut, b.ID)
			var conflict *OverlapError
			if errors.As(overlapErr, &conflict) {
				// the money is kept; the booking waits for an operator in hold
				b.Status = models.StatusHold
				markPaid(b, p.Amount)
				if err := st.UpdateBooking(ctx, b, b.Version); err != nil {
					return err
				}
				if err := syncLedger(ctx, st, b); err != nil {
					return err
				}
				payload.BookingStatus = b.Status
				payload.ConflictingBlockID = conflict.BlockID
				res.Outcome, res.Conflict = OutcomeConflict, conflict
				return appendEvent(ctx, st, p.TenantID, models.TopicPayments, models.EventPaymentConflict, p.ID, payload)
			}
			if overlapErr != nil {
				return overlapErr
			}

			b.Status = models.StatusConfirmed
			stampStatus(b, now)
			markPaid(b, p.Amount)
			if err := st.UpdateBooking(ctx, b, b.Version); err != nil {
				return err
			}
			if err := syncLedger(ctx, st, b); err != nil {
				return err
			}
			if err := s.bookings.onConfirmed(ctx, st, b, previous); err != nil {
				return err
			}
			res.Outcome = OutcomeConfirmed
			payload.BookingStatus = b.Status
			return appendEvent(ctx, st, p.TenantID, models.TopicPayments, models.EventPaymentCompleted, p.ID, payload)

		case models.StatusCancelled, models.StatusExpired:
			res.Outcome = OutcomeOrphaned
			return appendEvent(ctx, st, p.TenantID, models.TopicPayments, models.EventPaymentOrphaned, p.ID, payload)

		default:
			markPaid(b, p.Amount)
			if err := st.UpdateBooking(ctx, b, b.Version); err != nil {
				return err
			}
			res.Outcome = OutcomeCompleted
			return appendEvent(ctx, st, p.TenantID, models.TopicPayments, models.EventPaymentCompleted, p.ID, payload)
		}
	})
	if err != nil {
		return nil, err
	}

	if res.Payment != nil {
		if b, err := s.db.Store().GetBooking(ctx, res.Payment.BookingID); err == nil {
			res.BookingStatus = b.Status
		}
	}
	metrics.IncPaymentReconciliation(source, res.Outcome)
	if res.Outcome == OutcomeConfirmed {
		metrics.IncBookingTransition(previous, models.StatusConfirmed)
	}
	s.logger.Info().
		Int64("payment_id", paymentID).
		Int64("booking_id", res.BookingID).
		Str("source", source).
		Str("outcome", res.Outcome).
		Msg("payment reconciled")
	return res, nil
}

func markPaid(b *models.Booking, amount decimal.Decimal) {
	b.PaidAmount = b.PaidAmount.Add(amount)
	b.PaymentStatus = models.PaymentStatusPaid
}

// Refund marks the completed payments of a cancelled or expired booking
// refunded.
func (s *PaymentService) Refund(ctx context.Context, bookingID int64) (*models.Booking, error) {
	var b *models.Booking
	err := s.db.WithTx(ctx, func(st *database.Store) error {
		var err error
		b, err = st.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusCancelled && b.Status != models.StatusExpired {
			return fmt.Errorf("%w: booking is %s", ErrNotRefundable, b.Status)
		}
		n, err := st.RefundCompletedPayments(ctx, bookingID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: no completed payments", ErrNotRefundable)
		}
		b.PaymentStatus = models.PaymentStatusRefunded
		if err := st.UpdateBooking(ctx, b, b.Version); err != nil {
			return err
		}
		return bookingEvent(ctx, st, b, models.EventBookingRefunded, b.Status)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("booking_id", bookingID).Msg("booking refunded")
	return b, nil
}
