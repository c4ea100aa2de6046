package service

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/database"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type BookingService struct {
	db        *database.DB
	scheduler *Scheduler
	logger    zerolog.Logger
	now       func() time.Time
}

func NewBookingService(db *database.DB, scheduler *Scheduler, logger *zerolog.Logger) *BookingService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "bookings").Logger()
	}
	return &BookingService{db: db, scheduler: scheduler, logger: l, now: time.Now}
}

type BookingDraft struct {
	TenantID    string          `json:"-"`
	UnitID      int64           `json:"unit_id" validate:"required,gt=0"`
	GuestID     int64           `json:"guest_id" validate:"gte=0"`
	GuestName   string          `json:"guest_name" validate:"required,max=200"`
	GuestPhone  string          `json:"guest_phone" validate:"max=32"`
	GuestChatID int64           `json:"guest_chat_id"`
	CheckIn     string          `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut    string          `json:"check_out" validate:"required,datetime=2006-01-02"`
	Status      string          `json:"status" validate:"omitempty,oneof=lead hold confirmed"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	Notes       string          `json:"notes" validate:"max=2000"`
}

// BookingPatch changes only the non-nil fields.
type BookingPatch struct {
	ExpectedVersion *int64           `json:"expected_version"`
	UnitID          *int64           `json:"unit_id" validate:"omitempty,gt=0"`
	GuestName       *string          `json:"guest_name" validate:"omitempty,min=1,max=200"`
	GuestPhone      *string          `json:"guest_phone" validate:"omitempty,max=32"`
	GuestChatID     *int64           `json:"guest_chat_id"`
	CheckIn         *string          `json:"check_in" validate:"omitempty,datetime=2006-01-02"`
	CheckOut        *string          `json:"check_out" validate:"omitempty,datetime=2006-01-02"`
	Status          *string          `json:"status" validate:"omitempty,oneof=lead hold confirmed checked_in checked_out cancelled expired"`
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	Notes           *string          `json:"notes" validate:"omitempty,max=2000"`
}

func parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := time.Parse(models.DateLayout, checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, invalid("check_in", "must be a YYYY-MM-DD date")
	}
	out, err := time.Parse(models.DateLayout, checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, invalid("check_out", "must be a YYYY-MM-DD date")
	}
	if !in.Before(out) {
		return time.Time{}, time.Time{}, invalid("check_out", "must be after check_in")
	}
	return in, out, nil
}

func stampStatus(b *models.Booking, now time.Time) {
	switch b.Status {
	case models.StatusConfirmed:
		if b.ConfirmedAt == nil {
			b.ConfirmedAt = &now
		}
	case models.StatusCheckedIn:
		b.CheckedInAt = &now
	case models.StatusCheckedOut:
		b.CheckedOutAt = &now
	case models.StatusCancelled:
		b.CancelledAt = &now
	}
}

// onConfirmed records everything that follows a booking becoming confirmed.
func (s *BookingService) onConfirmed(ctx context.Context, st *database.Store, b *models.Booking, previous string) error {
	if err := bookingEvent(ctx, st, b, models.EventBookingConfirmed, previous); err != nil {
		return err
	}
	if _, err := s.scheduler.CreateSchedulesForConfirmedBooking(ctx, st, b); err != nil {
		return err
	}
	_, err := s.scheduler.CreateConfirmationNotification(ctx, st, b)
	return err
}

func (s *BookingService) Create(ctx context.Context, draft BookingDraft) (*models.Booking, error) {
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	checkIn, checkOut, err := parseStay(draft.CheckIn, draft.CheckOut)
	if err != nil {
		return nil, err
	}
	if draft.TotalAmount.IsNegative() {
		return nil, invalid("total_amount", "must not be negative")
	}

	b := &models.Booking{
		TenantID:      draft.TenantID,
		UnitID:        draft.UnitID,
		GuestID:       draft.GuestID,
		GuestName:     draft.GuestName,
		GuestPhone:    draft.GuestPhone,
		GuestChatID:   draft.GuestChatID,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Status:        draft.Status,
		TotalAmount:   draft.TotalAmount,
		PaidAmount:    decimal.Zero,
		Currency:      draft.Currency,
		PaymentStatus: models.PaymentStatusUnpaid,
		Notes:         draft.Notes,
	}
	if b.TenantID == "" {
		b.TenantID = models.DefaultTenant
	}
	if b.Status == "" {
		b.Status = models.StatusLead
	}
	if b.Currency == "" {
		b.Currency = models.DefaultCurrency
	}
	stampStatus(b, s.now().UTC())

	err = s.db.WithTx(ctx, func(st *database.Store) error {
		if b.IsConfirmedEquivalent() {
			if err := checkOverlap(ctx, st, b.UnitID, b.CheckIn, b.CheckOut, 0); err != nil {
				return err
			}
		}
		if err := st.CreateBooking(ctx, b); err != nil {
			return err
		}
		if err := syncLedger(ctx, st, b); err != nil {
			return err
		}
		if err := bookingEvent(ctx, st, b, models.EventBookingCreated, ""); err != nil {
			return err
		}
		if b.Status == models.StatusConfirmed {
			return s.onConfirmed(ctx, st, b, "")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition("", b.Status)
	s.logger.Info().Int64("booking_id", b.ID).Int64("unit_id", b.UnitID).Str("status", b.Status).Msg("booking created")
	return b, nil
}

func (s *BookingService) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return s.db.Store().GetBooking(ctx, id)
}

func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if filter.Status != "" && !models.IsValidStatus(filter.Status) {
		return nil, invalid("status", "unknown status")
	}
	if filter.Limit == 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.db.Store().ListBookings(ctx, filter)
}

func (s *BookingService) Update(ctx context.Context, id int64, patch BookingPatch) (*models.Booking, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	if patch.TotalAmount != nil && patch.TotalAmount.IsNegative() {
		return nil, invalid("total_amount", "must not be negative")
	}

	var (
		b        *models.Booking
		previous string
	)
	err := s.db.WithTx(ctx, func(st *database.Store) error {
		var err error
		b, err = st.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		expected := b.Version
		if patch.ExpectedVersion != nil {
			if *patch.ExpectedVersion != b.Version {
				return ErrConcurrentModification
			}
			expected = *patch.ExpectedVersion
		}
		previous = b.Status
		oldUnit, oldIn, oldOut := b.UnitID, b.CheckIn, b.CheckOut

		if err := applyPatch(b, patch); err != nil {
			return err
		}
		stayChanged := b.UnitID != oldUnit || !b.CheckIn.Equal(oldIn) || !b.CheckOut.Equal(oldOut)
		if stayChanged && models.IsTerminal(previous) {
			return invalid("status", fmt.Sprintf("a %s booking cannot be moved", previous))
		}
		if !models.CanTransition(previous, b.Status) {
			return &InvalidTransitionError{From: previous, To: b.Status}
		}
		if b.Status != previous {
			stampStatus(b, s.now().UTC())
		}

		if b.IsConfirmedEquivalent() {
			if err := checkOverlap(ctx, st, b.UnitID, b.CheckIn, b.CheckOut, b.ID); err != nil {
				return err
			}
		}
		if err := st.UpdateBooking(ctx, b, expected); err != nil {
			return err
		}
		if err := syncLedger(ctx, st, b); err != nil {
			return err
		}
		if err := bookingEvent(ctx, st, b, models.EventBookingUpdated, previous); err != nil {
			return err
		}

		if b.Status != previous {
			return s.afterTransition(ctx, st, b, previous)
		}
		if stayChanged && b.IsConfirmedEquivalent() {
			return s.scheduler.RescheduleMilestones(ctx, st, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.Status != previous {
		metrics.IncBookingTransition(previous, b.Status)
	}
	s.logger.Info().Int64("booking_id", b.ID).Str("from", previous).Str("to", b.Status).Int64("version", b.Version).Msg("booking updated")
	return b, nil
}

func applyPatch(b *models.Booking, p BookingPatch) error {
	if p.UnitID != nil {
		b.UnitID = *p.UnitID
	}
	if p.GuestName != nil {
		b.GuestName = *p.GuestName
	}
	if p.GuestPhone != nil {
		b.GuestPhone = *p.GuestPhone
	}
	if p.GuestChatID != nil {
		b.GuestChatID = *p.GuestChatID
	}
	if p.Notes != nil {
		b.Notes = *p.Notes
	}
	if p.TotalAmount != nil {
		b.TotalAmount = *p.TotalAmount
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.CheckIn != nil || p.CheckOut != nil {
		in, out := b.CheckIn.Format(models.DateLayout), b.CheckOut.Format(models.DateLayout)
		if p.CheckIn != nil {
			in = *p.CheckIn
		}
		if p.CheckOut != nil {
			out = *p.CheckOut
		}
		checkIn, checkOut, err := parseStay(in, out)
		if err != nil {
			return err
		}
		b.CheckIn, b.CheckOut = checkIn, checkOut
	}
	return nil
}

// afterTransition emits the status-specific event and adjusts schedules.
func (s *BookingService) afterTransition(ctx context.Context, st *database.Store, b *models.Booking, previous string) error {
	switch b.Status {
	case models.StatusConfirmed:
		return s.onConfirmed(ctx, st, b, previous)
	case models.StatusCancelled:
		if err := bookingEvent(ctx, st, b, models.EventBookingCancelled, previous); err != nil {
			return err
		}
		_, err := s.scheduler.CancelSchedulesForBooking(ctx, st, b.ID)
		return err
	case models.StatusExpired:
		if err := bookingEvent(ctx, st, b, models.EventBookingExpired, previous); err != nil {
			return err
		}
		if _, err := st.FailPendingPayments(ctx, b.ID); err != nil {
			return err
		}
		_, err := s.scheduler.CancelSchedulesForBooking(ctx, st, b.ID)
		return err
	case models.StatusCheckedIn:
		return bookingEvent(ctx, st, b, models.EventBookingCheckedIn, previous)
	case models.StatusCheckedOut:
		return bookingEvent(ctx, st, b, models.EventBookingCheckedOut, previous)
	}
	return nil
}

// transition moves a booking to status as one atomic write.
func (s *BookingService) transition(ctx context.Context, id int64, to string, expectedVersion *int64) (*models.Booking, error) {
	var (
		b        *models.Booking
		previous string
	)
	err := s.db.WithTx(ctx, func(st *database.Store) error {
		var err error
		b, err = st.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != b.Version {
			return ErrConcurrentModification
		}
		previous = b.Status
		if previous == to || !models.CanTransition(previous, to) {
			return &InvalidTransitionError{From: previous, To: to}
		}

		b.Status = to
		stampStatus(b, s.now().UTC())
		if b.IsConfirmedEquivalent() && !models.IsConfirmedEquivalent(previous) {
			if err := checkOverlap(ctx, st, b.UnitID, b.CheckIn, b.CheckOut, b.ID); err != nil {
				return err
			}
		}
		if err := st.UpdateBooking(ctx, b, b.Version); err != nil {
			return err
		}
		if err := syncLedger(ctx, st, b); err != nil {
			return err
		}
		return s.afterTransition(ctx, st, b, previous)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(previous, to)
	s.logger.Info().Int64("booking_id", id).Str("from", previous).Str("to", to).Msg("booking transitioned")
	return b, nil
}

func (s *BookingService) Cancel(ctx context.Context, id int64, expectedVersion *int64) (*models.Booking, error) {
	return s.transition(ctx, id, models.StatusCancelled, expectedVersion)
}

func (s *BookingService) CheckIn(ctx context.Context, id int64, expectedVersion *int64) (*models.Booking, error) {
	return s.transition(ctx, id, models.StatusCheckedIn, expectedVersion)
}

func (s *BookingService) CheckOut(ctx context.Context, id int64, expectedVersion *int64) (*models.Booking, error) {
	return s.transition(ctx, id, models.StatusCheckedOut, expectedVersion)
}

// Delete removes a booking together with its ledger entry and schedules.
// Completed payments stay as financial history.
func (s *BookingService) Delete(ctx context.Context, id int64) error {
	err := s.db.WithTx(ctx, func(st *database.Store) error {
		b, err := st.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if _, err := st.DeleteBlocksForBooking(ctx, id); err != nil {
			return err
		}
		if _, err := st.DeleteSchedulesForBooking(ctx, id); err != nil {
			return err
		}
		if _, err := st.FailPendingPayments(ctx, id); err != nil {
			return err
		}
		if err := st.DeleteBooking(ctx, id); err != nil {
			return err
		}
		return bookingEvent(ctx, st, b, models.EventBookingDeleted, b.Status)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int64("booking_id", id).Msg("booking deleted")
	return nil
}

// ExpireStaleHolds expires hold bookings untouched for longer than ttl and
// returns how many were expired.
func (s *BookingService) ExpireStaleHolds(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	stale, err := s.db.Store().ListStaleHolds(ctx, s.now().Add(-ttl), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		_, err := s.transition(ctx, candidate.ID, models.StatusExpired, &candidate.Version)
		if err != nil {
			// the booking moved on since it was listed
			s.logger.Debug().Err(err).Int64("booking_id", candidate.ID).Msg("hold not expired")
			continue
		}
		expired++
	}
	return expired, nil
}
