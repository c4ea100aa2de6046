package service

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/models"
)

// Scheduler turns a confirmed booking into deferred automation rows.
type Scheduler struct {
	checkInHour  int
	checkOutHour int
	loc          *time.Location
	now          func() time.Time
}

func NewScheduler(cfg config.SchedulerConfig) *Scheduler {
	checkIn, checkOut := cfg.CheckInHour, cfg.CheckOutHour
	if checkIn == 0 {
		checkIn = 15
	}
	if checkOut == 0 {
		checkOut = 11
	}
	return &Scheduler{
		checkInHour:  checkIn,
		checkOutHour: checkOut,
		loc:          cfg.Location(),
		now:          time.Now,
	}
}

type milestone struct {
	eventType string
	due       time.Time
}

func (s *Scheduler) at(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.loc)
}

func (s *Scheduler) milestones(b *models.Booking) []milestone {
	checkIn := s.at(b.CheckIn, s.checkInHour)
	checkOut := s.at(b.CheckOut, s.checkOutHour)
	return []milestone{
		{models.EventStayWelcomeDue, checkIn.Add(-24 * time.Hour)},
		{models.EventStayPreCheckoutDue, checkOut.Add(-24 * time.Hour)},
		{models.EventStayPostStayDue, checkOut.Add(time.Hour)},
		{models.EventInvoiceDue, checkOut.Add(2 * time.Hour)},
	}
}

// clamp pulls due times that already passed, or that the store cannot
// represent, to a few seconds from now.
func (s *Scheduler) clamp(due time.Time) time.Time {
	now := s.now()
	if due.Before(now) || due.Year() > 9999 {
		return now.Add(models.ScheduleClampDelay)
	}
	return due
}

// CreateSchedulesForConfirmedBooking inserts the four lifecycle schedules using
// the caller's transaction.
func (s *Scheduler) CreateSchedulesForConfirmedBooking(ctx context.Context, st *database.Store, b *models.Booking) ([]models.AutomationSchedule, error) {
	return s.createMilestones(ctx, st, b, nil)
}

func (s *Scheduler) createMilestones(ctx context.Context, st *database.Store, b *models.Booking, skip map[string]bool) ([]models.AutomationSchedule, error) {
	out := make([]models.AutomationSchedule, 0, len(models.MilestoneEventTypes))
	for _, m := range s.milestones(b) {
		if skip[m.eventType] {
			continue
		}
		sc := models.AutomationSchedule{
			TenantID:  b.TenantID,
			BookingID: b.ID,
			EventType: m.eventType,
			DueAt:     s.clamp(m.due),
			Status:    models.ScheduleStatusPending,
		}
		if err := st.CreateSchedule(ctx, &sc); err != nil {
			return nil, fmt.Errorf("schedule %s for booking %d: %w", m.eventType, b.ID, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// CreateConfirmationNotification queues the guest confirmation message, due now.
func (s *Scheduler) CreateConfirmationNotification(ctx context.Context, st *database.Store, b *models.Booking) (*models.AutomationSchedule, error) {
	sc := models.AutomationSchedule{
		TenantID:  b.TenantID,
		BookingID: b.ID,
		EventType: models.EventBookingConfirmed,
		DueAt:     s.now(),
		Status:    models.ScheduleStatusPending,
	}
	if err := st.CreateSchedule(ctx, &sc); err != nil {
		return nil, fmt.Errorf("confirmation notification for booking %d: %w", b.ID, err)
	}
	return &sc, nil
}

// CancelSchedulesForBooking cancels every pending schedule of the booking.
func (s *Scheduler) CancelSchedulesForBooking(ctx context.Context, st *database.Store, bookingID int64) (int64, error) {
	return st.CancelPendingSchedules(ctx, bookingID)
}

// RescheduleMilestones replaces pending lifecycle schedules after a date
// change. A milestone that already went out is not created again.
func (s *Scheduler) RescheduleMilestones(ctx context.Context, st *database.Store, b *models.Booking) error {
	existing, err := st.ListSchedules(ctx, database.ScheduleFilter{BookingID: b.ID})
	if err != nil {
		return err
	}
	delivered := make(map[string]bool)
	for _, sc := range existing {
		if sc.Status == models.ScheduleStatusPublished || sc.Status == models.ScheduleStatusCompleted {
			delivered[sc.EventType] = true
		}
	}

	if _, err := st.CancelPendingSchedulesOfTypes(ctx, b.ID, models.MilestoneEventTypes); err != nil {
		return err
	}
	_, err = s.createMilestones(ctx, st, b, delivered)
	return err
}
