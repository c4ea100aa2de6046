package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("LeadHasNoLedgerEntry", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
		require.NoError(t, err)

		assert.Equal(t, models.StatusLead, b.Status)
		assert.Equal(t, models.DefaultTenant, b.TenantID)
		assert.Equal(t, models.DefaultCurrency, b.Currency)
		assert.Equal(t, int64(1), b.Version)

		_, err = env.db.Store().GetBlockByBooking(ctx, b.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
		assert.Len(t, env.outbox(t, b.ID, models.EventBookingCreated), 1)
		assert.Empty(t, env.schedules(t, b.ID, ""))
	})

	t.Run("ConfirmedWritesEverythingAtomically", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)
		require.NotNil(t, b.ConfirmedAt)

		block := env.block(t, b.ID)
		assert.Equal(t, models.BlockStatusActive, block.Status)
		assert.Equal(t, models.BlockKindBooking, block.Kind)
		assert.True(t, block.StartDate.Equal(date("2030-06-10")))

		assert.Len(t, env.outbox(t, b.ID, models.EventBookingCreated), 1)
		assert.Len(t, env.outbox(t, b.ID, models.EventBookingConfirmed), 1)

		pending := env.schedules(t, b.ID, models.ScheduleStatusPending)
		require.Len(t, pending, 5)
		types := map[string]bool{}
		for _, sc := range pending {
			types[sc.EventType] = true
		}
		for _, et := range append(models.MilestoneEventTypes, models.EventBookingConfirmed) {
			assert.True(t, types[et], et)
		}
	})

	t.Run("HoldGetsHoldEntry", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
		require.NoError(t, err)

		block := env.block(t, b.ID)
		assert.Equal(t, models.BlockStatusHold, block.Status)
		assert.Equal(t, models.BlockKindHold, block.Kind)
		assert.Empty(t, env.schedules(t, b.ID, ""))
	})

	t.Run("OverlapWritesNothing", func(t *testing.T) {
		env := setupEnv(t)
		first, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)

		_, err = env.bookings.Create(ctx, draft(1, "2030-06-12", "2030-06-15", models.StatusConfirmed))
		require.ErrorIs(t, err, ErrOverlap)
		var overlap *OverlapError
		require.True(t, errors.As(err, &overlap))
		assert.Equal(t, env.block(t, first.ID).ID, overlap.BlockID)

		all, err := env.bookings.List(ctx, models.BookingFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("AdjacentStaysDoNotOverlap", func(t *testing.T) {
		env := setupEnv(t)
		_, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)
		_, err = env.bookings.Create(ctx, draft(1, "2030-06-13", "2030-06-15", models.StatusConfirmed))
		require.NoError(t, err)
		_, err = env.bookings.Create(ctx, draft(2, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)
	})

	t.Run("Validation", func(t *testing.T) {
		env := setupEnv(t)
		tests := []struct {
			name  string
			draft BookingDraft
			field string
		}{
			{"MissingGuest", BookingDraft{UnitID: 1, CheckIn: "2030-06-10", CheckOut: "2030-06-11"}, "guest_name"},
			{"MissingUnit", BookingDraft{GuestName: "x", CheckIn: "2030-06-10", CheckOut: "2030-06-11"}, "unit_id"},
			{"BadDate", draft(1, "10/06/2030", "2030-06-11", ""), "check_in"},
			{"EmptyStay", draft(1, "2030-06-11", "2030-06-11", ""), "check_out"},
			{"BadStatus", draft(1, "2030-06-10", "2030-06-11", models.StatusCheckedIn), "status"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.bookings.Create(ctx, tt.draft)
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, tt.field, verr.Field)
			})
		}
	})
}

func TestBookingService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("StaleVersion", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{ExpectedVersion: ptr(int64(1)), Notes: ptr("late arrival")})
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{ExpectedVersion: ptr(int64(1)), Notes: ptr("again")})
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})

	t.Run("IllegalTransition", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{Status: ptr(models.StatusCheckedIn)})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("HoldToConfirmed", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
		require.NoError(t, err)

		updated, err := env.bookings.Update(ctx, b.ID, BookingPatch{Status: ptr(models.StatusConfirmed)})
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		block := env.block(t, b.ID)
		assert.Equal(t, models.BlockStatusActive, block.Status)
		assert.Equal(t, models.BlockKindBooking, block.Kind)
		assert.Len(t, env.outbox(t, b.ID, models.EventBookingUpdated), 1)
		assert.Len(t, env.outbox(t, b.ID, models.EventBookingConfirmed), 1)
		assert.Len(t, env.schedules(t, b.ID, models.ScheduleStatusPending), 5)
	})

	t.Run("ConfirmIntoOverlap", func(t *testing.T) {
		env := setupEnv(t)
		_, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)
		held, err := env.bookings.Create(ctx, draft(1, "2030-06-11", "2030-06-12", models.StatusHold))
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, held.ID, BookingPatch{Status: ptr(models.StatusConfirmed)})
		require.ErrorIs(t, err, ErrOverlap)

		got, err := env.bookings.Get(ctx, held.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusHold, got.Status)
		assert.Equal(t, models.BlockStatusHold, env.block(t, held.ID).Status)
	})

	t.Run("DateChangeReschedulesMilestones", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{CheckIn: ptr("2030-07-01"), CheckOut: ptr("2030-07-04")})
		require.NoError(t, err)

		block := env.block(t, b.ID)
		assert.True(t, block.StartDate.Equal(date("2030-07-01")))
		assert.True(t, block.EndDate.Equal(date("2030-07-04")))

		assert.Len(t, env.schedules(t, b.ID, models.ScheduleStatusCancelled), 4)
		pending := env.schedules(t, b.ID, models.ScheduleStatusPending)
		require.Len(t, pending, 5)
		for _, sc := range pending {
			if sc.EventType == models.EventStayWelcomeDue {
				assert.True(t, sc.DueAt.Equal(time.Date(2030, 6, 30, 15, 0, 0, 0, time.UTC)), sc.DueAt.String())
			}
		}
	})

	t.Run("DateChangeKeepsDeliveredMilestones", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)

		var welcome models.AutomationSchedule
		for _, sc := range env.schedules(t, b.ID, models.ScheduleStatusPending) {
			if sc.EventType == models.EventStayWelcomeDue {
				welcome = sc
			}
		}
		require.NotZero(t, welcome.ID)
		require.NoError(t, env.db.Store().SetScheduleStatus(ctx, welcome.ID, models.ScheduleStatusCompleted, nil))

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{CheckOut: ptr("2030-06-14")})
		require.NoError(t, err)

		rows, err := env.db.Store().ListSchedules(ctx, database.ScheduleFilter{BookingID: b.ID, EventType: models.EventStayWelcomeDue})
		require.NoError(t, err)
		require.Len(t, rows, 1, "welcome message must not be queued twice")
		assert.Equal(t, models.ScheduleStatusCompleted, rows[0].Status)

		assert.Len(t, env.schedules(t, b.ID, models.ScheduleStatusCancelled), 3)
		pending := env.schedules(t, b.ID, models.ScheduleStatusPending)
		require.Len(t, pending, 4)
		for _, sc := range pending {
			assert.NotEqual(t, models.EventStayWelcomeDue, sc.EventType)
			if sc.EventType == models.EventInvoiceDue {
				assert.True(t, sc.DueAt.Equal(time.Date(2030, 6, 14, 13, 0, 0, 0, time.UTC)), sc.DueAt.String())
			}
		}
	})

	t.Run("OwnEntryDoesNotConflict", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{CheckOut: ptr("2030-06-14")})
		require.NoError(t, err)
	})

	t.Run("ClosedBookingCannotMove", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
		require.NoError(t, err)
		_, err = env.bookings.Cancel(ctx, b.ID, nil)
		require.NoError(t, err)

		_, err = env.bookings.Update(ctx, b.ID, BookingPatch{CheckIn: ptr("2030-06-11")})
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	})
}

func TestBookingService_Transitions(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
	require.NoError(t, err)

	b, err = env.bookings.CheckIn(ctx, b.ID, ptr(b.Version))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, b.Status)
	assert.NotNil(t, b.CheckedInAt)
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingCheckedIn), 1)

	_, err = env.bookings.Cancel(ctx, b.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	b, err = env.bookings.CheckOut(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedOut, b.Status)
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingCheckedOut), 1)
	assert.Equal(t, models.BlockStatusActive, env.block(t, b.ID).Status)

	_, err = env.bookings.CheckOut(ctx, b.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBookingService_CancelPropagates(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
	require.NoError(t, err)

	_, err = env.bookings.Cancel(ctx, b.ID, ptr(int64(99)))
	require.ErrorIs(t, err, ErrConcurrentModification)

	cancelled, err := env.bookings.Cancel(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, models.BlockStatusCancelled, env.block(t, b.ID).Status)
	assert.Empty(t, env.schedules(t, b.ID, models.ScheduleStatusPending))
	assert.Len(t, env.schedules(t, b.ID, models.ScheduleStatusCancelled), 5)
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingCancelled), 1)

	// the dates are free again
	_, err = env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
	require.NoError(t, err)

	_, err = env.bookings.Cancel(ctx, b.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBookingService_Delete(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
	require.NoError(t, err)
	p, err := env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: b.TotalAmount})
	require.NoError(t, err)

	require.NoError(t, env.bookings.Delete(ctx, b.ID))

	_, err = env.bookings.Get(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.db.Store().GetBlockByBooking(ctx, b.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, env.schedules(t, b.ID, ""))
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingDeleted), 1)

	payment, err := env.db.Store().GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, payment.Status)

	assert.ErrorIs(t, env.bookings.Delete(ctx, b.ID), ErrNotFound)
}

func TestBookingService_ExpireStaleHolds(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	held, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
	require.NoError(t, err)
	p, err := env.payments.Initiate(ctx, held.ID, InitiatePaymentRequest{Amount: held.TotalAmount})
	require.NoError(t, err)
	lead, err := env.bookings.Create(ctx, draft(2, "2030-06-10", "2030-06-13", ""))
	require.NoError(t, err)

	n, err := env.bookings.ExpireStaleHolds(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.bookings.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = env.bookings.ExpireStaleHolds(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.bookings.Get(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Equal(t, models.BlockStatusExpired, env.block(t, held.ID).Status)
	assert.Len(t, env.outbox(t, held.ID, models.EventBookingExpired), 1)

	payment, err := env.db.Store().GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, payment.Status)

	untouched, err := env.bookings.Get(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLead, untouched.Status)
}

func TestBookingService_ExpireStaleHoldsKeepsPaidHolds(t *testing.T) {
	ctx := context.Background()

	t.Run("ConflictedHoldWaitsForOperator", func(t *testing.T) {
		env := setupEnv(t)
		held, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
		require.NoError(t, err)
		_, err = env.payments.Initiate(ctx, held.ID, InitiatePaymentRequest{Amount: held.TotalAmount, OrderID: "order_a"})
		require.NoError(t, err)
		_, err = env.bookings.Create(ctx, draft(1, "2030-06-11", "2030-06-12", models.StatusConfirmed))
		require.NoError(t, err)

		_, err = env.payments.VerifyPayment(ctx, models.DefaultTenant, "order_a", "pay_a", CheckoutSignature(testKeySecret, "order_a", "pay_a"))
		require.ErrorIs(t, err, ErrOverlap)

		env.bookings.now = func() time.Time { return time.Now().Add(time.Hour) }
		n, err := env.bookings.ExpireStaleHolds(ctx, 30*time.Minute, 10)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := env.bookings.Get(ctx, held.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusHold, got.Status)
		assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)

		_, err = env.bookings.Cancel(ctx, held.ID, nil)
		require.NoError(t, err)
		refunded, err := env.payments.Refund(ctx, held.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	})

	t.Run("LateWebhookOnExpiredHoldIsRefundable", func(t *testing.T) {
		env := setupEnv(t)
		held, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
		require.NoError(t, err)
		_, err = env.payments.Initiate(ctx, held.ID, InitiatePaymentRequest{Amount: held.TotalAmount, OrderID: "order_b"})
		require.NoError(t, err)

		env.bookings.now = func() time.Time { return time.Now().Add(time.Hour) }
		n, err := env.bookings.ExpireStaleHolds(ctx, 30*time.Minute, 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		res, err := env.payments.ReconcileWebhook(ctx, models.DefaultTenant, "order_b", "pay_b")
		require.NoError(t, err)
		assert.Equal(t, OutcomeOrphaned, res.Outcome)

		refunded, err := env.payments.Refund(ctx, held.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, refunded.Status)
		assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)

		payments, err := env.db.Store().ListPayments(ctx, database.PaymentFilter{BookingID: held.ID})
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, models.PaymentRefunded, payments[0].Status)
	})
}

func TestBookingService_ConcurrentConfirmations(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		overlaps  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrOverlap):
				overlaps++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, overlaps)

	blocks, err := env.db.Store().ListBlocks(ctx, database.BlockFilter{UnitID: 1, Statuses: []string{models.BlockStatusActive}})
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}
