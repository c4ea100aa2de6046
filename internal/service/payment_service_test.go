package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentService_Initiate(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	lead, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
	require.NoError(t, err)

	p, err := env.payments.Initiate(ctx, lead.ID, InitiatePaymentRequest{Amount: decimal.RequireFromString("300")})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Contains(t, p.OrderID, "order_")
	assert.Equal(t, "USD", p.Currency)

	held, err := env.bookings.Get(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHold, held.Status)
	assert.Equal(t, models.BlockStatusHold, env.block(t, lead.ID).Status)

	_, err = env.payments.Initiate(ctx, lead.ID, InitiatePaymentRequest{Amount: decimal.NewFromInt(1), OrderID: p.OrderID})
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	_, err = env.payments.Initiate(ctx, lead.ID, InitiatePaymentRequest{Amount: decimal.Zero})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "amount", verr.Field)

	_, err = env.payments.Initiate(ctx, 9999, InitiatePaymentRequest{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentService_VerifyConfirmsHold(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", ""))
	require.NoError(t, err)
	p, err := env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: b.TotalAmount, OrderID: "order_1"})
	require.NoError(t, err)

	_, err = env.payments.VerifyPayment(ctx, models.DefaultTenant, "order_1", "pay_1", "deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	sig := CheckoutSignature(testKeySecret, "order_1", "pay_1")
	res, err := env.payments.VerifyPayment(ctx, models.DefaultTenant, "order_1", "pay_1", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, models.StatusConfirmed, res.BookingStatus)

	got, err := env.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.True(t, got.PaidAmount.Equal(b.TotalAmount))

	block := env.block(t, b.ID)
	assert.Equal(t, models.BlockStatusActive, block.Status)
	assert.Equal(t, models.BlockKindBooking, block.Kind)
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingConfirmed), 1)
	assert.Len(t, env.outbox(t, p.ID, models.EventPaymentCompleted), 1)
	assert.Len(t, env.schedules(t, b.ID, models.ScheduleStatusPending), 5)

	// a repeated verify and a late webhook are no-ops
	res, err = env.payments.VerifyPayment(ctx, models.DefaultTenant, "order_1", "pay_1", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)

	res, err = env.payments.ReconcileWebhook(ctx, models.DefaultTenant, "order_1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)

	assert.Len(t, env.outbox(t, b.ID, models.EventBookingConfirmed), 1)
	assert.Len(t, env.schedules(t, b.ID, models.ScheduleStatusPending), 5)
}

func TestPaymentService_ConflictKeepsHold(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	held, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
	require.NoError(t, err)
	_, err = env.payments.Initiate(ctx, held.ID, InitiatePaymentRequest{Amount: held.TotalAmount, OrderID: "order_late"})
	require.NoError(t, err)

	winner, err := env.bookings.Create(ctx, draft(1, "2030-06-11", "2030-06-12", models.StatusConfirmed))
	require.NoError(t, err)

	sig := CheckoutSignature(testKeySecret, "order_late", "pay_late")
	res, err := env.payments.VerifyPayment(ctx, models.DefaultTenant, "order_late", "pay_late", sig)
	require.ErrorIs(t, err, ErrOverlap)
	var overlap *OverlapError
	require.True(t, errors.As(err, &overlap))
	assert.Equal(t, env.block(t, winner.ID).ID, overlap.BlockID)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeConflict, res.Outcome)

	got, err := env.bookings.Get(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHold, got.Status)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)

	payment, err := env.db.Store().GetPaymentByOrderID(ctx, models.DefaultTenant, "order_late")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)

	conflicts := env.outbox(t, payment.ID, models.EventPaymentConflict)
	require.Len(t, conflicts, 1)
	assert.Contains(t, conflicts[0].Payload, `"conflicting_block_id"`)
	assert.Empty(t, env.outbox(t, held.ID, models.EventBookingConfirmed))
}

func TestPaymentService_Webhook(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownOrder", func(t *testing.T) {
		env := setupEnv(t)
		res, err := env.payments.ReconcileWebhook(ctx, models.DefaultTenant, "order_missing", "pay")
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})

	t.Run("ConfirmedBookingOnlyRecordsPayment", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusConfirmed))
		require.NoError(t, err)
		p, err := env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: decimal.NewFromInt(100)})
		require.NoError(t, err)

		res, err := env.payments.ReconcileWebhook(ctx, models.DefaultTenant, p.OrderID, "pay_x")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, res.Outcome)
		assert.Len(t, env.outbox(t, p.ID, models.EventPaymentCompleted), 1)
		assert.Len(t, env.outbox(t, b.ID, models.EventBookingConfirmed), 1, "no second confirmation")
	})

	t.Run("CancelledBookingIsOrphaned", func(t *testing.T) {
		env := setupEnv(t)
		b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
		require.NoError(t, err)
		p, err := env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: decimal.NewFromInt(100)})
		require.NoError(t, err)
		_, err = env.bookings.Cancel(ctx, b.ID, nil)
		require.NoError(t, err)

		res, err := env.payments.ReconcileWebhook(ctx, models.DefaultTenant, p.OrderID, "pay_y")
		require.NoError(t, err)
		assert.Equal(t, OutcomeOrphaned, res.Outcome)
		assert.Len(t, env.outbox(t, p.ID, models.EventPaymentOrphaned), 1)

		got, err := env.bookings.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
	})

	t.Run("OrderResolvedWithoutTenant", func(t *testing.T) {
		env := setupEnv(t)
		d := draft(2, "2030-06-10", "2030-06-13", models.StatusHold)
		d.TenantID = "tenant-b"
		b, err := env.bookings.Create(ctx, d)
		require.NoError(t, err)
		_, err = env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: decimal.NewFromInt(100), OrderID: "order_tb"})
		require.NoError(t, err)

		res, err := env.payments.ReconcileWebhook(ctx, "", "order_tb", "pay_tb")
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, OutcomeConfirmed, res.Outcome)
		assert.Equal(t, "tenant-b", res.Payment.TenantID)
	})

	t.Run("SharedOrderIDNeedsTenant", func(t *testing.T) {
		env := setupEnv(t)
		own, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
		require.NoError(t, err)
		_, err = env.payments.Initiate(ctx, own.ID, InitiatePaymentRequest{Amount: decimal.NewFromInt(100), OrderID: "order_shared"})
		require.NoError(t, err)

		d := draft(2, "2030-06-10", "2030-06-13", models.StatusHold)
		d.TenantID = "tenant-b"
		other, err := env.bookings.Create(ctx, d)
		require.NoError(t, err)
		_, err = env.payments.Initiate(ctx, other.ID, InitiatePaymentRequest{Amount: decimal.NewFromInt(100), OrderID: "order_shared"})
		require.NoError(t, err)

		_, err = env.payments.ReconcileWebhook(ctx, "", "order_shared", "pay_s")
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "got %v", err)
		assert.Equal(t, "order_id", verr.Field)

		res, err := env.payments.ReconcileWebhook(ctx, "tenant-b", "order_shared", "pay_s")
		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirmed, res.Outcome)
		assert.Equal(t, other.ID, res.BookingID)

		got, err := env.bookings.Get(ctx, own.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusHold, got.Status)
	})
}

func TestPaymentService_ConcurrentCompletion(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
	require.NoError(t, err)
	p, err := env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: b.TotalAmount, OrderID: "order_race"})
	require.NoError(t, err)
	sig := CheckoutSignature(testKeySecret, "order_race", "pay_race")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				res *ReconcileResult
				err error
			)
			if i%2 == 0 {
				res, err = env.payments.VerifyPayment(ctx, models.DefaultTenant, "order_race", "pay_race", sig)
			} else {
				res, err = env.payments.ReconcileWebhook(ctx, models.DefaultTenant, "order_race", "pay_race")
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeConfirmed])
	assert.Equal(t, 5, outcomes[OutcomeAlreadyCompleted])
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingConfirmed), 1)
	assert.Len(t, env.outbox(t, p.ID, models.EventPaymentCompleted), 1)
	assert.Len(t, env.schedules(t, b.ID, ""), 5)
}

func TestPaymentService_Refund(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t)

	b, err := env.bookings.Create(ctx, draft(1, "2030-06-10", "2030-06-13", models.StatusHold))
	require.NoError(t, err)

	_, err = env.payments.Refund(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotRefundable)

	p, err := env.payments.Initiate(ctx, b.ID, InitiatePaymentRequest{Amount: b.TotalAmount})
	require.NoError(t, err)
	_, err = env.payments.ReconcileWebhook(ctx, models.DefaultTenant, p.OrderID, "pay_r")
	require.NoError(t, err)
	_, err = env.bookings.Cancel(ctx, b.ID, nil)
	require.NoError(t, err)

	refunded, err := env.payments.Refund(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Len(t, env.outbox(t, b.ID, models.EventBookingRefunded), 1)

	payments, err := env.db.Store().ListPayments(ctx, database.PaymentFilter{BookingID: b.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentRefunded, payments[0].Status)

	_, err = env.payments.Refund(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestSignatures(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := Sign("secret", body)

	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", body, "zz"))
	assert.False(t, VerifySignature("", body, sig))
	assert.Len(t, RequestHash(body), 64)
	assert.Equal(t, RequestHash(body), RequestHash(body))
}
