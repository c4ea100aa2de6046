package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testKeySecret = "key-secret"

type testEnv struct {
	db       *database.DB
	bookings *BookingService
	payments *PaymentService
	ledger   *LedgerService
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	scheduler := NewScheduler(config.SchedulerConfig{CheckInHour: 15, CheckOutHour: 11, Timezone: "UTC"})
	bookings := NewBookingService(db, scheduler, &logger)
	return &testEnv{
		db:       db,
		bookings: bookings,
		payments: NewPaymentService(db, bookings, config.PaymentsConfig{KeySecret: testKeySecret}, &logger),
		ledger:   NewLedgerService(db, &logger),
	}
}

func draft(unitID int64, in, out, status string) BookingDraft {
	return BookingDraft{
		UnitID:      unitID,
		GuestID:     7,
		GuestName:   "Ada Guest",
		CheckIn:     in,
		CheckOut:    out,
		Status:      status,
		TotalAmount: decimal.RequireFromString("300.00"),
	}
}

func (e *testEnv) outbox(t *testing.T, entityID int64, eventType string) []models.OutboxMessage {
	t.Helper()
	msgs, err := e.db.Store().ListOutbox(context.Background(), database.OutboxFilter{EntityID: entityID, EventType: eventType})
	require.NoError(t, err)
	return msgs
}

func (e *testEnv) schedules(t *testing.T, bookingID int64, status string) []models.AutomationSchedule {
	t.Helper()
	rows, err := e.db.Store().ListSchedules(context.Background(), database.ScheduleFilter{BookingID: bookingID, Status: status})
	require.NoError(t, err)
	return rows
}

func (e *testEnv) block(t *testing.T, bookingID int64) *models.AvailabilityBlock {
	t.Helper()
	b, err := e.db.Store().GetBlockByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	return b
}

func date(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }
