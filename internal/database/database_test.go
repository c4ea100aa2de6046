package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func newBooking(unitID int64, in, out, status string) *models.Booking {
	return &models.Booking{
		TenantID:      models.DefaultTenant,
		UnitID:        unitID,
		GuestID:       7,
		GuestName:     "Ada Guest",
		CheckIn:       day(in),
		CheckOut:      day(out),
		Status:        status,
		TotalAmount:   decimal.RequireFromString("240.00"),
		Currency:      "USD",
		PaymentStatus: models.PaymentStatusUnpaid,
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_InMemory(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	b := newBooking(1, "2025-01-10", "2025-01-12", models.StatusLead)
	require.NoError(t, db.Store().CreateBooking(context.Background(), b))
	got, err := db.Store().GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.GuestName, got.GuestName)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var bookingID int64
	err := db.WithTx(ctx, func(s *Store) error {
		b := newBooking(1, "2025-01-10", "2025-01-12", models.StatusConfirmed)
		if err := s.CreateBooking(ctx, b); err != nil {
			return err
		}
		bookingID = b.ID
		if err := s.AppendOutbox(ctx, &models.OutboxMessage{
			TenantID: b.TenantID, Topic: models.TopicBookings, EventType: models.EventBookingConfirmed, EntityID: b.ID,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = db.Store().GetBooking(ctx, bookingID)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := db.Store().ListOutbox(ctx, OutboxFilter{EntityID: bookingID})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}
