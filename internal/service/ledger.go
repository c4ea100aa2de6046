package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/database"
	"staybook/internal/events"
	"staybook/internal/models"
)

// checkOverlap fails with *OverlapError when an active entry other than the
// booking's own intersects [start, end).
func checkOverlap(ctx context.Context, st *database.Store, unitID int64, start, end time.Time, excludeBookingID int64) error {
	block, err := st.FindOverlappingBlock(ctx, unitID, start, end, excludeBookingID)
	if err != nil {
		return err
	}
	if block != nil {
		return &OverlapError{BlockID: block.ID, UnitID: unitID}
	}
	return nil
}

// syncLedger makes the booking's ledger entry mirror its status, unit and dates.
func syncLedger(ctx context.Context, st *database.Store, b *models.Booking) error {
	status, ok := models.BlockStatusFor(b.Status)
	if !ok {
		return fmt.Errorf("no ledger status for booking status %q", b.Status)
	}
	kind := models.BlockKindHold
	if status == models.BlockStatusActive {
		kind = models.BlockKindBooking
	}

	existing, err := st.GetBlockByBooking(ctx, b.ID)
	if errors.Is(err, database.ErrNotFound) {
		if status != models.BlockStatusActive && status != models.BlockStatusHold {
			return nil
		}
		id := b.ID
		return st.CreateBlock(ctx, &models.AvailabilityBlock{
			TenantID:  b.TenantID,
			UnitID:    b.UnitID,
			BookingID: &id,
			StartDate: b.CheckIn,
			EndDate:   b.CheckOut,
			Kind:      kind,
			Status:    status,
		})
	}
	if err != nil {
		return err
	}

	existing.UnitID = b.UnitID
	existing.StartDate = b.CheckIn
	existing.EndDate = b.CheckOut
	existing.Status = status
	if status == models.BlockStatusActive || status == models.BlockStatusHold {
		existing.Kind = kind
	}
	return st.UpdateBlock(ctx, existing)
}

// appendEvent writes an outbox row inside the caller's transaction.
func appendEvent(ctx context.Context, st *database.Store, tenantID, topic, eventType string, entityID int64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return st.AppendOutbox(ctx, &models.OutboxMessage{
		TenantID:      tenantID,
		Topic:         topic,
		EventType:     eventType,
		EntityID:      entityID,
		Payload:       string(raw),
		CorrelationID: events.CorrelationID(ctx),
	})
}

func bookingEvent(ctx context.Context, st *database.Store, b *models.Booking, eventType, previous string) error {
	payload := models.NewBookingEventPayload(b)
	payload.PreviousState = previous
	return appendEvent(ctx, st, b.TenantID, models.TopicBookings, eventType, b.ID, payload)
}
