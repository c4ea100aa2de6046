package models

import "time"

// OutboxMessage is an event recorded in the same transaction as the change it reports.
type OutboxMessage struct {
	ID            int64      `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Topic         string     `json:"topic"`
	EventType     string     `json:"event_type"`
	EntityID      int64      `json:"entity_id"`
	Payload       string     `json:"payload"`
	CorrelationID string     `json:"correlation_id"`
	Attempts      int        `json:"attempts"`
	Status        string     `json:"status"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// BookingEventPayload is the booking snapshot carried by outbox events.
type BookingEventPayload struct {
	BookingID     int64      `json:"booking_id"`
	UnitID        int64      `json:"unit_id"`
	GuestID       int64      `json:"guest_id"`
	GuestName     string     `json:"guest_name"`
	Status        string     `json:"status"`
	PreviousState string     `json:"previous_status,omitempty"`
	CheckIn       string     `json:"check_in"`
	CheckOut      string     `json:"check_out"`
	TotalAmount   string     `json:"total_amount"`
	Currency      string     `json:"currency"`
	PaymentStatus string     `json:"payment_status"`
	ScheduleID    int64      `json:"schedule_id,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// NewBookingEventPayload snapshots a booking for an event.
func NewBookingEventPayload(b *Booking) BookingEventPayload {
	return BookingEventPayload{
		BookingID:     b.ID,
		UnitID:        b.UnitID,
		GuestID:       b.GuestID,
		GuestName:     b.GuestName,
		Status:        b.Status,
		CheckIn:       b.CheckIn.Format(DateLayout),
		CheckOut:      b.CheckOut.Format(DateLayout),
		TotalAmount:   b.TotalAmount.StringFixed(2),
		Currency:      b.Currency,
		PaymentStatus: b.PaymentStatus,
	}
}

// DeadLetter is a copy of a work item parked after its final failed attempt.
type DeadLetter struct {
	Kind      string    `json:"kind"` // outbox, schedule
	ID        int64     `json:"id"`
	EntityID  int64     `json:"entity_id"`
	EventType string    `json:"event_type"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	Payload   string    `json:"payload,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}
