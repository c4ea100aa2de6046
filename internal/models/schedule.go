package models

import "time"

// AutomationSchedule is a deferred lifecycle event for one booking.
type AutomationSchedule struct {
	ID            int64      `json:"id"`
	TenantID      string     `json:"tenant_id"`
	BookingID     int64      `json:"booking_id"`
	EventType     string     `json:"event_type"`
	DueAt         time.Time  `json:"due_at"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// CommunicationLog proves that a notification went out on a channel.
type CommunicationLog struct {
	ID             int64     `json:"id"`
	TenantID       string    `json:"tenant_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	EventType      string    `json:"event_type"`
	EntityID       int64     `json:"entity_id"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
