package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID            int64           `json:"id"`
	TenantID      string          `json:"tenant_id"`
	UnitID        int64           `json:"unit_id"`
	GuestID       int64           `json:"guest_id"`
	GuestName     string          `json:"guest_name"`
	GuestPhone    string          `json:"guest_phone,omitempty"`
	GuestChatID   int64           `json:"guest_chat_id,omitempty"`
	CheckIn       time.Time       `json:"check_in"`
	CheckOut      time.Time       `json:"check_out"`
	Status        string          `json:"status"` // lead, hold, confirmed, checked_in, checked_out, cancelled, expired
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Currency      string          `json:"currency"`
	PaymentStatus string          `json:"payment_status"`
	Notes         string          `json:"notes,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CheckedInAt   *time.Time      `json:"checked_in_at,omitempty"`
	CheckedOutAt  *time.Time      `json:"checked_out_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int64           `json:"version"`
}

// Nights returns the number of blocked nights in [CheckIn, CheckOut).
func (b *Booking) Nights() int {
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}

// IsConfirmedEquivalent reports whether the booking occupies inventory.
func (b *Booking) IsConfirmedEquivalent() bool {
	return IsConfirmedEquivalent(b.Status)
}

// BookingFilter narrows List queries. Zero values are ignored.
type BookingFilter struct {
	TenantID string
	UnitID   int64
	Status   string
	From     time.Time
	To       time.Time
	Limit    uint64
	Offset   uint64
}
