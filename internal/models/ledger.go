package models

import "time"

// AvailabilityBlock removes a unit from bookable inventory for [StartDate, EndDate).
type AvailabilityBlock struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UnitID    int64     `json:"unit_id"`
	BookingID *int64    `json:"booking_id,omitempty"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overlaps reports whether the block intersects the half-open range [start, end).
func (b *AvailabilityBlock) Overlaps(start, end time.Time) bool {
	return b.StartDate.Before(end) && b.EndDate.After(start)
}

// DayAvailability is one night of a unit's calendar.
type DayAvailability struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
	BlockID   int64  `json:"block_id,omitempty"`
}
