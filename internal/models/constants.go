package models

import "time"

const (
	StatusLead       = "lead"
	StatusHold       = "hold"
	StatusConfirmed  = "confirmed"
	StatusCheckedIn  = "checked_in"
	StatusCheckedOut = "checked_out"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

const (
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Ledger entry kinds and statuses.
const (
	BlockKindBooking = "booking"
	BlockKindManual  = "manual"
	BlockKindHold    = "hold"

	BlockStatusHold      = "hold"
	BlockStatusActive    = "active"
	BlockStatusCancelled = "cancelled"
	BlockStatusBlocked   = "blocked"
	BlockStatusExpired   = "expired"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

const (
	ScheduleStatusPending   = "pending"
	ScheduleStatusPublished = "published"
	ScheduleStatusCompleted = "completed"
	ScheduleStatusFailed    = "failed"
	ScheduleStatusCancelled = "cancelled"
)

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

const CommStatusSent = "sent"

// Outbox topics.
const (
	TopicBookings   = "bookings"
	TopicPayments   = "payments"
	TopicAutomation = "automation"
	TopicInventory  = "inventory"
)

// Event types shared by the outbox and the automation schedules.
const (
	EventBookingCreated    = "booking.created"
	EventBookingUpdated    = "booking.updated"
	EventBookingConfirmed  = "booking.confirmed"
	EventBookingCancelled  = "booking.cancelled"
	EventBookingCheckedIn  = "booking.checked_in"
	EventBookingCheckedOut = "booking.checked_out"
	EventBookingExpired    = "booking.expired"
	EventBookingDeleted    = "booking.deleted"
	EventBookingRefunded   = "booking.refunded"

	EventPaymentCompleted = "payment.completed"
	EventPaymentConflict  = "payment.conflict"
	EventPaymentOrphaned  = "payment.orphaned"

	EventBlocksCreated = "inventory.blocks_created"

	EventStayWelcomeDue     = "stay.welcome_due"
	EventStayPreCheckoutDue = "stay.pre_checkout_due"
	EventStayPostStayDue    = "stay.post_stay_due"
	EventInvoiceDue         = "invoice.due"
)

const (
	DefaultTenant      = "default"
	DefaultCurrency    = "USD"
	DateLayout         = "2006-01-02"
	ScheduleClampDelay = 10 * time.Second
)

// NotificationEventTypes are schedule event types delivered to the guest
// by the notification relay instead of being materialized into the outbox.
var NotificationEventTypes = []string{
	EventBookingConfirmed,
	EventStayWelcomeDue,
	EventStayPreCheckoutDue,
	EventStayPostStayDue,
}

// MilestoneEventTypes are the lifecycle schedules created on confirmation.
var MilestoneEventTypes = []string{
	EventStayWelcomeDue,
	EventStayPreCheckoutDue,
	EventStayPostStayDue,
	EventInvoiceDue,
}

// IsNotificationEvent reports whether a schedule event type is owned by the
// notification relay.
func IsNotificationEvent(eventType string) bool {
	for _, t := range NotificationEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
