package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID                int64           `json:"id"`
	TenantID          string          `json:"tenant_id"`
	BookingID         int64           `json:"booking_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	OrderID           string          `json:"order_id"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IdempotencyRecord stores the first response for a client-supplied key.
type IdempotencyRecord struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	StatusCode   int       `json:"status_code"`
	ResponseBody string    `json:"response_body"`
	CreatedAt    time.Time `json:"created_at"`
}
