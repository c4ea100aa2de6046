package service

import (
	"errors"
	"fmt"

	"staybook/internal/database"
)

var (
	ErrNotFound               = database.ErrNotFound
	ErrConcurrentModification = database.ErrConcurrentModification

	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOverlap             = errors.New("dates overlap an existing reservation")
	ErrDuplicateOrder      = errors.New("payment order already exists")
	ErrInvalidSignature    = errors.New("invalid payment signature")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
	ErrNotRefundable       = errors.New("booking is not refundable")
	ErrNotManualBlock      = errors.New("only manual blocks can be deleted")
)

// InvalidTransitionError names the rejected status change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move booking from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// OverlapError carries the ledger entry that blocked the write.
type OverlapError struct {
	BlockID int64
	UnitID  int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("unit %d is already reserved (block %d)", e.UnitID, e.BlockID)
}

func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlap
}

// ValidationError rejects a malformed request before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
