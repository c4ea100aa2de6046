package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"staybook/internal/service"
)

type errorBody struct {
	Error              string `json:"error"`
	Code               string `json:"code"`
	Field              string `json:"field,omitempty"`
	ConflictingBlockID int64  `json:"conflicting_block_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: message, Code: code})
}

// errorResponse maps a service error onto a status code and body.
func errorResponse(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var verr *service.ValidationError
	var overlap *service.OverlapError
	switch {
	case errors.As(err, &verr):
		body.Code, body.Field = "validation_failed", verr.Field
		return http.StatusBadRequest, body
	case errors.As(err, &overlap):
		body.Code, body.ConflictingBlockID = "overlap", overlap.BlockID
		return http.StatusBadRequest, body
	case errors.Is(err, service.ErrNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, service.ErrConcurrentModification):
		body.Code = "stale_version"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrInvalidTransition):
		body.Code = "invalid_transition"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrDuplicateOrder):
		body.Code = "duplicate_order"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrIdempotencyMismatch):
		body.Code = "idempotency_mismatch"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrNotRefundable):
		body.Code = "not_refundable"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrNotManualBlock):
		body.Code = "not_manual_block"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrInvalidSignature):
		body.Code = "invalid_signature"
		return http.StatusUnauthorized, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
}
