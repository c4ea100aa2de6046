package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"staybook/internal/service"
)

const defaultSignatureHeader = "X-Payment-Signature"

func (h *handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.InitiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Payments.Initiate(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) refund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Payments.Refund(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type verifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (h *handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Payments.VerifyPayment(r.Context(), tenantFrom(r.Context()), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// webhookEvent is the subset of the provider payload needed to reconcile.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string          `json:"id"`
				OrderID string          `json:"order_id"`
				Notes   json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// paymentWebhook checks the signature over the raw body before decoding
// anything.
func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "could not read body")
		return
	}

	header := h.payments.SignatureHeader
	if header == "" {
		header = defaultSignatureHeader
	}
	sig := strings.TrimSpace(r.Header.Get(header))
	if sig == "" || !service.VerifySignature(h.payments.WebhookSecret, raw, sig) {
		h.logger.Warn().Str("remote", clientKey(r)).Msg("webhook rejected: bad signature")
		h.fail(w, r, service.ErrInvalidSignature)
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.fail(w, r, &service.ValidationError{Message: "invalid JSON body"})
		return
	}

	switch ev.Event {
	case "payment.captured", "payment.authorized":
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	entity := ev.Payload.Payment.Entity
	if entity.OrderID == "" || entity.ID == "" {
		h.fail(w, r, &service.ValidationError{Field: "payload.payment.entity", Message: "order_id and id are required"})
		return
	}

	res, err := h.Payments.ReconcileWebhook(r.Context(), noteTenant(entity.Notes), entity.OrderID, entity.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "processed", "result": res})
}

// noteTenant reads notes.tenant_id from the payment entity. The provider
// sends notes as an empty array when none were set. X-Tenant-ID is not
// consulted because the provider never sends it.
func noteTenant(raw json.RawMessage) string {
	var notes map[string]any
	if json.Unmarshal(raw, &notes) != nil {
		return ""
	}
	tenant, _ := notes["tenant_id"].(string)
	return strings.TrimSpace(tenant)
}
