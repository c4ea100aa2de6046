package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"staybook/internal/service"
)

const headerIdempotencyKey = "Idempotency-Key"

func (h *handler) availability(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathID(r, "unitID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := parseDateParam(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if from.IsZero() {
		now := time.Now().UTC()
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 30)
	}

	days, err := h.Ledger.Availability(r.Context(), unitID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unit_id": unitID, "days": days})
}

// bulkBlocks hashes the raw body so a replayed Idempotency-Key can be told
// apart from a reused one.
func (h *handler) bulkBlocks(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathID(r, "unitID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "could not read body")
		return
	}

	var req service.BulkBlockRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(w, r, &service.ValidationError{Message: "invalid JSON body: " + err.Error()})
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	res, err := h.Ledger.CreateManualBlocks(r.Context(), tenantFrom(r.Context()), unitID, key, service.RequestHash(raw), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *handler) deleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Ledger.DeleteBlock(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
