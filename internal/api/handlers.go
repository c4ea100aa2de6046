package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"staybook/internal/models"
	"staybook/internal/service"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &service.ValidationError{Message: "request body is required"}
		}
		return &service.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &service.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return id, nil
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, &service.ValidationError{Field: name, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

// expectedVersion reads the optional optimistic lock from ?version= or
// If-Match.
func expectedVersion(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("version"))
	if raw == "" {
		raw = strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &service.ValidationError{Field: "version", Message: "must be an integer"}
	}
	return &v, nil
}

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var draft service.BookingDraft
	if err := decodeJSON(r, &draft); err != nil {
		h.fail(w, r, err)
		return
	}
	draft.TenantID = tenantFrom(r.Context())

	b, err := h.Bookings.Create(r.Context(), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handler) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		TenantID: tenantFrom(r.Context()),
		Status:   q.Get("status"),
	}
	if raw := q.Get("unit_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(w, r, &service.ValidationError{Field: "unit_id", Message: "must be an integer"})
			return
		}
		filter.UnitID = id
	}
	var err error
	if filter.From, err = parseDateParam(r, "from"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = parseDateParam(r, "to"); err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.fail(w, r, &service.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.fail(w, r, &service.ValidationError{Field: "offset", Message: "must be a positive integer"})
			return
		}
		filter.Offset = n
	}

	list, err := h.Bookings.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (h *handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Bookings.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) updateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var patch service.BookingPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	if patch.ExpectedVersion == nil {
		if patch.ExpectedVersion, err = expectedVersion(r); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	b, err := h.Bookings.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Bookings.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(h *handler, r *http.Request, id int64, version *int64) (*models.Booking, error)

func (h *handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		version, err := expectedVersion(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		b, err := fn(h, r, id, version)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *handler, r *http.Request, id int64, v *int64) (*models.Booking, error) {
		return h.Bookings.Cancel(r.Context(), id, v)
	})(w, r)
}

func (h *handler) checkIn(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *handler, r *http.Request, id int64, v *int64) (*models.Booking, error) {
		return h.Bookings.CheckIn(r.Context(), id, v)
	})(w, r)
}

func (h *handler) checkOut(w http.ResponseWriter, r *http.Request) {
	h.transition(func(h *handler, r *http.Request, id int64, v *int64) (*models.Booking, error) {
		return h.Bookings.CheckOut(r.Context(), id, v)
	})(w, r)
}
