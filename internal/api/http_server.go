package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/export"
	"staybook/internal/models"
	"staybook/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the HTTP handlers call into. Redis is optional
// and only consulted by the readiness probe.
type Deps struct {
	DB       *database.DB
	Bookings *service.BookingService
	Payments *service.PaymentService
	Ledger   *service.LedgerService
	Exporter *export.Exporter
	Redis    *redis.Client
}

type handler struct {
	Deps
	payments config.PaymentsConfig
	logger   zerolog.Logger
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	server *http.Server
	logger zerolog.Logger
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(cfg *config.Config, deps Deps, logger *zerolog.Logger) http.Handler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}
	h := &handler{Deps: deps, payments: cfg.Payments, logger: l}

	defaultTenant := cfg.API.DefaultTenant
	if defaultTenant == "" {
		defaultTenant = models.DefaultTenant
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(l))
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(newRateLimiter(cfg.API.RateLimit).Middleware)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Group(func(r chi.Router) {
		r.Use(tenantMiddleware(defaultTenant))
		r.Use(correlationMiddleware)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.createBooking)
			r.Get("/", h.listBookings)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getBooking)
				r.Put("/", h.updateBooking)
				r.Delete("/", h.deleteBooking)
				r.Post("/cancel", h.cancelBooking)
				r.Post("/checkin", h.checkIn)
				r.Post("/checkout", h.checkOut)
				r.Post("/payments", h.initiatePayment)
				r.Post("/refund", h.refund)
			})
		})

		r.Post("/payments/verify", h.verifyPayment)
		r.Post("/webhooks/payments", h.paymentWebhook)

		r.Get("/units/{unitID}/availability", h.availability)
		r.Post("/units/{unitID}/blocks/bulk", h.bulkBlocks)
		r.Delete("/blocks/{id}", h.deleteBlock)

		r.Get("/admin/failed-work.xlsx", h.failedWork)
	})

	return r
}

func NewHTTPServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.API.HTTP.Port),
			Handler:           NewRouter(cfg, deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: l,
	}
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}
