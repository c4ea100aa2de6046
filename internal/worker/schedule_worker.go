package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/service"

	"github.com/rs/zerolog"
)

const materializer = "materializer"

// ScheduleWorker turns due lifecycle schedules into outbox events and expires
// abandoned holds. Notification schedules are left to the NotificationRelay.
type ScheduleWorker struct {
	db           *database.DB
	bookings     *service.BookingService
	dlq          domain.DeadLetterQueue
	retryPolicy  RetryPolicy
	batchSize    int
	pollInterval time.Duration
	holdTTL      time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

func NewScheduleWorker(db *database.DB, bookings *service.BookingService, dlq domain.DeadLetterQueue, cfg config.SchedulerConfig, logger *zerolog.Logger) *ScheduleWorker {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "schedule_worker").Logger()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ScheduleWorker{
		db:           db,
		bookings:     bookings,
		dlq:          dlq,
		retryPolicy:  newRetryPolicy(maxAttempts, cfg.RetryInitialDelay, cfg.RetryMaxDelay),
		batchSize:    batch,
		pollInterval: cfg.PollInterval,
		holdTTL:      cfg.HoldTTL,
		logger:       l,
		now:          time.Now,
	}
}

func (w *ScheduleWorker) Start(ctx context.Context) {
	runLoop(ctx, "schedule worker", w.pollInterval, w.logger, w.RunOnce)
}

// RunOnce processes one batch of due schedules and one hold sweep.
func (w *ScheduleWorker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.db.Store().GetDueSchedules(ctx, database.DueScheduleQuery{
		Now:          w.now(),
		Limit:        w.batchSize,
		ExcludeTypes: models.NotificationEventTypes,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch due schedules: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.process(ctx, &due[i])
	}

	if w.bookings != nil {
		expired, err := w.bookings.ExpireStaleHolds(ctx, w.holdTTL, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("hold sweep failed")
		} else if expired > 0 {
			w.logger.Info().Int("expired", expired).Msg("stale holds expired")
		}
	}
	return len(due), nil
}

func (w *ScheduleWorker) process(ctx context.Context, sc *models.AutomationSchedule) {
	var result string
	err := w.db.WithTx(ctx, func(st *database.Store) error {
		cur, err := st.GetSchedule(ctx, sc.ID)
		if err != nil {
			return err
		}
		if cur.Status != models.ScheduleStatusPending {
			result = "skipped"
			return nil
		}
		if _, err := st.IncrementScheduleAttempts(ctx, sc.ID); err != nil {
			return err
		}

		b, err := st.GetBooking(ctx, sc.BookingID)
		if errors.Is(err, database.ErrNotFound) {
			msg := "booking not found"
			result = models.ScheduleStatusFailed
			return st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusFailed, &msg)
		}
		if err != nil {
			return err
		}
		if b.Status == models.StatusCancelled || b.Status == models.StatusExpired {
			result = models.ScheduleStatusCancelled
			return st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusCancelled, nil)
		}

		payload := models.NewBookingEventPayload(b)
		payload.ScheduleID = sc.ID
		due := sc.DueAt
		payload.DueAt = &due
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := st.AppendOutbox(ctx, &models.OutboxMessage{
			TenantID:  sc.TenantID,
			Topic:     models.TopicAutomation,
			EventType: sc.EventType,
			EntityID:  b.ID,
			Payload:   string(raw),
		}); err != nil {
			return err
		}
		result = models.ScheduleStatusPublished
		return st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusPublished, nil)
	})

	if err != nil {
		w.recordFailure(ctx, sc, err)
		return
	}

	metrics.IncSchedule(materializer, result)
	if result == models.ScheduleStatusFailed {
		pushDeadLetter(ctx, w.dlq, w.logger, scheduleDeadLetter(sc, sc.Attempts+1, "booking not found"))
	}
	w.logger.Debug().Int64("schedule_id", sc.ID).Str("event_type", sc.EventType).Str("result", result).Msg("schedule processed")
}

// recordFailure counts the attempt in its own write since the transaction
// that failed was rolled back.
func (w *ScheduleWorker) recordFailure(ctx context.Context, sc *models.AutomationSchedule, cause error) {
	next := w.retryPolicy.NextAttempt(w.now(), sc.Attempts+1)
	status, attempts, err := w.db.Store().RecordScheduleFailure(ctx, sc.ID, cause.Error(), w.retryPolicy.MaxAttempts, next)
	if err != nil {
		w.logger.Error().Err(err).AnErr("cause", cause).Int64("schedule_id", sc.ID).Msg("could not record schedule failure")
		return
	}

	w.logger.Warn().Err(cause).Int64("schedule_id", sc.ID).Int("attempts", attempts).Str("status", status).Msg("schedule attempt failed")
	metrics.IncSchedule(materializer, status)
	if status == models.ScheduleStatusFailed {
		pushDeadLetter(ctx, w.dlq, w.logger, scheduleDeadLetter(sc, attempts, cause.Error()))
	}
}

func scheduleDeadLetter(sc *models.AutomationSchedule, attempts int, lastError string) models.DeadLetter {
	return models.DeadLetter{
		Kind:      "schedule",
		ID:        sc.ID,
		EntityID:  sc.BookingID,
		EventType: sc.EventType,
		Attempts:  attempts,
		LastError: lastError,
		FailedAt:  time.Now().UTC(),
	}
}
