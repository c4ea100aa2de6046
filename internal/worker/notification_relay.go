package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/notify"

	"github.com/rs/zerolog"
)

const relayName = "notification_relay"

// NotificationRelay delivers guest notifications for due schedules. A
// communication log per event, booking and channel keeps each channel to a
// single successful send across retries.
type NotificationRelay struct {
	db           *database.DB
	dispatcher   *notify.Dispatcher
	dlq          domain.DeadLetterQueue
	retryPolicy  RetryPolicy
	batchSize    int
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

func NewNotificationRelay(db *database.DB, dispatcher *notify.Dispatcher, dlq domain.DeadLetterQueue, cfg config.RelayConfig, logger *zerolog.Logger) *NotificationRelay {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", relayName).Logger()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 10
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &NotificationRelay{
		db:           db,
		dispatcher:   dispatcher,
		dlq:          dlq,
		retryPolicy:  newRetryPolicy(maxAttempts, cfg.RetryInitialDelay, cfg.RetryMaxDelay),
		batchSize:    batch,
		pollInterval: cfg.PollInterval,
		logger:       l,
		now:          time.Now,
	}
}

func (r *NotificationRelay) Start(ctx context.Context) {
	runLoop(ctx, "notification relay", r.pollInterval, r.logger, r.RunOnce)
}

func (r *NotificationRelay) RunOnce(ctx context.Context) (int, error) {
	due, err := r.db.Store().GetDueSchedules(ctx, database.DueScheduleQuery{
		Now:          r.now(),
		Limit:        r.batchSize,
		IncludeTypes: models.NotificationEventTypes,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch due notifications: %w", err)
	}
	for i := range due {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		r.process(ctx, &due[i])
	}
	return len(due), nil
}

type relayOutcome struct {
	status    string
	attempts  int
	lastError string
}

func (r *NotificationRelay) process(ctx context.Context, sc *models.AutomationSchedule) {
	var out relayOutcome
	err := r.db.WithTx(ctx, func(st *database.Store) error {
		var err error
		out, err = r.deliver(ctx, st, sc)
		return err
	})
	if err != nil {
		r.recordFailure(ctx, sc, err)
		return
	}

	metrics.IncSchedule(relayName, out.status)
	if out.status == models.ScheduleStatusFailed {
		pushDeadLetter(ctx, r.dlq, r.logger, scheduleDeadLetter(sc, out.attempts, out.lastError))
	}
	r.logger.Debug().Int64("schedule_id", sc.ID).Str("status", out.status).Msg("notification processed")
}

// deliver runs inside the schedule's transaction. Send failures are returned
// as an outcome, not an error, so the logs of channels that did succeed are
// committed together with the retry bookkeeping.
func (r *NotificationRelay) deliver(ctx context.Context, st *database.Store, sc *models.AutomationSchedule) (relayOutcome, error) {
	cur, err := st.GetSchedule(ctx, sc.ID)
	if err != nil {
		return relayOutcome{}, err
	}
	if cur.Status != models.ScheduleStatusPending {
		return relayOutcome{status: "skipped"}, nil
	}
	attempts := cur.Attempts + 1

	fail := func(msg string) (relayOutcome, error) {
		if err := st.RetrySchedule(ctx, sc.ID, attempts, msg, r.now()); err != nil {
			return relayOutcome{}, err
		}
		if err := st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusFailed, &msg); err != nil {
			return relayOutcome{}, err
		}
		return relayOutcome{status: models.ScheduleStatusFailed, attempts: attempts, lastError: msg}, nil
	}

	b, err := st.GetBooking(ctx, sc.BookingID)
	if errors.Is(err, database.ErrNotFound) {
		return fail("booking not found")
	}
	if err != nil {
		return relayOutcome{}, err
	}
	if b.Status == models.StatusCancelled || b.Status == models.StatusExpired {
		if err := st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusCancelled, nil); err != nil {
			return relayOutcome{}, err
		}
		return relayOutcome{status: models.ScheduleStatusCancelled}, nil
	}

	required := r.dispatcher.Required(b)
	if len(required) == 0 {
		return fail("no configured channel can reach the guest")
	}

	var missing []notify.Channel
	for _, ch := range required {
		key := database.CommunicationKey(sc.EventType, b.ID, ch.Name())
		sent, err := st.HasSentCommunication(ctx, sc.TenantID, key)
		if err != nil {
			return relayOutcome{}, err
		}
		if !sent {
			missing = append(missing, ch)
		}
	}
	if len(missing) == 0 {
		if err := st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusCompleted, nil); err != nil {
			return relayOutcome{}, err
		}
		return relayOutcome{status: models.ScheduleStatusCompleted}, nil
	}

	msg, err := notify.Render(sc.EventType, b)
	if err != nil {
		return fail(err.Error())
	}

	var sendErrs []string
	for _, ch := range missing {
		if err := ch.Send(ctx, b, msg); err != nil {
			metrics.IncNotification(ch.Name(), "failed")
			r.logger.Warn().Err(err).Int64("booking_id", b.ID).Str("channel", ch.Name()).Msg("notification send failed")
			sendErrs = append(sendErrs, fmt.Sprintf("%s: %v", ch.Name(), err))
			continue
		}
		if err := st.RecordCommunication(ctx, &models.CommunicationLog{
			TenantID:       sc.TenantID,
			IdempotencyKey: database.CommunicationKey(sc.EventType, b.ID, ch.Name()),
			EventType:      sc.EventType,
			EntityID:       b.ID,
			Channel:        ch.Name(),
			Status:         models.CommStatusSent,
		}); err != nil {
			return relayOutcome{}, err
		}
		metrics.IncNotification(ch.Name(), "sent")
	}

	if len(sendErrs) == 0 {
		if err := st.SetScheduleStatus(ctx, sc.ID, models.ScheduleStatusCompleted, nil); err != nil {
			return relayOutcome{}, err
		}
		return relayOutcome{status: models.ScheduleStatusCompleted, attempts: attempts}, nil
	}

	lastError := strings.Join(sendErrs, "; ")
	if r.retryPolicy.Exhausted(attempts) {
		return fail(lastError)
	}
	next := r.retryPolicy.NextAttempt(r.now(), attempts)
	if err := st.RetrySchedule(ctx, sc.ID, attempts, lastError, next); err != nil {
		return relayOutcome{}, err
	}
	return relayOutcome{status: "retry", attempts: attempts, lastError: lastError}, nil
}

func (r *NotificationRelay) recordFailure(ctx context.Context, sc *models.AutomationSchedule, cause error) {
	next := r.retryPolicy.NextAttempt(r.now(), sc.Attempts+1)
	status, attempts, err := r.db.Store().RecordScheduleFailure(ctx, sc.ID, cause.Error(), r.retryPolicy.MaxAttempts, next)
	if err != nil {
		r.logger.Error().Err(err).AnErr("cause", cause).Int64("schedule_id", sc.ID).Msg("could not record notification failure")
		return
	}
	r.logger.Warn().Err(cause).Int64("schedule_id", sc.ID).Int("attempts", attempts).Str("status", status).Msg("notification attempt failed")
	metrics.IncSchedule(relayName, status)
	if status == models.ScheduleStatusFailed {
		pushDeadLetter(ctx, r.dlq, r.logger, scheduleDeadLetter(sc, attempts, cause.Error()))
	}
}
