package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// OutboxRelay drains pending outbox rows to every publisher. Delivery is at
// least once: a row is retried as a whole when any publisher fails.
type OutboxRelay struct {
	db           *database.DB
	publishers   []domain.Publisher
	dlq          domain.DeadLetterQueue
	retryPolicy  RetryPolicy
	batchSize    int
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

func NewOutboxRelay(db *database.DB, publishers []domain.Publisher, dlq domain.DeadLetterQueue, cfg config.OutboxConfig, logger *zerolog.Logger) *OutboxRelay {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "outbox_relay").Logger()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &OutboxRelay{
		db:           db,
		publishers:   publishers,
		dlq:          dlq,
		retryPolicy:  newRetryPolicy(maxAttempts, cfg.RetryInitialDelay, cfg.RetryMaxDelay),
		batchSize:    batch,
		pollInterval: cfg.PollInterval,
		logger:       l,
		now:          time.Now,
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	runLoop(ctx, "outbox relay", r.pollInterval, r.logger, r.RunOnce)
}

func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	msgs, err := r.db.Store().GetPendingOutbox(ctx, r.now(), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending outbox: %w", err)
	}
	for i := range msgs {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		r.relay(ctx, msgs[i])
	}
	return len(msgs), nil
}

func (r *OutboxRelay) publish(ctx context.Context, msg models.OutboxMessage) error {
	var errs []error
	for _, p := range r.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *OutboxRelay) relay(ctx context.Context, msg models.OutboxMessage) {
	store := r.db.Store()
	if err := r.publish(ctx, msg); err != nil {
		next := r.retryPolicy.NextAttempt(r.now(), msg.Attempts+1)
		status, ferr := store.MarkOutboxAttemptFailed(ctx, msg.ID, err.Error(), r.retryPolicy.MaxAttempts, next)
		if ferr != nil {
			r.logger.Error().Err(ferr).AnErr("cause", err).Int64("outbox_id", msg.ID).Msg("could not record outbox failure")
			return
		}
		metrics.IncOutbox(status)
		r.logger.Warn().Err(err).Int64("outbox_id", msg.ID).Str("event_type", msg.EventType).Str("status", status).Msg("outbox publish failed")
		if status == models.OutboxStatusFailed {
			pushDeadLetter(ctx, r.dlq, r.logger, models.DeadLetter{
				Kind:      "outbox",
				ID:        msg.ID,
				EntityID:  msg.EntityID,
				EventType: msg.EventType,
				Attempts:  msg.Attempts + 1,
				LastError: err.Error(),
				Payload:   msg.Payload,
				FailedAt:  time.Now().UTC(),
			})
		}
		return
	}

	if err := store.MarkOutboxPublished(ctx, msg.ID); err != nil {
		r.logger.Error().Err(err).Int64("outbox_id", msg.ID).Msg("mark published")
		return
	}
	metrics.IncOutbox(models.OutboxStatusPublished)
	metrics.ObserveOutboxLag(r.now().Sub(msg.CreatedAt))
}
