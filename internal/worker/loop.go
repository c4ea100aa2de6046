package worker

import (
	"context"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// runLoop calls tick immediately and then on every interval until ctx is done.
func runLoop(ctx context.Context, name string, interval time.Duration, logger zerolog.Logger, tick func(context.Context) (int, error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger.Info().Dur("interval", interval).Msgf("%s started", name)
	defer logger.Info().Msgf("%s stopped", name)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := tick(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msgf("%s iteration failed", name)
		} else if n > 0 {
			logger.Debug().Int("processed", n).Msgf("%s iteration done", name)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pushDeadLetter(ctx context.Context, dlq domain.DeadLetterQueue, logger zerolog.Logger, item models.DeadLetter) {
	if dlq == nil {
		return
	}
	if err := dlq.Push(ctx, item); err != nil {
		logger.Error().Err(err).Str("kind", item.Kind).Int64("id", item.ID).Msg("dead letter push failed")
	}
}
