package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// FailoverDeadLetterQueue writes to primary until it errors, then to fallback.
// The primary is retried once recoverAfter has passed.
type FailoverDeadLetterQueue struct {
	primary      domain.DeadLetterQueue
	fallback     domain.DeadLetterQueue
	logger       zerolog.Logger
	recoverAfter time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverDeadLetterQueue(primary, fallback domain.DeadLetterQueue, logger *zerolog.Logger) *FailoverDeadLetterQueue {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "deadletter").Logger()
	}
	return &FailoverDeadLetterQueue{
		primary:      primary,
		fallback:     fallback,
		logger:       l,
		recoverAfter: time.Minute,
		now:          time.Now,
	}
}

func (r *FailoverDeadLetterQueue) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > r.recoverAfter
}

func (r *FailoverDeadLetterQueue) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary dead letter queue failed, falling back to memory")
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
	r.isDown.Store(true)
}

func (r *FailoverDeadLetterQueue) Push(ctx context.Context, item models.DeadLetter) error {
	if r.usePrimary() {
		err := r.primary.Push(ctx, item)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("primary dead letter queue recovered")
			}
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Push(ctx, item)
}

// List merges primary and fallback so items parked during an outage stay visible.
func (r *FailoverDeadLetterQueue) List(ctx context.Context, kind string, limit int64) ([]models.DeadLetter, error) {
	var items []models.DeadLetter
	if r.usePrimary() {
		primary, err := r.primary.List(ctx, kind, limit)
		if err != nil {
			r.markDown(err)
		} else {
			items = append(items, primary...)
		}
	}
	fallback, err := r.fallback.List(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	items = append(items, fallback...)
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items, nil
}
