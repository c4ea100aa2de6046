package domain

import (
	"context"

	"staybook/internal/models"
)

// Publisher delivers one drained outbox message to a downstream consumer.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg models.OutboxMessage) error
}

// DeadLetterQueue parks work items that exhausted their retries so an
// operator can inspect them.
type DeadLetterQueue interface {
	Push(ctx context.Context, item models.DeadLetter) error
	List(ctx context.Context, kind string, limit int64) ([]models.DeadLetter, error)
}
