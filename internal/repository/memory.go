package repository

import (
	"context"
	"sync"
	"time"

	"staybook/internal/models"
)

// MemoryDeadLetterQueue is the process-local fallback used when redis is
// missing or unhealthy. Each kind keeps its newest maxLen items.
type MemoryDeadLetterQueue struct {
	mu     sync.Mutex
	items  map[string][]models.DeadLetter
	maxLen int
}

func NewMemoryDeadLetterQueue(maxLen int) *MemoryDeadLetterQueue {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &MemoryDeadLetterQueue{items: make(map[string][]models.DeadLetter), maxLen: maxLen}
}

func (q *MemoryDeadLetterQueue) Push(_ context.Context, item models.DeadLetter) error {
	if item.FailedAt.IsZero() {
		item.FailedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	list := append([]models.DeadLetter{item}, q.items[item.Kind]...)
	if len(list) > q.maxLen {
		list = list[:q.maxLen]
	}
	q.items[item.Kind] = list
	return nil
}

func (q *MemoryDeadLetterQueue) List(_ context.Context, kind string, limit int64) ([]models.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.items[kind]
	if limit > 0 && int64(len(list)) > limit {
		list = list[:limit]
	}
	return append([]models.DeadLetter(nil), list...), nil
}
