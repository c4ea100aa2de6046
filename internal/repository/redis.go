package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/models"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisDeadLetterQueue keeps dead letters in one capped list per kind.
type RedisDeadLetterQueue struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisDeadLetterQueue(client *redis.Client, prefix string, maxLen int64) *RedisDeadLetterQueue {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisDeadLetterQueue{client: client, prefix: prefix, maxLen: maxLen}
}

func (q *RedisDeadLetterQueue) key(kind string) string {
	return fmt.Sprintf("%s:%s", q.prefix, kind)
}

func (q *RedisDeadLetterQueue) Push(ctx context.Context, item models.DeadLetter) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if item.FailedAt.IsZero() {
		item.FailedAt = time.Now().UTC()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	key := q.key(item.Kind)
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, q.maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisDeadLetterQueue) List(ctx context.Context, kind string, limit int64) ([]models.DeadLetter, error) {
	if q.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	raw, err := q.client.LRange(ctx, q.key(kind), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	items := make([]models.DeadLetter, 0, len(raw))
	for _, r := range raw {
		var item models.DeadLetter
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// RedisPublisher fans drained outbox messages out on redis pub/sub, one
// channel per topic.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Envelope is the wire format published on redis channels.
type Envelope struct {
	ID            int64           `json:"id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	EntityID      int64           `json:"entity_id"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (p *RedisPublisher) Name() string { return "redis" }

// Channel returns the pub/sub channel for a topic.
func (p *RedisPublisher) Channel(topic string) string {
	return fmt.Sprintf("%s:%s", p.prefix, topic)
}

func (p *RedisPublisher) Publish(ctx context.Context, msg models.OutboxMessage) error {
	if p.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		return fmt.Errorf("outbox message %d has invalid JSON payload", msg.ID)
	}
	data, err := json.Marshal(Envelope{
		ID:            msg.ID,
		Topic:         msg.Topic,
		EventType:     msg.EventType,
		EntityID:      msg.EntityID,
		CorrelationID: msg.CorrelationID,
		OccurredAt:    msg.CreatedAt,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.client.Publish(ctx, p.Channel(msg.Topic), data).Err()
}

// Ping checks that redis answers.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
