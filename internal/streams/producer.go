package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/notifications"
	"github.com/redis/go-redis/v9"
)

const maxDigestBacklog = 10000

// Publisher publishes compiled digests to Redis Streams for the mailer.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher instance
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opts)}, nil
}

// Send implements notifications.Sender. Delivery is confirmed later by a
// receipt, so the returned receipt is never marked delivered.
func (p *Publisher) Send(ctx context.Context, d notifications.Digest) (notifications.Receipt, error) {
	values, err := digestValues(d, time.Now())
	if err != nil {
		return notifications.Receipt{}, err
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDigests,
		MaxLen: maxDigestBacklog,
		Approx: true,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("failed to publish to stream: %w", err)
	}
	return notifications.Receipt{ID: id}, nil
}

func digestValues(d notifications.Digest, now time.Time) (map[string]interface{}, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal digest: %w", err)
	}
	return map[string]interface{}{
		"payload":        string(payload),
		"recipient":      d.Recipient.Email,
		"batch_key":      d.BatchKey,
		"published_at":   now.Unix(),
		"schema_version": SchemaVersionV1,
	}, nil
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
