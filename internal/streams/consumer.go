package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ReceiptConsumer consumes delivery receipts from Redis Streams
type ReceiptConsumer struct {
	rdb          *redis.Client
	groupName    string
	consumerName string
	logger       *slog.Logger
}

// NewReceiptConsumer creates the consumer and its group.
func NewReceiptConsumer(redisURL, consumerName string, logger *slog.Logger) (*ReceiptConsumer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Read timeout must exceed the XReadGroup Block duration (5s).
	opts.ReadTimeout = 10 * time.Second

	client := redis.NewClient(opts)

	// Start ID "0" means read from beginning if group is new
	err = client.XGroupCreateMkStream(context.Background(), StreamReceipts, GroupWorkers, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		client.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &ReceiptConsumer{
		rdb:          client,
		groupName:    GroupWorkers,
		consumerName: consumerName,
		logger:       logger,
	}, nil
}

// Consume runs a blocking loop handing receipts to handler until ctx ends.
// Messages are acknowledged only after handler succeeds.
func (c *ReceiptConsumer) Consume(ctx context.Context, handler func(context.Context, DigestReceipt) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupName,
			Consumer: c.consumerName,
			Streams:  []string{StreamReceipts, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			// Blocking reads time out on idle streams.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Failed to read from stream", "stream", StreamReceipts, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.process(ctx, message, handler)
			}
		}
	}
}

func (c *ReceiptConsumer) process(ctx context.Context, message redis.XMessage, handler func(context.Context, DigestReceipt) error) {
	receipt, err := decodeReceipt(message.Values)
	if err != nil {
		// Poison messages are acked so they do not block the group.
		c.logger.Error("Dropping invalid receipt", "message_id", message.ID, "error", err)
		c.ack(ctx, message.ID)
		return
	}

	if err := handler(ctx, receipt); err != nil {
		c.logger.Error("Receipt handler failed", "message_id", message.ID, "delivery_id", receipt.DeliveryID, "error", err)
		// Message stays in PEL for retry, don't ACK
		return
	}
	c.ack(ctx, message.ID)
}

func (c *ReceiptConsumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, StreamReceipts, c.groupName, id).Err(); err != nil {
		c.logger.Error("Failed to ACK message", "message_id", id, "error", err)
	}
}

func decodeReceipt(values map[string]interface{}) (DigestReceipt, error) {
	var receipt DigestReceipt
	payload, ok := values["payload"].(string)
	if !ok {
		return receipt, errors.New("missing payload")
	}
	if err := json.Unmarshal([]byte(payload), &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	if receipt.DeliveryID == "" {
		return receipt, errors.New("receipt has no delivery_id")
	}
	switch receipt.Status {
	case ReceiptDelivered, ReceiptFailed:
	default:
		return receipt, fmt.Errorf("unknown receipt status %q", receipt.Status)
	}
	return receipt, nil
}

// Close closes the Redis client connection
func (c *ReceiptConsumer) Close() error {
	return c.rdb.Close()
}

// StartReceiptConsumer starts the consumer in a background goroutine and
// returns a stop function.
func StartReceiptConsumer(redisURL, consumerName string, marker DeliveryMarker, logger *slog.Logger) (stop func(), err error) {
	consumer, err := NewReceiptConsumer(redisURL, consumerName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Consume(ctx, HandleReceipt(marker, logger)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Receipt consumer stopped with error", "error", err)
		}
	}()

	logger.Info("Receipt consumer started", "stream", StreamReceipts, "group", GroupWorkers, "consumer", consumerName)

	return func() {
		cancel()
		consumer.Close()
	}, nil
}
