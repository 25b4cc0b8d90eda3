package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

// RedisChannel implements Channel on a Redis Stream with a consumer group.
// XREADGROUP leases a message to this consumer; XACK releases it; messages
// whose lease has been idle past the visibility window are reclaimed with
// XAUTOCLAIM, which is what makes crashed-consumer redelivery work. Entries
// over the attempt bound are moved to a dead-letter stream.
type RedisChannel struct {
	client      *redis.Client
	stream      string
	group       string
	consumer    string
	visibility  time.Duration
	maxAttempts int
	dlqStream   string // empty disables dead-letter redirect
}

// RedisConfig holds configuration for RedisChannel.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	Group       string
	Consumer    string
	Visibility  time.Duration // lease duration before reclaim; default 30s
	MaxAttempts int           // default 5
	DLQStream   string        // optional dead-letter stream
}

// NewRedisChannel creates a stream-backed channel, creating the consumer
// group if it does not exist yet.
func NewRedisChannel(ctx context.Context, cfg RedisConfig) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if cfg.Visibility <= 0 {
		cfg.Visibility = defaultVisibility
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &RedisChannel{
		client:      client,
		stream:      cfg.Stream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		visibility:  cfg.Visibility,
		maxAttempts: cfg.MaxAttempts,
		dlqStream:   cfg.DLQStream,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func (c *RedisChannel) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	values := map[string]interface{}{bodyField: string(body)}
	for k, v := range attrs {
		values[k] = v
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("redis xadd failed: %w", err)
	}
	return nil
}

func (c *RedisChannel) Receive(ctx context.Context, wait time.Duration) (*Message, error) {
	// Expired leases first: reclaim entries idle past the visibility
	// window before pulling fresh ones.
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.visibility,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis xautoclaim failed: %w", err)
	}
	if len(claimed) > 0 {
		return c.leased(ctx, claimed[0])
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    wait,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis xreadgroup failed: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return c.leased(ctx, streams[0].Messages[0])
}

// leased converts a claimed stream entry into a Message, enforcing the
// delivery attempt bound.
func (c *RedisChannel) leased(ctx context.Context, entry redis.XMessage) (*Message, error) {
	attempt := 1
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  entry.ID,
		End:    entry.ID,
		Count:  1,
	}).Result()
	if err == nil && len(pending) > 0 {
		attempt = int(pending[0].RetryCount)
	}

	body, _ := entry.Values[bodyField].(string)

	if attempt > c.maxAttempts {
		if c.dlqStream != "" {
			if err := c.client.XAdd(ctx, &redis.XAddArgs{
				Stream: c.dlqStream,
				Values: entry.Values,
			}).Err(); err != nil {
				return nil, fmt.Errorf("redis dead-letter redirect failed: %w", err)
			}
		}
		if err := c.client.XAck(ctx, c.stream, c.group, entry.ID).Err(); err != nil {
			return nil, fmt.Errorf("redis xack failed: %w", err)
		}
		return nil, nil
	}

	return &Message{
		ID:      entry.ID,
		Receipt: entry.ID,
		Body:    []byte(body),
		Attempt: attempt,
	}, nil
}

func (c *RedisChannel) Ack(ctx context.Context, receipt string) error {
	acked, err := c.client.XAck(ctx, c.stream, c.group, receipt).Result()
	if err != nil {
		return fmt.Errorf("redis xack failed: %w", err)
	}
	if acked == 0 {
		return ErrUnknownReceipt
	}
	// Acked entries are done; trim them from the stream.
	if err := c.client.XDel(ctx, c.stream, receipt).Err(); err != nil {
		return fmt.Errorf("redis xdel failed: %w", err)
	}
	return nil
}

func (c *RedisChannel) Extend(ctx context.Context, receipt string, d time.Duration) error {
	// Re-claiming with MinIdle 0 resets the idle clock, which keeps the
	// entry out of XAUTOCLAIM's reach for another visibility window.
	_ = d
	claimed, err := c.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  0,
		Messages: []string{receipt},
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis xclaim failed: %w", err)
	}
	if len(claimed) == 0 {
		return ErrUnknownReceipt
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisChannel) Close() error {
	return c.client.Close()
}
