package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the work-queue surface used by the scheduler and by remote workers.
type Client interface {
	// Push adds a work item to the end of a queue (LPUSH).
	Push(ctx context.Context, queue string, item WorkItem) error

	// Pop removes and returns a work item from the front of a queue (BRPOP).
	// Blocks until an item is available or ctx is cancelled.
	Pop(ctx context.Context, queue string) (*WorkItem, error)

	// Publish sends a result to a pub/sub channel.
	Publish(ctx context.Context, channel string, result Result) error

	// Subscribe returns a channel receiving results until ctx is cancelled.
	// The subscription is confirmed before Subscribe returns, so a result
	// published afterwards is never missed.
	Subscribe(ctx context.Context, channel string) (<-chan Result, error)

	// RegisterWorker writes worker metadata and adds it to the available set.
	RegisterWorker(ctx context.Context, meta WorkerMeta) error

	// ListWorkers returns metadata for all registered workers.
	ListWorkers(ctx context.Context) ([]WorkerMeta, error)

	// Heartbeat refreshes the worker's health key with a 30s TTL.
	Heartbeat(ctx context.Context, worker string) error

	// Healthy reports whether a heartbeat for the worker is live.
	Healthy(ctx context.Context, worker string) (bool, error)

	// AddWorkerCount adjusts the active worker counter by delta.
	AddWorkerCount(ctx context.Context, worker string, delta int64) error

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// BlockTimeout bounds each BRPOP round trip. Pop re-issues the command
	// until an item arrives, so this only sets how quickly a blocked Pop
	// notices cancellation. Defaults to 1s.
	BlockTimeout time.Duration
}

// RedisClient implements Client using go-redis/v9.
type RedisClient struct {
	client       *redis.Client
	blockTimeout time.Duration
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.BlockTimeout == 0 {
		opts.BlockTimeout = time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client, blockTimeout: opts.BlockTimeout}, nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(client *redis.Client) *RedisClient {
	return &RedisClient{client: client, blockTimeout: time.Second}
}

// Push adds a work item to the end of a queue.
func (c *RedisClient) Push(ctx context.Context, queue string, item WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}
	if err := c.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}
	return nil
}

// Pop removes and returns a work item from the front of a queue.
func (c *RedisClient) Pop(ctx context.Context, queue string) (*WorkItem, error) {
	var result []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		result, err = c.client.BRPop(ctx, c.blockTimeout, queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
		}
		break
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	var item WorkItem
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work item: %w", err)
	}
	return &item, nil
}

// Publish sends a result to a pub/sub channel.
func (c *RedisClient) Publish(ctx context.Context, channel string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a subscription to a pub/sub channel.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan Result, error) {
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	out := make(chan Result)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var result Result
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					continue
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// RegisterWorker writes worker metadata to Redis and adds it to the available set.
func (c *RedisClient) RegisterWorker(ctx context.Context, meta WorkerMeta) error {
	passes, err := json.Marshal(meta.Passes)
	if err != nil {
		return fmt.Errorf("failed to marshal passes: %w", err)
	}

	metaKey := fmt.Sprintf("audit:%s:meta", meta.Name)
	if err := c.client.HSet(ctx, metaKey,
		"name", meta.Name,
		"protocol", meta.Protocol,
		"passes", string(passes),
		"description", meta.Description,
	).Err(); err != nil {
		return fmt.Errorf("failed to set worker metadata: %w", err)
	}
	if err := c.client.SAdd(ctx, "audit:workers", meta.Name).Err(); err != nil {
		return fmt.Errorf("failed to add worker to available set: %w", err)
	}
	return nil
}

// ListWorkers returns metadata for all registered workers, skipping
// entries whose metadata hash is missing.
func (c *RedisClient) ListWorkers(ctx context.Context) ([]WorkerMeta, error) {
	names, err := c.client.SMembers(ctx, "audit:workers").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get available workers: %w", err)
	}

	workers := make([]WorkerMeta, 0, len(names))
	for _, name := range names {
		fields, err := c.client.HGetAll(ctx, fmt.Sprintf("audit:%s:meta", name)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		meta := WorkerMeta{
			Name:        fields["name"],
			Protocol:    fields["protocol"],
			Description: fields["description"],
		}
		if p := fields["passes"]; p != "" {
			_ = json.Unmarshal([]byte(p), &meta.Passes)
		}
		count, err := c.client.Get(ctx, fmt.Sprintf("audit:%s:workers", name)).Result()
		if err == nil {
			meta.WorkerCount, _ = strconv.Atoi(count)
		}
		workers = append(workers, meta)
	}
	return workers, nil
}

// Heartbeat updates the health key for a worker with a 30s TTL.
func (c *RedisClient) Heartbeat(ctx context.Context, worker string) error {
	key := fmt.Sprintf("audit:%s:health", worker)
	if err := c.client.Set(ctx, key, "ok", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for worker %s: %w", worker, err)
	}
	return nil
}

// Healthy reports whether the worker's heartbeat key exists.
func (c *RedisClient) Healthy(ctx context.Context, worker string) (bool, error) {
	n, err := c.client.Exists(ctx, fmt.Sprintf("audit:%s:health", worker)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check health for worker %s: %w", worker, err)
	}
	return n == 1, nil
}

// AddWorkerCount adjusts the active worker counter.
func (c *RedisClient) AddWorkerCount(ctx context.Context, worker string, delta int64) error {
	key := fmt.Sprintf("audit:%s:workers", worker)
	if err := c.client.IncrBy(ctx, key, delta).Err(); err != nil {
		return fmt.Errorf("failed to update worker count for %s: %w", worker, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
