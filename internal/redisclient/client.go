package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/checkin_stats.lua
var checkinStatsScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	checkinScript *redis.Script
	unlockScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		checkinScript: redis.NewScript(checkinStatsScript),
		unlockScript:  redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func statsKey(eventID string) string   { return "checkins:stats:" + eventID }
func channelKey(eventID string) string { return "checkins:live:" + eventID }

// RecordCheckin bumps the event's live counter and publishes payload to its
// channel in one script call. It returns the new counter value.
func (c *Client) RecordCheckin(ctx context.Context, eventID string, payload []byte, at time.Time) (int64, error) {
	result, err := c.checkinScript.Run(ctx, c.rdb,
		[]string{statsKey(eventID), channelKey(eventID)},
		string(payload), at.UnixMilli(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("checkin stats script failed: %w", err)
	}

	total, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return total, nil
}

// CheckinStats returns the live counter and the last scan time for an event.
// Both are zero when nothing was recorded yet.
func (c *Client) CheckinStats(ctx context.Context, eventID string) (int64, time.Time, error) {
	result, err := c.rdb.HGetAll(ctx, statsKey(eventID)).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	var total int64
	var last time.Time
	if v, ok := result["total"]; ok {
		total, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := result["last_scan_at"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			last = time.UnixMilli(ms)
		}
	}
	return total, last, nil
}

// SubscribeCheckins delivers every payload published for eventID to handler
// until the returned cancel function is called.
func (c *Client) SubscribeCheckins(ctx context.Context, eventID string, handler func(payload []byte)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := c.rdb.Subscribe(ctx, channelKey(eventID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return cancelCtx, nil
}

// ClaimOnce sets an idempotency key with TTL. It reports false when the key
// was already claimed.
func (c *Client) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ForgetClaim deletes an idempotency key so the work can be retried.
func (c *Client) ForgetClaim(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock; an empty token means the lock is held elsewhere.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.unlockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
