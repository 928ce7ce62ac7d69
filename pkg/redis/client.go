// Package redis wraps go-redis/v9 with the handful of hash, sorted-set and
// scripting calls the Redis post store needs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/postvault/postvault/pkg/config"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// Script is a Lua script that is loaded lazily and invoked by SHA.
type Script struct {
	s *redis.Script
}

// NewScript prepares src for execution with Client.Run.
func NewScript(src string) *Script {
	return &Script{s: redis.NewScript(src)}
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Run evaluates script with EVALSHA, falling back to EVAL on a cold cache,
// and returns its integer reply.
func (c *Client) Run(ctx context.Context, script *Script, keys []string, args ...interface{}) (int64, error) {
	return script.s.Run(ctx, c.rdb, keys, args...).Int64()
}

// HLen returns the number of fields in the hash at key.
func (c *Client) HLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.HLen(ctx, key).Result()
}

// HMGet returns the values of fields in the hash at key. Missing fields come
// back as empty strings with ok false.
func (c *Client) HMGet(ctx context.Context, key string, fields ...string) ([]string, []bool, error) {
	raw, err := c.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, nil, err
	}
	vals := make([]string, len(raw))
	ok := make([]bool, len(raw))
	for i, v := range raw {
		if s, isStr := v.(string); isStr {
			vals[i], ok[i] = s, true
		}
	}
	return vals, ok, nil
}

// ZRevRangeByLex returns up to count members of the sorted set at key that
// sort at or below max, in descending lexical order. max uses the ZRANGEBYLEX
// syntax: "+" for no bound, "(member" to exclude member.
func (c *Client) ZRevRangeByLex(ctx context.Context, key, max string, count int64) ([]string, error) {
	return c.rdb.ZRevRangeByLex(ctx, key, &redis.ZRangeBy{
		Max:   max,
		Min:   "-",
		Count: count,
	}).Result()
}

// FlushByPattern scans for keys matching the glob pattern and deletes them,
// returning the number of keys removed.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("deleting key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}
	return deleted, nil
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
