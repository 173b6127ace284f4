// Package redisqueue implements the page queue on a Redis list so several scraper
// processes can share one run's pages.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Config controls the Redis connection and key naming.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Queue hands out page URLs with LPOP, which Redis executes atomically, so
// every entry reaches exactly one caller.
type Queue struct {
	client listClient
	key    string
}

// NewClient opens a go-redis client from cfg.
func NewClient(cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// Key builds the list key for one run.
func Key(prefix, runID string) string {
	if prefix == "" {
		prefix = "scraper:pages"
	}
	return prefix + ":" + runID
}

// NewQueue replaces whatever is stored under key with urls.
func NewQueue(ctx context.Context, client listClient, key string, urls []string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("queue key is required")
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("reset queue %s: %w", key, err)
	}
	if len(urls) > 0 {
		values := make([]interface{}, len(urls))
		for i, u := range urls {
			values[i] = u
		}
		if err := client.RPush(ctx, key, values...).Err(); err != nil {
			return nil, fmt.Errorf("seed queue %s: %w", key, err)
		}
	}
	return &Queue{client: client, key: key}, nil
}

// TryTake pops the head of the list; an empty or missing list reports ok=false.
func (q *Queue) TryTake(ctx context.Context) (string, bool, error) {
	url, err := q.client.LPop(ctx, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("pop %s: %w", q.key, err)
	default:
		return url, true, nil
	}
}

// Close removes any entries left behind, e.g. after a canceled run.
func (q *Queue) Close(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("delete queue %s: %w", q.key, err)
	}
	return nil
}
