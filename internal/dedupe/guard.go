// Package dedupe suppresses repeated deliveries of the same upload event.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard claims event keys so only one worker processes a given event.
type Guard interface {
	// Claim returns true when the caller now owns key, false when another
	// delivery already claimed it within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the event can be processed again.
	Release(ctx context.Context, key string) error
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// RedisGuard implements Guard with SET NX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard connects to Redis and verifies the connection.
func NewRedisGuard(ctx context.Context, cfg RedisConfig) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisGuardWithClient(client, cfg.Prefix), nil
}

// NewRedisGuardWithClient wraps an existing client.
func NewRedisGuardWithClient(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "docpipe:event:"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard is a process-local Guard for single-instance deployments.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claims: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if exp, ok := g.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claims[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}
