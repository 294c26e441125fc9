// Package cache stores cached candle series in Redis with graceful
// degradation to process memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trade-setup-assistant/config"
	"trade-setup-assistant/internal/logging"
)

// ErrUnavailable is returned while the circuit breaker is open
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// CacheService provides Redis access with a simple circuit breaker.
// When Redis is unavailable, operations return errors that callers should
// handle by falling back to the in-memory store.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration
}

// NewCacheService connects to Redis. An unreachable server yields a
// service in degraded mode rather than an error.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		config:        cfg,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logging.WithComponent("cache")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Initial Redis connection failed, running degraded", "error", err)
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	log.Info("Redis connected", "address", cfg.Address)
	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			logging.WithComponent("cache").Warn("Circuit breaker open", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		logging.WithComponent("cache").Info("Circuit breaker closed, Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth pings in the background once the check interval has passed
func (cs *CacheService) checkHealth() {
	cs.mu.Lock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	if shouldCheck {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// do runs one guarded Redis operation
func (cs *CacheService) do(op string, fn func() error) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}
	if err := fn(); err != nil {
		if errors.Is(err, redis.Nil) {
			return err // Cache miss, not a failure
		}
		cs.recordFailure()
		return fmt.Errorf("redis %s failed: %w", op, err)
	}
	cs.recordSuccess()
	return nil
}

// Get retrieves a value from cache.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	var result string
	err := cs.do("get", func() (err error) {
		result, err = cs.client.Get(ctx, key).Result()
		return err
	})
	return result, err
}

// Set stores a value with TTL (0 keeps it forever).
func (cs *CacheService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return cs.do("set", func() error {
		return cs.client.Set(ctx, key, value, ttl).Err()
	})
}

// Delete removes a key from cache.
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	return cs.do("delete", func() error {
		return cs.client.Del(ctx, keys...).Err()
	})
}

// AddToSet adds members to a set
func (cs *CacheService) AddToSet(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return cs.do("sadd", func() error {
		return cs.client.SAdd(ctx, key, args...).Err()
	})
}

// RemoveFromSet removes a member from a set
func (cs *CacheService) RemoveFromSet(ctx context.Context, key, member string) error {
	return cs.do("srem", func() error {
		return cs.client.SRem(ctx, key, member).Err()
	})
}

// Members lists a set
func (cs *CacheService) Members(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := cs.do("smembers", func() (err error) {
		members, err = cs.client.SMembers(ctx, key).Result()
		return err
	})
	return members, err
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Stats returns cache statistics for monitoring.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}
