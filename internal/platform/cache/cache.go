// Package cache connects to Dragonfly/Redis, which holds the per-attempt
// locks that serialize progress writes when several server replicas share
// one quest store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockRetry = 25 * time.Millisecond
)

// Options configures the lock backend.
type Options struct {
	URL string

	// LockTTL bounds how long a crashed holder can keep an attempt locked.
	LockTTL time.Duration
	// LockRetry is the pause between acquisition attempts on a held lock.
	LockRetry time.Duration
}

// Cache owns the Redis client and the attempt Locker built on it.
type Cache struct {
	Client *redis.Client
	locker *Locker
}

// clientOptions turns Options into go-redis settings and fills lock defaults.
func clientOptions(o *Options) (*redis.Options, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	if o.LockTTL < 0 || o.LockRetry < 0 {
		return nil, fmt.Errorf("lock durations must not be negative")
	}
	if o.LockTTL == 0 {
		o.LockTTL = defaultLockTTL
	}
	if o.LockRetry == 0 {
		o.LockRetry = defaultLockRetry
	}
	if o.LockRetry >= o.LockTTL {
		return nil, fmt.Errorf("lock retry %s must be shorter than lock ttl %s", o.LockRetry, o.LockTTL)
	}

	ro, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	ro.DialTimeout = 5 * time.Second
	ro.ReadTimeout = 3 * time.Second
	ro.WriteTimeout = 3 * time.Second
	return ro, nil
}

// New connects to the cache and prepares its attempt Locker.
func New(ctx context.Context, opts Options) (*Cache, error) {
	ro, err := clientOptions(&opts)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{
		Client: client,
		locker: newLocker(client, opts.LockTTL, opts.LockRetry),
	}, nil
}

// Locker returns the attempt lock sharing this cache's client.
func (c *Cache) Locker() *Locker {
	return c.locker
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
