package environment

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	redis "github.com/redis/go-redis/v9"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
)

// DefaultCacheTTL bounds how long a cached identifier is trusted.
const DefaultCacheTTL = time.Hour

// Checker confirms that a cached environment id still exists.
type Checker interface {
	GetEnvironment(ctx context.Context, workspaceID, environmentID string) (fabric.EnvironmentMetadata, error)
}

// CachedLookup remembers resolved identifiers in Redis so repeated runs skip
// the listing calls. Only hits are cached; a cache failure falls through to
// the wrapped lookup. A cached environment id is checked before use and
// evicted when Fabric no longer knows it.
type CachedLookup struct {
	next   Lookup
	check  Checker
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedLookup wraps next with a Redis cache at url. An empty or invalid
// url disables caching and returns next unchanged. check may be nil, in
// which case cached environment ids are trusted until they expire.
func NewCachedLookup(next Lookup, check Checker, url, prefix string, ttl time.Duration, logger *log.Logger) Lookup {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if url == "" {
		return next
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("redis url invalid, id cache disabled", "err", err)
		return next
	}
	return newCachedLookup(next, check, redis.NewClient(opt), prefix, ttl, logger)
}

func newCachedLookup(next Lookup, check Checker, client *redis.Client, prefix string, ttl time.Duration, logger *log.Logger) *CachedLookup {
	if prefix == "" {
		prefix = "fabric-publisher"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &CachedLookup{next: next, check: check, client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *CachedLookup) workspaceKey(name string) string {
	return c.prefix + ":workspace:" + name
}

func (c *CachedLookup) environmentKey(workspaceID, name string) string {
	return c.prefix + ":environment:" + workspaceID + ":" + name
}

func (c *CachedLookup) get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("id cache read failed", "key", key, "err", err)
		return "", false
	}
	return val, val != ""
}

func (c *CachedLookup) put(ctx context.Context, key, val string) {
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn("id cache write failed", "key", key, "err", err)
	}
}

// ResolveWorkspaceID implements Lookup.
func (c *CachedLookup) ResolveWorkspaceID(ctx context.Context, displayName string) (string, error) {
	key := c.workspaceKey(displayName)
	if id, ok := c.get(ctx, key); ok {
		c.logger.Debug("workspace id from cache", "workspace", displayName)
		return id, nil
	}
	id, err := c.next.ResolveWorkspaceID(ctx, displayName)
	if err != nil {
		return "", err
	}
	c.put(ctx, key, id)
	return id, nil
}

// FindEnvironment implements Lookup.
func (c *CachedLookup) FindEnvironment(ctx context.Context, displayName, workspaceID string) (string, error) {
	key := c.environmentKey(workspaceID, displayName)
	if id, ok := c.get(ctx, key); ok {
		if c.stillExists(ctx, key, workspaceID, id) {
			c.logger.Debug("environment id from cache", "environment", displayName)
			return id, nil
		}
	}
	id, err := c.next.FindEnvironment(ctx, displayName, workspaceID)
	if err != nil || id == "" {
		return id, err
	}
	c.put(ctx, key, id)
	return id, nil
}

// stillExists reports whether a cached environment id may be used. A 404
// evicts the key; any other check failure skips the cache for this call.
func (c *CachedLookup) stillExists(ctx context.Context, key, workspaceID, id string) bool {
	if c.check == nil {
		return true
	}
	_, err := c.check.GetEnvironment(ctx, workspaceID, id)
	switch {
	case err == nil:
		return true
	case fabric.IsNotFound(err):
		c.logger.Info("cached environment is gone, resolving again", "environment_id", id)
		if derr := c.client.Del(ctx, key).Err(); derr != nil {
			c.logger.Warn("id cache evict failed", "key", key, "err", derr)
		}
	default:
		c.logger.Warn("cached environment check failed", "environment_id", id, "err", err)
	}
	return false
}

// Close releases the Redis connection pool.
func (c *CachedLookup) Close() error {
	return c.client.Close()
}
