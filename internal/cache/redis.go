// Package cache is an optional redis layer for expensive read models. Every
// call is a no-op while no client is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
)

const keyPrefix = "billbook:"

var client *redis.Client

// Init connects to url (redis://...). An empty url leaves the cache disabled.
func Init(ctx context.Context, url string) error {
	if url == "" {
		logger.Log.Info("REDIS_URL not set, dashboard cache disabled")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	client = c
	logger.Log.Info("redis cache connected")
	return nil
}

// Use installs an existing client; nil disables the cache.
func Use(c *redis.Client) { client = c }

func Enabled() bool { return client != nil }

func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}

// Key joins parts under the application prefix.
func Key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

// TenantKey builds a key that InvalidateTenant will remove.
func TenantKey(tenantID uint, parts ...string) string {
	return Key(append([]string{"tenant", fmt.Sprint(tenantID)}, parts...)...)
}

// GetJSON decodes the cached value into dst and reports whether it was found.
func GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if client == nil {
		return false, nil
	}
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, raw, ttl).Err()
}

// InvalidateTenant drops every cached value of a tenant. Failures are only
// logged; entries expire on their own.
func InvalidateTenant(ctx context.Context, tenantID uint) {
	if client == nil {
		return
	}
	pattern := TenantKey(tenantID, "*")
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.WithError(err).WithField("tenant_id", tenantID).Warn("cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		logger.Log.WithError(err).WithField("tenant_id", tenantID).Warn("cache invalidation failed")
	}
}
