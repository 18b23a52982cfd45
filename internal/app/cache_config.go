package app

import (
	"strings"
	"time"

	"github.com/charlesng35/storefront/internal/cache"
)

const defaultItemTTL = 15 * time.Minute

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// ItemTTL bounds how long a cached item snapshot may serve reads.
func (c CacheConfig) ItemTTL() time.Duration {
	if c.TTL.Item <= 0 {
		return defaultItemTTL
	}
	return c.TTL.Item
}
