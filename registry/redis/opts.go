package redis

import (
	"context"
	"time"

	"deckcap/registry"
)

type redisRegistryConfigKey struct{}

type redisRegistryConfig struct {
	MaxIdle     uint32
	MaxActive   uint32
	IdleTimeout time.Duration
}

type redisRegistryDBKey struct{}

func withValue(o *registry.Options, k, v interface{}) {
	if o.Context == nil {
		o.Context = context.Background()
	}

	o.Context = context.WithValue(o.Context, k, v)
}

// OptionWithConfig sizes the connection pool.
func OptionWithConfig(maxIdle, maxActive uint32, idleTimeout time.Duration) registry.Option {
	return func(o *registry.Options) {
		withValue(o, redisRegistryConfigKey{}, &redisRegistryConfig{
			MaxIdle:     maxIdle,
			MaxActive:   maxActive,
			IdleTimeout: idleTimeout,
		})
	}
}

// OptionWithDB keeps the leases in a redis database other than 0.
func OptionWithDB(db int) registry.Option {
	return func(o *registry.Options) {
		withValue(o, redisRegistryDBKey{}, db)
	}
}
