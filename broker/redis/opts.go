package redis

import (
	"context"
	"time"

	"deckcap/broker"
)

type redisBrokerConfigKey struct{}

type redisBrokerConfig struct {
	MaxIdle     uint32
	MaxActive   uint32
	IdleTimeout time.Duration
}

func OptionWithConfig(maxIdle, maxActive uint32, idleTimeout time.Duration) broker.Option {
	return func(o *broker.Options) {
		if o.Context == nil {
			o.Context = context.Background()
		}

		o.Context = context.WithValue(o.Context, redisBrokerConfigKey{}, &redisBrokerConfig{
			MaxIdle:     maxIdle,
			MaxActive:   maxActive,
			IdleTimeout: idleTimeout,
		})
	}
}
