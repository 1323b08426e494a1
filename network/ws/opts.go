package ws

import (
	"context"
	"time"

	"deckcap/network"
)

type wsServerConfigKey struct{}

type wsServerConfig struct {
	HTTPTimeout        time.Duration
	HTTPMaxHeaderBytes uint32
	Path               string
}

type wsClientConfigKey struct{}

type wsClientConfig struct {
	HTTPTimeout time.Duration
}

// ServerOptionWithConfig sets the handshake timeout, the header
// limit and the path the upgrade is served on.
func ServerOptionWithConfig(httpTimeout time.Duration, httpMaxHeaderBytes uint32, path string) network.ServerOption {
	return func(o *network.ServerOptions) {
		if o.Context == nil {
			o.Context = context.Background()
		}

		o.Context = context.WithValue(o.Context, wsServerConfigKey{}, &wsServerConfig{
			HTTPTimeout:        httpTimeout,
			HTTPMaxHeaderBytes: httpMaxHeaderBytes,
			Path:               path,
		})
	}
}

func ClientOptionWithConfig(httpTimeout time.Duration) network.ClientOption {
	return func(o *network.ClientOptions) {
		if o.Context == nil {
			o.Context = context.Background()
		}

		o.Context = context.WithValue(o.Context, wsClientConfigKey{}, &wsClientConfig{
			HTTPTimeout: httpTimeout,
		})
	}
}
