package grpc

import (
	"context"
	"net"

	"deckcap/rpc"
)

type grpcServerConfigKey struct{}

type grpcServerConfig struct {
	Sub ServerSub
}

type grpcListenerKey struct{}

type grpcClientConfigKey struct{}

type grpcClientConfig struct {
	Sub ClientSub
}

type grpcDialerKey struct{}

type Dialer func(context.Context, string) (net.Conn, error)

func with(ctx context.Context, k, v interface{}) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, k, v)
}

func ServerOptionWithConfig(sub ServerSub) rpc.ServerOption {
	return func(o *rpc.ServerOptions) {
		o.Context = with(o.Context, grpcServerConfigKey{}, &grpcServerConfig{
			Sub: sub,
		})
	}
}

// ServerOptionWithListener serves on l instead of listening on Addr.
func ServerOptionWithListener(l net.Listener) rpc.ServerOption {
	return func(o *rpc.ServerOptions) {
		o.Context = with(o.Context, grpcListenerKey{}, l)
	}
}

func ClientOptionWithConfig(sub ClientSub) rpc.ClientOption {
	return func(o *rpc.ClientOptions) {
		o.Context = with(o.Context, grpcClientConfigKey{}, &grpcClientConfig{
			Sub: sub,
		})
	}
}

func ClientOptionWithDialer(d Dialer) rpc.ClientOption {
	return func(o *rpc.ClientOptions) {
		o.Context = with(o.Context, grpcDialerKey{}, d)
	}
}
