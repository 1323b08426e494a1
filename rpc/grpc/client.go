package grpc

import (
	"context"
	"fmt"

	"deckcap/rpc"

	"google.golang.org/grpc"
)

type client struct {
	opts       rpc.ClientOptions
	conn       *grpc.ClientConn
	sub        ClientSub
	dialer     Dialer
	grpcClient interface{}
}

func NewClient(opts ...rpc.ClientOption) (rpc.Client, error) {
	cli := &client{}

	for _, o := range opts {
		o(&cli.opts)
	}

	if cli.opts.DialTimeout == 0 {
		cli.opts.DialTimeout = rpc.DefaultDialTimeout
	}

	if cli.opts.MaxMsgLen == 0 {
		cli.opts.MaxMsgLen = rpc.DefaultMaxMsgLen
	}

	if cli.opts.Context != nil {
		cfg, ok := cli.opts.Context.Value(grpcClientConfigKey{}).(*grpcClientConfig)
		if ok {
			cli.sub = cfg.Sub
		}

		if d, ok := cli.opts.Context.Value(grpcDialerKey{}).(Dialer); ok {
			cli.dialer = d
		}
	}

	if cli.sub == nil {
		return nil, ErrorNoSub
	}

	return cli, nil
}

func (cli *client) Options() rpc.ClientOptions {
	return cli.opts
}

func (cli *client) SetOption(opts ...rpc.ClientOption) {
	for _, o := range opts {
		o(&cli.opts)
	}
}

// Start blocks until the connection is ready or the dial timeout passes.
func (cli *client) Start() error {
	dopts := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(int(cli.opts.MaxMsgLen))),
	}

	if cli.dialer != nil {
		dopts = append(dopts, grpc.WithContextDialer(cli.dialer))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cli.opts.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cli.opts.Addr, dopts...)
	if err != nil {
		return fmt.Errorf("grpc connect %w", err)
	}

	cli.conn = conn
	cli.grpcClient = cli.sub.OnConnected(cli.conn)

	return nil
}

func (cli *client) Stop() {
	if cli.conn != nil {
		cli.conn.Close()
	}
}

func (cli *client) String() string {
	return "grpc-client"
}

func (cli *client) Client() interface{} {
	return cli.grpcClient
}
