package control

import (
	"context"

	rpcgrpc "deckcap/rpc/grpc"

	"google.golang.org/grpc"
)

type Client struct {
	cc *grpc.ClientConn
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// Sub makes NewClient an rpc/grpc ClientSub.
type Sub struct{}

func (Sub) OnConnected(cc *grpc.ClientConn) interface{} {
	return NewClient(cc)
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(rpcgrpc.CodecName)}, opts...)

	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *Client) ListDevices(ctx context.Context, opts ...grpc.CallOption) (*ListDevicesResponse, error) {
	out := new(ListDevicesResponse)
	if err := c.invoke(ctx, "ListDevices", &ListDevicesRequest{}, out, opts); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) ListSessions(ctx context.Context, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	out := new(ListSessionsResponse)
	if err := c.invoke(ctx, "ListSessions", &ListSessionsRequest{}, out, opts); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) SessionStats(ctx context.Context, session string, opts ...grpc.CallOption) (*SessionStatsResponse, error) {
	out := new(SessionStatsResponse)
	if err := c.invoke(ctx, "SessionStats", &SessionRequest{Session: session}, out, opts); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) Unlock(ctx context.Context, session string, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "Unlock", &SessionRequest{Session: session}, &Empty{}, opts)
}

func (c *Client) UnlockStop(ctx context.Context, session string, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "UnlockStop", &SessionRequest{Session: session}, &Empty{}, opts)
}
