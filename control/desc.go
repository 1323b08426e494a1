package control

import (
	"context"

	"google.golang.org/grpc"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary(name string, newReq func() interface{},
	call func(ControlServer, context.Context, interface{}) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error,
			interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}

			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ControlServer), ctx, req)
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListDevices", func() interface{} { return new(ListDevicesRequest) },
			func(s ControlServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.ListDevices(ctx, in.(*ListDevicesRequest))
			}),
		unary("ListSessions", func() interface{} { return new(ListSessionsRequest) },
			func(s ControlServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.ListSessions(ctx, in.(*ListSessionsRequest))
			}),
		unary("SessionStats", func() interface{} { return new(SessionRequest) },
			func(s ControlServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.SessionStats(ctx, in.(*SessionRequest))
			}),
		unary("Unlock", func() interface{} { return new(SessionRequest) },
			func(s ControlServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Unlock(ctx, in.(*SessionRequest))
			}),
		unary("UnlockStop", func() interface{} { return new(SessionRequest) },
			func(s ControlServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.UnlockStop(ctx, in.(*SessionRequest))
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "deckcap/control",
}
