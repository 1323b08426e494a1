package grpc

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"deckcap/log"
	"deckcap/rpc"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

var ErrorNoSub = errors.New("grpc sub is nil")

type server struct {
	opts rpc.ServerOptions

	sub ServerSub

	mu   sync.Mutex
	lis  net.Listener
	gsvr *grpc.Server
}

func NewServer(opts ...rpc.ServerOption) (rpc.Server, error) {
	svr := &server{}

	for _, o := range opts {
		o(&svr.opts)
	}

	if svr.opts.MaxMsgLen == 0 {
		svr.opts.MaxMsgLen = rpc.DefaultMaxMsgLen
	}

	if svr.opts.ID == "" {
		svr.opts.ID = uuid.New().String()
	}

	if svr.opts.Context != nil {
		cfg, ok := svr.opts.Context.Value(grpcServerConfigKey{}).(*grpcServerConfig)
		if ok {
			svr.sub = cfg.Sub
		}

		if l, ok := svr.opts.Context.Value(grpcListenerKey{}).(net.Listener); ok {
			svr.lis = l
		}
	}

	if svr.sub == nil {
		return nil, ErrorNoSub
	}

	return svr, nil
}

// Start returns once the listener is up and serves on its own goroutine.
func (svr *server) Start() error {
	svr.mu.Lock()
	defer svr.mu.Unlock()

	if svr.lis == nil {
		lis, err := net.Listen("tcp", svr.opts.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen %w", err)
		}

		svr.lis = lis
	}

	svr.gsvr = grpc.NewServer(
		grpc.MaxRecvMsgSize(int(svr.opts.MaxMsgLen)),
		grpc.MaxSendMsgSize(int(svr.opts.MaxMsgLen)))
	svr.sub.OnListened(svr.gsvr)
	reflection.Register(svr.gsvr)

	gsvr, lis := svr.gsvr, svr.lis

	go func() {
		if err := gsvr.Serve(lis); err != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	log.Info("grpc listening", zap.String("addr", lis.Addr().String()))

	return nil
}

func (svr *server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()

	if svr.lis == nil {
		return nil
	}

	return svr.lis.Addr()
}

func (svr *server) Options() rpc.ServerOptions {
	return svr.opts
}

func (svr *server) Stop() {
	svr.mu.Lock()
	gsvr := svr.gsvr
	svr.gsvr = nil
	svr.mu.Unlock()

	if gsvr != nil {
		gsvr.GracefulStop()
	}
}

func (svr *server) String() string {
	return "grpc-server"
}
