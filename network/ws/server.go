package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"deckcap/log"
	s "deckcap/network"
	"deckcap/network/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	ErrorMethodNotAllow   int           = 405
	DefaultMaxHeaderBytes uint32        = 4096
	DefaultHTTPTimeOut    time.Duration = 1000 * time.Millisecond
	DefaultPath                         = "/monitor"
)

type server struct {
	opts  s.ServerOptions
	conns map[*Conn]struct{}

	ln      net.Listener
	httpSvr *http.Server

	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
	mutexConns sync.Mutex

	httpMaxHeaderBytes uint32
	httpTimeout        time.Duration
	path               string
}

func NewServer(opts ...s.ServerOption) s.Server {
	svr := &server{opts: s.NewServerOptions(opts...)}

	svr.httpTimeout = DefaultHTTPTimeOut
	svr.httpMaxHeaderBytes = DefaultMaxHeaderBytes
	svr.path = DefaultPath

	if svr.opts.Context != nil {
		cfg, ok := svr.opts.Context.Value(wsServerConfigKey{}).(*wsServerConfig)
		if ok {
			svr.httpTimeout = cfg.HTTPTimeout
			svr.httpMaxHeaderBytes = cfg.HTTPMaxHeaderBytes

			if cfg.Path != "" {
				svr.path = cfg.Path
			}
		}
	}

	return svr
}

func (svr *server) Options() s.ServerOptions {
	return svr.opts
}

// Start returns once the listener is up; connections are served on their own
// goroutines until Stop.
func (svr *server) Start() error {
	ln, err := net.Listen("tcp", svr.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(svr.path, svr)

	svr.mutexConns.Lock()
	svr.ln = ln
	svr.conns = make(map[*Conn]struct{})
	svr.upgrader = websocket.Upgrader{
		HandshakeTimeout: svr.httpTimeout,
		CheckOrigin:      func(_ *http.Request) bool { return true },
	}
	svr.httpSvr = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: svr.httpTimeout,
		MaxHeaderBytes:    int(svr.httpMaxHeaderBytes),
	}
	httpSvr := svr.httpSvr
	svr.mutexConns.Unlock()

	go func() {
		if err := httpSvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ws serve", zap.Error(err))
		}
	}()

	log.Info("ws listening", zap.String("addr", ln.Addr().String()), zap.String("path", svr.path))

	return nil
}

func (svr *server) Addr() net.Addr {
	svr.mutexConns.Lock()
	defer svr.mutexConns.Unlock()

	if svr.ln == nil {
		return nil
	}

	return svr.ln.Addr()
}

func (svr *server) String() string {
	return "ws-server"
}

func (svr *server) Stop() {
	svr.mutexConns.Lock()
	httpSvr := svr.httpSvr
	svr.httpSvr = nil

	for conn := range svr.conns {
		conn.Close()
	}

	svr.conns = nil
	svr.mutexConns.Unlock()

	if httpSvr != nil {
		httpSvr.Close()
	}

	svr.wg.Wait()
}

func (svr *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", ErrorMethodNotAllow)

		return
	}

	svr.mutexConns.Lock()
	if svr.conns == nil {
		svr.mutexConns.Unlock()
		http.Error(w, "Server stopped", http.StatusServiceUnavailable)

		return
	}

	if uint32(len(svr.conns)) >= svr.opts.MaxConnNum {
		svr.mutexConns.Unlock()
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)

		return
	}

	svr.wg.Add(1)
	svr.mutexConns.Unlock()

	defer svr.wg.Done()

	conn, err := svr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn.SetReadLimit(int64(svr.opts.MaxMsgLen))

	co := newConn(conn, svr.opts.MaxWriteBufLen, svr.opts.MaxMsgLen, svr.opts.WriteTimeout)

	svr.mutexConns.Lock()
	if svr.conns == nil {
		svr.mutexConns.Unlock()
		co.Close()

		return
	}

	svr.conns[co] = struct{}{}
	svr.mutexConns.Unlock()

	sess := session.NewSession(co, svr.opts.Codec, svr.opts.Handler)

	sess.OnConnect()
	sess.Run()
	co.Close()

	svr.mutexConns.Lock()
	if svr.conns != nil {
		delete(svr.conns, co)
	}
	svr.mutexConns.Unlock()

	sess.OnClose()
}
