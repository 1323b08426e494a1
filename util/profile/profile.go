// Package profile serves pprof and dumps heap profiles on an interval.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"time"

	"deckcap/log"
	"deckcap/util/timer"

	"go.uber.org/zap"
)

const DefaultAddr = "127.0.0.1:6060"

type Profiler struct {
	ln     net.Listener
	srv    *http.Server
	ticker timer.Ticker
}

func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return mux
}

// Start serves pprof on addr (http://addr/debug/pprof). A non-empty memf
// gets a fresh heap profile every interval.
func Start(addr, memf string, interval time.Duration) (*Profiler, error) {
	if addr == "" {
		addr = DefaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen %w", err)
	}

	p := &Profiler{
		ln:  ln,
		srv: &http.Server{Handler: Handler()},
	}

	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("pprof serve", zap.Error(err))
		}
	}()

	if memf != "" && interval > 0 {
		p.ticker = timer.NewTicker(interval, func() {
			if err := WriteHeap(memf); err != nil {
				log.Warn("write mem file error", zap.Error(err))
			}
		})
	}

	log.Info("StartProfile", zap.String("addr", ln.Addr().String()), zap.String("memf", memf))

	return p, nil
}

func (p *Profiler) Addr() net.Addr {
	return p.ln.Addr()
}

func (p *Profiler) Stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = p.srv.Shutdown(ctx)
}

func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mem file %w", err)
	}
	defer f.Close()

	// up-to-date statistics
	runtime.GC()

	if err := rpprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile %w", err)
	}

	return nil
}
