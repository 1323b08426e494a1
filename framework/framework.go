// Package framework routes decoded network messages to module handlers by
// their Go type.
package framework

import (
	"fmt"
	"reflect"

	"deckcap/log"
	"deckcap/network"
	"deckcap/util/pipeline"

	"go.uber.org/zap"
)

type (
	Module interface {
		Init(Router)
	}

	// Router handlers receive []interface{}{msg, agent}.
	Router interface {
		Register(interface{}, pipeline.GoFunc)
		RegisterPipeline(*pipeline.Pipeline, interface{}, pipeline.GoFunc)
		network.Handler
	}

	router struct {
		r    map[reflect.Type]pipeline.GoFunc
		opts Options
	}

	OnClose struct{}

	OnConnect struct{}
)

func NewRouter(opts ...Option) Router {
	r := &router{
		r: make(map[reflect.Type]pipeline.GoFunc),
	}

	for _, o := range opts {
		o(&r.opts)
	}

	for _, v := range r.opts.Module {
		v.Init(r)
	}

	return r
}

func (r *router) Register(m interface{}, f pipeline.GoFunc) {
	t := reflect.TypeOf(m)
	if _, ok := r.r[t]; ok {
		panic(fmt.Sprintf("msg %v: already routed", t))
	}

	r.r[t] = f
}

// RegisterPipeline runs f on p's goroutine instead of the connection's.
func (r *router) RegisterPipeline(p *pipeline.Pipeline, m interface{}, f pipeline.GoFunc) {
	r.Register(m, func(args []interface{}) {
		if err := p.Go(args...); err != nil {
			log.Warn("RouterGo", zap.String("msg", reflect.TypeOf(m).String()), zap.Error(err))
		}
	})

	p.RegisterGo(m, f)
}

func (r *router) dispatch(m interface{}, a network.Agent) bool {
	f, ok := r.r[reflect.TypeOf(m)]
	if ok {
		f([]interface{}{m, a})
	}

	return ok
}

func (r *router) Handle(a network.Agent, m interface{}) {
	if r.dispatch(m, a) {
		return
	}

	if r.opts.Fallback != nil {
		r.opts.Fallback(a, m)

		return
	}

	log.Debug("unrouted message", zap.String("msg", reflect.TypeOf(m).String()), zap.String("agent", a.ID()))
}

func (r *router) OnConnect(a network.Agent) {
	r.dispatch((*OnConnect)(nil), a)
}

func (r *router) OnClose(a network.Agent) {
	r.dispatch((*OnClose)(nil), a)
}
