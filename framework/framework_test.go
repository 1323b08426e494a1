package framework

import (
	"net"
	"testing"
	"time"

	"deckcap/network"
	"deckcap/util/pipeline"
)

type agent struct{ id string }

func (a *agent) ID() string                     { return a.id }
func (a *agent) WriteMessage(interface{}) error { return nil }
func (a *agent) GetData(string) interface{}     { return nil }
func (a *agent) SetData(string, interface{})    {}
func (a *agent) RemoteAddr() net.Addr           { return nil }
func (a *agent) LocalAddr() net.Addr            { return nil }
func (a *agent) Close()                         {}

type hello struct{ n int }

type module struct {
	p     *pipeline.Pipeline
	got   chan int
	conns chan string
}

func (m *module) Init(r Router) {
	r.RegisterPipeline(m.p, (*hello)(nil), func(args []interface{}) {
		m.got <- args[0].(*hello).n
	})

	r.Register((*OnConnect)(nil), func(args []interface{}) {
		m.conns <- args[1].(network.Agent).ID()
	})
}

func TestRoutesByType(t *testing.T) {
	m := &module{p: pipeline.NewPipeline(4), got: make(chan int, 4), conns: make(chan string, 1)}

	var unrouted []interface{}

	r := NewRouter(OptionWithModule(m), OptionWithFallback(func(_ network.Agent, msg interface{}) {
		unrouted = append(unrouted, msg)
	}))

	go m.p.Run()
	defer m.p.Stop()

	a := &agent{id: "a1"}

	r.OnConnect(a)
	if id := <-m.conns; id != "a1" {
		t.Fatalf("connect for %s", id)
	}

	r.Handle(a, &hello{n: 7})

	select {
	case n := <-m.got:
		if n != 7 {
			t.Fatalf("got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("message not routed through the pipeline")
	}

	r.Handle(a, "stray")

	if len(unrouted) != 1 || unrouted[0] != "stray" {
		t.Fatalf("unrouted %v", unrouted)
	}

	// no module listens for closes
	r.OnClose(a)
}

func TestRegisterTwicePanics(t *testing.T) {
	r := NewRouter()
	r.Register((*hello)(nil), func([]interface{}) {})

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
	}()

	r.Register((*hello)(nil), func([]interface{}) {})
}
