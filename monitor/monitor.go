// Package monitor pushes capture events and stats to websocket agents.
package monitor

import (
	"fmt"
	"time"

	"deckcap/capture"
	"deckcap/framework"
	"deckcap/log"
	"deckcap/network"
	"deckcap/util/pipeline"
	"deckcap/util/timer"

	"go.uber.org/zap"
)

const (
	DefaultInterval uint32 = 1000
	DefaultQueueLen uint32 = 256
)

type Options struct {
	// Interval between stats reports, in milliseconds.
	Interval uint32
	QueueLen uint32
}

type Option func(*Options)

func OptionWithInterval(d time.Duration) Option {
	return func(o *Options) {
		o.Interval = uint32(d / time.Millisecond)
	}
}

func OptionWithQueueLen(n uint32) Option {
	return func(o *Options) {
		o.QueueLen = n
	}
}

type subscriber struct {
	agent network.Agent
	sub   Subscribe
}

func (s *subscriber) wants(id, name string) bool {
	if len(s.sub.Sessions) == 0 {
		return true
	}

	for _, v := range s.sub.Sessions {
		if v == id || v == name {
			return true
		}
	}

	return false
}

type tick struct{}

// Monitor is a framework.Module. Agents and subscriptions are only touched
// on the pipeline goroutine.
type Monitor struct {
	opts   Options
	stats  func() []capture.Stats
	p      *pipeline.Pipeline
	agents map[string]*subscriber
	ticker timer.Ticker
}

// New takes the source of stats snapshots, usually App.Stats.
func New(stats func() []capture.Stats, opts ...Option) *Monitor {
	o := Options{
		Interval: DefaultInterval,
		QueueLen: DefaultQueueLen,
	}

	for _, v := range opts {
		v(&o)
	}

	m := &Monitor{
		opts:   o,
		stats:  stats,
		p:      pipeline.NewPipeline(o.QueueLen),
		agents: make(map[string]*subscriber),
	}

	m.p.RegisterGo((*EventNotice)(nil), m.onEvent)
	m.p.RegisterGo((*tick)(nil), m.onTick)

	return m
}

func (m *Monitor) Init(r framework.Router) {
	r.RegisterPipeline(m.p, (*framework.OnConnect)(nil), m.onConnect)
	r.RegisterPipeline(m.p, (*framework.OnClose)(nil), m.onClose)
	r.RegisterPipeline(m.p, (*Subscribe)(nil), m.onSubscribe)
	r.RegisterPipeline(m.p, (*StatsRequest)(nil), m.onStatsRequest)
}

// Router returns the network handler to serve the monitor with. Messages the
// monitor does not take are answered with an ErrorNotice.
func (m *Monitor) Router() framework.Router {
	return framework.NewRouter(
		framework.OptionWithModule(m),
		framework.OptionWithFallback(m.unrouted))
}

func (m *Monitor) unrouted(a network.Agent, msg interface{}) {
	m.write(a, &ErrorNotice{Message: fmt.Sprintf("unsupported message %T", msg)})
}

func (m *Monitor) Start() {
	go m.p.Run()

	if m.opts.Interval > 0 {
		m.ticker = timer.NewTicker(time.Duration(m.opts.Interval)*time.Millisecond, func() {
			_ = m.p.Go((*tick)(nil))
		})
	}
}

func (m *Monitor) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}

	m.p.Stop()
}

// Publish queues e for subscribed agents. It never blocks; when the queue is
// full the event is dropped for the monitor only.
func (m *Monitor) Publish(name string, e *capture.Event) {
	if err := m.p.Go(&EventNotice{Name: name, Event: *e}); err != nil {
		log.Debug("monitor publish", zap.Error(err))
	}
}

func agentOf(args []interface{}) network.Agent {
	a, _ := args[1].(network.Agent)

	return a
}

func (m *Monitor) onConnect(args []interface{}) {
	a := agentOf(args)
	m.agents[a.ID()] = &subscriber{agent: a}

	log.Info("monitor agent connected", zap.String("agent", a.ID()), zap.Stringer("addr", a.RemoteAddr()))
}

func (m *Monitor) onClose(args []interface{}) {
	a := agentOf(args)
	delete(m.agents, a.ID())

	log.Info("monitor agent closed", zap.String("agent", a.ID()))
}

func (m *Monitor) onSubscribe(args []interface{}) {
	sub := args[0].(*Subscribe)
	a := agentOf(args)

	s, ok := m.agents[a.ID()]
	if !ok {
		s = &subscriber{agent: a}
		m.agents[a.ID()] = s
	}

	s.sub = *sub
}

func (m *Monitor) snapshot(filter func(capture.Stats) bool) []capture.Stats {
	res := []capture.Stats{}

	if m.stats == nil {
		return res
	}

	for _, st := range m.stats() {
		if filter(st) {
			res = append(res, st)
		}
	}

	return res
}

func (m *Monitor) onStatsRequest(args []interface{}) {
	req := args[0].(*StatsRequest)
	a := agentOf(args)

	report := &StatsReport{Stats: m.snapshot(func(st capture.Stats) bool {
		return req.Session == "" || req.Session == st.ID || req.Session == st.Name
	})}

	if req.Session != "" && len(report.Stats) == 0 {
		m.write(a, &ErrorNotice{Message: "no session " + req.Session})

		return
	}

	m.write(a, report)
}

func (m *Monitor) onEvent(args []interface{}) {
	n := args[0].(*EventNotice)

	for _, s := range m.agents {
		if s.sub.Events && s.wants(n.Event.Session, n.Name) {
			m.write(s.agent, n)
		}
	}
}

func (m *Monitor) onTick(_ []interface{}) {
	var all []capture.Stats

	for _, s := range m.agents {
		if !s.sub.Stats {
			continue
		}

		if all == nil {
			all = m.snapshot(func(capture.Stats) bool { return true })
		}

		report := &StatsReport{Stats: []capture.Stats{}}
		for _, st := range all {
			if s.wants(st.ID, st.Name) {
				report.Stats = append(report.Stats, st)
			}
		}

		m.write(s.agent, report)
	}
}

func (m *Monitor) write(a network.Agent, msg interface{}) {
	if err := a.WriteMessage(msg); err != nil {
		log.Warn("monitor write", zap.String("agent", a.ID()), zap.Error(err))
	}
}
