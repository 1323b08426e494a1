// Package deckcap wires capture sessions to leases, brokers, metrics and the
// monitor and control planes.
package deckcap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"deckcap/broker"
	"deckcap/capture"
	"deckcap/clock"
	"deckcap/device"
	"deckcap/log"
	"deckcap/monitor"
	"deckcap/network"
	plmxs "deckcap/prometheus"
	"deckcap/registry"
	"deckcap/rpc"
	"deckcap/util/addr"
	"deckcap/util/pipeline"
	"deckcap/util/timer"

	"go.uber.org/zap"
)

type app struct {
	opts Options

	mu       sync.Mutex
	running  bool
	sessions []capture.Source
	registry registry.Registry
	brokers  map[string]broker.Broker
	svrs     map[string]network.Server
	rpcSvrs  map[string]rpc.Server
	metrics  *plmxs.Monitor
	monitor  *monitor.Monitor

	host   string
	leases []*registry.Lease
	slaved []slaveClock

	events *pipeline.Pipeline

	regTicker      timer.Ticker
	statsTicker    timer.Ticker
	monitorStarted bool

	ready    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

type slaveClock interface {
	clock.Clock
	SetMaster(clock.Clock) error
}

type eventMsg struct {
	name string
	e    *capture.Event
}

func newApp(o Options) *app {
	a := &app{
		opts:    o,
		brokers: make(map[string]broker.Broker),
		svrs:    make(map[string]network.Server),
		rpcSvrs: make(map[string]rpc.Server),
		events:  pipeline.NewPipeline(o.EventQueueLen),
		ready:   make(chan struct{}),
		stopCh:  make(chan struct{}),
	}

	a.events.RegisterGo((*eventMsg)(nil), a.onEvent)

	if a.opts.Selector == nil {
		a.opts.Selector = clock.NewSelector(nil, a.onClockChange)
	}

	return a
}

func (a *app) AddSession(srcs ...capture.Source) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrorRunning
	}

	for _, s := range srcs {
		for _, v := range a.sessions {
			if v.Options().Name == s.Options().Name {
				return fmt.Errorf("session %s %w", s.Options().Name, ErrorNameIsExist)
			}
		}

		name := s.Options().Name
		s.AddEventHandler(func(e *capture.Event) {
			if err := a.events.Go(&eventMsg{name: name, e: e}); err != nil {
				log.Warn("event dropped", zap.String("session", name), zap.Stringer("type", e.Type), zap.Error(err))
			}
		})

		a.sessions = append(a.sessions, s)
	}

	return nil
}

func (a *app) AddRegistry(r registry.Registry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.registry = r
}

func (a *app) AddBroker(brokers ...broker.Broker) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, v := range brokers {
		if _, ok := a.brokers[v.Options().Name]; ok {
			return fmt.Errorf("broker %s %w", v.Options().Name, ErrorNameIsExist)
		}

		a.brokers[v.Options().Name] = v
	}

	return nil
}

func (a *app) AddServer(svrs ...network.Server) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, v := range svrs {
		if _, ok := a.svrs[v.Options().Name]; ok {
			return fmt.Errorf("server %s %w", v.Options().Name, ErrorNameIsExist)
		}

		a.svrs[v.Options().Name] = v
	}

	return nil
}

func (a *app) AddRPCServer(svrs ...rpc.Server) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, v := range svrs {
		if _, ok := a.rpcSvrs[v.Options().Name]; ok {
			return fmt.Errorf("rpc server %s %w", v.Options().Name, ErrorNameIsExist)
		}

		a.rpcSvrs[v.Options().Name] = v
	}

	return nil
}

func (a *app) SetMonitor(m *plmxs.Monitor) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metrics = m
}

func (a *app) SetEventMonitor(m *monitor.Monitor) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.monitor = m
}

func (a *app) Sessions() []capture.Source {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := make([]capture.Source, len(a.sessions))
	copy(res, a.sessions)

	return res
}

func (a *app) Stats() []capture.Stats {
	srcs := a.Sessions()

	res := make([]capture.Stats, 0, len(srcs))
	for _, s := range srcs {
		res = append(res, s.Stats())
	}

	return res
}

func (a *app) Selector() *clock.Selector {
	return a.opts.Selector
}

func clockName(c clock.Clock) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}

	return fmt.Sprintf("%T", c)
}

func (a *app) onClockChange(c clock.Clock) {
	log.Info("pipeline clock", zap.String("clock", clockName(c)))
}

// slaveClocks follows the first session's device clock with every other
// device clock.
func (a *app) slaveClocks() {
	var master clock.Clock

	for _, s := range a.sessions {
		c := s.Clock()
		if c == nil {
			continue
		}

		if master == nil {
			master = c
			continue
		}

		sc, ok := c.(slaveClock)
		if !ok || c == master || a.isSlaved(sc) {
			continue
		}

		if err := sc.SetMaster(master); err != nil {
			log.Warn("failed to slave clock", zap.String("clock", clockName(c)), zap.Error(err))
			continue
		}

		log.Info("clock slaved", zap.String("clock", clockName(c)), zap.String("master", clockName(master)))
		a.slaved = append(a.slaved, sc)
	}
}

func (a *app) isSlaved(c slaveClock) bool {
	for _, v := range a.slaved {
		if v == c {
			return true
		}
	}

	return false
}

func (a *app) Ready() <-chan struct{} {
	return a.ready
}

func (a *app) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
}

func (a *app) lease(s capture.Source) *registry.Lease {
	o := s.Options()

	l := &registry.Lease{
		ID:     s.ID(),
		Host:   a.host,
		Device: o.DeviceNumber,
		Kind:   s.Kind().String(),
		Addr:   a.opts.Host,
	}

	if s.Kind() == device.KindVideo {
		l.Mode = o.Mode.String()
	}

	if h, err := o.Fingerprint(); err == nil {
		l.ConfigHash = h
	}

	return l
}

func (a *app) Run() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()

		return ErrorRunning
	}

	if len(a.sessions) == 0 {
		a.mu.Unlock()

		return ErrorNoSession
	}

	a.running = true
	a.mu.Unlock()

	host, err := addr.LeaseHost(a.opts.Host)
	if err != nil {
		return err
	}

	a.host = host

	go a.events.Run()

	if err := a.start(); err != nil {
		a.teardown()

		return err
	}

	log.Info("app running", zap.String("name", a.opts.Name), zap.String("host", a.host), zap.Int("sessions", len(a.sessions)))
	close(a.ready)

	a.wait()
	a.teardown()

	return nil
}

func (a *app) start() error {
	if a.registry != nil {
		if err := a.registry.Init(); err != nil {
			return fmt.Errorf("failed to init registry %w", err)
		}
	}

	for _, v := range a.brokers {
		if err := v.Connect(); err != nil {
			return fmt.Errorf("failed to connect broker %s %w", v.String(), err)
		}
	}

	for _, s := range a.sessions {
		if err := a.claim(s); err != nil {
			return err
		}

		if err := s.Open(); err != nil {
			return fmt.Errorf("failed to open %s %w", s.Options().Name, err)
		}
	}

	for _, s := range a.sessions {
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start %s %w", s.Options().Name, err)
		}
	}

	if a.opts.SlaveClocks {
		a.slaveClocks()
	}

	if a.registry != nil {
		a.regTicker = timer.NewTicker(a.opts.LeaseRefresh, a.refresh)
	}

	if a.metrics != nil {
		if err := a.metrics.Start(); err != nil {
			return err
		}

		if a.opts.StatsInterval > 0 {
			a.statsTicker = timer.NewTicker(a.opts.StatsInterval, a.observe)
		}
	}

	if a.monitor != nil {
		a.monitor.Start()
		a.monitorStarted = true
	}

	for k, v := range a.svrs {
		if err := v.Start(); err != nil {
			return fmt.Errorf("failed to start server %s %w", k, err)
		}
	}

	for k, v := range a.rpcSvrs {
		if err := v.Start(); err != nil {
			return fmt.Errorf("failed to start rpc server %s %w", k, err)
		}
	}

	return nil
}

func (a *app) claim(s capture.Source) error {
	if a.registry == nil {
		return nil
	}

	l := a.lease(s)

	err := a.registry.Register(l,
		registry.RegisterOptionWithTTL(a.opts.LeaseTTL),
		registry.RegisterOptionWithDomain(a.opts.Domain))
	if err != nil {
		return fmt.Errorf("failed to lease %s %w", l.Name(), err)
	}

	a.mu.Lock()
	a.leases = append(a.leases, l)
	a.mu.Unlock()

	return nil
}

func (a *app) refresh() {
	a.mu.Lock()
	leases := append([]*registry.Lease(nil), a.leases...)
	a.mu.Unlock()

	for _, l := range leases {
		err := a.registry.Register(l,
			registry.RegisterOptionWithTTL(a.opts.LeaseTTL),
			registry.RegisterOptionWithDomain(a.opts.Domain))

		switch {
		case errors.Is(err, registry.ErrorLeaseHeld):
			log.Error("lease taken over", zap.String("lease", l.Name()), zap.Error(err))
		case err != nil:
			log.Warn("lease refresh", zap.String("lease", l.Name()), zap.Error(err))
		}
	}
}

func (a *app) observe() {
	for _, st := range a.Stats() {
		a.metrics.Observe(st)
	}

	a.metrics.ObserveDropped(a.events.Dropped())
	a.metrics.ObserveMaster(clockName(a.opts.Selector.Selected()))
}

func (a *app) wait() {
	if !a.opts.Signals {
		<-a.stopCh

		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case s := <-ch:
		log.Info("signal", zap.String("signal", s.String()))
	case <-a.stopCh:
	}
}

func (a *app) message(name string, e *capture.Event) (*broker.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	return broker.NewMessage(e.Type.String(), map[string]string{
		broker.HeaderSession: name,
		broker.HeaderDevice:  strconv.Itoa(e.Device),
		broker.HeaderKind:    e.Kind.String(),
	}, body), nil
}

func (a *app) onEvent(args []interface{}) {
	m := args[0].(*eventMsg)

	if a.metrics != nil {
		a.metrics.ObserveEvent(m.name, m.e)
	}

	if a.monitor != nil {
		a.monitor.Publish(m.name, m.e)
	}

	if len(a.brokers) == 0 {
		return
	}

	msg, err := a.message(m.name, m.e)
	if err != nil {
		log.Error("event encode", zap.Error(err))

		return
	}

	for _, b := range a.brokers {
		if err := b.Publish(a.opts.Topic, msg); err != nil {
			log.Warn("event publish", zap.String("broker", b.String()), zap.Error(err))
		}
	}
}

// teardown undoes start in reverse; parts that never started are skipped.
func (a *app) teardown() {
	for _, v := range a.rpcSvrs {
		v.Stop()
	}

	for _, v := range a.svrs {
		v.Stop()
	}

	if a.monitorStarted {
		a.monitor.Stop()
	}

	if a.statsTicker != nil {
		a.statsTicker.Stop()
	}

	if a.regTicker != nil {
		a.regTicker.Stop()
	}

	for _, c := range a.slaved {
		if err := c.SetMaster(nil); err != nil {
			log.Warn("clock unslave", zap.String("clock", clockName(c)), zap.Error(err))
		}
	}
	a.slaved = nil

	for i := len(a.sessions) - 1; i >= 0; i-- {
		s := a.sessions[i]

		if err := s.Close(); err != nil {
			log.Warn("session close", zap.String("session", s.Options().Name), zap.Error(err))
		}

		if a.metrics != nil {
			a.metrics.Forget(s.Stats())
		}
	}

	a.mu.Lock()
	leases := a.leases
	a.leases = nil
	a.mu.Unlock()

	for _, l := range leases {
		if err := a.registry.DeRegister(l, registry.DeregisterOptionWithDomain(a.opts.Domain)); err != nil {
			log.Warn("lease release", zap.String("lease", l.Name()), zap.Error(err))
		}
	}

	// the last events reach the brokers before they disconnect
	a.events.Stop()

	for _, v := range a.brokers {
		if err := v.Disconnect(); err != nil {
			log.Warn("broker disconnect", zap.String("broker", v.String()), zap.Error(err))
		}
	}

	if a.registry != nil {
		if err := a.registry.Release(); err != nil {
			log.Warn("registry release", zap.Error(err))
		}
	}

	if a.metrics != nil {
		a.metrics.Stop()
	}

	log.Info("app stopped", zap.String("name", a.opts.Name))
}
