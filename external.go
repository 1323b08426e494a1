package deckcap

import (
	"errors"
	"time"

	"deckcap/broker"
	"deckcap/capture"
	"deckcap/clock"
	"deckcap/monitor"
	"deckcap/network"
	plmxs "deckcap/prometheus"
	"deckcap/registry"
	"deckcap/rpc"
)

const (
	DefaultLeaseTTL      = registry.DefaultTTL
	DefaultLeaseRefresh  = registry.DefaultRefresh
	DefaultStatsInterval = 5 * time.Second
	DefaultEventQueueLen = 1024
)

var (
	ErrorNameIsExist = errors.New("name is exist")
	ErrorRunning     = errors.New("app is running")
	ErrorNoSession   = errors.New("no capture session")
)

type App interface {
	AddSession(...capture.Source) error
	AddRegistry(registry.Registry)
	AddBroker(...broker.Broker) error
	AddServer(...network.Server) error
	AddRPCServer(...rpc.Server) error
	SetMonitor(*plmxs.Monitor)
	SetEventMonitor(*monitor.Monitor)
	Sessions() []capture.Source
	Stats() []capture.Stats
	// Selector is the pipeline clock selector sessions should be built with
	// through capture.OptionWithSelector.
	Selector() *clock.Selector
	// Run blocks until SIGINT, SIGTERM or Stop.
	Run() error
	// Ready is closed once Run has started everything.
	Ready() <-chan struct{}
	Stop()
}

type Options struct {
	Name          string
	Host          string
	Topic         string
	Domain        string
	LeaseTTL      time.Duration
	LeaseRefresh  time.Duration
	StatsInterval time.Duration
	EventQueueLen uint32
	Signals       bool
	Selector      *clock.Selector
	SlaveClocks   bool
}

type Option func(*Options)

func OptionWithName(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

// OptionWithHost sets the host device leases are taken for. It may be a
// listen address; unspecified hosts resolve to an interface address.
func OptionWithHost(h string) Option {
	return func(o *Options) {
		o.Host = h
	}
}

func OptionWithTopic(t string) Option {
	return func(o *Options) {
		o.Topic = t
	}
}

func OptionWithDomain(d string) Option {
	return func(o *Options) {
		o.Domain = d
	}
}

func OptionWithLease(ttl, refresh time.Duration) Option {
	return func(o *Options) {
		o.LeaseTTL = ttl
		o.LeaseRefresh = refresh
	}
}

func OptionWithStatsInterval(d time.Duration) Option {
	return func(o *Options) {
		o.StatsInterval = d
	}
}

func OptionWithEventQueueLen(n uint32) Option {
	return func(o *Options) {
		o.EventQueueLen = n
	}
}

// OptionWithSignals makes Run return on SIGINT and SIGTERM. It is on by
// default.
func OptionWithSignals(b bool) Option {
	return func(o *Options) {
		o.Signals = b
	}
}

// OptionWithSelector shares a clock selector with the app. Without one the
// app builds its own over the system clock.
func OptionWithSelector(s *clock.Selector) Option {
	return func(o *Options) {
		o.Selector = s
	}
}

// OptionWithSlaveClocks slaves every other device clock to the clock of the
// first session while running.
func OptionWithSlaveClocks(b bool) Option {
	return func(o *Options) {
		o.SlaveClocks = b
	}
}

func NewApp(opts ...Option) App {
	o := Options{
		Name:          "deckcap",
		Topic:         broker.DefaultTopic,
		Domain:        registry.DefaultDomain,
		LeaseTTL:      DefaultLeaseTTL,
		LeaseRefresh:  DefaultLeaseRefresh,
		StatsInterval: DefaultStatsInterval,
		EventQueueLen: DefaultEventQueueLen,
		Signals:       true,
	}

	for _, v := range opts {
		v(&o)
	}

	return newApp(o)
}
