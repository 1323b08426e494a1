package plmxs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultAddr           = "0.0.0.0:6061"
	DefaultSystemInterval = 10 * time.Second
)

type Options struct {
	Addr           string
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	SystemInterval time.Duration
}

type Option func(*Options)

func OptionWithAddr(a string) Option {
	return func(o *Options) {
		o.Addr = a
	}
}

// OptionWithRegistry registers and gathers on r instead of the default
// registry.
func OptionWithRegistry(r *prometheus.Registry) Option {
	return func(o *Options) {
		o.Registerer = r
		o.Gatherer = r
	}
}

// OptionWithSystemInterval sets how often cpu and memory are sampled. Zero
// disables sampling.
func OptionWithSystemInterval(d time.Duration) Option {
	return func(o *Options) {
		o.SystemInterval = d
	}
}
