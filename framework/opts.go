package framework

import "deckcap/network"

type (
	Options struct {
		Module []Module
		// Fallback gets messages no module routed, on the connection goroutine.
		Fallback func(network.Agent, interface{})
	}

	Option func(*Options)
)

func OptionWithModule(m Module) Option {
	return func(o *Options) {
		o.Module = append(o.Module, m)
	}
}

func OptionWithFallback(f func(network.Agent, interface{})) Option {
	return func(o *Options) {
		o.Fallback = f
	}
}
