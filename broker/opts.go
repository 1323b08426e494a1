package broker

import (
	"context"
	"time"
)

type Options struct {
	Name     string
	Addr     string
	Password string
	Timeout  time.Duration
	Context  context.Context
}

type Option func(*Options)

func OptionWithName(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

func OptionWithAddr(a string) Option {
	return func(o *Options) {
		o.Addr = a
	}
}

func OptionWithPassword(p string) Option {
	return func(o *Options) {
		o.Password = p
	}
}

func OptionWithTimeout(t time.Duration) Option {
	return func(o *Options) {
		o.Timeout = t
	}
}
