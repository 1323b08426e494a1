package rpc

import (
	"context"
	"time"
)

const (
	DefaultMaxMsgLen   uint32        = 4 * 1024 * 1024
	DefaultDialTimeout time.Duration = 5 * time.Second
)

type Options struct {
	Addr string
	Name string

	MaxMsgLen uint32

	Context context.Context
}

type ClientOptions struct {
	Options
	DialTimeout time.Duration
}

type ServerOptions struct {
	Options
	ID string
}

type ClientOption func(*ClientOptions)

type ServerOption func(*ServerOptions)

func ServerOptionWithAddr(a string) ServerOption {
	return func(o *ServerOptions) {
		o.Addr = a
	}
}

func ServerOptionWithName(n string) ServerOption {
	return func(o *ServerOptions) {
		o.Name = n
	}
}

func ServerOptionWithID(id string) ServerOption {
	return func(o *ServerOptions) {
		o.ID = id
	}
}

func ServerOptionWithMaxMsgLen(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxMsgLen = n
	}
}

func ClientOptionWithAddr(a string) ClientOption {
	return func(o *ClientOptions) {
		o.Addr = a
	}
}

func ClientOptionWithName(n string) ClientOption {
	return func(o *ClientOptions) {
		o.Name = n
	}
}

func ClientOptionWithMaxMsgLen(n uint32) ClientOption {
	return func(o *ClientOptions) {
		o.MaxMsgLen = n
	}
}

func ClientOptionWithDialTimeout(t time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.DialTimeout = t
	}
}
