package network

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxConnNum   uint32        = 64
	DefaultMaxMsgLen    uint32        = 64 * 1024
	DefaultWriteBufLen  uint32        = 100
	DefaultWriteTimeout time.Duration = 2 * time.Second

	DefaultMaxReconnectNum   uint32        = 3
	DefaultReconnectInterval time.Duration = 5 * time.Second
)

type Options struct {
	Addr string
	Name string

	Codec   Codec
	Handler Handler

	// monitor pushes are dropped for a peer whose write buffer is full
	MaxWriteBufLen uint32
	MaxMsgLen      uint32
	WriteTimeout   time.Duration

	Context context.Context
}

type ClientOptions struct {
	Options
	MaxReconnectNum   uint32
	ReconnectInterval time.Duration
}

type ServerOptions struct {
	Options
	MaxConnNum uint32
	ID         string
}

type ClientOption func(*ClientOptions)

type ServerOption func(*ServerOptions)

func (o *Options) fill() {
	if o.MaxWriteBufLen == 0 {
		o.MaxWriteBufLen = DefaultWriteBufLen
	}

	if o.MaxMsgLen == 0 {
		o.MaxMsgLen = DefaultMaxMsgLen
	}

	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
}

// NewServerOptions applies opts over the defaults and gives the server an ID.
func NewServerOptions(opts ...ServerOption) ServerOptions {
	var o ServerOptions

	for _, f := range opts {
		f(&o)
	}

	o.fill()

	if o.MaxConnNum == 0 {
		o.MaxConnNum = DefaultMaxConnNum
	}

	if o.ID == "" {
		o.ID = uuid.New().String()
	}

	return o
}

func NewClientOptions(opts ...ClientOption) ClientOptions {
	var o ClientOptions

	for _, f := range opts {
		f(&o)
	}

	o.fill()

	if o.MaxReconnectNum == 0 {
		o.MaxReconnectNum = DefaultMaxReconnectNum
	}

	if o.ReconnectInterval == 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}

	return o
}

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

func ServerOptionWithMaxConnNum(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxConnNum = n
	}
}

func ServerOptionWithHandler(h Handler) ServerOption {
	return func(o *ServerOptions) {
		o.Handler = h
	}
}

func ServerOptionWithCodec(c Codec) ServerOption {
	return func(o *ServerOptions) {
		o.Codec = c
	}
}

func ServerOptionWithMaxMsgLen(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxMsgLen = n
	}
}

func ServerOptionWithMaxWriteBufLen(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxWriteBufLen = n
	}
}

func ServerOptionWithWriteTimeout(t time.Duration) ServerOption {
	return func(o *ServerOptions) {
		o.WriteTimeout = t
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

func ClientOptionWithMaxReconnectNum(n uint32) ClientOption {
	return func(o *ClientOptions) {
		o.MaxReconnectNum = n
	}
}

func ClientOptionWithReconnectInterval(t time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.ReconnectInterval = t
	}
}

func ClientOptionWithHandler(h Handler) ClientOption {
	return func(o *ClientOptions) {
		o.Handler = h
	}
}

func ClientOptionWithCodec(c Codec) ClientOption {
	return func(o *ClientOptions) {
		o.Codec = c
	}
}
