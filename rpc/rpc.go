package rpc

import (
	"net"
)

type Server interface {
	Start() error
	Stop()
	String() string
	Options() ServerOptions
	Addr() net.Addr
}

type Client interface {
	Start() error
	Stop()
	String() string
	Options() ClientOptions
	SetOption(...ClientOption)
	Client() interface{}
}
