// Package network holds the transport interfaces the monitor plane is built
// on.
package network

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
	WriteMessage(interface{}) error
	Options() ClientOptions
	SetOption(...ClientOption)
}

type Handler interface {
	Handle(Agent, interface{})
	OnConnect(Agent)
	OnClose(Agent)
}

// Agent is one connected peer.
type Agent interface {
	ID() string
	WriteMessage(interface{}) error
	GetData(string) interface{}
	SetData(string, interface{})
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Close()
}

type Codec interface {
	Marshal(interface{}) ([]byte, error)
	Unmarshal([]byte) (interface{}, error)
	String() string
}

type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Close()
	String() string
}
