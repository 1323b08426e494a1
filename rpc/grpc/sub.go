package grpc

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype services without generated protobuf
// messages are called with.
const CodecName = "json"

// ServerSub registers services once the server exists.
type ServerSub interface {
	OnListened(*grpc.Server)
}

// ClientSub wraps a fresh connection into a typed client.
type ClientSub interface {
	OnConnected(*grpc.ClientConn) interface{}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
