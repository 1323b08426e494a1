// Package session turns a framed connection into a network.Agent.
package session

import (
	"fmt"
	"net"
	"sync"

	"deckcap/log"
	"deckcap/network"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Session struct {
	id      string
	conn    network.Conn
	codec   network.Codec
	handler network.Handler

	mu   sync.RWMutex
	data map[string]interface{}
}

func NewSession(conn network.Conn, codec network.Codec, handler network.Handler) *Session {
	return &Session{
		id:      uuid.New().String(),
		conn:    conn,
		codec:   codec,
		handler: handler,
		data:    make(map[string]interface{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Run reads until the connection fails. A message the codec rejects is
// logged and skipped.
func (s *Session) Run() {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug("session read", zap.String("id", s.id), zap.Error(err))

			return
		}

		msg, err := s.codec.Unmarshal(data)
		if err != nil {
			log.Warn("session unmarshal", zap.String("id", s.id), zap.Error(err))

			continue
		}

		s.handler.Handle(s, msg)
	}
}

func (s *Session) OnClose() {
	s.handler.OnClose(s)
}

func (s *Session) OnConnect() {
	s.handler.OnConnect(s)
}

func (s *Session) WriteMessage(msg interface{}) error {
	data, err := s.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("faild to marshal %w", err)
	}

	if err = s.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("faild to write %w", err)
	}

	return nil
}

func (s *Session) GetData(key string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.data[key]
}

func (s *Session) SetData(key string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = v
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Session) Close() {
	s.conn.Close()
}
