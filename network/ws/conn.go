package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrorConnClosed   = errors.New("conn closed")
	ErrorSlowConsumer = errors.New("write buffer full")
)

// Conn frames messages as websocket text messages. Writes are queued and
// sent by one goroutine; a peer that cannot keep up is disconnected.
type Conn struct {
	sync.Mutex
	conn      *websocket.Conn
	wCh       chan []byte
	closing   bool
	maxMsgLen uint32
	wTimeout  time.Duration
}

func newConn(c *websocket.Conn, msgBufferCount uint32, maxMsgLen uint32, writeTimeout time.Duration) *Conn {
	conn := &Conn{
		conn:      c,
		maxMsgLen: maxMsgLen,
		wTimeout:  writeTimeout,
		wCh:       make(chan []byte, msgBufferCount),
	}

	go func() {
		for data := range conn.wCh {
			if conn.wTimeout > 0 {
				_ = c.SetWriteDeadline(time.Now().Add(conn.wTimeout))
			}

			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				break
			}
		}

		c.Close()
	}()

	return conn
}

func (c *Conn) ReadMessage() ([]byte, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("faild to read message %w", err)
	}

	return b, nil
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close flushes queued writes, then closes the socket.
func (c *Conn) Close() {
	c.Lock()
	defer c.Unlock()

	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.closing {
		return
	}

	c.closing = true
	close(c.wCh)
}

func (c *Conn) WriteMessage(data []byte) error {
	if uint32(len(data)) > c.maxMsgLen {
		return fmt.Errorf("message of %d bytes exceeds %d", len(data), c.maxMsgLen)
	}

	c.Lock()
	defer c.Unlock()

	if c.closing {
		return ErrorConnClosed
	}

	if len(c.wCh) == cap(c.wCh) {
		c.closeLocked()

		return ErrorSlowConsumer
	}

	c.wCh <- data

	return nil
}

func (c *Conn) String() string {
	return "websocket_conn"
}
