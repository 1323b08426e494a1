package ws

import (
	"fmt"
	"sync"
	"time"

	"deckcap/network"
	"deckcap/network/session"

	"github.com/gorilla/websocket"
)

type client struct {
	sync.Mutex
	opts      network.ClientOptions
	conn      *Conn
	dialer    websocket.Dialer
	closeFlag bool

	httpTimeout time.Duration
	sess        *session.Session
}

func NewClient(opts ...network.ClientOption) network.Client {
	cli := &client{opts: network.NewClientOptions(opts...)}

	cli.httpTimeout = DefaultHTTPTimeOut
	if cli.opts.Context != nil {
		cfg, ok := cli.opts.Context.Value(wsClientConfigKey{}).(*wsClientConfig)
		if ok {
			cli.httpTimeout = cfg.HTTPTimeout
		}
	}

	cli.dialer = websocket.Dialer{
		HandshakeTimeout: cli.httpTimeout,
	}

	return cli
}

func (cli *client) Options() network.ClientOptions {
	return cli.opts
}

func (cli *client) SetOption(opts ...network.ClientOption) {
	cli.Lock()
	defer cli.Unlock()

	for _, o := range opts {
		o(&cli.opts)
	}
}

// Start dials and serves the connection, redialing when it drops, until Stop
// or until MaxReconnectNum dials in a row fail.
func (cli *client) Start() error {
	var reCount uint32

	for {
		cli.Lock()

		if cli.closeFlag {
			cli.Unlock()

			return nil
		}

		addr := cli.opts.Addr
		cli.Unlock()

		wsConn, _, err := cli.dialer.Dial(addr, nil)
		if err != nil {
			if reCount >= cli.opts.MaxReconnectNum {
				return fmt.Errorf("reconnect count > max reconnect count, %w", err)
			}

			time.Sleep(cli.opts.ReconnectInterval)
			reCount++

			continue
		}

		reCount = 0

		wsConn.SetReadLimit(int64(cli.opts.MaxMsgLen))
		co := newConn(wsConn, cli.opts.MaxWriteBufLen, cli.opts.MaxMsgLen, cli.opts.WriteTimeout)
		sess := session.NewSession(co, cli.opts.Codec, cli.opts.Handler)

		cli.Lock()
		if cli.closeFlag {
			cli.Unlock()
			co.Close()

			return nil
		}

		cli.conn = co
		cli.sess = sess
		cli.Unlock()

		sess.OnConnect()
		sess.Run()
		co.Close()
		sess.OnClose()

		cli.Lock()
		cli.conn = nil
		cli.sess = nil
		cli.Unlock()
	}
}

func (cli *client) Stop() {
	cli.Lock()
	defer cli.Unlock()

	cli.closeFlag = true

	if cli.conn != nil {
		cli.conn.Close()
	}
}

func (cli *client) String() string {
	return "ws-client"
}

func (cli *client) WriteMessage(data interface{}) error {
	cli.Lock()
	sess := cli.sess
	cli.Unlock()

	if sess == nil {
		return ErrorConnClosed
	}

	return sess.WriteMessage(data)
}
