package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"deckcap/broker"
	"deckcap/log"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

var ErrorNoConn = errors.New("no redigo conn")

const (
	DefaultMaxIdle     uint32        = 10
	DefaultMaxActive   uint32        = 10
	DefaultIdleTimeout time.Duration = 1000 * time.Millisecond
)

type redisBroker struct {
	opts        broker.Options
	pool        *redis.Pool
	maxIdle     uint32
	maxActive   uint32
	idleTimeout time.Duration

	mu   sync.Mutex
	subs []*redis.PubSubConn
}

// redis pub/sub carries only a payload, so headers travel inside it
type envelope struct {
	Header map[string]string `json:"header,omitempty"`
	Body   []byte            `json:"body"`
}

func encode(m *broker.Message) ([]byte, error) {
	return json.Marshal(&envelope{Header: m.Header, Body: m.Body})
}

func decode(b []byte) (*broker.Message, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}

	return &broker.Message{Header: e.Header, Body: e.Body}, nil
}

type publication struct {
	m   *broker.Message
	t   string
	err error
}

func (p *publication) Topic() string {
	return p.t
}

func (p *publication) Message() *broker.Message {
	return p.m
}

func (p *publication) Ack() error {
	return nil
}

func (p *publication) Error() error {
	return p.err
}

func (b *redisBroker) String() string {
	return "redis-broker"
}

func (b *redisBroker) Connect() error {
	c := b.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		return fmt.Errorf("failed to ping %w", err)
	}

	return nil
}

func (b *redisBroker) Disconnect() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			log.Warn("redis unsubscribe", zap.Error(err))
		}

		s.Close()
	}

	if err := b.pool.Close(); err != nil {
		return fmt.Errorf("failed to disconnect %w", err)
	}

	return nil
}

func (b *redisBroker) Publish(topic string, msg *broker.Message) error {
	v, err := encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %w", err)
	}

	conn := b.pool.Get()
	defer conn.Close()

	if _, err := redis.Int(conn.Do("PUBLISH", topic, v)); err != nil {
		return fmt.Errorf("failed to publish %w", err)
	}

	return nil
}

// Subscribe returns once the subscription is confirmed; messages are handled
// on a goroutine until Disconnect.
func (b *redisBroker) Subscribe(topic string, h *broker.Handler) error {
	psc := &redis.PubSubConn{Conn: b.pool.Get()}

	if err := psc.Subscribe(topic); err != nil {
		psc.Close()

		return fmt.Errorf("failed to subscribe %w", err)
	}

	switch v := psc.Receive().(type) {
	case redis.Subscription:
	case error:
		psc.Close()

		return fmt.Errorf("failed to subscribe %w", v)
	}

	b.mu.Lock()
	b.subs = append(b.subs, psc)
	b.mu.Unlock()

	go func() {
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				m, err := decode(v.Data)
				if err != nil {
					log.Warn("redis.subscribe", zap.String("topic", v.Channel), zap.Error(err))

					continue
				}

				hand := *h
				p := &publication{m: m, t: v.Channel}
				p.err = hand(p)
			case redis.Subscription:
				if v.Count == 0 {
					return
				}
			case error:
				log.Debug("redis.subscribe", zap.Error(v))

				return
			}
		}
	}()

	return nil
}

func (b *redisBroker) Options() broker.Options {
	return b.opts
}

func NewBroker(opts ...broker.Option) broker.Broker {
	b := &redisBroker{}

	for _, o := range opts {
		o(&b.opts)
	}

	b.maxIdle = DefaultMaxIdle
	b.maxActive = DefaultMaxActive
	b.idleTimeout = DefaultIdleTimeout

	if b.opts.Context != nil {
		cfg, ok := b.opts.Context.Value(redisBrokerConfigKey{}).(*redisBrokerConfig)
		if ok {
			b.maxIdle = cfg.MaxIdle
			b.maxActive = cfg.MaxActive
			b.idleTimeout = cfg.IdleTimeout
		}
	}

	b.pool = &redis.Pool{
		MaxIdle:     int(b.maxIdle),
		MaxActive:   int(b.maxActive),
		IdleTimeout: b.idleTimeout,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", b.opts.Addr)
			if err != nil {
				return nil, fmt.Errorf("failed to dial addr %w", err)
			}

			if b.opts.Password == "" {
				return c, nil
			}

			if _, err := c.Do("AUTH", b.opts.Password); err != nil {
				return nil, fmt.Errorf("failed to auth %w", err)
			}

			return c, nil
		},
	}

	return b
}
