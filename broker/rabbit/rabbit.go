package rabbit

import (
	"errors"
	"fmt"
	"sync"

	"deckcap/broker"
	"deckcap/log"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var (
	ErrNotParamNull  = errors.New("exchange name or routing key is empty")
	ErrConnectIsNull = errors.New("connection is nil")
)

const (
	DefaultExchange     = "deckcap"
	DefaultExchangeType = "topic"
)

type rabbitBroker struct {
	opts    broker.Options
	conn    *amqp.Connection
	channel *amqp.Channel

	exchangeName string
	exchangeType string
	queueName    string

	prefetchCount  int
	prefetchGlobal bool
	nackMultiple   bool
	nackRequeue    bool

	mu       sync.Mutex
	declared bool
}

type publication struct {
	d   amqp.Delivery
	m   *broker.Message
	t   string
	err error
}

func (r *rabbitBroker) Connect() error {
	conn, err := amqp.Dial(r.opts.Addr)
	if err != nil {
		return fmt.Errorf("fail to connect amqp %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()

		return fmt.Errorf("fail to connect channel %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.declared = false
	r.mu.Unlock()

	return nil
}

func (r *rabbitBroker) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}

	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}

	return nil
}

func (r *rabbitBroker) exchange() error {
	if r.exchangeName == "" {
		return ErrNotParamNull
	}

	if r.declared {
		return nil
	}

	if err := r.channel.ExchangeDeclare(r.exchangeName, r.exchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("fail to declare exchange %w", err)
	}

	r.declared = true

	return nil
}

func toTable(h map[string]string) amqp.Table {
	t := amqp.Table{}
	for k, v := range h {
		t[k] = v
	}

	return t
}

func fromTable(t amqp.Table) map[string]string {
	h := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			h[k] = s
		}
	}

	return h
}

func (r *rabbitBroker) Publish(topic string, msg *broker.Message) error {
	if topic == "" {
		return ErrNotParamNull
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return ErrConnectIsNull
	}

	if err := r.exchange(); err != nil {
		return err
	}

	m := amqp.Publishing{
		ContentType: "application/json",
		Body:        msg.Body,
		Headers:     toTable(msg.Header),
	}

	return r.channel.Publish(r.exchangeName, topic, false, false, m)
}

// Subscribe binds a queue to the topic and consumes on a goroutine. Handler
// errors nack the delivery.
func (r *rabbitBroker) Subscribe(topic string, handler *broker.Handler) error {
	if topic == "" {
		return ErrNotParamNull
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return ErrConnectIsNull
	}

	if err := r.exchange(); err != nil {
		return err
	}

	q, err := r.channel.QueueDeclare(r.queueName, true, r.queueName == "", r.queueName == "", false, nil)
	if err != nil {
		return fmt.Errorf("fail to declare queue %w", err)
	}

	if err := r.channel.QueueBind(q.Name, topic, r.exchangeName, false, nil); err != nil {
		return fmt.Errorf("fail to bind queue %w", err)
	}

	if err := r.channel.Qos(r.prefetchCount, 0, r.prefetchGlobal); err != nil {
		return fmt.Errorf("fail to set qos %w", err)
	}

	deliveries, err := r.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("fail to consume %w", err)
	}

	go func() {
		for msg := range deliveries {
			p := &publication{
				d: msg,
				m: &broker.Message{
					Header: fromTable(msg.Headers),
					Body:   msg.Body,
				},
				t: msg.RoutingKey,
			}

			h := *handler
			p.err = h(p)

			if p.err == nil {
				if err := msg.Ack(false); err != nil {
					log.Error("fail to ack", zap.Error(err))
				}
			} else if err := msg.Nack(r.nackMultiple, r.nackRequeue); err != nil {
				log.Error("fail to nack", zap.Error(err))
			}
		}
	}()

	return nil
}

func (r *rabbitBroker) Options() broker.Options {
	return r.opts
}

func (r *rabbitBroker) String() string {
	return "rabbit-broker"
}

func (p *publication) Topic() string {
	return p.t
}

func (p *publication) Message() *broker.Message {
	return p.m
}

func (p *publication) Ack() error {
	return p.d.Ack(false)
}

func (p *publication) Error() error {
	return p.err
}

func NewBroker(opts ...broker.Option) broker.Broker {
	b := &rabbitBroker{
		exchangeName:   DefaultExchange,
		exchangeType:   DefaultExchangeType,
		prefetchCount:  1,
		prefetchGlobal: true,
	}

	for _, o := range opts {
		o(&b.opts)
	}

	if b.opts.Context != nil {
		if cfg, ok := b.opts.Context.Value(exchangeConfigKey{}).(*exchangeConfig); ok {
			if cfg.Name != "" {
				b.exchangeName = cfg.Name
			}

			if cfg.Kind != "" {
				b.exchangeType = cfg.Kind
			}

			b.queueName = cfg.Queue
		}
	}

	return b
}
