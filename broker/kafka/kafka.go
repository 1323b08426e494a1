package kafka

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"deckcap/broker"
	"deckcap/log"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"go.uber.org/zap"
)

const (
	DefaultGroupID = "deckcap"
	DefaultTimeout = 5 * time.Second
)

type publication struct {
	m   *broker.Message
	t   string
	err error
}

type kafkaBroker struct {
	opts broker.Options
	p    sarama.SyncProducer

	groupID string
	timeout time.Duration

	mu        sync.Mutex
	consumers []*cluster.Consumer
}

func (s *kafkaBroker) addrs() []string {
	return strings.Split(s.opts.Addr, ",")
}

func (s *kafkaBroker) Connect() error {
	config := sarama.NewConfig()
	config.Version = sarama.V0_11_0_0
	config.Producer.Return.Successes = true
	config.Producer.Timeout = s.timeout

	p, err := sarama.NewSyncProducer(s.addrs(), config)
	if err != nil {
		return fmt.Errorf("fail to connect kafka %w", err)
	}

	s.p = p

	return nil
}

func (s *kafkaBroker) Disconnect() error {
	s.mu.Lock()
	consumers := s.consumers
	s.consumers = nil
	s.mu.Unlock()

	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Warn("kafka consumer close", zap.Error(err))
		}
	}

	if s.p != nil {
		return s.p.Close()
	}

	return nil
}

func toHeaders(h map[string]string) []sarama.RecordHeader {
	res := make([]sarama.RecordHeader, 0, len(h))
	for k, v := range h {
		res = append(res, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	return res
}

func fromHeaders(h []*sarama.RecordHeader) map[string]string {
	res := make(map[string]string, len(h))
	for _, v := range h {
		if v == nil {
			continue
		}

		res[string(v.Key)] = string(v.Value)
	}

	return res
}

func producerMessage(topic string, m *broker.Message) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(m.Body),
		Headers: toHeaders(m.Header),
	}

	// keep one session's events on one partition
	if k, ok := m.Header[broker.HeaderSession]; ok {
		msg.Key = sarama.StringEncoder(k)
	}

	return msg
}

func (s *kafkaBroker) Publish(topic string, m *broker.Message) error {
	if s.p == nil {
		return fmt.Errorf("fail to publish %s: not connected", topic)
	}

	if _, _, err := s.p.SendMessage(producerMessage(topic, m)); err != nil {
		return fmt.Errorf("fail to publish %w", err)
	}

	return nil
}

// Subscribe joins the consumer group and handles messages on a goroutine
// until Disconnect.
func (s *kafkaBroker) Subscribe(topic string, h *broker.Handler) error {
	config := cluster.NewConfig()
	config.Version = sarama.V0_11_0_0
	config.Group.Return.Notifications = true
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.CommitInterval = 1 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	c, err := cluster.NewConsumer(s.addrs(), s.groupID, strings.Split(topic, ","), config)
	if err != nil {
		return fmt.Errorf("fail to subscribe %w", err)
	}

	s.mu.Lock()
	s.consumers = append(s.consumers, c)
	s.mu.Unlock()

	go func() {
		errs := c.Errors()
		noti := c.Notifications()

		for {
			select {
			case err, ok := <-errs:
				if !ok {
					return
				}

				log.Error("kafka.subscribe", zap.Error(err))
			case n, ok := <-noti:
				if !ok {
					return
				}

				log.Debug("kafka.rebalance", zap.String("type", n.Type.String()))
			}
		}
	}()

	go func() {
		for msg := range c.Messages() {
			push := &publication{
				m: &broker.Message{
					Header: fromHeaders(msg.Headers),
					Body:   msg.Value,
				},
				t: msg.Topic,
			}

			hand := *h
			push.err = hand(push)

			c.MarkOffset(msg, "")
		}
	}()

	return nil
}

func (s *kafkaBroker) Options() broker.Options {
	return s.opts
}

func (s *kafkaBroker) String() string {
	return "kafka-broker"
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

func NewBroker(opts ...broker.Option) broker.Broker {
	b := &kafkaBroker{
		groupID: DefaultGroupID,
		timeout: DefaultTimeout,
	}

	for _, o := range opts {
		o(&b.opts)
	}

	if b.opts.Timeout > 0 {
		b.timeout = b.opts.Timeout
	}

	if b.opts.Context != nil {
		if g, ok := b.opts.Context.Value(groupIDKey{}).(string); ok && g != "" {
			b.groupID = g
		}
	}

	return b
}
