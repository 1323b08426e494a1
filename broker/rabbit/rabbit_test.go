package rabbit

import (
	"errors"
	"testing"

	"deckcap/broker"

	"github.com/streadway/amqp"
)

func TestHeaderTable(t *testing.T) {
	h := fromTable(toTable(map[string]string{broker.HeaderKind: "video"}))
	if h[broker.HeaderKind] != "video" {
		t.Fatalf("%v", h)
	}

	if h := fromTable(amqp.Table{"n": int32(3)}); len(h) != 0 {
		t.Fatalf("non-string header kept: %v", h)
	}
}

func TestExchangeOption(t *testing.T) {
	b := NewBroker(OptionWithExchange("ex", "", "q")).(*rabbitBroker)
	if b.exchangeName != "ex" || b.exchangeType != DefaultExchangeType || b.queueName != "q" {
		t.Fatalf("%+v", b)
	}
}

func TestPublishWithoutConnect(t *testing.T) {
	b := NewBroker()

	if err := b.Publish("t", broker.NewMessage("x", nil, nil)); !errors.Is(err, ErrConnectIsNull) {
		t.Fatalf("got %v", err)
	}

	if err := b.Publish("", broker.NewMessage("x", nil, nil)); !errors.Is(err, ErrNotParamNull) {
		t.Fatalf("got %v", err)
	}
}
