package redis

import (
	"testing"
	"time"

	"deckcap/broker"
)

func TestEnvelopeKeepsHeaders(t *testing.T) {
	m := broker.NewMessage("qos", map[string]string{broker.HeaderDevice: "1"}, []byte(`{"a":1}`))

	b, err := encode(m)
	if err != nil {
		t.Fatal(err)
	}

	back, err := decode(b)
	if err != nil {
		t.Fatal(err)
	}

	if back.Header[broker.HeaderType] != "qos" || back.Header[broker.HeaderDevice] != "1" || string(back.Body) != `{"a":1}` {
		t.Fatalf("%+v", back)
	}
}

func TestConfigFromContext(t *testing.T) {
	b := NewBroker(OptionWithConfig(3, 4, time.Second)).(*redisBroker)

	if b.maxIdle != 3 || b.maxActive != 4 || b.idleTimeout != time.Second {
		t.Fatalf("%d %d %v", b.maxIdle, b.maxActive, b.idleTimeout)
	}
}
