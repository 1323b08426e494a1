package json

import (
	"errors"
	"testing"
)

type Ping struct {
	Seq int `json:"seq"`
}

type Pong struct {
	Seq int `json:"seq"`
}

func TestCodec(t *testing.T) {
	c := NewCodec()

	if id, err := c.Register((*Ping)(nil)); err != nil || id != "Ping" {
		t.Fatalf("%q %v", id, err)
	}

	if _, err := c.Register((*Ping)(nil)); !errors.Is(err, ErrorRegistered) {
		t.Fatalf("got %v", err)
	}

	if _, err := c.Register(Pong{}); !errors.Is(err, ErrorNoPointer) {
		t.Fatalf("got %v", err)
	}

	b, err := c.Marshal(&Ping{Seq: 7})
	if err != nil {
		t.Fatal(err)
	}

	if string(b) != `{"Ping":{"seq":7}}` {
		t.Fatalf("%s", b)
	}

	m, err := c.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}

	if p, ok := m.(*Ping); !ok || p.Seq != 7 {
		t.Fatalf("%#v", m)
	}

	if _, err := c.Marshal(&Pong{}); !errors.Is(err, ErrorNotRegister) {
		t.Fatalf("got %v", err)
	}

	if _, err := c.Unmarshal([]byte(`{"Pong":{}}`)); !errors.Is(err, ErrorNotRegister) {
		t.Fatalf("got %v", err)
	}

	if _, err := c.Unmarshal([]byte(`{"Ping":{},"Pong":{}}`)); !errors.Is(err, ErrorInvaildJSONData) {
		t.Fatalf("got %v", err)
	}
}
