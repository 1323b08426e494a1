package monitor

import (
	"strings"
	"testing"
	"time"

	"deckcap/capture"
	"deckcap/device"
	"deckcap/network"
	"deckcap/network/ws"
)

type clientHandler struct {
	connected chan struct{}
	msgs      chan interface{}
}

func (h *clientHandler) Handle(_ network.Agent, m interface{}) {
	select {
	case h.msgs <- m:
	default:
	}
}

func (h *clientHandler) OnConnect(network.Agent) {
	h.connected <- struct{}{}
}

func (h *clientHandler) OnClose(network.Agent) {}

func (h *clientHandler) next(t *testing.T) interface{} {
	t.Helper()

	select {
	case m := <-h.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	return nil
}

func fixedStats() []capture.Stats {
	return []capture.Stats{
		{ID: "id-a", Name: "cam-a", Kind: device.KindVideo, Arrived: 3},
		{ID: "id-b", Name: "mic-b", Kind: device.KindAudio, Arrived: 5},
	}
}

func startRig(t *testing.T, opts ...Option) (*Monitor, network.Client, *clientHandler) {
	t.Helper()

	m := New(fixedStats, opts...)
	m.Start()

	svr := ws.NewServer(
		network.ServerOptionWithAddr("127.0.0.1:0"),
		network.ServerOptionWithCodec(NewCodec()),
		network.ServerOptionWithHandler(m.Router()))

	if err := svr.Start(); err != nil {
		t.Fatal(err)
	}

	h := &clientHandler{connected: make(chan struct{}, 1), msgs: make(chan interface{}, 16)}
	cli := ws.NewClient(
		network.ClientOptionWithAddr("ws://"+svr.Addr().String()+ws.DefaultPath),
		network.ClientOptionWithCodec(NewCodec()),
		network.ClientOptionWithHandler(h),
		network.ClientOptionWithMaxReconnectNum(1),
		network.ClientOptionWithReconnectInterval(10*time.Millisecond))

	go func() {
		_ = cli.Start()
	}()

	select {
	case <-h.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}

	t.Cleanup(func() {
		cli.Stop()
		svr.Stop()
		m.Stop()
	})

	return m, cli, h
}

func TestStatsRequest(t *testing.T) {
	_, cli, h := startRig(t, OptionWithInterval(0))

	if err := cli.WriteMessage(&StatsRequest{Session: "mic-b"}); err != nil {
		t.Fatal(err)
	}

	r, ok := h.next(t).(*StatsReport)
	if !ok || len(r.Stats) != 1 || r.Stats[0].ID != "id-b" {
		t.Fatalf("%#v", r)
	}

	if err := cli.WriteMessage(&StatsRequest{Session: "nope"}); err != nil {
		t.Fatal(err)
	}

	if _, ok := h.next(t).(*ErrorNotice); !ok {
		t.Fatal("expected an error notice")
	}
}

func TestUnsupportedMessage(t *testing.T) {
	_, cli, h := startRig(t, OptionWithInterval(0))

	if err := cli.WriteMessage(&StatsReport{}); err != nil {
		t.Fatal(err)
	}

	n, ok := h.next(t).(*ErrorNotice)
	if !ok || !strings.Contains(n.Message, "StatsReport") {
		t.Fatalf("%#v", n)
	}
}

func TestSubscribedEvents(t *testing.T) {
	m, cli, h := startRig(t, OptionWithInterval(0))

	if err := cli.WriteMessage(&Subscribe{Sessions: []string{"cam-a"}, Events: true}); err != nil {
		t.Fatal(err)
	}

	// replies come back in order, so the subscription is in place after this
	if err := cli.WriteMessage(&StatsRequest{}); err != nil {
		t.Fatal(err)
	}

	if r, ok := h.next(t).(*StatsReport); !ok || len(r.Stats) != 2 {
		t.Fatalf("%#v", r)
	}

	m.Publish("mic-b", &capture.Event{Type: capture.EventQoS, Session: "id-b"})
	m.Publish("cam-a", &capture.Event{Type: capture.EventSignalLost, Session: "id-a"})

	n, ok := h.next(t).(*EventNotice)
	if !ok || n.Name != "cam-a" || n.Event.Type != capture.EventSignalLost {
		t.Fatalf("%#v", n)
	}
}

func TestPeriodicStats(t *testing.T) {
	_, cli, h := startRig(t, OptionWithInterval(20*time.Millisecond))

	if err := cli.WriteMessage(&Subscribe{Sessions: []string{"id-a"}, Stats: true}); err != nil {
		t.Fatal(err)
	}

	r, ok := h.next(t).(*StatsReport)
	if !ok || len(r.Stats) != 1 || r.Stats[0].Name != "cam-a" || r.Stats[0].Arrived != 3 {
		t.Fatalf("%#v", r)
	}
}
