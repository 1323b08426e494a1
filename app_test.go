package deckcap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"deckcap/broker"
	"deckcap/capture"
	"deckcap/clock"
	"deckcap/device"
	"deckcap/device/sim"
	"deckcap/registry"
	"deckcap/registry/memory"
)

type recordingBroker struct {
	name string

	mu        sync.Mutex
	connected bool
	msgs      []*broker.Message
	topics    []string
}

func (b *recordingBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = true

	return nil
}

func (b *recordingBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false

	return nil
}

func (b *recordingBroker) Publish(topic string, m *broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.topics = append(b.topics, topic)
	b.msgs = append(b.msgs, m)

	return nil
}

func (b *recordingBroker) Subscribe(string, *broker.Handler) error {
	return nil
}

func (b *recordingBroker) Options() broker.Options {
	return broker.Options{Name: b.name}
}

func (b *recordingBroker) String() string {
	return "recording"
}

func (b *recordingBroker) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res []string
	for _, m := range b.msgs {
		res = append(res, m.Header[broker.HeaderType])
	}

	return res
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}

	return false
}

func runApp(t *testing.T, a App) chan error {
	t.Helper()

	done := make(chan error, 1)

	go func() {
		done <- a.Run()
	}()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("run failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("app not ready")
	}

	return done
}

func waitRun(t *testing.T, done chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}

	return nil
}

func TestRunLeasesPublishesAndTearsDown(t *testing.T) {
	drv := sim.NewDriver(1)
	dev, _ := drv.Device(0)
	creg := capture.NewRegistry(drv)

	vs, err := capture.NewVideoSession(creg, capture.OptionWithName("cam"), capture.OptionWithMode(device.Mode1080p2398))
	if err != nil {
		t.Fatal(err)
	}

	reg := memory.NewRegistry()
	b := &recordingBroker{name: "rec"}

	a := NewApp(OptionWithHost("studio"), OptionWithSignals(false))
	a.AddRegistry(reg)

	if err := a.AddBroker(b); err != nil {
		t.Fatal(err)
	}

	if err := a.AddSession(vs); err != nil {
		t.Fatal(err)
	}

	done := runApp(t, a)

	leases, _ := reg.ListLeases()
	if len(leases) != 1 || leases[0].ID != vs.ID() || leases[0].Host != "studio" || leases[0].Kind != "video" {
		t.Fatalf("%+v", leases)
	}

	if vs.State() != capture.Streaming {
		t.Fatalf("state %v", vs.State())
	}

	if err := dev.Tick(); err != nil {
		t.Fatal(err)
	}

	f, err := vs.Create()
	if err != nil {
		t.Fatal(err)
	}
	f.Release()

	if st := a.Stats(); len(st) != 1 || st[0].Delivered != 1 {
		t.Fatalf("%+v", st)
	}

	a.Stop()

	if err := waitRun(t, done); err != nil {
		t.Fatal(err)
	}

	if vs.State() != capture.Closed {
		t.Fatalf("state %v after stop", vs.State())
	}

	if leases, _ := reg.ListLeases(); len(leases) != 0 {
		t.Fatalf("leases left: %+v", leases)
	}

	types := b.types()
	if !contains(types, capture.EventStarted.String()) || !contains(types, capture.EventStopped.String()) {
		t.Fatalf("published %v", types)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		t.Fatal("broker still connected")
	}

	if b.topics[0] != broker.DefaultTopic {
		t.Fatalf("topic %s", b.topics[0])
	}

	m := b.msgs[0]
	if m.Header[broker.HeaderSession] != "cam" || m.Header[broker.HeaderDevice] != "0" || m.Header[broker.HeaderKind] != "video" {
		t.Fatalf("%v", m.Header)
	}

	var e capture.Event
	if err := json.Unmarshal(m.Body, &e); err != nil || e.Session != vs.ID() {
		t.Fatalf("%+v %v", e, err)
	}
}

func TestRunFailsWhenLeaseHeld(t *testing.T) {
	creg := capture.NewRegistry(sim.NewDriver(1))

	vs, err := capture.NewVideoSession(creg, capture.OptionWithMode(device.Mode1080p2398))
	if err != nil {
		t.Fatal(err)
	}

	reg := memory.NewRegistry()
	if err := reg.Register(&registry.Lease{ID: "other", Host: "studio", Device: 0, Kind: "video"}); err != nil {
		t.Fatal(err)
	}

	a := NewApp(OptionWithHost("studio"), OptionWithSignals(false))
	a.AddRegistry(reg)

	if err := a.AddSession(vs); err != nil {
		t.Fatal(err)
	}

	if err := a.Run(); !errors.Is(err, registry.ErrorLeaseHeld) {
		t.Fatalf("got %v", err)
	}

	if vs.State() != capture.Closed {
		t.Fatalf("session opened despite the held lease: %v", vs.State())
	}

	if leases, _ := reg.ListLeases(); len(leases) != 1 || leases[0].ID != "other" {
		t.Fatalf("%+v", leases)
	}
}

func TestAddSessionRejectsDuplicateNames(t *testing.T) {
	creg := capture.NewRegistry(sim.NewDriver(2))

	v1, _ := capture.NewVideoSession(creg, capture.OptionWithName("cam"))
	v2, _ := capture.NewVideoSession(creg, capture.OptionWithName("cam"), capture.OptionWithDeviceNumber(1))

	a := NewApp(OptionWithSignals(false))

	if err := a.AddSession(v1); err != nil {
		t.Fatal(err)
	}

	if err := a.AddSession(v2); !errors.Is(err, ErrorNameIsExist) {
		t.Fatalf("got %v", err)
	}

	if err := NewApp().Run(); !errors.Is(err, ErrorNoSession) {
		t.Fatalf("got %v", err)
	}
}

func TestRunProvidesAndSlavesDeviceClocks(t *testing.T) {
	creg := capture.NewRegistry(sim.NewDriver(2))

	fallback := clock.NewManual(time.Hour)
	sel := clock.NewSelector(fallback, nil)

	a := NewApp(OptionWithSignals(false), OptionWithSelector(sel), OptionWithSlaveClocks(true))
	if a.Selector() != sel {
		t.Fatal("selector not kept")
	}

	var sessions []*capture.VideoSession
	for i := 0; i < 2; i++ {
		vs, err := capture.NewVideoSession(creg,
			capture.OptionWithName(fmt.Sprintf("cam-%d", i)),
			capture.OptionWithDeviceNumber(i),
			capture.OptionWithMode(device.Mode1080p2398),
			capture.OptionWithSelector(a.Selector()))
		if err != nil {
			t.Fatal(err)
		}

		if err := a.AddSession(vs); err != nil {
			t.Fatal(err)
		}

		sessions = append(sessions, vs)
	}

	done := runApp(t, a)

	first := sessions[0].Input().Clock()
	second := sessions[1].Input().Clock()

	if sel.Selected() != clock.Clock(second) {
		t.Fatal("last started device clock not selected")
	}

	if m, err := second.Master(); err != nil || m != clock.Clock(first) {
		t.Fatalf("second clock master %v %v", m, err)
	}

	if _, err := first.Master(); !errors.Is(err, clock.ErrorNoMaster) {
		t.Fatalf("first clock slaved: %v", err)
	}

	a.Stop()

	if err := waitRun(t, done); err != nil {
		t.Fatal(err)
	}

	if sel.Selected() != clock.Clock(fallback) {
		t.Fatal("device clock still selected after stop")
	}

	if _, err := second.Master(); !errors.Is(err, clock.ErrorNoMaster) {
		t.Fatalf("second clock still slaved: %v", err)
	}
}

func TestDefaultSelectorFallsBackToSystemClock(t *testing.T) {
	a := NewApp()

	if _, ok := a.Selector().Selected().(*clock.System); !ok {
		t.Fatalf("selected %T", a.Selector().Selected())
	}
}
