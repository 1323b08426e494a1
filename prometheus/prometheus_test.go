package plmxs

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deckcap/capture"
	"deckcap/device"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()

	m, err := NewMonitor("deckcap", OptionWithRegistry(prometheus.NewRegistry()), OptionWithSystemInterval(0))
	if err != nil {
		t.Fatal(err)
	}

	return m
}

func TestObserveAddsDeltas(t *testing.T) {
	m := newTestMonitor(t)

	st := capture.Stats{ID: "a", Name: "cam", Kind: device.KindVideo, Signal: "available", Arrived: 10, Delivered: 8}
	m.Observe(st)

	st.Arrived, st.Delivered, st.Evicted = 15, 12, 1
	st.Queue.Len = 2
	m.Observe(st)

	l := labels(st)

	if v := testutil.ToFloat64(m.FramesCounter.With(with(l, "outcome", "arrived"))); v != 15 {
		t.Fatalf("arrived %v", v)
	}

	if v := testutil.ToFloat64(m.FramesCounter.With(with(l, "outcome", "evicted"))); v != 1 {
		t.Fatalf("evicted %v", v)
	}

	if v := testutil.ToFloat64(m.QueueDepth.With(l)); v != 2 {
		t.Fatalf("depth %v", v)
	}

	if v := testutil.ToFloat64(m.SignalGauge.With(l)); v != 1 {
		t.Fatalf("signal %v", v)
	}

	m.Forget(st)

	if n := testutil.CollectAndCount(m.QueueDepth); n != 0 {
		t.Fatalf("%d series left", n)
	}
}

func TestEventsAndWait(t *testing.T) {
	m := newTestMonitor(t)

	e := &capture.Event{Type: capture.EventSignalLost, Kind: device.KindVideo}
	m.ObserveEvent("cam", e)
	m.ObserveEvent("cam", e)

	if n := testutil.CollectAndCount(m.EventsCounter); n != 1 {
		t.Fatalf("%d series", n)
	}

	m.WaitObserver("cam")(20 * time.Millisecond)

	if n := testutil.CollectAndCount(m.CreateWait); n != 1 {
		t.Fatalf("%d histograms", n)
	}
}

func TestHandler(t *testing.T) {
	m := newTestMonitor(t)
	m.Observe(capture.Stats{ID: "a", Name: "cam", Arrived: 1})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/heart")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != readSuccess {
		t.Fatalf("heart %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	b, _ := ioutil.ReadAll(resp.Body)
	if !strings.Contains(string(b), "deckcap_frames_total") {
		t.Fatalf("metrics missing frames counter:\n%s", b)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	r := prometheus.NewRegistry()

	if _, err := NewMonitor("x", OptionWithRegistry(r), OptionWithSystemInterval(0)); err != nil {
		t.Fatal(err)
	}

	if _, err := NewMonitor("x", OptionWithRegistry(r), OptionWithSystemInterval(0)); err == nil {
		t.Fatal("second monitor on one registry must fail")
	}
}

func TestObserveDropped(t *testing.T) {
	m := newTestMonitor(t)

	m.ObserveDropped(3)
	m.ObserveDropped(5)

	if v := testutil.ToFloat64(m.EventsDropped); v != 5 {
		t.Fatalf("events_dropped %v", v)
	}
}

func TestObserveMasterKeepsOneClock(t *testing.T) {
	m := newTestMonitor(t)

	m.ObserveMaster("device-0-clock")
	m.ObserveMaster("device-1-clock")

	if n := testutil.CollectAndCount(m.MasterClock); n != 1 {
		t.Fatalf("%d master series", n)
	}

	if v := testutil.ToFloat64(m.MasterClock.With(prometheus.Labels{"clock": "device-1-clock"})); v != 1 {
		t.Fatalf("master_clock %v", v)
	}
}
