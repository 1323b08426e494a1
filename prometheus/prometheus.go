package plmxs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"deckcap/capture"
	"deckcap/log"
	"deckcap/util/timer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const readSuccess = 200

var sessionLabels = []string{"session", "device", "kind"}

// Monitor exports capture sessions as prometheus metrics.
type Monitor struct {
	sync.Mutex
	ServiceName string
	opts        Options

	FramesCounter  *prometheus.CounterVec
	EventsCounter  *prometheus.CounterVec
	CreateWait     *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
	MappingRate    *prometheus.GaugeVec
	MappingRSquare *prometheus.GaugeVec
	ClockTime      *prometheus.GaugeVec
	SignalGauge    *prometheus.GaugeVec
	EventsDropped  prometheus.Gauge
	MasterClock    *prometheus.GaugeVec

	MemoryUseGauge *prometheus.GaugeVec
	MemoryPercent  *prometheus.GaugeVec
	CPUPercent     *prometheus.GaugeVec

	last map[string]capture.Stats

	ln     net.Listener
	srv    *http.Server
	ticker timer.Ticker
}

func NewMonitor(namespace string, opts ...Option) (*Monitor, error) {
	o := Options{
		Addr:           DefaultAddr,
		Registerer:     prometheus.DefaultRegisterer,
		Gatherer:       prometheus.DefaultGatherer,
		SystemInterval: DefaultSystemInterval,
	}

	for _, v := range opts {
		v(&o)
	}

	m := &Monitor{
		ServiceName: namespace,
		opts:        o,
		last:        make(map[string]capture.Stats),

		// frames by what happened to them
		FramesCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames and packets by outcome.",
		}, append([]string{"outcome"}, sessionLabels...)),

		EventsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session events by type.",
		}, append([]string{"type"}, sessionLabels...)),

		CreateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "create_wait_seconds",
			Help:      "Time the consumer waited for a frame.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"session"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Frames waiting for the consumer.",
		}, sessionLabels),

		MappingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mapping_rate",
			Help:      "Slope of the stream to pipeline time mapping.",
		}, sessionLabels),

		MappingRSquare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mapping_r_squared",
			Help:      "Goodness of fit of the last regression.",
		}, sessionLabels),

		ClockTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_seconds",
			Help:      "Last hardware clock reading.",
		}, sessionLabels),

		SignalGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal",
			Help:      "1 while the input has a signal.",
		}, sessionLabels),

		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped",
			Help:      "Events the fan-out queue had no room for.",
		}),

		// 1 on the clock currently selected as pipeline master
		MasterClock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "master_clock",
			Help:      "Clock selected as pipeline master.",
		}, []string{"clock"}),

		MemoryUseGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_use_megabytes",
			Help:      "Memory obtained from the OS.",
		}, []string{"micro_name"}),

		MemoryPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_percent",
			Help:      "System memory in use.",
		}, []string{"micro_name"}),

		CPUPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "System cpu in use.",
		}, []string{"micro_name"}),
	}

	for _, c := range []prometheus.Collector{
		m.FramesCounter, m.EventsCounter, m.CreateWait, m.QueueDepth,
		m.MappingRate, m.MappingRSquare, m.ClockTime, m.SignalGauge, m.EventsDropped, m.MasterClock,
		m.MemoryUseGauge, m.MemoryPercent, m.CPUPercent,
	} {
		if err := o.Registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector %w", err)
		}
	}

	return m, nil
}

func labels(st capture.Stats) prometheus.Labels {
	return prometheus.Labels{
		"session": st.Name,
		"device":  strconv.Itoa(st.Device),
		"kind":    st.Kind.String(),
	}
}

func with(l prometheus.Labels, k, v string) prometheus.Labels {
	res := prometheus.Labels{k: v}
	for k1, v1 := range l {
		res[k1] = v1
	}

	return res
}

func delta(cur, prev uint64) float64 {
	// counters restart when a session is recreated under the same id
	if cur < prev {
		return float64(cur)
	}

	return float64(cur - prev)
}

// Observe folds a stats snapshot into the metrics.
func (m *Monitor) Observe(st capture.Stats) {
	m.Lock()
	prev := m.last[st.ID]
	m.last[st.ID] = st
	m.Unlock()

	l := labels(st)

	for outcome, d := range map[string]float64{
		"arrived":   delta(st.Arrived, prev.Arrived),
		"skipped":   delta(st.Skipped, prev.Skipped),
		"no_signal": delta(st.NoSignal, prev.NoSignal),
		"evicted":   delta(st.Evicted, prev.Evicted),
		"delivered": delta(st.Delivered, prev.Delivered),
	} {
		if d > 0 {
			m.FramesCounter.With(with(l, "outcome", outcome)).Add(d)
		}
	}

	m.QueueDepth.With(l).Set(float64(st.Queue.Len))
	m.MappingRate.With(l).Set(st.Mapping.Current.Rate())
	m.MappingRSquare.With(l).Set(st.Mapping.RSquared)
	m.ClockTime.With(l).Set(st.Clock.Last.Seconds())

	signal := 0.0
	if st.Signal == capture.SignalAvailable.String() {
		signal = 1
	}

	m.SignalGauge.With(l).Set(signal)
}

// ObserveDropped sets the running count of events lost before fan-out.
func (m *Monitor) ObserveDropped(n uint64) {
	m.EventsDropped.Set(float64(n))
}

func (m *Monitor) ObserveMaster(name string) {
	m.MasterClock.Reset()
	m.MasterClock.With(prometheus.Labels{"clock": name}).Set(1)
}

// Forget drops the series of a closed session.
func (m *Monitor) Forget(st capture.Stats) {
	m.Lock()
	delete(m.last, st.ID)
	m.Unlock()

	l := labels(st)

	for _, g := range []*prometheus.GaugeVec{m.QueueDepth, m.MappingRate, m.MappingRSquare, m.ClockTime, m.SignalGauge} {
		g.Delete(l)
	}
}

func (m *Monitor) ObserveEvent(name string, e *capture.Event) {
	m.EventsCounter.With(prometheus.Labels{
		"type":    e.Type.String(),
		"session": name,
		"device":  strconv.Itoa(e.Device),
		"kind":    e.Kind.String(),
	}).Inc()
}

// WaitObserver is meant for capture.OptionWithWaitObserver.
func (m *Monitor) WaitObserver(name string) func(time.Duration) {
	h := m.CreateWait.With(prometheus.Labels{"session": name})

	return func(d time.Duration) {
		h.Observe(d.Seconds())
	}
}

func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/heart", http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(readSuccess)
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(m.opts.Gatherer, promhttp.HandlerOpts{}))

	return mux
}

// Start listens on the configured address and samples system gauges. It
// returns once the listener is up.
func (m *Monitor) Start() error {
	ln, err := net.Listen("tcp", m.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen %w", err)
	}

	m.Lock()
	m.ln = ln
	m.srv = &http.Server{Handler: m.Handler()}
	srv := m.srv
	m.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ListenAndServe", zap.Error(err))
		}
	}()

	m.system()

	return nil
}

func (m *Monitor) Addr() net.Addr {
	m.Lock()
	defer m.Unlock()

	if m.ln == nil {
		return nil
	}

	return m.ln.Addr()
}

func (m *Monitor) Stop() {
	m.Lock()
	srv, t := m.srv, m.ticker
	m.srv, m.ticker = nil, nil
	m.Unlock()

	if t != nil {
		t.Stop()
	}

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("metrics shutdown", zap.Error(err))
	}
}
