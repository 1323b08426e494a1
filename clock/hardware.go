package clock

import (
	"errors"
	"sync"
	"time"

	"deckcap/log"
	"deckcap/timing"
	"deckcap/util/timer"

	"go.uber.org/zap"
)

const (
	DefaultSlaveInterval  = 100 * time.Millisecond
	DefaultSlaveWindow    = 32
	DefaultSlaveThreshold = 4
)

var ErrorNoMaster = errors.New("no master clock")

type State int

const (
	Stopped State = iota
	Running
	RestartPending
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case RestartPending:
		return "restart-pending"
	}

	return "unknown"
}

// ReferenceReader reads the device's free-running reference clock.
type ReferenceReader interface {
	HardwareReferenceClock() (time.Duration, error)
}

type ReaderFunc func() (time.Duration, error)

func (f ReaderFunc) HardwareReferenceClock() (time.Duration, error) {
	return f()
}

type Options struct {
	Name           string
	SlaveInterval  time.Duration
	SlaveWindow    int
	SlaveThreshold int
}

type Option func(*Options)

func OptionWithName(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

func OptionWithSlaveInterval(d time.Duration) Option {
	return func(o *Options) {
		o.SlaveInterval = d
	}
}

func OptionWithSlaveWindow(size, threshold int) Option {
	return func(o *Options) {
		o.SlaveWindow = size
		o.SlaveThreshold = threshold
	}
}

type Stats struct {
	State        string         `json:"state"`
	Last         time.Duration  `json:"last"`
	Offset       time.Duration  `json:"offset"`
	Epoch        time.Duration  `json:"epoch"`
	ReadFailures uint64         `json:"read_failures"`
	Calibration  timing.Mapping `json:"calibration"`
	Slaved       bool           `json:"slaved"`
}

// Hardware exposes a device reference clock as a monotonic clock that starts
// at zero when streaming starts and hides restarts.
type Hardware struct {
	opts   Options
	reader ReferenceReader
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	startTime    time.Duration
	offset       time.Duration
	last         time.Duration
	epoch        time.Duration
	readFailures uint64
	calibration  timing.Mapping
	lastTime     time.Duration

	slaveMu sync.Mutex
	master  Clock
	ticker  timer.Ticker
	window  []timing.Sample
	wfill   int
	wcount  int
}

func NewHardware(reader ReferenceReader, opts ...Option) *Hardware {
	h := &Hardware{
		reader:      reader,
		startTime:   timing.None,
		calibration: timing.Identity(),
	}

	for _, o := range opts {
		o(&h.opts)
	}

	if h.opts.Name == "" {
		h.opts.Name = "hardware-clock"
	}

	if h.opts.SlaveInterval <= 0 {
		h.opts.SlaveInterval = DefaultSlaveInterval
	}

	if h.opts.SlaveWindow < 2 {
		h.opts.SlaveWindow = DefaultSlaveWindow
	}

	if h.opts.SlaveThreshold < 2 || h.opts.SlaveThreshold > h.opts.SlaveWindow {
		h.opts.SlaveThreshold = DefaultSlaveThreshold
	}

	h.window = make([]timing.Sample, h.opts.SlaveWindow)
	h.logger = log.Named(h.opts.Name)

	return h
}

func (h *Hardware) Name() string {
	return h.opts.Name
}

// Start begins following the hardware. The start time latches on the first
// successful read.
func (h *Hardware) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Stopped {
		h.state = Running
		h.startTime = timing.None
	}
}

// Restart marks a stream discontinuity; the next read re-derives the offset
// so that the exposed time continues from the last value.
func (h *Hardware) Restart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Stopped {
		h.state = RestartPending
	}
}

// Stop freezes the clock. The elapsed time moves into the epoch so a later
// Start continues from the same value.
func (h *Hardware) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Stopped {
		return
	}

	h.state = Stopped
	h.startTime = timing.None
	h.epoch += h.last
	h.last = 0
	h.offset = 0
}

func (h *Hardware) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// InternalTime never decreases between calls.
func (h *Hardware) InternalTime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Stopped {
		return h.last + h.epoch
	}

	result := h.last

	t, err := h.reader.HardwareReferenceClock()
	if err == nil && t >= 0 {
		if h.startTime == timing.None {
			h.startTime = t
		}

		raw := time.Duration(0)
		if t > h.startTime {
			raw = t - h.startTime
		}

		if h.state == RestartPending {
			h.offset = raw - h.last
			h.state = Running
		}

		result = maxDuration(h.last, raw)
		result -= h.offset
		result = maxDuration(h.last, result)
	} else {
		h.readFailures++
		h.logger.Debug("failed to read hardware reference clock",
			zap.Duration("last", h.last), zap.Error(err))
	}

	h.last = result

	return result + h.epoch
}

// Time is the internal time passed through the current calibration. It
// never goes back, also when a recalibration would move it.
func (h *Hardware) Time() time.Duration {
	internal := h.InternalTime()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastTime = maxDuration(h.lastTime, h.calibration.Adjust(internal))

	return h.lastTime
}

func (h *Hardware) SetCalibration(m timing.Mapping) {
	h.mu.Lock()
	h.calibration = m
	h.mu.Unlock()
}

func (h *Hardware) Calibration() timing.Mapping {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.calibration
}

// AddObservation records that internal time slave corresponded to master
// time and recalibrates once enough pairs are known.
func (h *Hardware) AddObservation(slave, master time.Duration) (float64, bool) {
	h.slaveMu.Lock()

	h.window[h.wfill] = timing.Sample{X: slave, Y: master}
	h.wfill = (h.wfill + 1) % len(h.window)

	if h.wcount < len(h.window) {
		h.wcount++
	}

	if h.wcount < h.opts.SlaveThreshold {
		h.slaveMu.Unlock()

		return 0, false
	}

	samples := make([]timing.Sample, h.wcount)
	copy(samples, h.window[:h.wcount])
	h.slaveMu.Unlock()

	r, err := timing.Fit(samples)
	if err != nil {
		h.logger.Debug("failed to recalibrate", zap.Error(err))

		return 0, false
	}

	h.SetCalibration(r.Mapping())

	return r.RSquared, true
}

// SetMaster slaves the clock to master, sampling both on a ticker. A nil
// master stops slaving and keeps the last calibration.
func (h *Hardware) SetMaster(master Clock) error {
	h.slaveMu.Lock()
	defer h.slaveMu.Unlock()

	if h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}

	h.master = master
	h.wfill = 0
	h.wcount = 0

	if master == nil {
		return nil
	}

	h.ticker = timer.NewTicker(h.opts.SlaveInterval, func() {
		h.AddObservation(h.InternalTime(), master.Time())
	})

	return nil
}

func (h *Hardware) Master() (Clock, error) {
	h.slaveMu.Lock()
	defer h.slaveMu.Unlock()

	if h.master == nil {
		return nil, ErrorNoMaster
	}

	return h.master, nil
}

func (h *Hardware) Stats() Stats {
	h.slaveMu.Lock()
	slaved := h.master != nil
	h.slaveMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		State:        h.state.String(),
		Last:         h.last + h.epoch,
		Offset:       h.offset,
		Epoch:        h.epoch,
		ReadFailures: h.readFailures,
		Calibration:  h.calibration,
		Slaved:       slaved,
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}

	return b
}
