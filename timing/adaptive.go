package timing

import (
	"time"
)

const (
	DefaultWindowSize       = 64
	DefaultMaxSkipSeconds   = 4
	DefaultMaxChangeDivisor = 20

	DefaultFrameRateN = 30
	DefaultFrameRateD = 1
)

type Options struct {
	WindowSize       int
	MaxSkipSeconds   uint64
	MaxChangeDivisor uint64
}

type Option func(*Options)

func OptionWithWindowSize(n int) Option {
	return func(o *Options) {
		o.WindowSize = n
	}
}

// OptionWithMaxSkipSeconds caps decimation so the regression runs at least
// once per n seconds of frames.
func OptionWithMaxSkipSeconds(n uint64) Option {
	return func(o *Options) {
		o.MaxSkipSeconds = n
	}
}

// OptionWithMaxChangeDivisor bounds each mapping step to one frame duration
// divided by d.
func OptionWithMaxChangeDivisor(d uint64) Option {
	return func(o *Options) {
		o.MaxChangeDivisor = d
	}
}

// MappingStats is a snapshot for metrics and monitors.
type MappingStats struct {
	Current     Mapping `json:"current"`
	Pending     bool    `json:"pending"`
	WindowFill  int     `json:"window_fill"`
	Filled      bool    `json:"filled"`
	Skip        uint64  `json:"skip"`
	RSquared    float64 `json:"r_squared"`
	Fits        uint64  `json:"fits"`
	FitFailures uint64  `json:"fit_failures"`
}

// AdaptiveMapping keeps a rolling window of (stream, capture) samples and
// derives the stream to pipeline time mapping from it. It is not safe for
// concurrent use; the owning session serializes access.
type AdaptiveMapping struct {
	opts Options

	fpsN, fpsD uint64

	samples   []Sample
	fill      int
	filled    bool
	skip      uint64
	skipCount uint64

	current Mapping
	next    Mapping
	pending bool

	rSquared    float64
	fits        uint64
	fitFailures uint64
}

func NewAdaptiveMapping(opts ...Option) *AdaptiveMapping {
	a := &AdaptiveMapping{}

	for _, o := range opts {
		o(&a.opts)
	}

	if a.opts.WindowSize < 2 {
		a.opts.WindowSize = DefaultWindowSize
	}

	if a.opts.MaxSkipSeconds == 0 {
		a.opts.MaxSkipSeconds = DefaultMaxSkipSeconds
	}

	if a.opts.MaxChangeDivisor == 0 {
		a.opts.MaxChangeDivisor = DefaultMaxChangeDivisor
	}

	a.fpsN = DefaultFrameRateN
	a.fpsD = DefaultFrameRateD
	a.samples = make([]Sample, a.opts.WindowSize)
	a.Reset()

	return a
}

// SetFrameRate sets the frame rate that sizes the decimation cap and the
// per-update change bound. Non-positive values are ignored.
func (a *AdaptiveMapping) SetFrameRate(fpsN, fpsD int) {
	if fpsN <= 0 || fpsD <= 0 {
		return
	}

	a.fpsN = uint64(fpsN)
	a.fpsD = uint64(fpsD)
}

// Reset drops every observation and returns to the identity mapping.
func (a *AdaptiveMapping) Reset() {
	a.fill = 0
	a.filled = false
	a.skip = 1
	a.skipCount = 0
	a.current = Identity()
	a.next = Identity()
	a.pending = false
}

func (a *AdaptiveMapping) maxSkip() uint64 {
	fps := (a.fpsN + a.fpsD - 1) / a.fpsD

	return a.opts.MaxSkipSeconds * fps
}

// MaxStep is the largest change of the mapped time allowed per update.
func (a *AdaptiveMapping) MaxStep() time.Duration {
	return time.Duration(scale(uint64(time.Second)/a.opts.MaxChangeDivisor, a.fpsD, a.fpsN))
}

// Observe records the sample when decimation allows it and refits once the
// window has been filled at least once.
func (a *AdaptiveMapping) Observe(capture, stream time.Duration) {
	if capture < 0 || stream < 0 {
		return
	}

	if a.skipCount != 0 {
		a.skipCount++
		if a.skipCount >= a.skip {
			a.skipCount = 0
		}

		return
	}

	a.samples[a.fill] = Sample{X: stream, Y: capture}
	a.fill++

	a.skipCount++
	if a.skipCount >= a.skip {
		a.skipCount = 0
	}

	if a.fill >= len(a.samples) {
		// every sample once full, then every second one, ... up to the cap
		limit := a.maxSkip()
		if a.skip < limit {
			a.skip *= 2
		}

		if a.skip >= limit {
			a.skip = limit
		}

		a.fill = 0
		a.filled = true
	}

	if !a.filled && a.fill == 1 {
		a.current = Shift(stream, capture)
		a.pending = false
	}

	if !a.filled {
		return
	}

	r, err := Fit(a.samples)
	if err != nil {
		a.fitFailures++

		return
	}

	a.fits++
	a.rSquared = r.RSquared
	a.next = r.Mapping()
	a.pending = true
}

// CurrentAt moves the current mapping towards a pending one, by at most
// MaxStep measured at stream, and returns it.
func (a *AdaptiveMapping) CurrentAt(stream time.Duration) Mapping {
	if !a.pending || stream < 0 {
		return a.current
	}

	expected := a.current.Adjust(stream)
	calculated := a.next.Adjust(stream)
	diff := absDiff(calculated, expected)
	step := a.MaxStep()

	if diff > step {
		if calculated > expected {
			a.current.B = expected + step
		} else {
			a.current.B = expected - step
			if a.current.B < 0 {
				a.current.B = 0
			}
		}

		a.current.XBase = stream

		return a.current
	}

	a.current = a.next
	a.pending = false

	return a.current
}

// Update observes one frame and returns the mapping to apply to it.
func (a *AdaptiveMapping) Update(capture, stream time.Duration) Mapping {
	a.Observe(capture, stream)

	return a.CurrentAt(stream)
}

func (a *AdaptiveMapping) Current() Mapping {
	return a.current
}

func (a *AdaptiveMapping) Pending() (Mapping, bool) {
	return a.next, a.pending
}

func (a *AdaptiveMapping) Stats() MappingStats {
	return MappingStats{
		Current:     a.current,
		Pending:     a.pending,
		WindowFill:  a.fill,
		Filled:      a.filled,
		Skip:        a.skip,
		RSquared:    a.rSquared,
		Fits:        a.fits,
		FitFailures: a.fitFailures,
	}
}
