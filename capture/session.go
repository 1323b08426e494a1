package capture

import (
	"sync"
	"time"

	"deckcap/clock"
	"deckcap/device"
	"deckcap/log"
	"deckcap/queue"
	"deckcap/timing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type State int

const (
	Closed State = iota
	Opened
	Streaming
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opened:
		return "opened"
	case Streaming:
		return "streaming"
	}

	return "unknown"
}

type SignalState int

const (
	SignalUnknown SignalState = iota
	SignalAvailable
	SignalLost
)

func (s SignalState) String() string {
	switch s {
	case SignalAvailable:
		return "available"
	case SignalLost:
		return "lost"
	}

	return "unknown"
}

// Source is what the service layer needs from a video or audio session.
type Source interface {
	ID() string
	Kind() device.Kind
	Options() Options
	Open() error
	Start() error
	Stop() error
	Close() error
	Unlock()
	UnlockStop()
	State() State
	Clock() clock.Clock
	Stats() Stats
	AddEventHandler(EventHandler)
}

// session holds what video and audio capture share: lifecycle, the frame
// queue, the time mapping and flush control.
type session struct {
	id     string
	kind   device.Kind
	opts   Options
	reg    *Registry
	logger *zap.Logger
	queue  *queue.Queue

	mu            sync.Mutex
	cond          *sync.Cond
	input         *Input
	state         State
	unlocked      bool
	internalFlush bool
	fatal         error
	baseTime      time.Duration
	mapping       *timing.AdaptiveMapping
	firstTime     time.Duration
	noSignalCount int
	signal        SignalState

	hmu      sync.RWMutex
	handlers []EventHandler
}

func newSession(kind device.Kind, reg *Registry, opts []Option, onEvict func(queue.Item)) (*session, error) {
	s := &session{
		id:        uuid.New().String(),
		kind:      kind,
		opts:      defaultOptions(),
		reg:       reg,
		firstTime: timing.None,
	}

	for _, o := range opts {
		o(&s.opts)
	}

	if err := s.opts.validate(kind); err != nil {
		return nil, err
	}

	if s.opts.Name == "" {
		s.opts.Name = kind.String() + "-" + s.id[:8]
	}

	s.cond = sync.NewCond(&s.mu)
	s.logger = log.Named(s.opts.Name, zap.String("session", s.id), zap.Int("device", s.opts.DeviceNumber))
	s.mapping = timing.NewAdaptiveMapping(s.opts.MappingOptions...)
	s.queue = queue.New(s.opts.BufferSize, queue.OptionWithOnEvict(onEvict))

	// nothing is delivered before Start
	s.queue.SetFlushing(true)

	return s, nil
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Kind() device.Kind {
	return s.kind
}

func (s *session) Options() Options {
	return s.opts
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *session) Signal() SignalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.signal
}

// Input is the shared device input, nil while closed.
func (s *session) Input() *Input {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.input
}

func (s *session) clockLocked() clock.Clock {
	switch {
	case s.opts.Clock != nil:
		return s.opts.Clock
	case s.opts.Selector != nil:
		return s.opts.Selector
	case s.input != nil:
		return s.input.Clock()
	}

	return nil
}

// Clock is the device clock to offer as pipeline master, nil while closed.
func (s *session) Clock() clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.input == nil {
		return nil
	}

	return s.input.Clock()
}

func (s *session) pipelineClock() (clock.Clock, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clockLocked(), s.baseTime
}

// AddEventHandler adds an observer next to the one given in the options.
func (s *session) AddEventHandler(h EventHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	s.handlers = append(s.handlers, h)
}

func (s *session) emit(e *Event) {
	s.hmu.RLock()
	handlers := s.handlers
	s.hmu.RUnlock()

	if s.opts.EventHandler == nil && len(handlers) == 0 {
		return
	}

	e.Session = s.id
	e.Device = s.opts.DeviceNumber
	e.Kind = s.kind
	e.Time = time.Now()

	if s.opts.EventHandler != nil {
		s.opts.EventHandler(e)
	}

	for _, h := range handlers {
		h(e)
	}
}

// streamsStarting runs under the input lock right before the hardware
// streams start.
func (s *session) streamsStarting() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.firstTime = timing.None
	s.mapping.Reset()
}

func (s *session) resetMapping() {
	s.mu.Lock()
	s.mapping.Reset()
	s.mu.Unlock()
}

// beginFlush and endFlush bracket a flush the consumer should not see.
func (s *session) beginFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.internalFlush = true
	s.queue.SetFlushing(true)
}

func (s *session) endFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.internalFlush = false
	if !s.unlocked && s.state == Streaming {
		s.queue.SetFlushing(false)
	}

	s.cond.Broadcast()
}

// Unlock makes a blocked Create return ErrFlushing, and keeps doing so until
// UnlockStop.
func (s *session) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unlocked = true
	s.queue.SetFlushing(true)
	s.cond.Broadcast()
}

func (s *session) UnlockStop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unlocked = false
	if !s.internalFlush && s.state == Streaming {
		s.queue.SetFlushing(false)
	}

	s.cond.Broadcast()
}

// pop blocks for the next queued item. Internal flushes are waited out.
func (s *session) pop() (queue.Item, time.Duration, error) {
	start := time.Now()

	for {
		item, err := s.queue.Pop()
		if err == nil {
			return item, time.Since(start), nil
		}

		s.mu.Lock()
		for s.internalFlush && !s.unlocked && s.state == Streaming {
			s.cond.Wait()
		}

		external := s.unlocked || s.state != Streaming
		s.mu.Unlock()

		if external {
			return nil, time.Since(start), ErrFlushing
		}
	}
}

func (s *session) acquired(in *Input) {
	s.mu.Lock()
	s.input = in
	s.state = Opened
	s.mu.Unlock()
}

// start moves Opened to Streaming; the streams run once every session of
// the device is started. The device clock is offered to the selector before
// the base time is taken so both come from the same clock.
func (s *session) start() error {
	s.mu.Lock()

	switch s.state {
	case Streaming:
		s.mu.Unlock()

		return nil
	case Closed:
		s.mu.Unlock()

		return errors.Wrapf(ErrNotOpened, "session %s", s.id)
	}

	in := s.input
	s.mu.Unlock()

	if s.opts.Selector != nil {
		s.opts.Selector.Provide(in.Clock())
	}

	s.mu.Lock()
	s.fatal = nil
	s.signal = SignalUnknown
	s.noSignalCount = 0
	s.state = Streaming

	if clk := s.clockLocked(); clk != nil {
		s.baseTime = clk.Time()
	}

	if !s.unlocked {
		s.queue.SetFlushing(false)
	}
	s.mu.Unlock()

	if err := in.enable(s.kind); err != nil {
		s.mu.Lock()
		s.state = Opened
		s.queue.SetFlushing(true)
		s.cond.Broadcast()
		s.mu.Unlock()

		if s.opts.Selector != nil {
			s.opts.Selector.Withdraw(in.Clock())
		}

		s.logger.Error("failed to start", zap.Error(err))
		s.emit(&Event{Type: EventError, Error: err.Error()})

		return err
	}

	s.logger.Info("started", zap.Duration("base", s.baseTime))
	s.emit(&Event{Type: EventStarted})

	return nil
}

func (s *session) stop() error {
	s.mu.Lock()

	if s.state != Streaming {
		s.mu.Unlock()

		return nil
	}

	in := s.input
	s.state = Opened
	s.queue.SetFlushing(true)
	s.cond.Broadcast()
	s.mu.Unlock()

	n := s.queue.Drain()
	err := in.disable(s.kind)

	if s.opts.Selector != nil {
		s.opts.Selector.Withdraw(in.Clock())
	}

	s.logger.Info("stopped", zap.Int("discarded", n))
	s.emit(&Event{Type: EventStopped})

	return err
}

func (s *session) detached() {
	s.mu.Lock()
	s.input = nil
	s.state = Closed
	s.mu.Unlock()
}
