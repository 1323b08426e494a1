package clock

import (
	"sync"
	"time"
)

// Clock reads a monotonic time in nanoseconds since an arbitrary origin.
type Clock interface {
	Time() time.Duration
}

// System is the host monotonic clock, zero at construction.
type System struct {
	origin time.Time
}

func NewSystem() *System {
	return &System{origin: time.Now()}
}

func (s *System) Time() time.Duration {
	return time.Since(s.origin)
}

// Manual only moves when told to. It drives simulated hardware and tests.
type Manual struct {
	mu sync.Mutex
	t  time.Duration
}

func NewManual(t time.Duration) *Manual {
	return &Manual{t: t}
}

func (m *Manual) Time() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.t
}

func (m *Manual) Set(t time.Duration) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.t += d

	return m.t
}

// Selector tracks the clocks currently offered as pipeline master. The most
// recent provider wins; with none left the fallback is used.
type Selector struct {
	mu       sync.Mutex
	fallback Clock
	provided []Clock
	onChange func(Clock)
}

func NewSelector(fallback Clock, onChange func(Clock)) *Selector {
	if fallback == nil {
		fallback = NewSystem()
	}

	return &Selector{fallback: fallback, onChange: onChange}
}

func (s *Selector) Provide(c Clock) {
	s.mu.Lock()

	for _, v := range s.provided {
		if v == c {
			s.mu.Unlock()

			return
		}
	}

	s.provided = append(s.provided, c)
	s.mu.Unlock()

	s.notify()
}

func (s *Selector) Withdraw(c Clock) {
	s.mu.Lock()

	removed := false

	for i, v := range s.provided {
		if v == c {
			s.provided = append(s.provided[:i], s.provided[i+1:]...)
			removed = true

			break
		}
	}

	s.mu.Unlock()

	if removed {
		s.notify()
	}
}

func (s *Selector) Selected() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.provided) == 0 {
		return s.fallback
	}

	return s.provided[len(s.provided)-1]
}

func (s *Selector) Time() time.Duration {
	return s.Selected().Time()
}

func (s *Selector) notify() {
	if s.onChange != nil {
		s.onChange(s.Selected())
	}
}
