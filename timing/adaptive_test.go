package timing

import (
	"math"
	"testing"
	"time"
)

func TestMappingAdjust(t *testing.T) {
	m := Mapping{XBase: 10 * time.Second, B: 20 * time.Second, Num: 2, Den: 1}

	if got := m.Adjust(11 * time.Second); got != 22*time.Second {
		t.Errorf("forward %v", got)
	}

	if got := m.Adjust(9 * time.Second); got != 18*time.Second {
		t.Errorf("backward %v", got)
	}

	if got := m.Adjust(0); got != 0 {
		t.Errorf("clamped %v", got)
	}

	if got := m.Adjust(None); got != None {
		t.Errorf("none %v", got)
	}

	if got := m.ScaleDuration(40 * time.Millisecond); got != 80*time.Millisecond {
		t.Errorf("duration %v", got)
	}

	big := Mapping{Num: math.MaxUint64 >> 2, Den: 1}
	if got := big.Adjust(time.Hour); got != math.MaxInt64 {
		t.Errorf("overflow not saturated: %v", got)
	}
}

func TestAdaptiveFirstSampleIsShift(t *testing.T) {
	a := NewAdaptiveMapping()

	m := a.Update(5*time.Second, 100*time.Millisecond)
	if m != Shift(100*time.Millisecond, 5*time.Second) {
		t.Fatalf("unexpected first mapping %+v", m)
	}

	if got := m.Adjust(140 * time.Millisecond); got != 5*time.Second+40*time.Millisecond {
		t.Errorf("adjusted %v", got)
	}
}

func TestAdaptiveSkipGrowth(t *testing.T) {
	a := NewAdaptiveMapping(OptionWithWindowSize(4))
	a.SetFrameRate(2, 1)

	frame := 500 * time.Millisecond
	for i := 0; i < 4; i++ {
		a.Observe(time.Duration(i)*frame, time.Duration(i)*frame)
	}

	if s := a.Stats(); !s.Filled || s.Skip != 2 {
		t.Fatalf("after first window: %+v", s)
	}

	// cap is 4 seconds at 2 fps
	for i := 4; i < 400; i++ {
		a.Observe(time.Duration(i)*frame, time.Duration(i)*frame)
	}

	if s := a.Stats(); s.Skip != 8 {
		t.Fatalf("skip not capped: %+v", s)
	}
}

func TestAdaptiveConvergesToFit(t *testing.T) {
	a := NewAdaptiveMapping()
	a.SetFrameRate(25, 1)

	frame := 40 * time.Millisecond
	offset := 3 * time.Second

	var m Mapping
	for i := 0; i < 256; i++ {
		x := time.Duration(i) * frame
		m = a.Update(x+offset, x)
	}

	x := 256 * frame
	if got := m.Adjust(x); got != x+offset {
		t.Errorf("mapped %v, want %v", got, x+offset)
	}

	if _, pending := a.Pending(); pending {
		t.Errorf("pending mapping not promoted")
	}
}

func TestAdaptiveBoundedConvergence(t *testing.T) {
	a := NewAdaptiveMapping()
	a.SetFrameRate(25, 1)

	step := a.MaxStep()
	if step != 2*time.Millisecond {
		t.Fatalf("max step %v", step)
	}

	a.current = Shift(0, time.Second)
	a.next = Shift(0, time.Second+10*step+step/2)
	a.pending = true

	stream := time.Duration(0)
	prev := a.current.Adjust(stream)
	calls := 0

	for {
		_, pending := a.Pending()
		if !pending {
			break
		}

		stream += 40 * time.Millisecond
		want := a.current.Adjust(stream)
		got := a.CurrentAt(stream).Adjust(stream)

		if d := absDiff(got, want); d > step {
			t.Fatalf("call %d moved %v, bound %v", calls, d, step)
		}

		if got < prev {
			t.Fatalf("mapped time went backwards")
		}

		prev = got
		calls++

		if calls > 20 {
			t.Fatalf("no promotion after %d calls", calls)
		}
	}

	if calls != 11 {
		t.Errorf("promoted after %d calls, want 11", calls)
	}

	if a.Current() != a.next {
		t.Errorf("current %+v not promoted to %+v", a.Current(), a.next)
	}
}

func TestAdaptiveReset(t *testing.T) {
	a := NewAdaptiveMapping()

	for i := 0; i < 100; i++ {
		x := time.Duration(i) * 40 * time.Millisecond
		a.Update(x+time.Second, x)
	}

	a.Reset()

	s := a.Stats()
	if s.Filled || s.WindowFill != 0 || s.Skip != 1 || s.Pending || s.Current != Identity() {
		t.Errorf("not reset: %+v", s)
	}
}
