package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"deckcap/device"
	"deckcap/timing"
)

type fakePacket struct {
	samples int
	refs    int32
	live    *int32
}

func newFakePacket(samples int, live *int32) *fakePacket {
	atomic.AddInt32(live, 1)

	return &fakePacket{samples: samples, refs: 1, live: live}
}

func (p *fakePacket) Bytes() []byte                      { return make([]byte, p.samples*4) }
func (p *fakePacket) SampleFrameCount() int              { return p.samples }
func (p *fakePacket) PacketTime() (time.Duration, error) { return 0, nil }
func (p *fakePacket) AddRef()                            { atomic.AddInt32(&p.refs, 1) }

func (p *fakePacket) Release() {
	if atomic.AddInt32(&p.refs, -1) == 0 {
		atomic.AddInt32(p.live, -1)
	}
}

// streamingAudio returns a session that accepts packets without a device.
func streamingAudio(t *testing.T, opts ...Option) *AudioSession {
	t.Helper()

	reg, _, _ := newRig(t)

	as, err := NewAudioSession(reg, opts...)
	if err != nil {
		t.Fatal(err)
	}

	as.state = Streaming
	as.queue.SetFlushing(false)

	return as
}

func pushPacket(as *AudioSession, ts time.Duration, samples int, live *int32) {
	fp := newFakePacket(samples, live)
	p := newPacket(fp)
	fp.Release()

	p.Timestamp = ts
	p.StreamTime = ts
	as.queue.Push(p)
}

func TestAudioOffsetsFollowSampleCount(t *testing.T) {
	var live int32

	as := streamingAudio(t, OptionWithDiscontWait(0))

	const samples = 480 // 10ms

	for i := 0; i < 5; i++ {
		// a little jitter below the alignment threshold
		jitter := time.Duration(i%2) * 3 * time.Millisecond
		pushPacket(as, time.Duration(i)*10*time.Millisecond+jitter, samples, &live)

		buf, err := as.Create()
		if err != nil {
			t.Fatal(err)
		}

		if (i == 0) != buf.Has(BufferDiscont) {
			t.Fatalf("packet %d flags %b", i, buf.Flags)
		}

		if want := uint64(i * samples); buf.Offset != want {
			t.Fatalf("packet %d offset %d, want %d", i, buf.Offset, want)
		}

		if want := time.Duration(i) * 10 * time.Millisecond; buf.Timestamp != want {
			t.Fatalf("packet %d timestamp %v, want %v", i, buf.Timestamp, want)
		}

		if buf.Duration != 10*time.Millisecond {
			t.Fatalf("duration %v", buf.Duration)
		}

		buf.Release()
	}

	if live != 0 {
		t.Fatalf("%d packets leaked", live)
	}
}

func TestAudioBufferTakesTheQueueReference(t *testing.T) {
	var live int32

	as := streamingAudio(t, OptionWithDiscontWait(0))
	pushPacket(as, 0, 480, &live)

	buf, err := as.Create()
	if err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt32(&live); n != 1 {
		t.Fatalf("%d packets live while the buffer is held", n)
	}

	buf.Release()
	buf.Release()

	if n := atomic.LoadInt32(&live); n != 0 {
		t.Fatalf("%d packets live after release", n)
	}
}

func TestAudioDiscontWithoutWait(t *testing.T) {
	var live int32

	rec := &recorder{}
	as := streamingAudio(t, OptionWithDiscontWait(0), OptionWithEventHandler(rec.handle))

	pushPacket(as, 0, 480, &live)
	pushPacket(as, 10*time.Millisecond+100*time.Millisecond, 480, &live)

	first, _ := as.Create()
	first.Release()

	buf, err := as.Create()
	if err != nil {
		t.Fatal(err)
	}

	if !buf.Has(BufferDiscont) || buf.Timestamp != 110*time.Millisecond {
		t.Fatalf("flags %b timestamp %v", buf.Flags, buf.Timestamp)
	}

	buf.Release()

	if !rec.has(EventDiscont) {
		t.Fatalf("events %v", rec.types())
	}
}

func TestAudioDiscontWaitsBeforeResync(t *testing.T) {
	var live int32

	as := streamingAudio(t, OptionWithDiscontWait(200*time.Millisecond))

	const (
		samples = 480
		step    = 10 * time.Millisecond
		jump    = 100 * time.Millisecond
	)

	pushPacket(as, 0, samples, &live)
	first, _ := as.Create()
	first.Release()

	resynced := -1

	for i := 1; i < 40; i++ {
		ts := time.Duration(i)*step + jump
		pushPacket(as, ts, samples, &live)

		buf, err := as.Create()
		if err != nil {
			t.Fatal(err)
		}

		if buf.Has(BufferDiscont) {
			resynced = i
			if buf.Timestamp != ts {
				t.Fatalf("resynced to %v, want %v", buf.Timestamp, ts)
			}

			buf.Release()

			break
		}

		if want := time.Duration(i) * step; buf.Timestamp != want {
			t.Fatalf("packet %d not aligned: %v, want %v", i, buf.Timestamp, want)
		}

		buf.Release()
	}

	// the jump is first seen at packet 1 and accepted 200ms later
	if resynced != 21 {
		t.Fatalf("resynced at packet %d", resynced)
	}

	if live != 0 {
		t.Fatalf("%d packets leaked", live)
	}
}

func TestAudioShortJumpIsAbsorbed(t *testing.T) {
	var live int32

	as := streamingAudio(t)

	pushPacket(as, 0, 480, &live)
	pushPacket(as, 10*time.Millisecond+100*time.Millisecond, 480, &live)
	pushPacket(as, 20*time.Millisecond, 480, &live)

	for i := 0; i < 3; i++ {
		buf, err := as.Create()
		if err != nil {
			t.Fatal(err)
		}

		if i > 0 && buf.Has(BufferDiscont) {
			t.Fatalf("packet %d flagged discont", i)
		}

		buf.Release()
	}

	if as.discontTime != timing.None {
		t.Fatalf("discont still pending at %v", as.discontTime)
	}
}

func TestAudioFromDevice(t *testing.T) {
	reg, drv, dev := newRig(t)

	as, err := NewAudioSession(reg, OptionWithChannels(2), OptionWithSampleDepth(16))
	if err != nil {
		t.Fatal(err)
	}

	if err := as.Open(); err != nil {
		t.Fatal(err)
	}

	if err := as.Start(); err != nil {
		t.Fatal(err)
	}

	tick(t, dev, 5)

	var next uint64

	for i := 0; i < 5; i++ {
		buf, err := as.Create()
		if err != nil {
			t.Fatal(err)
		}

		if buf.Samples != 2002 || len(buf.Data) != 2002*4 {
			t.Fatalf("packet %d: %d samples, %d bytes", i, buf.Samples, len(buf.Data))
		}

		if buf.Offset != next {
			t.Fatalf("packet %d offset %d, want %d", i, buf.Offset, next)
		}

		next += uint64(buf.Samples)
		buf.Release()
	}

	closeAndCheckLeaks(t, drv, as)
}

func TestStreamsStartOnceEverySessionStarted(t *testing.T) {
	reg, drv, dev := newRig(t)

	vs, _ := NewVideoSession(reg, OptionWithMode(device.Mode1080p2398))
	as, _ := NewAudioSession(reg)

	for _, s := range []Source{vs, as} {
		if err := s.Open(); err != nil {
			t.Fatal(err)
		}
	}

	if err := vs.Start(); err != nil {
		t.Fatal(err)
	}

	if dev.Streaming() {
		t.Fatal("streams started before audio")
	}

	if err := as.Start(); err != nil {
		t.Fatal(err)
	}

	if !dev.Streaming() {
		t.Fatal("streams not started")
	}

	starts := 0
	for _, c := range dev.Calls() {
		if c == "StartStreams" {
			starts++
		}
	}

	if starts != 1 {
		t.Fatalf("StartStreams called %d times", starts)
	}

	tick(t, dev, 2)

	mustCreate(t, vs).Release()

	buf, err := as.Create()
	if err != nil {
		t.Fatal(err)
	}

	buf.Release()

	if vs.Clock() != as.Clock() {
		t.Fatal("sessions of one device must share the clock")
	}

	closeAndCheckLeaks(t, drv, vs, as)
}

func TestAudioRejectsBadOptions(t *testing.T) {
	reg, _, _ := newRig(t)

	if _, err := NewAudioSession(reg, OptionWithChannels(3)); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("got %v", err)
	}

	if _, err := NewAudioSession(reg, OptionWithSampleDepth(24)); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("got %v", err)
	}
}
