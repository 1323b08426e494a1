package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deckcap/device"
)

type callback struct {
	mu      sync.Mutex
	changes []device.ModeID
	frames  int
	noInput int
	samples int
}

func (c *callback) FormatChanged(_ device.FormatChangeEvents, mode device.ModeID, _ device.DetectedFlags) error {
	c.mu.Lock()
	c.changes = append(c.changes, mode)
	c.mu.Unlock()

	return nil
}

func (c *callback) FrameArrived(video device.VideoFrame, audio device.AudioPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if video != nil {
		c.frames++
		if video.Flags()&device.FrameHasNoInputSource != 0 {
			c.noInput++
		}
	}

	if audio != nil {
		c.samples += audio.SampleFrameCount()
	}
}

func (c *callback) count() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.frames, c.noInput
}

func newStreaming(t *testing.T, opts ...Option) (*Device, *callback) {
	t.Helper()

	drv := NewDriver(1, opts...)
	dev, _ := drv.Device(0)
	cb := &callback{}

	if err := dev.SetCallback(cb); err != nil {
		t.Fatal(err)
	}

	if err := dev.EnableVideoInput(device.Mode1080p2398, device.Format8BitYUV, 0); err != nil {
		t.Fatal(err)
	}

	if err := dev.EnableAudioInput(DefaultSampleRate, 16, 2); err != nil {
		t.Fatal(err)
	}

	if err := dev.StartStreams(); err != nil {
		t.Fatal(err)
	}

	return dev, cb
}

func TestTickDeliversFramesAndSamples(t *testing.T) {
	dev, cb := newStreaming(t)

	for i := 0; i < 1001; i++ {
		if err := dev.Tick(); err != nil {
			t.Fatal(err)
		}
	}

	// 1001 frames at 24000/1001 are exactly 41.7s of audio
	if cb.samples != 1001*2002 {
		t.Fatalf("%d samples", cb.samples)
	}

	if n := dev.Outstanding(); n != 0 {
		t.Fatalf("%d frames outstanding", n)
	}
}

func TestReferenceClockAdvancesPerTick(t *testing.T) {
	dev, _ := newStreaming(t)

	before, _ := dev.HardwareReferenceClock()
	_ = dev.Tick()
	after, _ := dev.HardwareReferenceClock()

	m, _ := device.LookupMode(device.Mode1080p2398)
	if after-before != m.FrameDuration() {
		t.Fatalf("advanced %v", after-before)
	}

	dev.FailClock(true)

	if _, err := dev.HardwareReferenceClock(); !errors.Is(err, device.ErrorNotReady) {
		t.Fatalf("got %v", err)
	}
}

func TestFramesHeldByCallbackAreCounted(t *testing.T) {
	dev, _ := newStreaming(t)

	var held device.VideoFrame

	_ = dev.SetCallback(callbackFunc(func(v device.VideoFrame) {
		v.AddRef()
		held = v
	}))

	_ = dev.Deliver()

	if n := dev.Outstanding(); n != 1 {
		t.Fatalf("%d outstanding", n)
	}

	held.Release()

	if n := dev.Outstanding(); n != 0 {
		t.Fatalf("%d outstanding after release", n)
	}
}

type callbackFunc func(device.VideoFrame)

func (f callbackFunc) FormatChanged(device.FormatChangeEvents, device.ModeID, device.DetectedFlags) error {
	return nil
}

func (f callbackFunc) FrameArrived(v device.VideoFrame, _ device.AudioPacket) {
	if v != nil {
		f(v)
	}
}

func TestNoSignalAndMismatchFlagFrames(t *testing.T) {
	dev, cb := newStreaming(t, OptionWithSignal(device.Mode1080p25, device.Format8BitYUV))

	// enabled for 23.98 without detection: the 25p signal is not understood
	_ = dev.Deliver()

	if _, noInput := cb.count(); noInput != 1 {
		t.Fatalf("mismatched frame not flagged")
	}

	if len(cb.changes) != 0 {
		t.Fatal("format change reported without detection")
	}

	_ = dev.EnableVideoInput(device.Mode1080p25, device.Format8BitYUV, 0)
	dev.SetNoSignal(true)
	_ = dev.Deliver()
	dev.SetNoSignal(false)
	_ = dev.Deliver()

	if frames, noInput := cb.count(); frames != 3 || noInput != 2 {
		t.Fatalf("%d frames, %d without input", frames, noInput)
	}
}

func TestDetectionReportsOnce(t *testing.T) {
	drv := NewDriver(1, OptionWithSignal(device.Mode1080i50, device.Format10BitYUV))
	dev, _ := drv.Device(0)
	cb := &callback{}
	_ = dev.SetCallback(cb)
	_ = dev.EnableVideoInput(device.ModeNTSC, device.Format8BitYUV, device.VideoInputEnableFormatDetection)
	_ = dev.StartStreams()

	_ = dev.Deliver()
	_ = dev.Deliver()

	if len(cb.changes) != 1 || cb.changes[0] != device.Mode1080i50 {
		t.Fatalf("changes %v", cb.changes)
	}
}

func TestStartFailureAndNoInput(t *testing.T) {
	drv := NewDriver(2, OptionWithoutInput())
	dev, _ := drv.Device(1)

	if _, err := dev.Input(); !errors.Is(err, device.ErrorNoInput) {
		t.Fatalf("got %v", err)
	}

	if _, err := drv.Device(2); !errors.Is(err, ErrorInvalidIndex) {
		t.Fatalf("got %v", err)
	}

	dev, _ = newStreaming(t)
	_ = dev.StopStreams()
	dev.FailNextStart(errors.New("busy"))

	if err := dev.StartStreams(); err == nil {
		t.Fatal("start did not fail")
	}

	if err := dev.StartStreams(); err != nil {
		t.Fatal(err)
	}

	if err := dev.Deliver(); err != nil {
		t.Fatal(err)
	}
}

func TestRunPacesFrames(t *testing.T) {
	dev, cb := newStreaming(t, OptionWithSignal(device.Mode1080p2398, device.Format8BitYUV))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := dev.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}

	// about 7 frames in 300ms
	if frames, _ := cb.count(); frames < 3 || frames > 12 {
		t.Fatalf("%d frames", frames)
	}
}
