package capture

import (
	"fmt"
	"sync"
	"time"

	"deckcap/clock"
	"deckcap/device"
	"deckcap/log"
	"deckcap/timing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Input is the capture half of one device, shared by the video and the
// audio session of that device. It receives the hardware callbacks and
// starts the streams once every attached session is enabled.
type Input struct {
	info   device.Info
	hw     device.Input
	clock  *clock.Hardware
	logger *zap.Logger

	mu           sync.Mutex
	video        *VideoSession
	audio        *AudioSession
	mode         *device.Mode
	format       device.PixelFormat
	autoFormat   bool
	videoEnabled bool
	audioEnabled bool
	streaming    bool
}

func newInput(info device.Info, hw device.Input) (*Input, error) {
	name := fmt.Sprintf("device-%d", info.Index)
	mode, _ := device.LookupMode(device.ModeAuto)

	in := &Input{
		info:   info,
		hw:     hw,
		clock:  clock.NewHardware(hw, clock.OptionWithName(name+"-clock")),
		logger: log.Named("input", zap.Int("device", info.Index)),
		mode:   mode,
		format: device.Format8BitYUV,
	}

	if err := hw.SetCallback(in); err != nil {
		return nil, errors.Wrapf(err, "device %d callback", info.Index)
	}

	return in, nil
}

func (in *Input) Info() device.Info {
	return in.info
}

// Clock is the device clock, monotonic across stream restarts.
func (in *Input) Clock() *clock.Hardware {
	return in.clock
}

func (in *Input) Mode() device.Mode {
	in.mu.Lock()
	defer in.mu.Unlock()

	return *in.mode
}

func (in *Input) Format() device.PixelFormat {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.format
}

func (in *Input) Streaming() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.streaming
}

func (in *Input) attachVideo(s *VideoSession, mode *device.Mode, format device.PixelFormat, auto bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.video = s
	in.mode = mode
	in.format = format
	in.autoFormat = auto
}

func (in *Input) detachVideo() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.video = nil
	in.videoEnabled = false
}

func (in *Input) attachAudio(s *AudioSession) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.audio = s
}

func (in *Input) detachAudio() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.audio = nil
	in.audioEnabled = false
}

// enable marks kind ready and starts the streams once every attached
// session is.
func (in *Input) enable(kind device.Kind) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch kind {
	case device.KindVideo:
		in.videoEnabled = true
	case device.KindAudio:
		in.audioEnabled = true
	}

	err := in.startStreamsLocked()
	if err != nil {
		switch kind {
		case device.KindVideo:
			in.videoEnabled = false
		case device.KindAudio:
			in.audioEnabled = false
		}
	}

	return err
}

func (in *Input) startStreamsLocked() error {
	if in.streaming {
		return nil
	}

	if in.video != nil && !in.videoEnabled || in.audio != nil && !in.audioEnabled {
		in.logger.Debug("not starting streams yet",
			zap.Bool("video", in.videoEnabled), zap.Bool("audio", in.audioEnabled))

		return nil
	}

	if in.video != nil {
		in.video.streamsStarting()
	}

	if in.audio != nil {
		in.audio.streamsStarting()
	}

	in.logger.Debug("starting streams")
	in.clock.Start()

	if err := in.hw.StartStreams(); err != nil {
		in.clock.Stop()

		return errors.Wrapf(ErrStreamStart, "device %d: %v", in.info.Index, err)
	}

	in.streaming = true

	return nil
}

func (in *Input) disable(kind device.Kind) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch kind {
	case device.KindVideo:
		in.videoEnabled = false
	case device.KindAudio:
		in.audioEnabled = false
	}

	if !in.streaming {
		return nil
	}

	in.logger.Debug("stopping streams")
	in.streaming = false
	in.clock.Stop()

	if err := in.hw.StopStreams(); err != nil {
		return errors.Wrapf(err, "device %d stop streams", in.info.Index)
	}

	return nil
}

// FormatChanged reconfigures the input for a newly detected signal. Queued
// video is flushed and the time mapping starts over; the session lives on.
func (in *Input) FormatChanged(events device.FormatChangeEvents, modeID device.ModeID, flags device.DetectedFlags) error {
	in.logger.Info("video input format changed", zap.Stringer("mode", modeID), zap.Uint32("flags", uint32(flags)))

	in.mu.Lock()
	defer in.mu.Unlock()

	format, err := device.DetectPixelFormat(flags, in.format)
	if err != nil {
		in.logger.Error("video input format is not supported", zap.Error(err))

		return errors.Wrapf(ErrUnsupported, "flags 0x%x", uint32(flags))
	}

	if !in.autoFormat && in.format != format {
		in.logger.Error("video input format does not match the configured format",
			zap.Stringer("configured", in.format), zap.Stringer("detected", format))

		return errors.Wrapf(ErrFormatMismatch, "%s != %s", format, in.format)
	}

	mode, err := device.LookupMode(modeID)
	if err != nil {
		return errors.WithMessage(err, "format changed")
	}

	vs := in.video
	if vs != nil {
		vs.beginFlush()
	}

	if err := in.hw.PauseStreams(); err != nil {
		in.logger.Warn("failed to pause streams", zap.Error(err))
	}

	in.clock.Restart()

	if err := in.hw.EnableVideoInput(modeID, format, device.VideoInputEnableFormatDetection); err != nil {
		in.logger.Error("failed to enable video input", zap.Error(err))
	}

	if err := in.hw.FlushStreams(); err != nil {
		in.logger.Warn("failed to flush streams", zap.Error(err))
	}

	if vs != nil {
		vs.formatChanged(mode, format)
	}

	if err := in.hw.StartStreams(); err != nil {
		in.logger.Error("failed to restart streams", zap.Error(err))
	}

	in.mode = mode
	in.format = format

	if vs != nil {
		vs.emit(&Event{Type: EventFormatChanged, Mode: mode.Name, Format: format.String()})
	}

	return nil
}

type arrival struct {
	capture          time.Duration
	streamTime       time.Duration
	streamDuration   time.Duration
	hardwareTime     time.Duration
	hardwareDuration time.Duration
	mode             *device.Mode
	noSignal         bool
}

func subClamp(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}

	return 0
}

// FrameArrived runs on the device's callback goroutine.
func (in *Input) FrameArrived(video device.VideoFrame, audio device.AudioPacket) {
	in.mu.Lock()
	vs, as := in.video, in.audio
	mode := in.mode
	in.mu.Unlock()

	var (
		clk  clock.Clock
		base time.Duration
	)

	switch {
	case vs != nil:
		clk, base = vs.pipelineClock()
	case as != nil:
		clk, base = as.pipelineClock()
	}

	a := arrival{
		capture:          timing.None,
		streamTime:       timing.None,
		streamDuration:   timing.None,
		hardwareTime:     timing.None,
		hardwareDuration: timing.None,
		mode:             mode,
	}

	if clk != nil {
		a.capture = clk.Time()

		if video != nil {
			// the frame finished capturing before now; move the capture time
			// back by that delay as measured on the device clock
			if hwNow, err := in.hw.HardwareReferenceClock(); err == nil {
				if hwTime, _, err := video.HardwareReferenceTimestamp(); err == nil {
					a.capture = subClamp(a.capture, hwNow-hwTime)
				} else {
					in.logger.Error("failed to get hardware time", zap.Error(err))
				}
			}
		}

		a.capture = subClamp(a.capture, base)
	}

	if video != nil {
		a.noSignal = video.Flags()&device.FrameHasNoInputSource != 0
	}

	if vs != nil && video != nil {
		if ts, d, err := video.StreamTime(); err == nil {
			a.streamTime, a.streamDuration = ts, d
		} else {
			in.logger.Error("failed to get stream time", zap.Error(err))
		}

		if ts, d, err := video.HardwareReferenceTimestamp(); err == nil {
			a.hardwareTime, a.hardwareDuration = ts, d
		}

		vs.gotFrame(video, &a)
	}

	if as != nil && audio != nil {
		as.gotPacket(audio, &a)
	} else if audio == nil {
		in.logger.Debug("received no audio packet", zap.Duration("capture", a.capture))
	}
}
