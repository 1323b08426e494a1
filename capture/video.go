package capture

import (
	"fmt"
	"time"

	"deckcap/device"
	"deckcap/queue"
	"deckcap/timing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// VideoSession captures video frames from one device input.
type VideoSession struct {
	*session

	// guarded by session.mu
	hasCaps         bool
	capsMode        device.ModeID
	capsFormat      device.PixelFormat
	capsColor       device.Colorimetry
	skippedLast     uint
	roundSkipped    uint
	skipFrom        time.Duration
	skipTo          time.Duration
	expectedStream  time.Duration
	firstStreamTime time.Duration
	processed       time.Duration
	dropped         time.Duration

	counters videoCounters
}

type videoCounters struct {
	arrived   uint64
	skipped   uint64
	noSignal  uint64
	evicted   uint64
	delivered uint64
	markers   uint64
}

func NewVideoSession(reg *Registry, opts ...Option) (*VideoSession, error) {
	v := &VideoSession{}

	s, err := newSession(device.KindVideo, reg, opts, v.evicted)
	if err != nil {
		return nil, err
	}

	v.session = s
	v.resetCaps()

	return v, nil
}

func (v *VideoSession) resetCaps() {
	v.hasCaps = false
	v.capsMode = v.opts.Mode
	v.capsFormat = v.opts.Format
	v.capsColor = ""
	v.skippedLast = 0
	v.skipFrom = timing.None
	v.skipTo = timing.None
	v.expectedStream = timing.None
	v.firstStreamTime = timing.None
	v.processed = 0
	v.dropped = 0
}

// Open takes the video side of the device and configures its input. On
// failure nothing stays acquired.
func (v *VideoSession) Open() error {
	if v.State() != Closed {
		return nil
	}

	in, err := v.reg.acquireVideo(v.opts.DeviceNumber, v.opts.PersistentID, v)
	if err != nil {
		v.logger.Error("failed to acquire input", zap.Error(err))

		return err
	}

	if err := v.configure(in); err != nil {
		in.detachVideo()
		v.reg.release(in, device.KindVideo)
		v.logger.Error("failed to configure input", zap.Error(err))

		return err
	}

	v.acquired(in)
	v.logger.Info("opened", zap.String("options", v.opts.String()))

	if v.opts.Mode == device.ModeAuto && v.opts.Format != device.FormatAuto {
		v.logger.Warn("mode=auto and format!=auto may not work")
	}

	return nil
}

func (v *VideoSession) configure(in *Input) error {
	mode, err := device.LookupMode(v.opts.Mode)
	if err != nil {
		return errors.Wrap(ErrInvalidOption, err.Error())
	}

	format := v.opts.Format
	if format == device.FormatAuto {
		format = device.Format8BitYUV
	}

	v.mu.Lock()
	v.mapping.SetFrameRate(mode.FpsN, mode.FpsD)
	v.mu.Unlock()

	if v.opts.Connection != device.ConnectionAuto {
		if err := in.hw.SetConnection(v.opts.Connection); err != nil {
			return errors.Wrapf(ErrEnableInput, "connection %s: %v", v.opts.Connection, err)
		}
	}

	var flags device.VideoInputFlags
	if v.opts.Mode == device.ModeAuto {
		if !in.info.SupportsFormatDetection {
			return errors.Wrapf(ErrNoAutoDetect, "device %d", in.info.Index)
		}

		flags |= device.VideoInputEnableFormatDetection
	}

	if err := in.hw.EnableVideoInput(mode.ID, format, flags); err != nil {
		return errors.Wrapf(ErrEnableInput, "%s %s: %v", mode.Name, format, err)
	}

	// the input only takes the configuration once the hardware accepted it
	in.attachVideo(v, mode, format, v.opts.Format == device.FormatAuto)

	return nil
}

func (v *VideoSession) Start() error {
	v.mu.Lock()
	v.resetCaps()
	v.mu.Unlock()

	if err := v.start(); err != nil {
		// nothing of the device is kept after a failed start
		if cerr := v.Close(); cerr != nil {
			v.logger.Warn("failed to close after start failure", zap.Error(cerr))
		}

		return err
	}

	return nil
}

func (v *VideoSession) Stop() error {
	err := v.stop()

	v.mu.Lock()
	v.resetCaps()
	v.signal = SignalUnknown
	v.mu.Unlock()

	return err
}

// Close stops, disables the video input and gives the device back.
func (v *VideoSession) Close() error {
	if err := v.Stop(); err != nil {
		v.logger.Warn("failed to stop", zap.Error(err))
	}

	in := v.Input()
	if in == nil {
		return nil
	}

	if err := in.hw.DisableVideoInput(); err != nil {
		v.logger.Warn("failed to disable video input", zap.Error(err))
	}

	in.detachVideo()
	v.reg.release(in, device.KindVideo)
	v.detached()
	v.logger.Info("closed")

	return nil
}

// formatChanged runs under the input lock while streams are paused.
func (v *VideoSession) formatChanged(mode *device.Mode, format device.PixelFormat) {
	v.mu.Lock()
	v.mapping.Reset()
	v.mapping.SetFrameRate(mode.FpsN, mode.FpsD)
	v.mu.Unlock()

	v.endFlush()
}

// Latency is the minimum and maximum capture latency of the negotiated
// mode; ok is false before the first frame.
func (v *VideoSession) Latency() (min, max time.Duration, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.hasCaps {
		return 0, 0, false
	}

	m, err := device.LookupMode(v.capsMode)
	if err != nil {
		return 0, 0, false
	}

	min = m.FrameDurationCeil()

	return min, time.Duration(v.queue.Cap()) * min, true
}

// SetBufferSize resizes the frame queue, dropping the oldest frames if it
// shrinks.
func (v *VideoSession) SetBufferSize(n int) {
	if n < 1 {
		return
	}

	v.mu.Lock()
	v.opts.BufferSize = n
	v.mu.Unlock()

	v.queue.SetCapacity(n)
}

func (v *VideoSession) evicted(it queue.Item) {
	f, ok := it.(*Frame)
	if !ok {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.counters.evicted++
	if f.empty() {
		return
	}

	if v.roundSkipped == 0 && v.skippedLast == 0 {
		v.skipFrom = f.Timestamp
	}

	v.roundSkipped++
	v.skipTo = f.Timestamp
}

// gotFrame runs on the device callback goroutine.
func (v *VideoSession) gotFrame(video device.VideoFrame, a *arrival) {
	v.mu.Lock()

	v.counters.arrived++

	if v.state != Streaming {
		v.mu.Unlock()

		return
	}

	if v.firstTime == timing.None {
		v.firstTime = a.streamTime
	}

	if v.opts.SkipFirstTime > 0 && a.streamTime-v.firstTime < v.opts.SkipFirstTime {
		v.counters.skipped++
		v.mu.Unlock()
		v.logger.Debug("skipping frame as requested",
			zap.Duration("stream", a.streamTime), zap.Duration("until", v.firstTime+v.opts.SkipFirstTime))

		return
	}

	if a.noSignal {
		v.noSignalCount++
		v.counters.noSignal++
	}

	if v.opts.DropNoSignalFrames && a.noSignal {
		v.counters.markers++
		v.mu.Unlock()

		// the consumer still has to learn that the signal is gone
		f := newFrame(nil)
		f.NoSignal = true
		v.queue.Push(f)
		v.noteEvictions()

		return
	}

	if !a.noSignal {
		if v.noSignalCount > NoSignalResetCount {
			v.mapping.Reset()
		}

		v.noSignalCount = 0
	}

	capture := subClamp(a.capture, v.opts.ClockOffset)
	m := v.mapping.Update(capture, a.streamTime)
	v.mu.Unlock()

	f := newFrame(video)
	f.StreamTime = a.streamTime
	f.StreamDuration = a.streamDuration
	f.HardwareTime = a.hardwareTime
	f.HardwareDuration = a.hardwareDuration
	f.Mode = a.mode.ID
	f.Format = video.PixelFormat()
	f.Colorimetry = a.mode.Color
	f.NoSignal = a.noSignal

	if v.opts.OutputStreamTime {
		f.Timestamp = a.streamTime
		f.Duration = a.streamDuration
	} else {
		f.Timestamp = m.Adjust(a.streamTime)
		f.Duration = m.ScaleDuration(a.streamDuration)
	}

	if h, mi, sec, fr, flags, err := video.Timecode(v.opts.TimecodeFormat); err == nil {
		f.Timecode = device.NewTimecode(a.mode, h, mi, sec, fr, flags)
	} else {
		v.logger.Debug("failed to get timecode", zap.Error(err))
	}

	v.logger.Debug("got video frame",
		zap.Duration("capture", capture), zap.Duration("stream", a.streamTime),
		zap.Duration("timestamp", f.Timestamp), zap.Bool("no_signal", a.noSignal))

	v.queue.Push(f)
	v.noteEvictions()
}

// noteEvictions reports drop runs: a warning when one starts and a summary
// of the whole run once a push goes through without evicting.
func (v *VideoSession) noteEvictions() {
	v.mu.Lock()
	skipped := v.roundSkipped
	v.roundSkipped = 0

	if v.skippedLast == 0 && skipped > 0 {
		v.logger.Warn("Starting to drop frames")
	}

	var ev *Event

	if skipped == 0 && v.skippedLast > 0 {
		ev = &Event{
			Type:    EventFramesDropped,
			Dropped: v.skippedLast,
			From:    v.skipFrom,
			To:      v.skipTo,
			Message: fmt.Sprintf("Dropped %d old frames from %v to %v", v.skippedLast, v.skipFrom, v.skipTo),
		}
		v.logger.Warn(ev.Message, zap.Uint("dropped", v.skippedLast))
		v.skippedLast = 0
	}

	v.skippedLast += skipped
	v.mu.Unlock()

	if ev != nil {
		v.emit(ev)
	}
}

// Create blocks for the next frame. ErrFlushing means the session was
// unlocked or stopped; ErrNotNegotiated means frames stopped matching an
// explicitly configured mode or format, and the session has been stopped.
func (v *VideoSession) Create() (*Buffer, error) {
	v.mu.Lock()
	if v.fatal != nil {
		err := v.fatal
		v.mu.Unlock()

		return nil, err
	}
	v.mu.Unlock()

	var waited time.Duration

	for {
		item, wait, err := v.pop()
		waited += wait

		if err != nil {
			return nil, err
		}

		f := item.(*Frame)
		if buf, retry, err := v.output(f); !retry {
			if v.opts.WaitObserver != nil {
				v.opts.WaitObserver(waited)
			}

			return buf, err
		}
	}
}

func (v *VideoSession) signalLocked(f *Frame) []*Event {
	var events []*Event

	if f.NoSignal || f.empty() {
		if v.signal != SignalLost {
			v.signal = SignalLost
			v.logger.Warn("Signal lost", zap.String("detail", "No input source was detected - video frames invalid"))
			events = append(events, &Event{Type: EventSignalLost, Message: "Signal lost"})
		}

		return events
	}

	prev := v.signal
	v.signal = SignalAvailable

	if prev == SignalLost {
		v.logger.Info("Signal recovered", zap.String("detail", "Input source detected"))
		events = append(events, &Event{Type: EventSignalRecovered, Message: "Signal recovered"})
	}

	return events
}

// output turns a queued frame into a Buffer. retry is set for markers.
func (v *VideoSession) output(f *Frame) (*Buffer, bool, error) {
	v.mu.Lock()

	events := v.signalLocked(f)

	if f.empty() {
		v.mu.Unlock()
		f.Release()
		v.emitAll(events)

		return nil, true, nil
	}

	capsChanged := !v.hasCaps

	if v.capsMode != f.Mode {
		if v.opts.Mode == device.ModeAuto || !v.hasCaps {
			v.logger.Debug("mode changed", zap.Stringer("from", v.capsMode), zap.Stringer("to", f.Mode))
			capsChanged = true
			v.capsMode = f.Mode
		} else {
			return nil, false, v.notNegotiated(f, events, errors.Wrapf(ErrNotNegotiated,
				"mode set to %s but captured %s", v.capsMode, f.Mode))
		}
	}

	if v.capsFormat != f.Format {
		if v.opts.Format == device.FormatAuto || !v.hasCaps {
			v.logger.Debug("format changed", zap.Stringer("from", v.capsFormat), zap.Stringer("to", f.Format))
			capsChanged = true
			v.capsFormat = f.Format
		} else {
			return nil, false, v.notNegotiated(f, events, errors.Wrapf(ErrNotNegotiated,
				"format set to %s but captured %s", v.capsFormat, f.Format))
		}
	}

	if v.capsColor != f.Colorimetry {
		capsChanged = true
		v.capsColor = f.Colorimetry
	}

	// the drivers give a very steady stream time, so anything beyond a
	// rounding error is a real gap
	if v.expectedStream != timing.None && f.StreamTime != timing.None {
		if diff := f.StreamTime - v.expectedStream; diff > 1 || diff < -1 {
			if diff > 0 {
				v.dropped += diff
			}

			events = append(events, &Event{Type: EventQoS, QoS: &QoS{
				Live:        true,
				RunningTime: f.Timestamp,
				StreamTime:  f.StreamTime,
				Timestamp:   f.Timestamp,
				Duration:    f.Duration,
				Processed:   v.processed,
				Dropped:     v.dropped,
			}})
		}
	}

	if f.StreamTime != timing.None {
		if v.firstStreamTime == timing.None {
			v.firstStreamTime = f.StreamTime
		}

		v.processed = f.StreamTime - v.dropped - v.firstStreamTime
		v.expectedStream = f.StreamTime + f.StreamDuration
	}

	v.hasCaps = true
	capsMode := v.capsMode
	v.counters.delivered++
	v.mu.Unlock()

	buf := &Buffer{
		frame:            f,
		Timestamp:        f.Timestamp,
		Duration:         f.Duration,
		StreamTime:       f.StreamTime,
		StreamDuration:   f.StreamDuration,
		HardwareTime:     f.HardwareTime,
		HardwareDuration: f.HardwareDuration,
		Timecode:         f.Timecode,
	}

	// the buffer holds its own reference; the queue's goes away below
	f.retain()

	if data := f.video.Bytes(); data != nil {
		n := f.video.Height() * f.video.RowBytes()
		if n > len(data) {
			n = len(data)
		}

		buf.Data = data[:n]
	}

	if f.NoSignal {
		buf.Flags |= BufferGap
	}

	if m, err := device.LookupMode(capsMode); err == nil {
		if m.Interlaced {
			buf.Flags |= BufferInterlaced
			if m.TopFieldFirst() {
				buf.Flags |= BufferTopFieldFirst
			}
		}

		if capsChanged {
			buf.Caps = newCaps(m, f.Format, f.Colorimetry)
			events = append(events, &Event{Type: EventCapsChanged, Mode: m.Name, Format: f.Format.String()})
		}
	}

	f.Release()
	v.emitAll(events)

	return buf, false, nil
}

// notNegotiated is entered with the session lock held.
func (v *VideoSession) notNegotiated(f *Frame, events []*Event, err error) error {
	v.fatal = err
	v.mu.Unlock()

	f.Release()
	v.logger.Error("Invalid format in captured frame", zap.Error(err))
	v.emitAll(append(events, &Event{Type: EventError, Error: err.Error()}))

	if serr := v.stop(); serr != nil {
		v.logger.Warn("failed to stop", zap.Error(serr))
	}

	return err
}

func (v *VideoSession) emitAll(events []*Event) {
	for _, e := range events {
		v.emit(e)
	}
}

func (v *VideoSession) Stats() Stats {
	v.mu.Lock()
	st := Stats{
		ID:        v.id,
		Name:      v.opts.Name,
		Kind:      v.kind,
		Device:    v.opts.DeviceNumber,
		State:     v.state.String(),
		Signal:    v.signal.String(),
		Mode:      v.capsMode.String(),
		Format:    v.capsFormat.String(),
		Arrived:   v.counters.arrived,
		Skipped:   v.counters.skipped,
		NoSignal:  v.counters.noSignal,
		Evicted:   v.counters.evicted,
		Delivered: v.counters.delivered,
		Processed: v.processed,
		Dropped:   v.dropped,
		Mapping:   v.mapping.Stats(),
	}
	in := v.input
	v.mu.Unlock()

	st.Queue = v.queue.Stats()
	if in != nil {
		st.Clock = in.Clock().Stats()
	}

	return st
}
