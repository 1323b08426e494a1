package capture

import (
	"fmt"
	"math/bits"
	"time"

	"deckcap/device"
	"deckcap/queue"
	"deckcap/timing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AudioSession captures the audio packets of one device input. It shares
// the Input, and with it the device clock, with the video session.
type AudioSession struct {
	*session

	// guarded by session.mu
	rate         int
	nextOffset   int64
	discontTime  time.Duration
	fpsN, fpsD   int
	skippedLast  uint
	roundSkipped uint
	skipFrom     time.Duration
	skipTo       time.Duration

	counters audioCounters
}

type audioCounters struct {
	arrived   uint64
	skipped   uint64
	noSignal  uint64
	evicted   uint64
	delivered uint64
	disconts  uint64
}

func NewAudioSession(reg *Registry, opts ...Option) (*AudioSession, error) {
	a := &AudioSession{rate: DefaultSampleRate}

	s, err := newSession(device.KindAudio, reg, opts, a.evicted)
	if err != nil {
		return nil, err
	}

	a.session = s
	a.resetOffsets()

	return a, nil
}

func (a *AudioSession) resetOffsets() {
	a.nextOffset = -1
	a.discontTime = timing.None
	a.skippedLast = 0
	a.skipFrom = timing.None
	a.skipTo = timing.None
}

func (a *AudioSession) Open() error {
	if a.State() != Closed {
		return nil
	}

	in, err := a.reg.acquireAudio(a.opts.DeviceNumber, a.opts.PersistentID, a)
	if err != nil {
		a.logger.Error("failed to acquire input", zap.Error(err))

		return err
	}

	if err := in.hw.EnableAudioInput(a.rate, a.opts.SampleDepth, a.opts.Channels); err != nil {
		a.reg.release(in, device.KindAudio)
		a.logger.Error("failed to enable audio input", zap.Error(err))

		return errors.Wrapf(ErrEnableInput, "audio %d Hz %d bit %d channels: %v",
			a.rate, a.opts.SampleDepth, a.opts.Channels, err)
	}

	in.attachAudio(a)
	a.acquired(in)
	a.logger.Info("opened", zap.String("options", a.opts.String()))

	return nil
}

func (a *AudioSession) Start() error {
	a.mu.Lock()
	a.resetOffsets()
	a.mu.Unlock()

	if err := a.start(); err != nil {
		// nothing of the device is kept after a failed start
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("failed to close after start failure", zap.Error(cerr))
		}

		return err
	}

	return nil
}

func (a *AudioSession) Stop() error {
	err := a.stop()

	a.mu.Lock()
	a.resetOffsets()
	a.signal = SignalUnknown
	a.mu.Unlock()

	return err
}

func (a *AudioSession) Close() error {
	if err := a.Stop(); err != nil {
		a.logger.Warn("failed to stop", zap.Error(err))
	}

	in := a.Input()
	if in == nil {
		return nil
	}

	if err := in.hw.DisableAudioInput(); err != nil {
		a.logger.Warn("failed to disable audio input", zap.Error(err))
	}

	in.detachAudio()
	a.reg.release(in, device.KindAudio)
	a.detached()
	a.logger.Info("closed")

	return nil
}

func (a *AudioSession) SampleRate() int {
	return a.rate
}

// BytesPerFrame is the size of one sample of every channel.
func (a *AudioSession) BytesPerFrame() int {
	return a.opts.Channels * a.opts.SampleDepth / 8
}

func (a *AudioSession) evicted(it queue.Item) {
	p, ok := it.(*packet)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters.evicted++
	if a.roundSkipped == 0 && a.skippedLast == 0 {
		a.skipFrom = p.Timestamp
	}

	a.roundSkipped++
	a.skipTo = p.Timestamp
}

func (a *AudioSession) gotPacket(audio device.AudioPacket, arr *arrival) {
	a.mu.Lock()

	a.counters.arrived++

	if a.state != Streaming {
		a.mu.Unlock()

		return
	}

	stream, err := audio.PacketTime()
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("failed to get packet time", zap.Error(err))

		return
	}

	if a.firstTime == timing.None {
		a.firstTime = stream
	}

	if a.opts.SkipFirstTime > 0 && stream-a.firstTime < a.opts.SkipFirstTime {
		a.counters.skipped++
		a.mu.Unlock()

		return
	}

	if arr.noSignal {
		a.noSignalCount++
		a.counters.noSignal++

		if a.opts.DropNoSignalFrames {
			a.mu.Unlock()

			return
		}
	} else {
		if a.noSignalCount > NoSignalResetCount {
			a.mapping.Reset()
		}

		a.noSignalCount = 0
	}

	if arr.mode != nil && (arr.mode.FpsN != a.fpsN || arr.mode.FpsD != a.fpsD) {
		a.fpsN, a.fpsD = arr.mode.FpsN, arr.mode.FpsD
		a.mapping.SetFrameRate(a.fpsN, a.fpsD)
	}

	capture := subClamp(arr.capture, a.opts.ClockOffset)
	m := a.mapping.Update(capture, stream)
	a.mu.Unlock()

	p := newPacket(audio)
	p.StreamTime = stream
	p.NoSignal = arr.noSignal

	if a.opts.OutputStreamTime {
		p.Timestamp = stream
	} else {
		p.Timestamp = m.Adjust(stream)
	}

	a.queue.Push(p)
	a.noteEvictions()
}

func (a *AudioSession) noteEvictions() {
	a.mu.Lock()
	skipped := a.roundSkipped
	a.roundSkipped = 0

	if a.skippedLast == 0 && skipped > 0 {
		a.logger.Warn("Starting to drop packets")
	}

	var ev *Event

	if skipped == 0 && a.skippedLast > 0 {
		ev = &Event{
			Type:    EventFramesDropped,
			Dropped: a.skippedLast,
			From:    a.skipFrom,
			To:      a.skipTo,
			Message: fmt.Sprintf("Dropped %d old packets from %v to %v", a.skippedLast, a.skipFrom, a.skipTo),
		}
		a.logger.Warn(ev.Message, zap.Uint("dropped", a.skippedLast))
		a.skippedLast = 0
	}

	a.skippedLast += skipped
	a.mu.Unlock()

	if ev != nil {
		a.emit(ev)
	}
}

// scaleTime computes v*num/den without overflowing the intermediate product.
func scaleTime(v, num, den uint64) uint64 {
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return ^uint64(0)
	}

	q, _ := bits.Div64(hi, lo, den)

	return q
}

func (a *AudioSession) offsetAt(ts time.Duration) int64 {
	if ts <= 0 {
		return 0
	}

	return int64(scaleTime(uint64(ts), uint64(a.rate), uint64(time.Second)))
}

func (a *AudioSession) timeAt(offset int64) time.Duration {
	if offset <= 0 {
		return 0
	}

	return time.Duration(scaleTime(uint64(offset), uint64(time.Second), uint64(a.rate)))
}

// Create blocks for the next packet. Timestamps are smoothed onto a
// continuous sample count unless they jump by more than the alignment
// threshold for longer than the discont wait.
func (a *AudioSession) Create() (*AudioBuffer, error) {
	var waited time.Duration

	item, wait, err := a.pop()
	waited += wait

	if err != nil {
		return nil, err
	}

	p := item.(*packet)

	a.mu.Lock()

	events := a.signalLocked(p)
	samples := p.audio.SampleFrameCount()

	// the queue's reference moves to the buffer
	buf := &AudioBuffer{
		packet:     p,
		Samples:    samples,
		Timestamp:  p.Timestamp,
		StreamTime: p.StreamTime,
		Duration:   a.timeAt(int64(samples)),
	}

	if p.NoSignal {
		buf.Flags |= BufferGap
	}

	if p.Timestamp != timing.None {
		start := a.offsetAt(p.Timestamp)
		end := start + int64(samples)
		discont := a.nextOffset == -1

		if !discont {
			diff := start - a.nextOffset
			if diff < 0 {
				diff = -diff
			}

			maxDiff := a.offsetAt(a.opts.AlignmentThreshold)

			if diff >= maxDiff {
				if a.opts.DiscontWait > 0 {
					if a.discontTime == timing.None {
						a.discontTime = p.Timestamp
					} else if p.Timestamp-a.discontTime >= a.opts.DiscontWait {
						discont = true
						a.discontTime = timing.None
					}
				} else {
					discont = true
				}
			} else if a.discontTime != timing.None {
				a.logger.Debug("resynced before the discont wait ran out",
					zap.Duration("since", p.Timestamp-a.discontTime))
				a.discontTime = timing.None
			}
		}

		if discont {
			if a.nextOffset != -1 {
				a.logger.Warn("Unexpected discontinuity in audio timestamps",
					zap.Int64("expected", a.nextOffset), zap.Int64("got", start))
				a.counters.disconts++
				events = append(events, &Event{Type: EventDiscont, Message: fmt.Sprintf(
					"Unexpected discontinuity in audio timestamps of %v",
					a.timeAt(absInt64(start-a.nextOffset)))})
			}

			buf.Flags |= BufferDiscont
			buf.Offset = uint64(start)
			a.nextOffset = end
		} else {
			buf.Offset = uint64(a.nextOffset)
			buf.Timestamp = a.timeAt(a.nextOffset)
			a.nextOffset += int64(samples)
			buf.Duration = a.timeAt(a.nextOffset) - buf.Timestamp
		}
	}

	a.counters.delivered++
	a.mu.Unlock()

	buf.Data = p.audio.Bytes()
	if n := samples * a.BytesPerFrame(); n < len(buf.Data) {
		buf.Data = buf.Data[:n]
	}

	for _, e := range events {
		a.emit(e)
	}

	if a.opts.WaitObserver != nil {
		a.opts.WaitObserver(waited)
	}

	return buf, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}

	return v
}

func (a *AudioSession) signalLocked(p *packet) []*Event {
	if p.NoSignal {
		if a.signal != SignalLost {
			a.signal = SignalLost
			a.logger.Warn("Signal lost")

			return []*Event{{Type: EventSignalLost, Message: "Signal lost"}}
		}

		return nil
	}

	prev := a.signal
	a.signal = SignalAvailable

	if prev == SignalLost {
		a.logger.Info("Signal recovered")

		return []*Event{{Type: EventSignalRecovered, Message: "Signal recovered"}}
	}

	return nil
}

func (a *AudioSession) Stats() Stats {
	a.mu.Lock()
	st := Stats{
		ID:        a.id,
		Name:      a.opts.Name,
		Kind:      a.kind,
		Device:    a.opts.DeviceNumber,
		State:     a.state.String(),
		Signal:    a.signal.String(),
		Arrived:   a.counters.arrived,
		Skipped:   a.counters.skipped,
		NoSignal:  a.counters.noSignal,
		Evicted:   a.counters.evicted,
		Delivered: a.counters.delivered,
		Disconts:  a.counters.disconts,
		Mapping:   a.mapping.Stats(),
	}
	in := a.input
	a.mu.Unlock()

	st.Queue = a.queue.Stats()
	if in != nil {
		st.Clock = in.Clock().Stats()
	}

	return st
}
