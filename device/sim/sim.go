// Package sim is a software capture card. Every Device has one input whose
// hardware thread is whichever goroutine calls Deliver, Tick or Run.
package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deckcap/clock"
	"deckcap/device"
	"deckcap/log"
	"deckcap/util/framesync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultModel      = "Simulated Capture"
	DefaultSampleRate = 48000
)

var (
	ErrorNotStreaming = errors.New("streams are not running")
	ErrorNotEnabled   = errors.New("video input is not enabled")
	ErrorInvalidIndex = errors.New("no such simulated device")
)

type Options struct {
	Model           string
	Mode            device.ModeID
	Format          device.PixelFormat
	FormatDetection bool
	NoInput         bool
	// Latency is how long before the callback the frame finished capturing.
	Latency time.Duration
}

type Option func(*Options)

func OptionWithModel(m string) Option {
	return func(o *Options) {
		o.Model = m
	}
}

// OptionWithSignal sets the incoming signal.
func OptionWithSignal(mode device.ModeID, format device.PixelFormat) Option {
	return func(o *Options) {
		o.Mode = mode
		o.Format = format
	}
}

func OptionWithFormatDetection(b bool) Option {
	return func(o *Options) {
		o.FormatDetection = b
	}
}

func OptionWithoutInput() Option {
	return func(o *Options) {
		o.NoInput = true
	}
}

func OptionWithLatency(d time.Duration) Option {
	return func(o *Options) {
		o.Latency = d
	}
}

type Driver struct {
	devices []*Device
}

// NewDriver builds n devices sharing the same options.
func NewDriver(n int, opts ...Option) *Driver {
	o := Options{
		Model:           DefaultModel,
		Mode:            device.Mode1080p2398,
		Format:          device.Format8BitYUV,
		FormatDetection: true,
	}

	for _, opt := range opts {
		opt(&o)
	}

	d := &Driver{}
	for i := 0; i < n; i++ {
		d.devices = append(d.devices, newDevice(i, o))
	}

	return d
}

func (d *Driver) Devices() ([]device.Device, error) {
	res := make([]device.Device, 0, len(d.devices))
	for _, dev := range d.devices {
		res = append(res, dev)
	}

	return res, nil
}

func (d *Driver) Device(i int) (*Device, error) {
	if i < 0 || i >= len(d.devices) {
		return nil, errors.Wrapf(ErrorInvalidIndex, "index %d", i)
	}

	return d.devices[i], nil
}

// Outstanding sums unreleased frames and packets over all devices.
func (d *Driver) Outstanding() int64 {
	var n int64
	for _, dev := range d.devices {
		n += dev.Outstanding()
	}

	return n
}

type Device struct {
	info    device.Info
	opts    Options
	ref     *clock.Manual
	logger  *zap.Logger
	pending int64

	mu sync.Mutex
	cb device.Callback

	connection   device.Connection
	videoEnabled bool
	enabledMode  device.ModeID
	format       device.PixelFormat
	inputFlags   device.VideoInputFlags

	audioEnabled bool
	sampleRate   int
	sampleDepth  int
	channels     int

	streaming bool
	paused    bool

	signalMode   device.ModeID
	signalFormat device.PixelFormat
	noSignal     bool
	notified     bool
	frameFormat  device.PixelFormat

	streamTime time.Duration
	frames     uint64
	samples    uint64

	failStart error
	failClock bool

	calls []string

	pacer framesync.FrameSync
}

func newDevice(index int, o Options) *Device {
	return &Device{
		info: device.Info{
			Index:                   index,
			PersistentID:            int64(0x5100 + index),
			Model:                   o.Model,
			DisplayName:             fmt.Sprintf("%s (%d)", o.Model, index+1),
			HasInput:                !o.NoInput,
			SupportsFormatDetection: o.FormatDetection,
		},
		opts:         o,
		ref:          clock.NewManual(time.Hour),
		logger:       log.Named("sim", zap.Int("device", index)),
		signalMode:   o.Mode,
		signalFormat: o.Format,
		format:       device.Format8BitYUV,
	}
}

func (d *Device) Info() device.Info {
	return d.info
}

func (d *Device) Input() (device.Input, error) {
	if !d.info.HasInput {
		return nil, errors.Wrapf(device.ErrorNoInput, "device %d", d.info.Index)
	}

	return d, nil
}

func (d *Device) record(call string) {
	d.calls = append(d.calls, call)
}

// Calls returns the SDK calls made so far, in order.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := make([]string, len(d.calls))
	copy(res, d.calls)

	return res
}

func (d *Device) ResetCalls() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}

func (d *Device) EnableVideoInput(mode device.ModeID, format device.PixelFormat, flags device.VideoInputFlags) error {
	if _, err := device.LookupMode(mode); err != nil {
		return errors.WithMessagef(err, "device %d", d.info.Index)
	}

	if flags&device.VideoInputEnableFormatDetection != 0 && !d.info.SupportsFormatDetection {
		return errors.Wrapf(device.ErrorNotSupported, "device %d format detection", d.info.Index)
	}

	if format == device.FormatAuto {
		format = device.Format8BitYUV
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("EnableVideoInput")
	d.notified = false
	d.videoEnabled = true
	d.enabledMode = mode
	d.format = format
	d.inputFlags = flags

	return nil
}

func (d *Device) DisableVideoInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("DisableVideoInput")
	d.videoEnabled = false

	return nil
}

func (d *Device) EnableAudioInput(sampleRate, sampleDepth, channels int) error {
	if sampleRate != DefaultSampleRate {
		return errors.Wrapf(device.ErrorNotSupported, "sample rate %d", sampleRate)
	}

	if sampleDepth != 16 && sampleDepth != 32 {
		return errors.Wrapf(device.ErrorNotSupported, "sample depth %d", sampleDepth)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("EnableAudioInput")
	d.audioEnabled = true
	d.sampleRate = sampleRate
	d.sampleDepth = sampleDepth
	d.channels = channels

	return nil
}

func (d *Device) DisableAudioInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("DisableAudioInput")
	d.audioEnabled = false

	return nil
}

func (d *Device) StartStreams() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("StartStreams")

	if err := d.failStart; err != nil {
		d.failStart = nil

		return errors.WithMessagef(err, "device %d", d.info.Index)
	}

	if !d.videoEnabled && !d.audioEnabled {
		return errors.Wrapf(ErrorNotEnabled, "device %d", d.info.Index)
	}

	if !d.paused {
		d.streamTime = 0
		d.frames = 0
		d.samples = 0
	}

	d.streaming = true
	d.paused = false

	return nil
}

func (d *Device) StopStreams() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("StopStreams")
	d.streaming = false
	d.paused = false

	return nil
}

func (d *Device) PauseStreams() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("PauseStreams")

	if d.streaming {
		d.streaming = false
		d.paused = true
	}

	return nil
}

func (d *Device) FlushStreams() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("FlushStreams")

	return nil
}

func (d *Device) SetCallback(cb device.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cb = cb

	return nil
}

func (d *Device) SetConnection(c device.Connection) error {
	if c == device.ConnectionSVideo || c == device.ConnectionComponent {
		return errors.Wrapf(device.ErrorNotSupported, "connection %s", c)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.record("SetConnection")
	d.connection = c

	return nil
}

func (d *Device) HardwareReferenceClock() (time.Duration, error) {
	d.mu.Lock()
	fail := d.failClock
	d.mu.Unlock()

	if fail {
		return 0, errors.Wrapf(device.ErrorNotReady, "device %d reference clock", d.info.Index)
	}

	return d.ref.Time(), nil
}

// Reference is the device's free-running clock.
func (d *Device) Reference() *clock.Manual {
	return d.ref
}

// FailNextStart makes the next StartStreams return err.
func (d *Device) FailNextStart(err error) {
	d.mu.Lock()
	d.failStart = err
	d.mu.Unlock()
}

func (d *Device) FailClock(fail bool) {
	d.mu.Lock()
	d.failClock = fail
	d.mu.Unlock()
}

// ForceFrameFormat makes frames claim format f regardless of the enabled
// input, like hardware that converts on its own. FormatAuto turns it off.
func (d *Device) ForceFrameFormat(f device.PixelFormat) {
	d.mu.Lock()
	d.frameFormat = f
	d.mu.Unlock()
}

func (d *Device) SetNoSignal(b bool) {
	d.mu.Lock()
	d.noSignal = b
	d.mu.Unlock()
}

func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.streaming
}

func (d *Device) Outstanding() int64 {
	return atomic.LoadInt64(&d.pending)
}

// Signal reports the incoming signal.
func (d *Device) Signal() (device.ModeID, device.PixelFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.signalMode, d.signalFormat
}

func detectedFlags(f device.PixelFormat) device.DetectedFlags {
	switch f {
	case device.Format10BitYUV:
		return device.DetectedYCbCr422 | device.Detected10BitDepth
	case device.Format8BitARGB, device.Format8BitBGRA:
		return device.DetectedRGB444 | device.Detected8BitDepth
	case device.Format10BitRGB:
		return device.DetectedRGB444 | device.Detected10BitDepth
	default:
		return device.DetectedYCbCr422 | device.Detected8BitDepth
	}
}

// TriggerFormatChange switches the incoming signal. With format detection
// enabled the callback is told on the calling goroutine and its error is
// returned.
func (d *Device) TriggerFormatChange(mode device.ModeID, format device.PixelFormat) error {
	if _, err := device.LookupMode(mode); err != nil {
		return errors.WithMessagef(err, "device %d", d.info.Index)
	}

	d.mu.Lock()
	d.signalMode = mode
	d.signalFormat = format
	cb := d.cb
	detect := d.detectLocked() && d.streaming
	d.notified = detect
	d.mu.Unlock()

	if !detect || cb == nil {
		return nil
	}

	d.logger.Info("format changed", zap.Stringer("mode", mode), zap.Stringer("format", format))

	return cb.FormatChanged(device.DisplayModeChanged|device.ColorspaceChanged, mode, detectedFlags(format))
}

func (d *Device) detectLocked() bool {
	return d.videoEnabled && d.inputFlags&device.VideoInputEnableFormatDetection != 0
}

// mismatchLocked reports whether the enabled input disagrees with the signal
// in a way format detection would notice.
func (d *Device) mismatchLocked() bool {
	if d.enabledMode != d.signalMode {
		return true
	}

	f, err := device.DetectPixelFormat(detectedFlags(d.signalFormat), d.format)

	return err == nil && f != d.format
}

// Deliver hands one frame interval to the callback on the calling
// goroutine. The reference clock is not advanced. When format detection is
// on and the signal differs from the enabled input, the callback first hears
// about the new format, once per signal change.
func (d *Device) Deliver() error {
	d.mu.Lock()

	if !d.streaming {
		d.mu.Unlock()

		return errors.Wrapf(ErrorNotStreaming, "device %d", d.info.Index)
	}

	notify := d.detectLocked() && d.mismatchLocked() && !d.notified
	mode, format, cb := d.signalMode, d.signalFormat, d.cb
	d.notified = d.notified || notify
	d.mu.Unlock()

	if notify && cb != nil {
		if err := cb.FormatChanged(device.DisplayModeChanged|device.ColorspaceChanged, mode, detectedFlags(format)); err != nil {
			d.logger.Warn("format change rejected", zap.Error(err))
		}
	}

	d.mu.Lock()

	if !d.streaming {
		d.mu.Unlock()

		return errors.Wrapf(ErrorNotStreaming, "device %d", d.info.Index)
	}

	m, err := device.LookupMode(d.signalMode)
	if err != nil {
		d.mu.Unlock()

		return errors.WithMessagef(err, "device %d", d.info.Index)
	}

	cb = d.cb
	now := d.ref.Time()
	duration := m.FrameDuration()

	var video *videoFrame
	if d.videoEnabled {
		flags := device.FrameFlags(0)
		if d.noSignal || d.mismatchLocked() {
			flags |= device.FrameHasNoInputSource
		}

		format := d.format
		if d.frameFormat != device.FormatAuto {
			format = d.frameFormat
		}

		video = &videoFrame{
			owner:      d,
			mode:       m,
			format:     format,
			flags:      flags,
			streamTime: d.streamTime,
			duration:   duration,
			hwTime:     now - d.opts.Latency,
			number:     d.frames,
			refs:       1,
		}
		video.data = make([]byte, format.RowBytes(m.Width)*m.Height)
		atomic.AddInt64(&d.pending, 1)
	}

	var audio *audioPacket
	if d.audioEnabled {
		// sample counts follow the frame rate exactly over time
		next := (d.frames + 1) * uint64(d.sampleRate) * uint64(m.FpsD) / uint64(m.FpsN)
		count := int(next - d.samples)
		audio = &audioPacket{
			owner:      d,
			count:      count,
			packetTime: d.streamTime,
			data:       make([]byte, count*d.channels*d.sampleDepth/8),
			refs:       1,
		}
		d.samples = next
		atomic.AddInt64(&d.pending, 1)
	}

	d.streamTime += duration
	d.frames++
	d.mu.Unlock()

	if cb != nil {
		var vf device.VideoFrame
		if video != nil {
			vf = video
		}

		var ap device.AudioPacket
		if audio != nil {
			ap = audio
		}

		cb.FrameArrived(vf, ap)
	}

	if video != nil {
		video.Release()
	}

	if audio != nil {
		audio.Release()
	}

	return nil
}

// Tick advances the reference clock by one frame and delivers it.
func (d *Device) Tick() error {
	mode, _ := d.Signal()

	m, err := device.LookupMode(mode)
	if err != nil {
		return errors.WithMessagef(err, "device %d", d.info.Index)
	}

	d.ref.Advance(m.FrameDuration())

	return d.Deliver()
}

type signalCmd struct {
	mode   device.ModeID
	format device.PixelFormat
}

type noSignalCmd struct {
	lost bool
}

// Run paces Tick at the signal frame rate until ctx ends. Changes sent
// through Schedule apply between frames on the same goroutine.
func (d *Device) Run(ctx context.Context) error {
	mode, _ := d.Signal()

	m, err := device.LookupMode(mode)
	if err != nil {
		return errors.WithMessagef(err, "device %d", d.info.Index)
	}

	var fs framesync.FrameSync

	fs = framesync.New(m.FpsN, m.FpsD, func(f *framesync.Frame) {
		for _, c := range f.Cmds {
			switch p := c.Payload.(type) {
			case *signalCmd:
				if err := d.TriggerFormatChange(p.mode, p.format); err != nil {
					d.logger.Warn("format change rejected", zap.Error(err))
				}

				if nm, err := device.LookupMode(p.mode); err == nil {
					fs.SetRate(nm.FpsN, nm.FpsD)
				}
			case *noSignalCmd:
				d.SetNoSignal(p.lost)
			}
		}

		if err := d.Tick(); err != nil && !errors.Is(err, ErrorNotStreaming) {
			d.logger.Warn("failed to deliver frame", zap.Error(err))
		}
	})

	fs.Init()
	go fs.Run()
	fs.Start()

	d.mu.Lock()
	d.pacer = fs
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	d.pacer = nil
	d.mu.Unlock()

	fs.Release()

	return ctx.Err()
}

// ScheduleFormatChange switches the signal between two paced frames, or
// immediately when Run is not active.
func (d *Device) ScheduleFormatChange(mode device.ModeID, format device.PixelFormat) error {
	d.mu.Lock()
	fs := d.pacer
	d.mu.Unlock()

	if fs == nil {
		return d.TriggerFormatChange(mode, format)
	}

	fs.Input(&framesync.Cmd{Payload: &signalCmd{mode: mode, format: format}})

	return nil
}

func (d *Device) ScheduleNoSignal(lost bool) {
	d.mu.Lock()
	fs := d.pacer
	d.mu.Unlock()

	if fs == nil {
		d.SetNoSignal(lost)

		return
	}

	fs.Input(&framesync.Cmd{Payload: &noSignalCmd{lost: lost}})
}
