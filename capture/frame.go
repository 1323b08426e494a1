package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"deckcap/device"
	"deckcap/timing"
)

// Frame is a captured video frame as it sits in the queue. A Frame without
// a hardware frame marks a dropped no-signal frame.
type Frame struct {
	video device.VideoFrame
	refs  int32

	Timestamp        time.Duration
	Duration         time.Duration
	StreamTime       time.Duration
	StreamDuration   time.Duration
	HardwareTime     time.Duration
	HardwareDuration time.Duration

	Mode        device.ModeID
	Format      device.PixelFormat
	Colorimetry device.Colorimetry
	NoSignal    bool
	Timecode    *device.Timecode
}

// newFrame takes a reference on video.
func newFrame(video device.VideoFrame) *Frame {
	if video != nil {
		video.AddRef()
	}

	return &Frame{
		video:            video,
		refs:             1,
		Timestamp:        timing.None,
		Duration:         timing.None,
		StreamTime:       timing.None,
		StreamDuration:   timing.None,
		HardwareTime:     timing.None,
		HardwareDuration: timing.None,
	}
}

func (f *Frame) retain() {
	atomic.AddInt32(&f.refs, 1)
}

// Release drops one holder; the last one gives the frame back to the device.
func (f *Frame) Release() {
	if atomic.AddInt32(&f.refs, -1) != 0 {
		return
	}

	if f.video != nil {
		f.video.Release()
		f.video = nil
	}
}

func (f *Frame) empty() bool {
	return f.video == nil
}

type BufferFlags uint32

const (
	BufferGap BufferFlags = 1 << iota
	BufferInterlaced
	BufferTopFieldFirst
	BufferDiscont
)

// Caps describes the buffers that follow it.
type Caps struct {
	Mode        device.Mode        `json:"mode"`
	Format      device.PixelFormat `json:"format"`
	Colorimetry device.Colorimetry `json:"colorimetry"`
	FieldOrder  string             `json:"field_order,omitempty"`
}

func newCaps(m *device.Mode, f device.PixelFormat, c device.Colorimetry) *Caps {
	caps := &Caps{Mode: *m, Format: f, Colorimetry: c}
	if m.Interlaced {
		if m.TopFieldFirst() {
			caps.FieldOrder = "top-field-first"
		} else {
			caps.FieldOrder = "bottom-field-first"
		}
	}

	return caps
}

// Buffer is what Create hands out. Data stays valid until Release.
type Buffer struct {
	frame *Frame
	once  sync.Once

	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
	Flags     BufferFlags

	StreamTime       time.Duration
	StreamDuration   time.Duration
	HardwareTime     time.Duration
	HardwareDuration time.Duration

	Timecode *device.Timecode
	// Caps is set on the first buffer and whenever the format changed.
	Caps *Caps
}

func (b *Buffer) Release() {
	b.once.Do(func() {
		b.Data = nil
		if b.frame != nil {
			b.frame.Release()
		}
	})
}

func (b *Buffer) Has(f BufferFlags) bool {
	return b.Flags&f == f
}

// packet is a captured audio packet as it sits in the queue.
type packet struct {
	audio device.AudioPacket
	refs  int32

	Timestamp  time.Duration
	StreamTime time.Duration
	NoSignal   bool
}

func newPacket(audio device.AudioPacket) *packet {
	audio.AddRef()

	return &packet{audio: audio, refs: 1}
}

func (p *packet) Release() {
	if atomic.AddInt32(&p.refs, -1) != 0 {
		return
	}

	if p.audio != nil {
		p.audio.Release()
		p.audio = nil
	}
}

type AudioBuffer struct {
	packet *packet
	once   sync.Once

	Data      []byte
	Samples   int
	Offset    uint64
	Timestamp time.Duration
	Duration  time.Duration
	Flags     BufferFlags

	StreamTime time.Duration
}

func (b *AudioBuffer) Release() {
	b.once.Do(func() {
		b.Data = nil
		if b.packet != nil {
			b.packet.Release()
		}
	})
}

func (b *AudioBuffer) Has(f BufferFlags) bool {
	return b.Flags&f == f
}
