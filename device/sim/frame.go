package sim

import (
	"sync/atomic"
	"time"

	"deckcap/device"

	"github.com/pkg/errors"
)

type videoFrame struct {
	owner      *Device
	mode       *device.Mode
	format     device.PixelFormat
	flags      device.FrameFlags
	data       []byte
	streamTime time.Duration
	duration   time.Duration
	hwTime     time.Duration
	number     uint64
	refs       int32
}

func (f *videoFrame) Bytes() []byte {
	return f.data
}

func (f *videoFrame) RowBytes() int {
	return f.format.RowBytes(f.mode.Width)
}

func (f *videoFrame) Width() int {
	return f.mode.Width
}

func (f *videoFrame) Height() int {
	return f.mode.Height
}

func (f *videoFrame) PixelFormat() device.PixelFormat {
	return f.format
}

func (f *videoFrame) Flags() device.FrameFlags {
	return f.flags
}

func (f *videoFrame) StreamTime() (time.Duration, time.Duration, error) {
	return f.streamTime, f.duration, nil
}

func (f *videoFrame) HardwareReferenceTimestamp() (time.Duration, time.Duration, error) {
	return f.hwTime, f.duration, nil
}

// Timecode counts frames since the streams started at the nominal rate.
func (f *videoFrame) Timecode(format device.TimecodeFormat) (uint8, uint8, uint8, uint8, device.TimecodeFlags, error) {
	if format == device.TimecodeSerial || f.flags&device.FrameHasNoInputSource != 0 {
		return 0, 0, 0, 0, 0, errors.Wrapf(device.ErrorNotSupported, "timecode %s", format)
	}

	fps := uint64((f.mode.FpsN + f.mode.FpsD - 1) / f.mode.FpsD)
	n := f.number
	frames := n % fps
	secs := n / fps

	return uint8(secs / 3600 % 24), uint8(secs / 60 % 60), uint8(secs % 60), uint8(frames), 0, nil
}

func (f *videoFrame) AddRef() {
	atomic.AddInt32(&f.refs, 1)
}

func (f *videoFrame) Release() {
	switch n := atomic.AddInt32(&f.refs, -1); {
	case n == 0:
		atomic.AddInt64(&f.owner.pending, -1)
		f.data = nil
	case n < 0:
		panic("sim: video frame released too often")
	}
}

type audioPacket struct {
	owner      *Device
	count      int
	packetTime time.Duration
	data       []byte
	refs       int32
}

func (p *audioPacket) Bytes() []byte {
	return p.data
}

func (p *audioPacket) SampleFrameCount() int {
	return p.count
}

func (p *audioPacket) PacketTime() (time.Duration, error) {
	return p.packetTime, nil
}

func (p *audioPacket) AddRef() {
	atomic.AddInt32(&p.refs, 1)
}

func (p *audioPacket) Release() {
	switch n := atomic.AddInt32(&p.refs, -1); {
	case n == 0:
		atomic.AddInt64(&p.owner.pending, -1)
		p.data = nil
	case n < 0:
		panic("sim: audio packet released too often")
	}
}
