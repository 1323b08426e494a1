// Package device is the contract between the capture core and a hardware
// capture SDK binding.
package device

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrorNotSupported = errors.New("operation not supported by device")
	ErrorNoInput      = errors.New("device has no input")
	ErrorNotReady     = errors.New("hardware not ready")
)

type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "video":
		*k = KindVideo
	case "audio":
		*k = KindAudio
	default:
		return fmt.Errorf("kind %q %w", b, ErrorNotSupported)
	}

	return nil
}

type Info struct {
	Index                   int    `json:"index"`
	PersistentID            int64  `json:"persistent_id"`
	Model                   string `json:"model"`
	DisplayName             string `json:"display_name"`
	HasInput                bool   `json:"has_input"`
	HasOutput               bool   `json:"has_output"`
	SupportsFormatDetection bool   `json:"supports_format_detection"`
}

// Driver enumerates the devices of one SDK binding. Platform setup the SDK
// needs happens when the driver is constructed.
type Driver interface {
	Devices() ([]Device, error)
}

type Device interface {
	Info() Info
	// Input returns the capture half of the device, or ErrorNoInput.
	Input() (Input, error)
}

type VideoInputFlags uint32

const (
	VideoInputEnableFormatDetection VideoInputFlags = 1 << iota
)

type FormatChangeEvents uint32

const (
	DisplayModeChanged FormatChangeEvents = 1 << iota
	FieldDominanceChanged
	ColorspaceChanged
)

// Callback is invoked on the SDK's own goroutine.
type Callback interface {
	FormatChanged(events FormatChangeEvents, mode ModeID, flags DetectedFlags) error
	// FrameArrived hands over video and audio of one frame interval; either
	// may be nil. The callee releases what it keeps.
	FrameArrived(video VideoFrame, audio AudioPacket)
}

type Input interface {
	EnableVideoInput(mode ModeID, format PixelFormat, flags VideoInputFlags) error
	DisableVideoInput() error
	EnableAudioInput(sampleRate, sampleDepth, channels int) error
	DisableAudioInput() error

	StartStreams() error
	StopStreams() error
	PauseStreams() error
	FlushStreams() error

	SetCallback(cb Callback) error
	SetConnection(c Connection) error

	// HardwareReferenceClock reads the free-running device clock.
	HardwareReferenceClock() (time.Duration, error)
}

type FrameFlags uint32

const (
	FrameHasNoInputSource FrameFlags = 1 << iota
)

type VideoFrame interface {
	Bytes() []byte
	RowBytes() int
	Width() int
	Height() int
	PixelFormat() PixelFormat
	Flags() FrameFlags

	StreamTime() (ts, duration time.Duration, err error)
	HardwareReferenceTimestamp() (ts, duration time.Duration, err error)
	// Timecode returns the raw timecode components.
	Timecode(format TimecodeFormat) (hours, minutes, seconds, frames uint8, flags TimecodeFlags, err error)

	AddRef()
	Release()
}

type AudioPacket interface {
	Bytes() []byte
	SampleFrameCount() int
	PacketTime() (time.Duration, error)

	AddRef()
	Release()
}
