package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrorUnknownFormat     = errors.New("unknown pixel format")
	ErrorUnknownConnection = errors.New("unknown connection")
	ErrorUnsupportedFormat = errors.New("detected input format is not supported")
)

type PixelFormat int

const (
	FormatAuto PixelFormat = iota
	Format8BitYUV
	Format10BitYUV
	Format8BitARGB
	Format8BitBGRA
	Format10BitRGB
)

var formatNames = map[PixelFormat]string{
	FormatAuto:     "auto",
	Format8BitYUV:  "8bit-yuv",
	Format10BitYUV: "10bit-yuv",
	Format8BitARGB: "8bit-argb",
	Format8BitBGRA: "8bit-bgra",
	Format10BitRGB: "10bit-rgb",
}

func (f PixelFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}

	return fmt.Sprintf("format(%d)", int(f))
}

// BytesPerPixel is the nominal storage size; 10 bit formats pack into 4.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatAuto, Format8BitYUV:
		return 2
	default:
		return 4
	}
}

// Caps is the raw video format name of the pixel layout.
func (f PixelFormat) Caps() string {
	switch f {
	case Format10BitYUV:
		return "v210"
	case Format8BitARGB:
		return "ARGB"
	case Format8BitBGRA:
		return "BGRA"
	case Format10BitRGB:
		return "r210"
	default:
		return "UYVY"
	}
}

// RowBytes is the line stride for width pixels.
func (f PixelFormat) RowBytes(width int) int {
	switch f {
	case Format10BitYUV:
		// v210 packs 6 pixels in 16 bytes, lines aligned to 128 bytes
		return ((width + 47) / 48) * 128
	default:
		return width * f.BytesPerPixel()
	}
}

func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatAuto, nil
	}

	for k, v := range formatNames {
		if v == s {
			return k, nil
		}
	}

	return FormatAuto, fmt.Errorf("format %q %w", s, ErrorUnknownFormat)
}

// DetectedFlags describe what the hardware's format detection saw.
type DetectedFlags uint32

const (
	DetectedYCbCr422 DetectedFlags = 1 << iota
	DetectedRGB444
	Detected8BitDepth
	Detected10BitDepth
	Detected12BitDepth
)

// DetectPixelFormat maps detection flags to a capture format. 8 bit RGB
// cannot tell ARGB from BGRA, so ARGB is used unless BGRA was configured.
func DetectPixelFormat(flags DetectedFlags, configured PixelFormat) (PixelFormat, error) {
	switch {
	case flags&DetectedRGB444 != 0:
		if flags&Detected10BitDepth != 0 {
			return Format10BitRGB, nil
		}

		if flags&Detected8BitDepth != 0 {
			if configured == Format8BitBGRA {
				return Format8BitBGRA, nil
			}

			return Format8BitARGB, nil
		}
	case flags&DetectedYCbCr422 != 0:
		if flags&Detected10BitDepth != 0 {
			return Format10BitYUV, nil
		}

		if flags&Detected8BitDepth != 0 {
			return Format8BitYUV, nil
		}
	}

	return FormatAuto, fmt.Errorf("flags 0x%x %w", uint32(flags), ErrorUnsupportedFormat)
}

type Connection int

const (
	ConnectionAuto Connection = iota
	ConnectionSDI
	ConnectionHDMI
	ConnectionOpticalSDI
	ConnectionComponent
	ConnectionComposite
	ConnectionSVideo
)

var connectionNames = map[Connection]string{
	ConnectionAuto:       "auto",
	ConnectionSDI:        "sdi",
	ConnectionHDMI:       "hdmi",
	ConnectionOpticalSDI: "optical-sdi",
	ConnectionComponent:  "component",
	ConnectionComposite:  "composite",
	ConnectionSVideo:     "svideo",
}

func (c Connection) String() string {
	if s, ok := connectionNames[c]; ok {
		return s
	}

	return fmt.Sprintf("connection(%d)", int(c))
}

func ParseConnection(s string) (Connection, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ConnectionAuto, nil
	}

	for k, v := range connectionNames {
		if v == s {
			return k, nil
		}
	}

	return ConnectionAuto, fmt.Errorf("connection %q %w", s, ErrorUnknownConnection)
}

type TimecodeFormat int

const (
	TimecodeRP188VITC1 TimecodeFormat = iota
	TimecodeRP188VITC2
	TimecodeRP188LTC
	TimecodeRP188Any
	TimecodeVITC
	TimecodeVITCField2
	TimecodeSerial
)

var timecodeNames = map[TimecodeFormat]string{
	TimecodeRP188VITC1: "rp188vitc1",
	TimecodeRP188VITC2: "rp188vitc2",
	TimecodeRP188LTC:   "rp188ltc",
	TimecodeRP188Any:   "rp188any",
	TimecodeVITC:       "vitc",
	TimecodeVITCField2: "vitcfield2",
	TimecodeSerial:     "serial",
}

func (t TimecodeFormat) String() string {
	if s, ok := timecodeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("timecode(%d)", int(t))
}

func ParseTimecodeFormat(s string) (TimecodeFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range timecodeNames {
		if v == s {
			return k, nil
		}
	}

	return TimecodeRP188Any, fmt.Errorf("timecode format %q %w", s, ErrorUnknownFormat)
}
