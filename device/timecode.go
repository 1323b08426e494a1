package device

import (
	"fmt"
)

type TimecodeFlags uint8

const (
	TimecodeDropFrame TimecodeFlags = 1 << iota
	TimecodeInterlaced
)

type Timecode struct {
	Hours      uint8         `json:"hours"`
	Minutes    uint8         `json:"minutes"`
	Seconds    uint8         `json:"seconds"`
	Frames     uint8         `json:"frames"`
	FieldCount uint8         `json:"field_count"`
	Flags      TimecodeFlags `json:"flags"`
	FpsN       int           `json:"fps_n"`
	FpsD       int           `json:"fps_d"`
}

// NewTimecode builds a timecode for mode m. Drivers do not always flag drop
// frame timecodes, so drop frame is forced at 29.97 and 59.94 and cleared at
// other 1001 rates where it is undefined.
func NewTimecode(m *Mode, hours, minutes, seconds, frames uint8, flags TimecodeFlags) *Timecode {
	if m.Interlaced {
		flags |= TimecodeInterlaced
	}

	if m.FpsD == 1001 {
		if m.FpsN == 30000 || m.FpsN == 60000 {
			flags |= TimecodeDropFrame
		} else {
			flags &^= TimecodeDropFrame
		}
	}

	return &Timecode{
		Hours:   hours,
		Minutes: minutes,
		Seconds: seconds,
		Frames:  frames,
		Flags:   flags,
		FpsN:    m.FpsN,
		FpsD:    m.FpsD,
	}
}

func (t *Timecode) DropFrame() bool {
	return t.Flags&TimecodeDropFrame != 0
}

func (t *Timecode) Interlaced() bool {
	return t.Flags&TimecodeInterlaced != 0
}

// String uses ';' before the frames for drop frame timecodes.
func (t *Timecode) String() string {
	sep := ":"
	if t.DropFrame() {
		sep = ";"
	}

	return fmt.Sprintf("%02d:%02d:%02d%s%02d", t.Hours, t.Minutes, t.Seconds, sep, t.Frames)
}
