package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrorUnknownMode = errors.New("unknown video mode")

type ModeID int

// ModeAuto asks the hardware to detect the incoming mode.
const ModeAuto ModeID = 0

const (
	ModeNTSC      ModeID = 1
	ModePAL       ModeID = 3
	Mode1080p2398 ModeID = 6
	Mode1080p25   ModeID = 8
	Mode1080i50   ModeID = 11
	Mode1080i5994 ModeID = 12
	Mode1080p5994 ModeID = 15
	Mode720p50    ModeID = 17
	Mode2160p25   ModeID = 33
)

type Colorimetry string

const (
	ColorimetryBT601  Colorimetry = "bt601"
	ColorimetryBT709  Colorimetry = "bt709"
	ColorimetryBT2020 Colorimetry = "bt2020"
)

type Mode struct {
	ID         ModeID      `json:"id"`
	Name       string      `json:"name"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FpsN       int         `json:"fps_n"`
	FpsD       int         `json:"fps_d"`
	Interlaced bool        `json:"interlaced"`
	Widescreen bool        `json:"widescreen"`
	Color      Colorimetry `json:"colorimetry"`
}

// FrameDuration is one frame at the mode rate, rounded down.
func (m *Mode) FrameDuration() time.Duration {
	return time.Duration(int64(time.Second) * int64(m.FpsD) / int64(m.FpsN))
}

// FrameDurationCeil is one frame at the mode rate, rounded up.
func (m *Mode) FrameDurationCeil() time.Duration {
	n := int64(time.Second) * int64(m.FpsD)

	return time.Duration((n + int64(m.FpsN) - 1) / int64(m.FpsN))
}

// TopFieldFirst reports the field order of interlaced modes. NTSC
// derived modes are bottom field first.
func (m *Mode) TopFieldFirst() bool {
	return m.Interlaced && m.Height != 486
}

func (m *Mode) String() string {
	return fmt.Sprintf("%s %dx%d%s %d/%d", m.Name, m.Width, m.Height,
		map[bool]string{true: "i", false: "p"}[m.Interlaced], m.FpsN, m.FpsD)
}

const (
	sd  = ColorimetryBT601
	hd  = ColorimetryBT709
	uhd = ColorimetryBT2020
)

var modes = []Mode{
	{1, "ntsc", 720, 486, 30000, 1001, true, false, sd},
	{2, "ntsc2398", 720, 486, 24000, 1001, true, false, sd},
	{3, "pal", 720, 576, 25, 1, true, false, sd},
	{4, "ntsc-p", 720, 486, 30000, 1001, false, false, sd},
	{5, "pal-p", 720, 576, 25, 1, false, false, sd},

	{6, "1080p2398", 1920, 1080, 24000, 1001, false, false, hd},
	{7, "1080p24", 1920, 1080, 24, 1, false, false, hd},
	{8, "1080p25", 1920, 1080, 25, 1, false, false, hd},
	{9, "1080p2997", 1920, 1080, 30000, 1001, false, false, hd},
	{10, "1080p30", 1920, 1080, 30, 1, false, false, hd},

	{11, "1080i50", 1920, 1080, 25, 1, true, false, hd},
	{12, "1080i5994", 1920, 1080, 30000, 1001, true, false, hd},
	{13, "1080i60", 1920, 1080, 30, 1, true, false, hd},

	{14, "1080p50", 1920, 1080, 50, 1, false, false, hd},
	{15, "1080p5994", 1920, 1080, 60000, 1001, false, false, hd},
	{16, "1080p60", 1920, 1080, 60, 1, false, false, hd},

	{17, "720p50", 1280, 720, 50, 1, false, false, hd},
	{18, "720p5994", 1280, 720, 60000, 1001, false, false, hd},
	{19, "720p60", 1280, 720, 60, 1, false, false, hd},

	{20, "1556p2398", 2048, 1556, 24000, 1001, false, false, hd},
	{21, "1556p24", 2048, 1556, 24, 1, false, false, hd},
	{22, "1556p25", 2048, 1556, 25, 1, false, false, hd},

	{23, "2kdcip2398", 2048, 1080, 24000, 1001, false, false, hd},
	{24, "2kdcip24", 2048, 1080, 24, 1, false, false, hd},
	{25, "2kdcip25", 2048, 1080, 25, 1, false, false, hd},
	{26, "2kdcip2997", 2048, 1080, 30000, 1001, false, false, hd},
	{27, "2kdcip30", 2048, 1080, 30, 1, false, false, hd},
	{28, "2kdcip50", 2048, 1080, 50, 1, false, false, hd},
	{29, "2kdcip5994", 2048, 1080, 60000, 1001, false, false, hd},
	{30, "2kdcip60", 2048, 1080, 60, 1, false, false, hd},

	{31, "2160p2398", 3840, 2160, 24000, 1001, false, false, uhd},
	{32, "2160p24", 3840, 2160, 24, 1, false, false, uhd},
	{33, "2160p25", 3840, 2160, 25, 1, false, false, uhd},
	{34, "2160p2997", 3840, 2160, 30000, 1001, false, false, uhd},
	{35, "2160p30", 3840, 2160, 30, 1, false, false, uhd},
	{36, "2160p50", 3840, 2160, 50, 1, false, false, uhd},
	{37, "2160p5994", 3840, 2160, 60000, 1001, false, false, uhd},
	{38, "2160p60", 3840, 2160, 60, 1, false, false, uhd},

	{39, "ntsc-widescreen", 720, 486, 30000, 1001, true, true, sd},
	{40, "ntsc2398-widescreen", 720, 486, 24000, 1001, true, true, sd},
	{41, "pal-widescreen", 720, 576, 25, 1, true, true, sd},
	{42, "ntsc-p-widescreen", 720, 486, 30000, 1001, false, true, sd},
	{43, "pal-p-widescreen", 720, 576, 25, 1, false, true, sd},

	{44, "4kdcip2398", 4096, 2160, 24000, 1001, false, false, uhd},
	{45, "4kdcip24", 4096, 2160, 24, 1, false, false, uhd},
	{46, "4kdcip25", 4096, 2160, 25, 1, false, false, uhd},
	{47, "4kdcip2997", 4096, 2160, 30000, 1001, false, false, uhd},
	{48, "4kdcip30", 4096, 2160, 30, 1, false, false, uhd},
	{49, "4kdcip50", 4096, 2160, 50, 1, false, false, uhd},
	{50, "4kdcip5994", 4096, 2160, 60000, 1001, false, false, uhd},
	{51, "4kdcip60", 4096, 2160, 60, 1, false, false, uhd},

	{52, "4320p2398", 7680, 4320, 24000, 1001, false, false, uhd},
	{53, "4320p24", 7680, 4320, 24, 1, false, false, uhd},
	{54, "4320p25", 7680, 4320, 25, 1, false, false, uhd},
	{55, "4320p2997", 7680, 4320, 30000, 1001, false, false, uhd},
	{56, "4320p30", 7680, 4320, 30, 1, false, false, uhd},
	{57, "4320p50", 7680, 4320, 50, 1, false, false, uhd},
	{58, "4320p5994", 7680, 4320, 60000, 1001, false, false, uhd},
	{59, "4320p60", 7680, 4320, 60, 1, false, false, uhd},

	{60, "8kdcip2398", 8192, 4320, 24000, 1001, false, false, uhd},
	{61, "8kdcip24", 8192, 4320, 24, 1, false, false, uhd},
	{62, "8kdcip25", 8192, 4320, 25, 1, false, false, uhd},
	{63, "8kdcip2997", 8192, 4320, 30000, 1001, false, false, uhd},
	{64, "8kdcip30", 8192, 4320, 30, 1, false, false, uhd},
	{65, "8kdcip50", 8192, 4320, 50, 1, false, false, uhd},
	{66, "8kdcip5994", 8192, 4320, 60000, 1001, false, false, uhd},
	{67, "8kdcip60", 8192, 4320, 60, 1, false, false, uhd},
}

// Modes lists every known mode, ModeAuto excluded.
func Modes() []Mode {
	res := make([]Mode, len(modes))
	copy(res, modes)

	return res
}

// LookupMode returns the mode for id. ModeAuto yields NTSC, which auto
// detection starts from.
func LookupMode(id ModeID) (*Mode, error) {
	if id == ModeAuto {
		id = ModeNTSC
	}

	for i := range modes {
		if modes[i].ID == id {
			m := modes[i]

			return &m, nil
		}
	}

	return nil, fmt.Errorf("mode %d %w", id, ErrorUnknownMode)
}

func ParseMode(name string) (ModeID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		return ModeAuto, nil
	}

	for i := range modes {
		if modes[i].Name == name {
			return modes[i].ID, nil
		}
	}

	return ModeAuto, fmt.Errorf("mode %q %w", name, ErrorUnknownMode)
}

func (id ModeID) String() string {
	if id == ModeAuto {
		return "auto"
	}

	if m, err := LookupMode(id); err == nil {
		return m.Name
	}

	return fmt.Sprintf("mode(%d)", int(id))
}

// Widescreen returns the widescreen variant of an SD mode, or id itself.
func (id ModeID) Widescreen() ModeID {
	m, err := LookupMode(id)
	if err != nil || m.Widescreen {
		return id
	}

	for i := range modes {
		w := &modes[i]
		if w.Widescreen && w.Width == m.Width && w.Height == m.Height &&
			w.FpsN == m.FpsN && w.FpsD == m.FpsD && w.Interlaced == m.Interlaced {
			return w.ID
		}
	}

	return id
}
