package device

import (
	"errors"
	"testing"
	"time"
)

func TestLookupMode(t *testing.T) {
	m, err := LookupMode(ModeAuto)
	if err != nil || m.ID != ModeNTSC {
		t.Fatalf("auto gave %v, %v", m, err)
	}

	if _, err := LookupMode(ModeID(999)); !errors.Is(err, ErrorUnknownMode) {
		t.Fatalf("got %v", err)
	}

	for _, m := range Modes() {
		id, err := ParseMode(m.Name)
		if err != nil || id != m.ID {
			t.Fatalf("%s parsed to %v, %v", m.Name, id, err)
		}
	}
}

func TestFrameDuration(t *testing.T) {
	m, _ := LookupMode(Mode1080p2398)

	if d := m.FrameDuration(); d != 41708333*time.Nanosecond {
		t.Fatalf("floor %v", d)
	}

	if d := m.FrameDurationCeil(); d != 41708334*time.Nanosecond {
		t.Fatalf("ceil %v", d)
	}

	m, _ = LookupMode(Mode1080p25)
	if m.FrameDuration() != m.FrameDurationCeil() {
		t.Fatal("integer rates must not round")
	}
}

func TestFieldOrder(t *testing.T) {
	tests := []struct {
		id  ModeID
		tff bool
	}{
		{ModeNTSC, false},
		{ModePAL, true},
		{Mode1080i50, true},
		{Mode1080p25, false},
	}

	for _, tt := range tests {
		m, _ := LookupMode(tt.id)
		if m.TopFieldFirst() != tt.tff {
			t.Fatalf("%s top field first = %v", m.Name, !tt.tff)
		}
	}
}

func TestColorimetry(t *testing.T) {
	for id, want := range map[ModeID]Colorimetry{
		ModePAL:       ColorimetryBT601,
		Mode720p50:    ColorimetryBT709,
		Mode2160p25:   ColorimetryBT2020,
		Mode1080i50:   ColorimetryBT709,
		Mode1080p2398: ColorimetryBT709,
	} {
		m, _ := LookupMode(id)
		if m.Color != want {
			t.Fatalf("%s: %s, want %s", m.Name, m.Color, want)
		}
	}
}

func TestWidescreen(t *testing.T) {
	w := ModeNTSC.Widescreen()
	m, _ := LookupMode(w)

	if w == ModeNTSC || !m.Widescreen {
		t.Fatalf("no widescreen variant of ntsc: %v", w)
	}

	if Mode1080p25.Widescreen() != Mode1080p25 {
		t.Fatal("HD modes are their own widescreen variant")
	}
}

func TestDetectPixelFormat(t *testing.T) {
	tests := []struct {
		flags      DetectedFlags
		configured PixelFormat
		want       PixelFormat
	}{
		{DetectedYCbCr422 | Detected8BitDepth, FormatAuto, Format8BitYUV},
		{DetectedYCbCr422 | Detected10BitDepth, Format8BitYUV, Format10BitYUV},
		{DetectedRGB444 | Detected8BitDepth, FormatAuto, Format8BitARGB},
		{DetectedRGB444 | Detected8BitDepth, Format8BitBGRA, Format8BitBGRA},
		{DetectedRGB444 | Detected10BitDepth, FormatAuto, Format10BitRGB},
	}

	for _, tt := range tests {
		got, err := DetectPixelFormat(tt.flags, tt.configured)
		if err != nil || got != tt.want {
			t.Fatalf("0x%x/%s: %s, %v", uint32(tt.flags), tt.configured, got, err)
		}
	}

	if _, err := DetectPixelFormat(DetectedYCbCr422|Detected12BitDepth, FormatAuto); !errors.Is(err, ErrorUnsupportedFormat) {
		t.Fatalf("got %v", err)
	}
}

func TestRowBytes(t *testing.T) {
	if n := Format10BitYUV.RowBytes(1920); n != 5120 {
		t.Fatalf("v210 1920 = %d", n)
	}

	if n := Format8BitYUV.RowBytes(1920); n != 3840 {
		t.Fatalf("uyvy 1920 = %d", n)
	}
}

func TestTimecode(t *testing.T) {
	ntsc, _ := LookupMode(ModeNTSC)
	tc := NewTimecode(ntsc, 1, 2, 3, 4, 0)

	if !tc.DropFrame() || !tc.Interlaced() || tc.String() != "01:02:03;04" {
		t.Fatalf("ntsc timecode %s flags %b", tc, tc.Flags)
	}

	if tc.FieldCount != 0 {
		t.Fatalf("field count %d", tc.FieldCount)
	}

	p2398, _ := LookupMode(Mode1080p2398)
	tc = NewTimecode(p2398, 0, 0, 1, 0, TimecodeDropFrame)

	if tc.DropFrame() || tc.String() != "00:00:01:00" {
		t.Fatalf("23.98 timecode %s", tc)
	}

	p25, _ := LookupMode(Mode1080p25)
	if tc = NewTimecode(p25, 0, 0, 0, 0, TimecodeDropFrame); !tc.DropFrame() {
		t.Fatal("drop frame flag dropped at an integer rate")
	}
}

func TestParseNames(t *testing.T) {
	if c, err := ParseConnection("HDMI"); err != nil || c != ConnectionHDMI {
		t.Fatalf("%v %v", c, err)
	}

	if _, err := ParseConnection("rf"); !errors.Is(err, ErrorUnknownConnection) {
		t.Fatalf("got %v", err)
	}

	if f, err := ParseTimecodeFormat("rp188ltc"); err != nil || f != TimecodeRP188LTC {
		t.Fatalf("%v %v", f, err)
	}

	if f, err := ParsePixelFormat(""); err != nil || f != FormatAuto {
		t.Fatalf("%v %v", f, err)
	}

	var k Kind
	if err := k.UnmarshalText([]byte("audio")); err != nil || k != KindAudio {
		t.Fatalf("%v %v", k, err)
	}
}
