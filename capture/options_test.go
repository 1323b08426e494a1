package capture

import (
	"errors"
	"testing"
	"time"

	"deckcap/device"
)

func TestParseOption(t *testing.T) {
	tests := []struct {
		key, value string
		want       string
	}{
		{"mode", "1080p25", "1080p25"},
		{"pixel_format", "10bit-yuv", "10bit-yuv"},
		{"connection", "sdi", "sdi"},
		{"buffer_size", "7", "7"},
		{"persistent_id", "0x5100", "20736"},
		{"skip_first_time", "250ms", "250ms"},
		{"drop_no_signal_frames", "true", "true"},
		{"timecode_format", "vitc", "vitc"},
		{"discont_wait", "2s", "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			opt, err := ParseOption(tt.key, tt.value)
			if err != nil {
				t.Fatal(err)
			}

			o := defaultOptions()
			opt(&o)

			got, err := o.Get(tt.key)
			if err != nil {
				t.Fatal(err)
			}

			if got != tt.want {
				t.Fatalf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestParseOptionErrors(t *testing.T) {
	for _, kv := range [][2]string{
		{"nope", "1"},
		{"mode", "1080p1000"},
		{"buffer_size", "many"},
		{"skip_first_time", "soon"},
	} {
		if _, err := ParseOption(kv[0], kv[1]); !errors.Is(err, ErrInvalidOption) {
			t.Fatalf("%s=%s: got %v", kv[0], kv[1], err)
		}
	}
}

func TestOptionKeysRoundTrip(t *testing.T) {
	o := defaultOptions()

	for _, k := range OptionKeys() {
		v, err := o.Get(k)
		if err != nil {
			t.Fatal(err)
		}

		opt, err := ParseOption(k, v)
		if err != nil {
			t.Fatalf("%s=%q does not parse back: %v", k, v, err)
		}

		opt(&o)
	}
}

func TestFingerprintIgnoresRuntimeFields(t *testing.T) {
	a := defaultOptions()
	b := defaultOptions()
	b.Name = "other"
	b.EventHandler = func(*Event) {}

	ha, err := a.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}

	hb, err := b.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}

	if ha != hb {
		t.Fatal("name and handler changed the fingerprint")
	}

	OptionWithMode(device.Mode1080i50)(&b)

	if hc, _ := b.Fingerprint(); hc == ha {
		t.Fatal("mode did not change the fingerprint")
	}
}

func TestValidate(t *testing.T) {
	o := defaultOptions()
	o.SkipFirstTime = -time.Second

	if err := o.validate(device.KindVideo); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("got %v", err)
	}
}

func TestHugeBufferSizeIsUsable(t *testing.T) {
	reg, drv, dev := newRig(t)

	opt, err := ParseOption("buffer_size", "1099511627776")
	if err != nil {
		t.Fatal(err)
	}

	vs := openVideo(t, reg, opt, OptionWithMode(device.Mode1080p2398))

	tick(t, dev, 3)

	if st := vs.Stats(); st.Queue.Len != 3 || st.Queue.Cap != 1<<40 {
		t.Fatalf("queue %+v", st.Queue)
	}

	closeAndCheckLeaks(t, drv, vs)
}
