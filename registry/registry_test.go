package registry

import (
	"errors"
	"testing"
)

func TestKeyRoundTrip(t *testing.T) {
	l := &Lease{Host: "studio-1", Device: 3, Kind: "audio"}

	key, err := l.Key(DefaultDomain, "_")
	if err != nil {
		t.Fatal(err)
	}

	if key != "deckcap_studio-1_3_audio" {
		t.Fatalf("key %q", key)
	}

	back, err := ParseKey(key, "_")
	if err != nil {
		t.Fatal(err)
	}

	if back.Name() != l.Name() || back.Domain != DefaultDomain {
		t.Fatalf("parsed %+v", back)
	}

	if _, err := (&Lease{Host: "a_b", Kind: "video"}).Key(DefaultDomain, "_"); !errors.Is(err, ErrorInvalidKey) {
		t.Fatalf("got %v", err)
	}

	if _, err := ParseKey("deckcap_x_video", "_"); !errors.Is(err, ErrorInvalidKey) {
		t.Fatalf("got %v", err)
	}
}

func TestDiff(t *testing.T) {
	a := &Lease{ID: "1", Host: "h", Device: 0, Kind: "video"}
	b := &Lease{ID: "2", Host: "h", Device: 1, Kind: "video"}
	a2 := &Lease{ID: "3", Host: "h", Device: 0, Kind: "video"}

	events := Diff([]*Lease{a, b}, []*Lease{a2})
	if len(events) != 2 {
		t.Fatalf("%d events", len(events))
	}

	if events[0].Type != Update || events[0].Lease != a2 {
		t.Fatalf("first event %s", events[0].Type)
	}

	if events[1].Type != Delete || events[1].Lease != b {
		t.Fatalf("second event %s", events[1].Type)
	}

	if len(Diff([]*Lease{a}, []*Lease{a})) != 0 {
		t.Fatal("no change reported as change")
	}
}
