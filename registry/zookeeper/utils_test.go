package zookeeper

import (
	"errors"
	"testing"

	"deckcap/registry"
)

func TestNodePath(t *testing.T) {
	l := &registry.Lease{ID: "x", Host: "studio-1", Device: 2, Kind: "video"}

	p, err := nodePath(registry.DefaultDomain, l)
	if err != nil {
		t.Fatal(err)
	}

	if p != "/deckcap-leases/deckcap_studio-1_2_video" {
		t.Fatalf("path %q", p)
	}

	if _, err := nodePath("a_b", l); !errors.Is(err, registry.ErrorInvalidKey) {
		t.Fatalf("got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	l := &registry.Lease{ID: "x", Host: "h", Kind: "audio", ConfigHash: 42}

	b, err := encode(l)
	if err != nil {
		t.Fatal(err)
	}

	back, err := decode(b)
	if err != nil || *back != *l {
		t.Fatalf("%+v %v", back, err)
	}
}
