package addr

import (
	"net"
	"testing"
)

func TestExtractKeepsSpecificAddr(t *testing.T) {
	got, err := Extract("10.1.2.3")
	if err != nil || got != "10.1.2.3" {
		t.Fatalf("%q %v", got, err)
	}
}

func TestExtractPicksAnInterface(t *testing.T) {
	got, err := Extract("0.0.0.0")
	if err != nil {
		t.Skipf("no usable interface: %v", err)
	}

	if net.ParseIP(got) == nil {
		t.Fatalf("%q is not an ip", got)
	}
}

func TestLeaseHost(t *testing.T) {
	for _, tc := range []struct {
		listen string
		want   string
	}{
		{"192.168.1.5:9000", "192.168.1.5"},
		{"studio-a:9000", "studio-a"},
		{"studio-b", "studio-b"},
	} {
		got, err := LeaseHost(tc.listen)
		if err != nil || got != tc.want {
			t.Fatalf("%s: %q %v", tc.listen, got, err)
		}
	}

	if got, err := LeaseHost(":9000"); err != nil || got == "" {
		t.Fatalf("%q %v", got, err)
	}
}

func TestPrivateBlocks(t *testing.T) {
	if !isPrivateIP(net.ParseIP("172.16.4.1")) || isPrivateIP(net.ParseIP("8.8.8.8")) {
		t.Fatal("private block check")
	}
}
