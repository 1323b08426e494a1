package profile

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestServeAndHeap(t *testing.T) {
	p, err := Start("127.0.0.1:0", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	resp, err := http.Get("http://" + p.Addr().String() + "/debug/pprof/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	path := filepath.Join(t.TempDir(), "heap.prof")
	if err := WriteHeap(path); err != nil {
		t.Fatal(err)
	}

	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Fatalf("%v %v", fi, err)
	}
}
