package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTicker(t *testing.T) {
	var n int32

	t1 := NewTicker(5*time.Millisecond, func() {
		atomic.AddInt32(&n, 1)
	})

	time.Sleep(60 * time.Millisecond)
	t1.Stop()
	t1.Stop()

	got := atomic.LoadInt32(&n)
	if got == 0 {
		t.Fatal("ticker never fired")
	}

	time.Sleep(30 * time.Millisecond)

	if after := atomic.LoadInt32(&n); after > got+1 {
		t.Errorf("ticker kept firing after stop: %d -> %d", got, after)
	}
}
