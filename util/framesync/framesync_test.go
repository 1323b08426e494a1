package framesync

import (
	"sync"
	"testing"
	"time"
)

func TestFramesArriveInOrderWithCmds(t *testing.T) {
	var (
		mu     sync.Mutex
		frames []*Frame
	)

	got := make(chan struct{}, 64)

	fs := New(200, 1, func(f *Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()

		select {
		case got <- struct{}{}:
		default:
		}
	})

	fs.Init()
	go fs.Run()
	fs.Start()

	fs.Input(&Cmd{Payload: "switch"})

	for i := 0; i < 10; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("frames stopped")
		}
	}

	fs.Release()

	mu.Lock()
	defer mu.Unlock()

	cmds := 0

	for i, f := range frames {
		if f.Number != uint64(i) {
			t.Fatalf("frame %d numbered %d", i, f.Number)
		}

		if want := time.Duration(i) * 5 * time.Millisecond; f.At != want {
			t.Fatalf("frame %d at %v, want %v", i, f.At, want)
		}

		cmds += len(f.Cmds)
	}

	if cmds != 1 {
		t.Fatalf("cmd delivered %d times", cmds)
	}
}

func TestStopHaltsFrames(t *testing.T) {
	got := make(chan uint64, 256)

	fs := New(500, 1, func(f *Frame) {
		select {
		case got <- f.Number:
		default:
		}
	})
	fs.Init()
	go fs.Run()
	fs.Start()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}

	fs.Stop()
	n := fs.Frame()

	time.Sleep(30 * time.Millisecond)

	if fs.Frame() != n {
		t.Fatalf("frames advanced after stop: %d -> %d", n, fs.Frame())
	}

	fs.Release()
}
