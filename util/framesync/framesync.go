// Package framesync paces a handler at a rational frame rate.
package framesync

import (
	"sync"
	"time"

	"deckcap/log"
	"deckcap/util/pipeline"
	"deckcap/util/timer"

	"go.uber.org/zap"
)

var (
	// DefaultGiveUpFrameInterval caps how many late frames one tick catches up.
	DefaultGiveUpFrameInterval uint64 = 20
	DefaultTickDivisor                = 4
	DefaultPipelineLen         uint32 = 16
)

// Cmd rides along with the first frame at or after Frame.
type Cmd struct {
	Frame   uint64
	Payload interface{}
}

type Frame struct {
	Cmds   []*Cmd
	Number uint64
	// At is the nominal time of the frame since Start.
	At time.Duration
}

type Handler func(*Frame)

type FrameSync interface {
	Input(*Cmd)
	SetRate(fpsN, fpsD int)
	Frame() uint64
	Start()
	Stop()
	Release()
	Init()
	Run()
}

func New(fpsN, fpsD int, h Handler) FrameSync {
	f := &frameSync{
		giveUpFrameInterval: DefaultGiveUpFrameInterval,
		h:                   h,
	}
	f.SetRate(fpsN, fpsD)

	return f
}

type frameSync struct {
	sync.Mutex
	fpsN, fpsD          int
	frame               uint64
	giveUpFrameInterval uint64
	running             bool
	started             time.Time
	base                uint64
	t                   timer.Ticker
	pending             []*Cmd
	h                   Handler
	pip                 *pipeline.Pipeline
}

type updateMsg struct{}

func (f *frameSync) Init() {
	if f.pip == nil {
		f.pip = pipeline.NewPipeline(DefaultPipelineLen)
		f.pip.RegisterGo(&updateMsg{}, f.update)
		f.pip.RegisterGo(&Cmd{}, f.input)
	}
}

func (f *frameSync) Run() {
	f.pip.Run()
}

func (f *frameSync) SetRate(fpsN, fpsD int) {
	if fpsN <= 0 || fpsD <= 0 {
		fpsN, fpsD = 30, 1
	}

	f.Lock()
	defer f.Unlock()

	if f.running {
		// rebase so the new rate counts from the current frame
		f.base = f.frame
		f.started = time.Now()
	}

	f.fpsN, f.fpsD = fpsN, fpsD
}

func (f *frameSync) interval() time.Duration {
	d := time.Duration(int64(time.Second) * int64(f.fpsD) / int64(f.fpsN))
	if d /= time.Duration(DefaultTickDivisor); d < time.Millisecond {
		d = time.Millisecond
	}

	return d
}

func (f *frameSync) Start() {
	f.Lock()
	defer f.Unlock()

	if f.running {
		return
	}

	f.running = true
	f.frame = 0
	f.base = 0
	f.pending = nil
	f.started = time.Now()

	f.t = timer.NewTicker(f.interval(), func() {
		if err := f.pip.Go(&updateMsg{}); err != nil {
			log.Debug("FrameUpdate", zap.String("err", err.Error()))
		}
	})
}

func (f *frameSync) due() uint64 {
	elapsed := time.Since(f.started)

	return f.base + uint64(elapsed.Nanoseconds()*int64(f.fpsN)/(int64(time.Second)*int64(f.fpsD)))
}

func (f *frameSync) at(n uint64) time.Duration {
	return time.Duration(n * uint64(time.Second) * uint64(f.fpsD) / uint64(f.fpsN))
}

func (f *frameSync) update([]interface{}) {
	f.Lock()

	if !f.running {
		f.Unlock()

		return
	}

	due := f.due()
	if due > f.frame+f.giveUpFrameInterval {
		log.Warn("FrameUpdate", zap.Uint64("skipped", due-f.frame-f.giveUpFrameInterval))
		f.frame = due - f.giveUpFrameInterval
	}

	var frames []*Frame

	for ; f.frame < due; f.frame++ {
		fr := &Frame{Number: f.frame, At: f.at(f.frame)}

		rest := f.pending[:0]
		for _, c := range f.pending {
			if c.Frame <= f.frame {
				fr.Cmds = append(fr.Cmds, c)
			} else {
				rest = append(rest, c)
			}
		}

		f.pending = rest
		frames = append(frames, fr)
	}

	h := f.h
	f.Unlock()

	if h == nil {
		return
	}

	for _, fr := range frames {
		h(fr)
	}
}

func (f *frameSync) input(param []interface{}) {
	in, ok := param[0].(*Cmd)
	if !ok || in == nil {
		return
	}

	f.Lock()
	f.pending = append(f.pending, in)
	f.Unlock()
}

// Input queues a command; a zero Frame means the next frame.
func (f *frameSync) Input(in *Cmd) {
	if err := f.pip.Go(in); err != nil {
		log.Warn("FrameInput", zap.String("err", err.Error()))
	}
}

func (f *frameSync) Frame() uint64 {
	f.Lock()
	defer f.Unlock()

	return f.frame
}

func (f *frameSync) Release() {
	f.Stop()

	if f.pip == nil {
		return
	}

	f.pip.Stop()
}

func (f *frameSync) Stop() {
	f.Lock()
	defer f.Unlock()

	if !f.running {
		return
	}

	f.running = false
	f.t.Stop()
	f.t = nil
}
