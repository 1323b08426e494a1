// Package pipeline runs typed messages through a single goroutine.
package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"deckcap/log"

	"go.uber.org/zap"
)

var DefaultGoLen uint32 = 1

var (
	ErrorChanFull = errors.New("channel full")
	ErrorClosed   = errors.New("pipeline closed")
)

// GoFunc gets the whole message; the first element selects the handler.
type GoFunc func([]interface{})

type Pipeline struct {
	dropped uint64

	stopCh   chan struct{}
	isStopCh chan struct{}

	goCh    chan []interface{}
	goFuncs map[reflect.Type]GoFunc

	once   sync.Once
	closed int32
}

func NewPipeline(goLen uint32) *Pipeline {
	p := &Pipeline{}
	p.init(goLen)

	return p
}

func (p *Pipeline) init(goLen uint32) {
	if goLen == 0 {
		goLen = DefaultGoLen
	}

	p.stopCh = make(chan struct{})
	p.isStopCh = make(chan struct{})
	p.goCh = make(chan []interface{}, int(goLen))
	p.goFuncs = make(map[reflect.Type]GoFunc)
}

// Run dispatches until Stop, then drains what is already queued.
func (p *Pipeline) Run() {
	defer close(p.isStopCh)

GoEndFor:
	for {
		select {
		case <-p.stopCh:
			break GoEndFor
		case msg := <-p.goCh:
			p.execGo(msg)
		}
	}

	for {
		select {
		case msg := <-p.goCh:
			p.execGo(msg)
		default:
			return
		}
	}
}

func (p *Pipeline) execGo(msg []interface{}) {
	if len(msg) == 0 {
		return
	}

	t := reflect.TypeOf(msg[0])
	if f, ok := p.goFuncs[t]; ok {
		f(msg)

		return
	}

	log.Warn("dispatchMessage", zap.String("msgtype", fmt.Sprint(t)))
}

func (p *Pipeline) RegisterGo(m interface{}, f GoFunc) {
	if _, ok := p.goFuncs[reflect.TypeOf(m)]; ok {
		panic(fmt.Sprintf("msg %v: already registered", m))
	}

	p.goFuncs[reflect.TypeOf(m)] = f
}

// Stop ends Run and waits for it. Run must have been started.
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		atomic.StoreInt32(&p.closed, 1)
		close(p.stopCh)
		<-p.isStopCh
	})
}

// Go queues msg without blocking; a full queue drops it.
func (p *Pipeline) Go(msg ...interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrorClosed
	}

	select {
	case p.goCh <- msg:
	default:
		atomic.AddUint64(&p.dropped, 1)

		return ErrorChanFull
	}

	return nil
}

// Dropped counts messages Go could not queue.
func (p *Pipeline) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}
