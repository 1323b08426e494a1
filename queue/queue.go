package queue

import (
	"errors"
	"sync"
)

const (
	DefaultCapacity = 5

	// slots allocated up front; the ring grows toward the capacity on demand
	initialSlots = 16
)

var ErrFlushing = errors.New("queue is flushing")

// Item is a queued reference. Release is called exactly once when the queue
// drops the item instead of handing it out.
type Item interface {
	Release()
}

type Options struct {
	// OnEvict sees every item evicted for capacity, before it is released and
	// outside the queue lock.
	OnEvict func(Item)
}

type Option func(*Options)

func OptionWithOnEvict(f func(Item)) Option {
	return func(o *Options) {
		o.OnEvict = f
	}
}

type Stats struct {
	Len      int    `json:"len"`
	Cap      int    `json:"cap"`
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Evicted  uint64 `json:"evicted"`
	Discards uint64 `json:"discards"`
}

// Queue is a bounded FIFO between a producer that must never block and a
// consumer that waits. When full, the oldest item makes room for the newest.
type Queue struct {
	opts Options

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Item
	head     int
	n        int
	capacity int
	flushing bool

	pushed   uint64
	popped   uint64
	evicted  uint64
	discards uint64
}

func New(capacity int, opts ...Option) *Queue {
	q := &Queue{}

	for _, o := range opts {
		o(&q.opts)
	}

	if capacity < 1 {
		capacity = DefaultCapacity
	}

	q.capacity = capacity
	q.buf = make([]Item, minInt(capacity, initialSlots))
	q.cond = sync.NewCond(&q.mu)

	return q
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}

// resizeLocked moves the queued items to the front of a ring of size slots.
func (q *Queue) resizeLocked(slots int) {
	buf := make([]Item, slots)
	for i := 0; i < q.n; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}

	q.buf = buf
	q.head = 0
}

func (q *Queue) popHeadLocked() Item {
	it := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.n--

	return it
}

// Push appends item, evicting from the head while the queue is full. It
// returns the number of evicted items. While flushing the item is released
// instead.
func (q *Queue) Push(item Item) int {
	q.mu.Lock()

	if q.flushing {
		q.discards++
		q.mu.Unlock()
		item.Release()

		return 0
	}

	var evicted []Item
	for q.n >= q.capacity {
		evicted = append(evicted, q.popHeadLocked())
	}

	if q.n == len(q.buf) {
		q.resizeLocked(minInt(q.capacity, 2*len(q.buf)))
	}

	q.buf[(q.head+q.n)%len(q.buf)] = item
	q.n++
	q.pushed++
	q.evicted += uint64(len(evicted))
	q.cond.Signal()
	q.mu.Unlock()

	for _, it := range evicted {
		if q.opts.OnEvict != nil {
			q.opts.OnEvict(it)
		}

		it.Release()
	}

	return len(evicted)
}

// Pop blocks until an item is available or the queue is flushing.
func (q *Queue) Pop() (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.n == 0 && !q.flushing {
		q.cond.Wait()
	}

	if q.flushing {
		return nil, ErrFlushing
	}

	q.popped++

	return q.popHeadLocked(), nil
}

// TryPop returns immediately; ok is false when nothing is queued.
func (q *Queue) TryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 || q.flushing {
		return nil, false
	}

	q.popped++

	return q.popHeadLocked(), true
}

// SetFlushing(true) wakes every waiter with ErrFlushing. SetFlushing(false)
// resumes normal operation and releases whatever was queued before.
func (q *Queue) SetFlushing(flushing bool) {
	q.mu.Lock()

	q.flushing = flushing
	if flushing {
		q.cond.Broadcast()
		q.mu.Unlock()

		return
	}

	stale := q.drainLocked()
	q.mu.Unlock()

	for _, it := range stale {
		it.Release()
	}
}

func (q *Queue) drainLocked() []Item {
	var stale []Item
	for q.n > 0 {
		stale = append(stale, q.popHeadLocked())
	}

	q.discards += uint64(len(stale))

	return stale
}

// Drain releases every queued item without changing the flushing state.
func (q *Queue) Drain() int {
	q.mu.Lock()
	stale := q.drainLocked()
	q.mu.Unlock()

	for _, it := range stale {
		it.Release()
	}

	return len(stale)
}

func (q *Queue) Flushing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.flushing
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.n
}

func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.capacity
}

// SetCapacity resizes the queue, evicting the oldest items that no longer fit.
func (q *Queue) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	q.mu.Lock()

	var evicted []Item
	for q.n > capacity {
		evicted = append(evicted, q.popHeadLocked())
	}

	slots := initialSlots
	if q.n > slots {
		slots = q.n
	}

	q.resizeLocked(minInt(capacity, slots))
	q.capacity = capacity
	q.evicted += uint64(len(evicted))
	q.mu.Unlock()

	for _, it := range evicted {
		if q.opts.OnEvict != nil {
			q.opts.OnEvict(it)
		}

		it.Release()
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Len:      q.n,
		Cap:      q.capacity,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Evicted:  q.evicted,
		Discards: q.discards,
	}
}
