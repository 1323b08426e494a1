package queue

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type item struct {
	seq      int
	released *int32
}

func (i *item) Release() {
	atomic.AddInt32(i.released, 1)
}

func newItem(seq int, released *int32) *item {
	return &item{seq: seq, released: released}
}

func TestPushKeepsNewest(t *testing.T) {
	var released int32

	q := New(3)
	for i := 1; i <= 10; i++ {
		q.Push(newItem(i, &released))
	}

	if q.Len() != 3 {
		t.Fatalf("len %d, want 3", q.Len())
	}

	for _, want := range []int{8, 9, 10} {
		it, err := q.Pop()
		if err != nil {
			t.Fatal(err)
		}

		if got := it.(*item).seq; got != want {
			t.Errorf("popped %d, want %d", got, want)
		}
	}

	if released != 7 {
		t.Errorf("released %d evicted items, want 7", released)
	}

	if s := q.Stats(); s.Evicted != 7 || s.Pushed != 10 || s.Popped != 3 {
		t.Errorf("stats %+v", s)
	}
}

func TestBoundAndFIFO(t *testing.T) {
	var released int32

	r := rand.New(rand.NewSource(1))

	for _, capacity := range []int{1, 2, 5, 16, 17, 40} {
		q := New(capacity)
		next, last := 0, -1

		for step := 0; step < 2000; step++ {
			if r.Intn(3) > 0 {
				q.Push(newItem(next, &released))
				next++
			} else if it, ok := q.TryPop(); ok {
				seq := it.(*item).seq
				if seq <= last {
					t.Fatalf("cap %d: popped %d after %d", capacity, seq, last)
				}

				last = seq
			}

			if q.Len() > capacity {
				t.Fatalf("cap %d: len %d", capacity, q.Len())
			}
		}
	}
}

func TestLargeCapacityGrowsOnDemand(t *testing.T) {
	var released int32

	q := New(1 << 40)
	if len(q.buf) > initialSlots {
		t.Fatalf("allocated %d slots up front", len(q.buf))
	}

	// wrap the ring before it has to grow
	for i := 0; i < 10; i++ {
		q.Push(newItem(-1, &released))
	}

	for i := 0; i < 10; i++ {
		q.TryPop()
	}

	for i := 0; i < 100; i++ {
		q.Push(newItem(i, &released))
	}

	if s := q.Stats(); s.Len != 100 || s.Evicted != 0 || s.Cap != 1<<40 {
		t.Fatalf("stats %+v", s)
	}

	for want := 0; want < 100; want++ {
		it, ok := q.TryPop()
		if !ok || it.(*item).seq != want {
			t.Fatalf("popped %v, want %d", it, want)
		}
	}
}

func TestOnEvict(t *testing.T) {
	var released int32

	var evicted []int

	q := New(2, OptionWithOnEvict(func(it Item) {
		evicted = append(evicted, it.(*item).seq)
	}))

	for i := 0; i < 5; i++ {
		if n := q.Push(newItem(i, &released)); (i < 2 && n != 0) || (i >= 2 && n != 1) {
			t.Errorf("push %d evicted %d", i, n)
		}
	}

	if len(evicted) != 3 || evicted[0] != 0 || evicted[2] != 2 {
		t.Errorf("evicted %v", evicted)
	}
}

func TestFlushUnblocksPop(t *testing.T) {
	q := New(5)
	done := make(chan error, 1)

	go func() {
		_, err := q.Pop()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.SetFlushing(true)

	select {
	case err := <-done:
		if !errors.Is(err, ErrFlushing) {
			t.Errorf("pop returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pop not woken by flush")
	}

	// idempotent
	q.SetFlushing(true)

	if _, err := q.Pop(); !errors.Is(err, ErrFlushing) {
		t.Errorf("pop while flushing returned %v", err)
	}
}

func TestFlushDropsStale(t *testing.T) {
	var released int32

	q := New(5)
	q.Push(newItem(1, &released))
	q.Push(newItem(2, &released))

	q.SetFlushing(true)
	q.Push(newItem(3, &released))

	if released != 1 {
		t.Errorf("push while flushing not released")
	}

	q.SetFlushing(false)

	if q.Len() != 0 || released != 3 {
		t.Fatalf("stale items kept: len %d released %d", q.Len(), released)
	}

	q.Push(newItem(4, &released))

	it, err := q.Pop()
	if err != nil || it.(*item).seq != 4 {
		t.Fatalf("got %v %v", it, err)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	var released int32

	q := New(4)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := 0; i < 5000; i++ {
			q.Push(newItem(i, &released))
		}
	}()

	last := -1
	got := 0

	for {
		it, ok := q.TryPop()
		if !ok {
			if q.Stats().Pushed == 5000 && q.Len() == 0 {
				break
			}

			continue
		}

		seq := it.(*item).seq
		if seq <= last {
			t.Fatalf("out of order %d after %d", seq, last)
		}

		last = seq
		got++
	}

	wg.Wait()

	if int(released)+got != 5000 {
		t.Errorf("lost items: released %d popped %d", released, got)
	}
}

func TestSetCapacity(t *testing.T) {
	var released int32

	q := New(5)
	for i := 0; i < 5; i++ {
		q.Push(newItem(i, &released))
	}

	q.SetCapacity(2)

	if q.Len() != 2 || q.Cap() != 2 || released != 3 {
		t.Fatalf("len %d cap %d released %d", q.Len(), q.Cap(), released)
	}

	it, _ := q.Pop()
	if it.(*item).seq != 3 {
		t.Errorf("head %d, want 3", it.(*item).seq)
	}
}
