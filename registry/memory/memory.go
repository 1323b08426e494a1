// Package memory is an in-process lease registry with TTL expiry.
package memory

import (
	"fmt"
	"sync"
	"time"

	"deckcap/registry"
	"deckcap/util/timer"
)

type entry struct {
	lease   registry.Lease
	expires time.Time
}

type memreg struct {
	opts registry.Options
	now  func() time.Time

	sync.Mutex
	leases   map[string]map[string]*entry
	watchers []*watcher
}

type watcher struct {
	ticker timer.Ticker
	leases []*registry.Lease
	opts   registry.WatchOptions
}

func NewRegistry(opts ...registry.Option) registry.Registry {
	return newRegistry(time.Now, opts...)
}

func newRegistry(now func() time.Time, opts ...registry.Option) *memreg {
	m := &memreg{
		now:    now,
		leases: make(map[string]map[string]*entry),
	}

	for _, o := range opts {
		o(&m.opts)
	}

	return m
}

func (m *memreg) Init() error {
	return nil
}

func (m *memreg) domainLocked(d string) map[string]*entry {
	dm, ok := m.leases[d]
	if !ok {
		dm = make(map[string]*entry)
		m.leases[d] = dm
	}

	now := m.now()
	for k, e := range dm {
		if now.After(e.expires) {
			delete(dm, k)
		}
	}

	return dm
}

func (m *memreg) Register(l *registry.Lease, opt ...registry.RegisterOption) error {
	opts := registry.NewRegisterOptions(opt...)

	if _, err := l.Key(opts.Domain, "/"); err != nil {
		return err
	}

	m.Lock()
	defer m.Unlock()

	dm := m.domainLocked(opts.Domain)
	name := l.Name()

	if e, ok := dm[name]; ok && e.lease.ID != l.ID {
		return fmt.Errorf("%s owned by %s %w", name, e.lease.ID, registry.ErrorLeaseHeld)
	}

	lease := *l
	lease.Domain = opts.Domain
	dm[name] = &entry{lease: lease, expires: m.now().Add(opts.TTL)}

	return nil
}

func (m *memreg) DeRegister(l *registry.Lease, opt ...registry.DeregisterOption) error {
	opts := registry.NewDeregisterOptions(opt...)

	m.Lock()
	defer m.Unlock()

	dm := m.domainLocked(opts.Domain)
	name := l.Name()

	e, ok := dm[name]
	if !ok {
		return nil
	}

	if e.lease.ID != l.ID {
		return fmt.Errorf("%s owned by %s %w", name, e.lease.ID, registry.ErrorLeaseHeld)
	}

	delete(dm, name)

	return nil
}

func (m *memreg) ListLeases(opt ...registry.ListOption) ([]*registry.Lease, error) {
	opts := registry.NewListOptions(opt...)

	m.Lock()
	defer m.Unlock()

	var res []*registry.Lease

	for d := range m.leases {
		if opts.Domain != registry.WildcardDomain && d != opts.Domain {
			continue
		}

		for _, e := range m.domainLocked(d) {
			l := e.lease
			res = append(res, &l)
		}
	}

	registry.Sort(res)

	return res, nil
}

func (m *memreg) Watch(opt ...registry.WatchOption) error {
	opts := registry.NewWatchOptions(opt...)

	leases, err := m.ListLeases(registry.ListOptionWithDomain(opts.Domain))
	if err != nil {
		return err
	}

	w := &watcher{opts: opts, leases: leases}

	w.ticker = timer.NewTicker(opts.Interval, func() {
		cur, err := m.ListLeases(registry.ListOptionWithDomain(opts.Domain))
		if err != nil {
			return
		}

		for _, e := range registry.Diff(w.leases, cur) {
			if w.opts.EventHandler != nil {
				w.opts.EventHandler(e)
			}
		}

		w.leases = cur
	})

	m.Lock()
	defer m.Unlock()

	m.watchers = append(m.watchers, w)

	return nil
}

func (m *memreg) Options() registry.Options {
	return m.opts
}

func (m *memreg) Release() error {
	m.Lock()
	defer m.Unlock()

	for _, w := range m.watchers {
		w.ticker.Stop()
	}

	m.watchers = nil

	return nil
}

func (m *memreg) String() string {
	return "memory"
}
