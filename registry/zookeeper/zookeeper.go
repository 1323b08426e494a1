package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deckcap/log"
	"deckcap/registry"
	"deckcap/util/timer"

	hash "github.com/mitchellh/hashstructure/v2"
	"github.com/samuel/go-zookeeper/zk"
	"go.uber.org/zap"
)

const (
	DefaultProjectName string        = "/deckcap-leases"
	DefaultTimeout     time.Duration = 10 * time.Second
	DefaultFormat                    = hash.FormatV2
)

// leases are ephemeral znodes, so they expire with the session rather than
// by TTL
type zookeeperRegistry struct {
	client  *zk.Conn
	options registry.Options
	sync.Mutex

	watchers []*watcher
	register map[string]uint64
}

type watcher struct {
	ticker timer.Ticker
	leases []*registry.Lease
	opts   registry.WatchOptions
}

func NewRegistry(opts ...registry.Option) registry.Registry {
	var options registry.Options

	for _, o := range opts {
		o(&options)
	}

	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}

	c, _, err := zk.Connect(strings.Split(options.Addr, ","), options.Timeout)
	if err != nil {
		log.Error("zookeeper connect", zap.Error(err))

		return nil
	}

	if err := createPath(DefaultProjectName, []byte{}, 0, c); err != nil {
		log.Error("zookeeper create root", zap.Error(err))

		return nil
	}

	return &zookeeperRegistry{
		client:   c,
		options:  options,
		register: make(map[string]uint64),
	}
}

func (z *zookeeperRegistry) Init() error {
	return nil
}

func (z *zookeeperRegistry) Options() registry.Options {
	return z.options
}

func (z *zookeeperRegistry) String() string {
	return "zookeeper"
}

func (z *zookeeperRegistry) Register(l *registry.Lease, opt ...registry.RegisterOption) error {
	opts := registry.NewRegisterOptions(opt...)

	p, err := nodePath(opts.Domain, l)
	if err != nil {
		return err
	}

	lease := *l
	lease.Domain = opts.Domain

	h, err := hash.Hash(lease, DefaultFormat, nil)
	if err != nil {
		return fmt.Errorf("failed to hash %w", err)
	}

	z.Lock()
	v, ok := z.register[p]
	z.Unlock()

	exists, _, err := z.client.Exists(p)
	if err != nil {
		return fmt.Errorf("failed to find node exist %w", err)
	}

	if exists && ok && v == h {
		return nil
	}

	data, err := encode(&lease)
	if err != nil {
		return err
	}

	if exists {
		b, stat, err := z.client.Get(p)
		if err != nil {
			return fmt.Errorf("failed to get node %w", err)
		}

		owner, err := decode(b)
		if err == nil && owner.ID != l.ID {
			return fmt.Errorf("%s owned by %s %w", p, owner.ID, registry.ErrorLeaseHeld)
		}

		if _, err := z.client.Set(p, data, stat.Version); err != nil {
			return fmt.Errorf("failed to set node %w", err)
		}
	} else {
		err := createPath(p, data, zk.FlagEphemeral, z.client)
		if errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("%s %w", p, registry.ErrorLeaseHeld)
		}

		if err != nil {
			return fmt.Errorf("failed to createpath %w", err)
		}
	}

	z.Lock()
	z.register[p] = h
	z.Unlock()

	return nil
}

func (z *zookeeperRegistry) DeRegister(l *registry.Lease, opt ...registry.DeregisterOption) error {
	opts := registry.NewDeregisterOptions(opt...)

	p, err := nodePath(opts.Domain, l)
	if err != nil {
		return err
	}

	z.Lock()
	delete(z.register, p)
	z.Unlock()

	b, stat, err := z.client.Get(p)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to get node %w", err)
	}

	if owner, err := decode(b); err == nil && owner.ID != l.ID {
		return fmt.Errorf("%s owned by %s %w", p, owner.ID, registry.ErrorLeaseHeld)
	}

	if err := z.client.Delete(p, stat.Version); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete node %w", err)
	}

	return nil
}

func (z *zookeeperRegistry) ListLeases(opt ...registry.ListOption) ([]*registry.Lease, error) {
	opts := registry.NewListOptions(opt...)

	children, _, err := z.client.Children(DefaultProjectName)
	if err != nil {
		return nil, fmt.Errorf("failed to find node children %w", err)
	}

	var res []*registry.Lease

	for _, name := range children {
		key, err := registry.ParseKey(name, DefaultSeparator)
		if err != nil {
			continue
		}

		if opts.Domain != registry.WildcardDomain && key.Domain != opts.Domain {
			continue
		}

		b, _, err := z.client.Get(DefaultProjectName + "/" + name)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get node %w", err)
		}

		l, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %w", err)
		}

		res = append(res, l)
	}

	registry.Sort(res)

	return res, nil
}

func (z *zookeeperRegistry) Watch(opt ...registry.WatchOption) error {
	opts := registry.NewWatchOptions(opt...)

	leases, err := z.ListLeases(registry.ListOptionWithDomain(opts.Domain))
	if err != nil {
		return err
	}

	w := &watcher{
		opts:   opts,
		leases: leases,
	}

	w.ticker = timer.NewTicker(opts.Interval, func() {
		cur, err := z.ListLeases(registry.ListOptionWithDomain(opts.Domain))
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

	z.Lock()
	defer z.Unlock()

	z.watchers = append(z.watchers, w)

	return nil
}

func (z *zookeeperRegistry) Release() error {
	z.Lock()
	defer z.Unlock()

	for _, v := range z.watchers {
		v.ticker.Stop()
	}

	z.watchers = nil
	z.client.Close()

	return nil
}
