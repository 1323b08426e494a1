package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"deckcap/registry"
	"deckcap/util/timer"

	redigo "github.com/gomodule/redigo/redis"
)

var ErrorNoConn = errors.New("no redigo conn")

const (
	DefaultMaxIdle     uint32        = 10
	DefaultMaxActive   uint32        = 10
	DefaultIdleTimeout time.Duration = 1000 * time.Millisecond
	DefaultSeparator   string        = "_"
)

type redisreg struct {
	opts        registry.Options
	pool        *redigo.Pool
	maxIdle     uint32
	maxActive   uint32
	idleTimeout time.Duration
	db          int

	watchers []*watcher
	sync.Mutex
}

type watcher struct {
	ticker timer.Ticker
	leases []*registry.Lease
	opts   registry.WatchOptions
}

func encode(l *registry.Lease) ([]byte, error) {
	return json.Marshal(l)
}

func decode(b []byte) (*registry.Lease, error) {
	var l registry.Lease

	return &l, json.Unmarshal(b, &l)
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}

	return s
}

func NewRegistry(opts ...registry.Option) registry.Registry {
	reg := &redisreg{}

	for _, o := range opts {
		o(&reg.opts)
	}

	reg.maxIdle = DefaultMaxIdle
	reg.maxActive = DefaultMaxActive
	reg.idleTimeout = DefaultIdleTimeout

	if reg.opts.Context != nil {
		cfg, ok := reg.opts.Context.Value(redisRegistryConfigKey{}).(*redisRegistryConfig)
		if ok {
			reg.maxIdle = cfg.MaxIdle
			reg.maxActive = cfg.MaxActive
			reg.idleTimeout = cfg.IdleTimeout
		}

		if db, ok := reg.opts.Context.Value(redisRegistryDBKey{}).(int); ok {
			reg.db = db
		}
	}

	reg.pool = &redigo.Pool{
		MaxIdle:     int(reg.maxIdle),
		MaxActive:   int(reg.maxActive),
		IdleTimeout: reg.idleTimeout,
		Dial: func() (redigo.Conn, error) {
			c, err := redigo.Dial("tcp", reg.opts.Addr,
				redigo.DialDatabase(reg.db),
				redigo.DialConnectTimeout(reg.opts.Timeout))
			if err != nil {
				return nil, fmt.Errorf("failed to dial addr %w", err)
			}

			if reg.opts.Password == "" {
				return c, nil
			}

			if _, err := c.Do("AUTH", reg.opts.Password); err != nil {
				return nil, fmt.Errorf("failed to auth %w", err)
			}

			return c, nil
		},
	}

	return reg
}

func (r *redisreg) Init() error {
	c := r.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		return fmt.Errorf("failed to ping %w", err)
	}

	return nil
}

// Register claims the lease with SET NX, or refreshes it with SET XX when
// this owner already holds it.
func (r *redisreg) Register(l *registry.Lease, opt ...registry.RegisterOption) error {
	opts := registry.NewRegisterOptions(opt...)

	key, err := l.Key(opts.Domain, DefaultSeparator)
	if err != nil {
		return err
	}

	lease := *l
	lease.Domain = opts.Domain

	val, err := encode(&lease)
	if err != nil {
		return fmt.Errorf("failed to encode %w", err)
	}

	c := r.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	return register(c, key, val, l.ID, ttlSeconds(opts.TTL))
}

func register(c redigo.Conn, key string, val []byte, id string, ttl int64) error {
	ok, err := redigo.String(c.Do("SET", key, val, "NX", "EX", ttl))
	if err == nil && ok == "OK" {
		return nil
	}

	if err != nil && !errors.Is(err, redigo.ErrNil) {
		return fmt.Errorf("failed to set %w", err)
	}

	cur, err := redigo.Bytes(c.Do("GET", key))
	if errors.Is(err, redigo.ErrNil) {
		// expired in between
		if _, err := c.Do("SET", key, val, "NX", "EX", ttl); err != nil {
			return fmt.Errorf("failed to set %w", err)
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to get %w", err)
	}

	owner, err := decode(cur)
	if err != nil {
		return fmt.Errorf("failed to decode %w", err)
	}

	if owner.ID != id {
		return fmt.Errorf("%s owned by %s %w", key, owner.ID, registry.ErrorLeaseHeld)
	}

	if _, err := c.Do("SET", key, val, "XX", "EX", ttl); err != nil {
		return fmt.Errorf("failed to refresh %w", err)
	}

	return nil
}

func (r *redisreg) DeRegister(l *registry.Lease, opt ...registry.DeregisterOption) error {
	opts := registry.NewDeregisterOptions(opt...)

	key, err := l.Key(opts.Domain, DefaultSeparator)
	if err != nil {
		return err
	}

	c := r.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	cur, err := redigo.Bytes(c.Do("GET", key))
	if errors.Is(err, redigo.ErrNil) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to get %w", err)
	}

	if owner, err := decode(cur); err == nil && owner.ID != l.ID {
		return fmt.Errorf("%s owned by %s %w", key, owner.ID, registry.ErrorLeaseHeld)
	}

	if _, err := c.Do("DEL", key); err != nil {
		return fmt.Errorf("faild to del %w", err)
	}

	return nil
}

func (r *redisreg) ListLeases(opt ...registry.ListOption) ([]*registry.Lease, error) {
	opts := registry.NewListOptions(opt...)

	c := r.pool.Get()
	if c == nil {
		return nil, ErrorNoConn
	}

	defer c.Close()

	keys, err := redigo.Strings(c.Do("KEYS", opts.Domain+DefaultSeparator+"*"))
	if err != nil {
		return nil, fmt.Errorf("faild to get %w", err)
	}

	return listLeases(c, keys)
}

func listLeases(c redigo.Conn, keys []string) ([]*registry.Lease, error) {
	var res []*registry.Lease

	for _, k := range keys {
		if _, err := registry.ParseKey(k, DefaultSeparator); err != nil {
			continue
		}

		b, err := redigo.Bytes(c.Do("GET", k))
		if errors.Is(err, redigo.ErrNil) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get %w", err)
		}

		l, err := decode(b)
		if err != nil {
			continue
		}

		res = append(res, l)
	}

	registry.Sort(res)

	return res, nil
}

func (r *redisreg) Watch(opt ...registry.WatchOption) error {
	opts := registry.NewWatchOptions(opt...)

	leases, err := r.ListLeases(registry.ListOptionWithDomain(opts.Domain))
	if err != nil {
		return err
	}

	w := &watcher{
		opts:   opts,
		leases: leases,
	}

	w.ticker = timer.NewTicker(opts.Interval, func() {
		cur, err := r.ListLeases(registry.ListOptionWithDomain(opts.Domain))
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

	r.Lock()
	defer r.Unlock()

	r.watchers = append(r.watchers, w)

	return nil
}

func (r *redisreg) Options() registry.Options {
	return r.opts
}

func (r *redisreg) Release() error {
	r.Lock()
	defer r.Unlock()

	for _, v := range r.watchers {
		v.ticker.Stop()
	}

	r.watchers = nil

	return r.pool.Close()
}

func (r *redisreg) String() string {
	return "redis"
}
