package redis

import (
	"errors"
	"testing"

	"deckcap/registry"

	redigo "github.com/gomodule/redigo/redis"
)

// memConn answers the handful of commands the registry sends.
type memConn struct {
	kv  map[string][]byte
	ttl map[string]int64
}

func newMemConn() *memConn {
	return &memConn{kv: make(map[string][]byte), ttl: make(map[string]int64)}
}

func (c *memConn) Close() error { return nil }
func (c *memConn) Err() error   { return nil }
func (c *memConn) Flush() error { return nil }

func (c *memConn) Send(string, ...interface{}) error { return nil }

func (c *memConn) Receive() (interface{}, error) { return nil, nil }

func (c *memConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	switch cmd {
	case "SET":
		key := args[0].(string)
		_, exists := c.kv[key]

		switch args[2].(string) {
		case "NX":
			if exists {
				return nil, nil
			}
		case "XX":
			if !exists {
				return nil, nil
			}
		}

		c.kv[key] = args[1].([]byte)
		c.ttl[key] = args[4].(int64)

		return "OK", nil
	case "GET":
		v, ok := c.kv[args[0].(string)]
		if !ok {
			return nil, nil
		}

		return v, nil
	case "DEL":
		delete(c.kv, args[0].(string))

		return int64(1), nil
	}

	return nil, errors.New("unexpected " + cmd)
}

var _ redigo.Conn = (*memConn)(nil)

func TestRegisterClaimsAndRefreshes(t *testing.T) {
	c := newMemConn()
	l := &registry.Lease{ID: "a", Domain: registry.DefaultDomain, Host: "h", Kind: "video"}
	key, _ := l.Key(registry.DefaultDomain, DefaultSeparator)
	val, _ := encode(l)

	if err := register(c, key, val, "a", 30); err != nil {
		t.Fatal(err)
	}

	if err := register(c, key, val, "a", 45); err != nil {
		t.Fatal(err)
	}

	if c.ttl[key] != 45 {
		t.Fatalf("ttl %d", c.ttl[key])
	}

	if err := register(c, key, val, "b", 30); !errors.Is(err, registry.ErrorLeaseHeld) {
		t.Fatalf("got %v", err)
	}

	leases, err := listLeases(c, []string{key, "garbage"})
	if err != nil || len(leases) != 1 || leases[0].ID != "a" {
		t.Fatalf("leases %v %v", leases, err)
	}
}

func TestTTLSeconds(t *testing.T) {
	if ttlSeconds(registry.DefaultTTL) != 30 || ttlSeconds(0) != 1 {
		t.Fatal("ttl conversion")
	}
}

func TestOptions(t *testing.T) {
	r := NewRegistry(
		registry.OptionWithAddr("127.0.0.1:6379"),
		OptionWithConfig(3, 5, 0),
		OptionWithDB(4)).(*redisreg)

	if r.maxIdle != 3 || r.maxActive != 5 || r.db != 4 {
		t.Fatalf("idle %d active %d db %d", r.maxIdle, r.maxActive, r.db)
	}

	if r.String() != "redis" {
		t.Fatal(r.String())
	}
}
