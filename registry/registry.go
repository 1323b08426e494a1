// Package registry keeps device leases so that two capture daemons never
// open the same input.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	WildcardDomain = "*"
	DefaultDomain  = "deckcap"
	DefaultTTL     = 30 * time.Second
	DefaultRefresh = 20 * time.Second
)

var (
	ErrorLeaseHeld  = errors.New("device lease is held by another owner")
	ErrorInvalidKey = errors.New("invalid lease key")
)

type Registry interface {
	Init() error
	Register(*Lease, ...RegisterOption) error
	DeRegister(*Lease, ...DeregisterOption) error
	ListLeases(...ListOption) ([]*Lease, error)
	Watch(...WatchOption) error
	Options() Options
	Release() error
	String() string
}

// Lease claims one kind of one device on one host.
type Lease struct {
	ID         string `json:"id"`
	Domain     string `json:"domain"`
	Host       string `json:"host"`
	Device     int    `json:"device"`
	Kind       string `json:"kind"`
	Mode       string `json:"mode,omitempty"`
	Addr       string `json:"addr,omitempty"`
	ConfigHash uint64 `json:"config_hash,omitempty"`
}

// Name identifies what is leased, independent of the owner.
func (l *Lease) Name() string {
	return l.Host + "/" + strconv.Itoa(l.Device) + "/" + l.Kind
}

// Key joins domain and name with sep. None of the parts may contain sep.
func (l *Lease) Key(domain, sep string) (string, error) {
	for _, s := range []string{domain, l.Host, l.Kind} {
		if s == "" || strings.Contains(s, sep) {
			return "", fmt.Errorf("%q %w", s, ErrorInvalidKey)
		}
	}

	return strings.Join([]string{domain, l.Host, strconv.Itoa(l.Device), l.Kind}, sep), nil
}

// ParseKey is the inverse of Key; only the naming fields are filled in.
func ParseKey(key, sep string) (*Lease, error) {
	parts := strings.Split(key, sep)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%q %w", key, ErrorInvalidKey)
	}

	dev, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%q %w", key, ErrorInvalidKey)
	}

	return &Lease{Domain: parts[0], Host: parts[1], Device: dev, Kind: parts[3]}, nil
}

type EventType int

const (
	Create EventType = iota
	Delete
	Update
)

func (t EventType) String() string {
	switch t {
	case Create:
		return "create"
	case Delete:
		return "delete"
	case Update:
		return "update"
	}

	return "unknown"
}

type Event struct {
	Type  EventType
	Lease *Lease
}

// Diff reports how cur differs from prev. A lease that changed owner or
// configuration is an Update.
func Diff(prev, cur []*Lease) []*Event {
	old := make(map[string]*Lease, len(prev))
	for _, l := range prev {
		old[l.Name()] = l
	}

	var events []*Event

	seen := make(map[string]bool, len(cur))

	for _, l := range cur {
		name := l.Name()
		seen[name] = true

		o, ok := old[name]

		switch {
		case !ok:
			events = append(events, &Event{Type: Create, Lease: l})
		case o.ID != l.ID || o.ConfigHash != l.ConfigHash || o.Mode != l.Mode:
			events = append(events, &Event{Type: Update, Lease: l})
		}
	}

	for _, l := range prev {
		if !seen[l.Name()] {
			events = append(events, &Event{Type: Delete, Lease: l})
		}
	}

	return events
}

// Sort orders leases by name for stable listings.
func Sort(leases []*Lease) {
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].Name() < leases[j].Name()
	})
}
