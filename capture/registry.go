package capture

import (
	"sync"

	"deckcap/device"
	"deckcap/log"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Registry owns the devices of one driver. Enumeration happens once, on
// first use; each input is handed out at most once per kind.
type Registry struct {
	driver device.Driver

	once    sync.Once
	initErr error

	mu      sync.Mutex
	entries []*entry
}

type entry struct {
	dev   device.Device
	info  device.Info
	input *Input
	video *VideoSession
	audio *AudioSession
}

func NewRegistry(driver device.Driver) *Registry {
	return &Registry{driver: driver}
}

func (r *Registry) init() error {
	r.once.Do(func() {
		devs, err := r.driver.Devices()
		if err != nil {
			r.initErr = errors.Wrap(err, "failed to enumerate devices")
			log.Error("EnumerateDevices", zap.Error(err))

			return
		}

		for _, d := range devs {
			r.entries = append(r.entries, &entry{dev: d, info: d.Info()})
		}

		log.Info("EnumerateDevices", zap.Int("count", len(r.entries)))
	})

	return r.initErr
}

func (r *Registry) Devices() ([]device.Info, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	res := make([]device.Info, 0, len(r.entries))
	for _, e := range r.entries {
		res = append(res, e.info)
	}

	return res, nil
}

func (r *Registry) lookup(number int, persistentID int64) (*entry, error) {
	if persistentID != DefaultPersistentID {
		for _, e := range r.entries {
			if e.info.PersistentID == persistentID {
				return e, nil
			}
		}

		return nil, errors.Wrapf(ErrDeviceNotFound, "persistent id %d", persistentID)
	}

	if number < 0 || number >= len(r.entries) {
		return nil, errors.Wrapf(ErrDeviceNotFound, "device %d of %d", number, len(r.entries))
	}

	return r.entries[number], nil
}

func (r *Registry) acquireVideo(number int, persistentID int64, s *VideoSession) (*Input, error) {
	return r.acquire(number, persistentID, device.KindVideo, func(e *entry) bool {
		if e.video != nil {
			return false
		}

		e.video = s

		return true
	})
}

func (r *Registry) acquireAudio(number int, persistentID int64, s *AudioSession) (*Input, error) {
	return r.acquire(number, persistentID, device.KindAudio, func(e *entry) bool {
		if e.audio != nil {
			return false
		}

		e.audio = s

		return true
	})
}

func (r *Registry) acquire(number int, persistentID int64, kind device.Kind, claim func(*entry) bool) (*Input, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(number, persistentID)
	if err != nil {
		return nil, err
	}

	if e.input == nil {
		hw, err := e.dev.Input()
		if err != nil {
			return nil, errors.Wrapf(ErrDeviceNotFound, "device %d has no input: %v", e.info.Index, err)
		}

		in, err := newInput(e.info, hw)
		if err != nil {
			return nil, err
		}

		e.input = in
	}

	if !claim(e) {
		return nil, errors.Wrapf(ErrDeviceBusy, "device %d %s", e.info.Index, kind)
	}

	return e.input, nil
}

func (r *Registry) release(in *Input, kind device.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.input != in {
			continue
		}

		switch kind {
		case device.KindVideo:
			e.video = nil
		case device.KindAudio:
			e.audio = nil
		}
	}
}

// Owned reports which kinds of device index are taken.
func (r *Registry) Owned(index int) (video, audio bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.entries) {
		return false, false
	}

	e := r.entries[index]

	return e.video != nil, e.audio != nil
}
