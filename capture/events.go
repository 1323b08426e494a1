package capture

import (
	"time"

	"deckcap/device"

	"github.com/pkg/errors"
)

type EventType int

const (
	EventStarted EventType = iota
	EventStopped
	EventSignalLost
	EventSignalRecovered
	EventFormatChanged
	EventCapsChanged
	EventFramesDropped
	EventQoS
	EventDiscont
	EventError
)

var eventNames = map[EventType]string{
	EventStarted:         "started",
	EventStopped:         "stopped",
	EventSignalLost:      "signal-lost",
	EventSignalRecovered: "signal-recovered",
	EventFormatChanged:   "format-changed",
	EventCapsChanged:     "caps-changed",
	EventFramesDropped:   "frames-dropped",
	EventQoS:             "qos",
	EventDiscont:         "discont",
	EventError:           "error",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}

	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	for k, v := range eventNames {
		if v == string(b) {
			*t = k

			return nil
		}
	}

	return errors.Wrapf(ErrInvalidOption, "event type %q", b)
}

// QoS mirrors what a pipeline QoS message would carry.
type QoS struct {
	Live        bool          `json:"live"`
	RunningTime time.Duration `json:"running_time"`
	StreamTime  time.Duration `json:"stream_time"`
	Timestamp   time.Duration `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
	Processed   time.Duration `json:"processed"`
	Dropped     time.Duration `json:"dropped"`
}

type Event struct {
	Type    EventType   `json:"type"`
	Session string      `json:"session"`
	Device  int         `json:"device"`
	Kind    device.Kind `json:"kind"`
	Time    time.Time   `json:"time"`
	Message string      `json:"message,omitempty"`

	Mode   string `json:"mode,omitempty"`
	Format string `json:"format,omitempty"`

	// frames-dropped
	Dropped uint          `json:"dropped,omitempty"`
	From    time.Duration `json:"from,omitempty"`
	To      time.Duration `json:"to,omitempty"`

	QoS   *QoS   `json:"qos,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventHandler must not block; it runs on capture goroutines.
type EventHandler func(*Event)
