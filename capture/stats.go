package capture

import (
	"time"

	"deckcap/clock"
	"deckcap/device"
	"deckcap/queue"
	"deckcap/timing"
)

// Stats is a snapshot of one session.
type Stats struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Kind   device.Kind `json:"kind"`
	Device int         `json:"device"`
	State  string      `json:"state"`
	Signal string      `json:"signal"`
	Mode   string      `json:"mode,omitempty"`
	Format string      `json:"format,omitempty"`

	Arrived   uint64 `json:"arrived"`
	Skipped   uint64 `json:"skipped"`
	NoSignal  uint64 `json:"no_signal"`
	Evicted   uint64 `json:"evicted"`
	Delivered uint64 `json:"delivered"`
	Disconts  uint64 `json:"disconts,omitempty"`

	Processed time.Duration `json:"processed,omitempty"`
	Dropped   time.Duration `json:"dropped,omitempty"`

	Queue   queue.Stats         `json:"queue"`
	Mapping timing.MappingStats `json:"mapping"`
	Clock   clock.Stats         `json:"clock"`
}
