package monitor

import (
	"deckcap/capture"
	"deckcap/network/codec/json"
)

// Subscribe replaces the agent's subscription. Empty Sessions means every
// session; entries match a session id or name.
type Subscribe struct {
	Sessions []string `json:"sessions,omitempty"`
	Events   bool     `json:"events"`
	Stats    bool     `json:"stats"`
}

// StatsRequest asks for one snapshot, of one session or of all.
type StatsRequest struct {
	Session string `json:"session,omitempty"`
}

type EventNotice struct {
	Name  string        `json:"name"`
	Event capture.Event `json:"event"`
}

type StatsReport struct {
	Stats []capture.Stats `json:"stats"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

// NewCodec returns a json codec that knows every monitor message, for the
// server and for clients.
func NewCodec() *json.Processor {
	c := json.NewCodec()

	for _, m := range []interface{}{
		(*Subscribe)(nil),
		(*StatsRequest)(nil),
		(*EventNotice)(nil),
		(*StatsReport)(nil),
		(*ErrorNotice)(nil),
	} {
		if _, err := c.Register(m); err != nil {
			panic(err)
		}
	}

	return c
}
