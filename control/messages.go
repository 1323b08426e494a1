package control

import (
	"deckcap/capture"
	"deckcap/device"
)

type ListDevicesRequest struct{}

type DeviceStatus struct {
	device.Info
	VideoOwned bool `json:"video_owned"`
	AudioOwned bool `json:"audio_owned"`
}

type ListDevicesResponse struct {
	Devices []DeviceStatus `json:"devices"`
}

type ListSessionsRequest struct{}

type SessionInfo struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Kind   device.Kind `json:"kind"`
	Device int         `json:"device"`
	State  string      `json:"state"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SessionRequest names a session by id or name.
type SessionRequest struct {
	Session string `json:"session"`
}

type SessionStatsResponse struct {
	Stats capture.Stats `json:"stats"`
}

type Empty struct{}
