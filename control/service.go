// Package control exposes device and session control over grpc with a json
// codec.
package control

import (
	"context"

	"deckcap/capture"
	"deckcap/log"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "deckcap.Control"

type ControlServer interface {
	ListDevices(context.Context, *ListDevicesRequest) (*ListDevicesResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
	SessionStats(context.Context, *SessionRequest) (*SessionStatsResponse, error)
	Unlock(context.Context, *SessionRequest) (*Empty, error)
	UnlockStop(context.Context, *SessionRequest) (*Empty, error)
}

// Service serves ControlServer from a device registry and the sessions the
// app runs.
type Service struct {
	devices  *capture.Registry
	sessions func() []capture.Source
}

func NewService(devices *capture.Registry, sessions func() []capture.Source) *Service {
	return &Service{devices: devices, sessions: sessions}
}

// OnListened makes Service an rpc/grpc ServerSub.
func (s *Service) OnListened(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Service) ListDevices(_ context.Context, _ *ListDevicesRequest) (*ListDevicesResponse, error) {
	if s.devices == nil {
		return &ListDevicesResponse{Devices: []DeviceStatus{}}, nil
	}

	infos, err := s.devices.Devices()
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	res := &ListDevicesResponse{Devices: make([]DeviceStatus, 0, len(infos))}
	for _, v := range infos {
		video, audio := s.devices.Owned(v.Index)
		res.Devices = append(res.Devices, DeviceStatus{Info: v, VideoOwned: video, AudioOwned: audio})
	}

	return res, nil
}

func (s *Service) ListSessions(_ context.Context, _ *ListSessionsRequest) (*ListSessionsResponse, error) {
	res := &ListSessionsResponse{Sessions: []SessionInfo{}}

	for _, v := range s.sessions() {
		o := v.Options()
		res.Sessions = append(res.Sessions, SessionInfo{
			ID:     v.ID(),
			Name:   o.Name,
			Kind:   v.Kind(),
			Device: o.DeviceNumber,
			State:  v.State().String(),
		})
	}

	return res, nil
}

func (s *Service) find(name string) (capture.Source, error) {
	for _, v := range s.sessions() {
		if v.ID() == name || v.Options().Name == name {
			return v, nil
		}
	}

	return nil, status.Errorf(codes.NotFound, "no session %q", name)
}

func (s *Service) SessionStats(_ context.Context, req *SessionRequest) (*SessionStatsResponse, error) {
	src, err := s.find(req.Session)
	if err != nil {
		return nil, err
	}

	return &SessionStatsResponse{Stats: src.Stats()}, nil
}

func (s *Service) Unlock(_ context.Context, req *SessionRequest) (*Empty, error) {
	src, err := s.find(req.Session)
	if err != nil {
		return nil, err
	}

	log.Info("control unlock", zap.String("session", src.ID()))
	src.Unlock()

	return &Empty{}, nil
}

func (s *Service) UnlockStop(_ context.Context, req *SessionRequest) (*Empty, error) {
	src, err := s.find(req.Session)
	if err != nil {
		return nil, err
	}

	log.Info("control unlock-stop", zap.String("session", src.ID()))
	src.UnlockStop()

	return &Empty{}, nil
}
