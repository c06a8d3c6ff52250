package service

import (
	"context"
	"encoding/json"

	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/pion/webrtc/v3"
)

type SignalingInteractor interface {
	Connect(peer *domain.Peer)
	Disconnect(peer *domain.Peer)
	Dispatch(ctx context.Context, peer *domain.Peer, msg *domain.Message)
	ICEServers() []webrtc.ICEServer
	ListDevices() []DeviceStatus
	Stats() SignalingStats
}

type RegistryInteractor interface {
	Register(ctx context.Context, payload json.RawMessage, remoteIP string) (*domain.RegisteredDevice, error)
	Heartbeat(ctx context.Context, deviceID string) error
	Unregister(ctx context.Context, deviceID string) error
	Get(ctx context.Context, deviceID string) (*RegistryEntry, error)
	List(ctx context.Context, deviceType string) ([]RegistryEntry, error)
	Stats(ctx context.Context) (RegistryStats, error)
}

var (
	_ SignalingInteractor = (*SignalingService)(nil)
	_ RegistryInteractor  = (*RegistryService)(nil)
)
