package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/immxrtalbeast/laika/internal/repository"
	"github.com/immxrtalbeast/laika/lib/logger/sl"
)

var ErrRegistryFull = errors.New("registry is full")

type RegistryEntry struct {
	Device           *domain.RegisteredDevice
	Online           bool
	SecondsSinceSeen int64
}

type RegistryStats struct {
	TotalDevices  int
	OnlineDevices int
	MaxDevices    int
}

// RegistryService is the cloud-side device directory. Devices push their
// own status; entries not refreshed within the timeout are swept.
type RegistryService struct {
	devices    repository.DeviceRepository
	log        *slog.Logger
	maxDevices int
	timeout    time.Duration
	now        func() time.Time
}

func NewRegistryService(devices repository.DeviceRepository, maxDevices int, timeout time.Duration, log *slog.Logger) *RegistryService {
	if log == nil {
		log = slog.Default()
	}
	return &RegistryService{
		devices:    devices,
		log:        log,
		maxDevices: maxDevices,
		timeout:    timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register stores payload verbatim under its device_id and stamps it with
// the caller's address and the current time.
func (s *RegistryService) Register(ctx context.Context, payload json.RawMessage, remoteIP string) (*domain.RegisteredDevice, error) {
	const op = "service.registry.register"
	log := s.log.With(slog.String("op", op), slog.String("remote_ip", remoteIP))

	var fields struct {
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
		DeviceType string `json:"device_type"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: body must be a json object", ErrValidation)
	}
	deviceID := strings.TrimSpace(fields.DeviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrValidation)
	}

	now := s.now()
	device := &domain.RegisteredDevice{
		ID:           deviceID,
		Name:         fields.DeviceName,
		Type:         fields.DeviceType,
		RegisteredIP: remoteIP,
		RegisteredAt: now,
		LastSeen:     now,
		Payload:      payload,
	}

	created, err := s.devices.Upsert(ctx, device, s.maxDevices)
	if err != nil {
		if errors.Is(err, repository.ErrRegistryFull) {
			log.Warn("registration rejected", slog.String("device_id", deviceID), sl.Err(err))
			return nil, fmt.Errorf("%w: maximum of %d devices reached", ErrRegistryFull, s.maxDevices)
		}
		log.Error("failed to store device", slog.String("device_id", deviceID), sl.Err(err))
		return nil, err
	}

	if created {
		log.Info("device registered", slog.String("device_id", deviceID), slog.String("device_type", device.Type))
	} else {
		log.Debug("device refreshed", slog.String("device_id", deviceID))
	}

	return s.devices.GetByID(ctx, deviceID)
}

func (s *RegistryService) Heartbeat(ctx context.Context, deviceID string) error {
	if err := s.devices.Touch(ctx, deviceID, s.now()); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return fmt.Errorf("%w: device %q is not registered", ErrNotFound, deviceID)
		}
		return err
	}
	return nil
}

func (s *RegistryService) Unregister(ctx context.Context, deviceID string) error {
	if err := s.devices.Delete(ctx, deviceID); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return fmt.Errorf("%w: device %q is not registered", ErrNotFound, deviceID)
		}
		return err
	}
	s.log.Info("device unregistered", slog.String("device_id", deviceID))
	return nil
}

func (s *RegistryService) Get(ctx context.Context, deviceID string) (*RegistryEntry, error) {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: device %q is not registered", ErrNotFound, deviceID)
		}
		return nil, err
	}
	entry := s.entry(device, s.now())
	return &entry, nil
}

// List returns the devices of deviceType, or all devices when deviceType
// is empty, most recently seen first.
func (s *RegistryService) List(ctx context.Context, deviceType string) ([]RegistryEntry, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := make([]RegistryEntry, 0, len(devices))
	for _, device := range devices {
		if deviceType != "" && device.Type != deviceType {
			continue
		}
		result = append(result, s.entry(device, now))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Device.LastSeen.After(result[j].Device.LastSeen)
	})
	return result, nil
}

func (s *RegistryService) Stats(ctx context.Context) (RegistryStats, error) {
	total, err := s.devices.Count(ctx)
	if err != nil {
		return RegistryStats{}, err
	}
	entries, err := s.List(ctx, "")
	if err != nil {
		return RegistryStats{}, err
	}

	stats := RegistryStats{TotalDevices: total, MaxDevices: s.maxDevices}
	for _, entry := range entries {
		if entry.Online {
			stats.OnlineDevices++
		}
	}
	return stats, nil
}

// Sweep deletes every device not seen within the timeout. Deleted devices
// must register again to reappear.
func (s *RegistryService) Sweep(ctx context.Context) (int, error) {
	const op = "service.registry.sweep"

	removed, err := s.devices.DeleteSeenBefore(ctx, s.now().Add(-s.timeout))
	if err != nil {
		s.log.Error("sweep failed", slog.String("op", op), sl.Err(err))
		return 0, err
	}
	for _, id := range removed {
		s.log.Info("device timed out", slog.String("op", op), slog.String("device_id", id))
	}
	return len(removed), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *RegistryService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

func (s *RegistryService) entry(device *domain.RegisteredDevice, now time.Time) RegistryEntry {
	since := now.Sub(device.LastSeen)
	if since < 0 {
		since = 0
	}
	return RegistryEntry{
		Device:           device,
		Online:           device.IsOnline(now, s.timeout),
		SecondsSinceSeen: int64(since / time.Second),
	}
}
