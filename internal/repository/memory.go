package repository

import (
	"context"
	"sync"
	"time"

	"github.com/immxrtalbeast/laika/internal/domain"
)

type InMemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*domain.RegisteredDevice
}

func NewInMemoryDeviceRepository() *InMemoryDeviceRepository {
	return &InMemoryDeviceRepository{
		devices: make(map[string]*domain.RegisteredDevice),
	}
}

func (r *InMemoryDeviceRepository) Upsert(ctx context.Context, device *domain.RegisteredDevice, maxDevices int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneDevice(device)
	existing, ok := r.devices[device.ID]
	if ok {
		stored.RegisteredAt = existing.RegisteredAt
		r.devices[device.ID] = stored
		return false, nil
	}

	if maxDevices > 0 && len(r.devices) >= maxDevices {
		return false, ErrRegistryFull
	}

	r.devices[device.ID] = stored
	return true, nil
}

func (r *InMemoryDeviceRepository) GetByID(ctx context.Context, id string) (*domain.RegisteredDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return cloneDevice(device), nil
}

func (r *InMemoryDeviceRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	device.LastSeen = at.UTC()
	return nil
}

func (r *InMemoryDeviceRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(r.devices, id)
	return nil
}

func (r *InMemoryDeviceRepository) List(ctx context.Context) ([]*domain.RegisteredDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.RegisteredDevice, 0, len(r.devices))
	for _, device := range r.devices {
		result = append(result, cloneDevice(device))
	}
	return result, nil
}

func (r *InMemoryDeviceRepository) DeleteSeenBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, device := range r.devices {
		if device.LastSeen.Before(cutoff) {
			delete(r.devices, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (r *InMemoryDeviceRepository) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices), nil
}

func cloneDevice(device *domain.RegisteredDevice) *domain.RegisteredDevice {
	clone := *device
	if device.Payload != nil {
		clone.Payload = append([]byte(nil), device.Payload...)
	}
	return &clone
}
