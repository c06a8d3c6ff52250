package repository

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/laika/internal/domain"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrRegistryFull   = errors.New("device registry is full")
)

// DeviceRepository stores the global device registry.
type DeviceRepository interface {
	// Upsert inserts or replaces device. A new id is rejected with
	// ErrRegistryFull once maxDevices entries exist. RegisteredAt of an
	// existing entry is preserved.
	Upsert(ctx context.Context, device *domain.RegisteredDevice, maxDevices int) (created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.RegisteredDevice, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.RegisteredDevice, error)
	// DeleteSeenBefore removes every device whose LastSeen is before cutoff
	// and returns their ids.
	DeleteSeenBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Count(ctx context.Context) (int, error)
}
