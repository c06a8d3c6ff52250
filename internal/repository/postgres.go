package repository

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/immxrtalbeast/laika/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertLockKey names the transaction-scoped advisory lock that serializes
// registrations, so the size check and the insert see the same row count.
const upsertLockKey int64 = 0x6c61696b61

type PostgresDeviceRepository struct {
	db *gorm.DB
}

func NewPostgresDeviceRepository(db *gorm.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

func (r *PostgresDeviceRepository) Upsert(ctx context.Context, device *domain.RegisteredDevice, maxDevices int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if device == nil {
		return false, errors.New("device is nil")
	}

	deviceModel := toModelDevice(device)
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", upsertLockKey).Error; err != nil {
			return err
		}

		var existing model.Device
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "id = ?", deviceModel.ID).Error
		switch {
		case err == nil:
			deviceModel.RegisteredAt = existing.RegisteredAt
			deviceModel.CreatedAt = existing.CreatedAt
			return tx.Save(deviceModel).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if maxDevices > 0 {
			var count int64
			if err := tx.Model(&model.Device{}).Count(&count).Error; err != nil {
				return err
			}
			if count >= int64(maxDevices) {
				return ErrRegistryFull
			}
		}

		if err := tx.Create(deviceModel).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, id string) (*domain.RegisteredDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var device model.Device
	err := r.db.WithContext(ctx).First(&device, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	return toDomainDevice(&device), nil
}

func (r *PostgresDeviceRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).Update("last_seen", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Delete(&model.Device{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) List(ctx context.Context) ([]*domain.RegisteredDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var devices []model.Device
	if err := r.db.WithContext(ctx).Order("last_seen DESC").Find(&devices).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.RegisteredDevice, 0, len(devices))
	for i := range devices {
		result = append(result, toDomainDevice(&devices[i]))
	}
	return result, nil
}

func (r *PostgresDeviceRepository) DeleteSeenBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stale []model.Device
	res := r.db.WithContext(ctx).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("last_seen < ?", cutoff.UTC()).
		Delete(&stale)
	if res.Error != nil {
		return nil, res.Error
	}

	ids := make([]string, 0, len(stale))
	for _, device := range stale {
		ids = append(ids, device.ID)
	}
	return ids, nil
}

func (r *PostgresDeviceRepository) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Device{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func toModelDevice(device *domain.RegisteredDevice) *model.Device {
	return &model.Device{
		ID:           device.ID,
		Name:         device.Name,
		Type:         device.Type,
		RegisteredIP: device.RegisteredIP,
		RegisteredAt: device.RegisteredAt.UTC(),
		LastSeen:     device.LastSeen.UTC(),
		Payload:      []byte(device.Payload),
	}
}

func toDomainDevice(device *model.Device) *domain.RegisteredDevice {
	return &domain.RegisteredDevice{
		ID:           device.ID,
		Name:         device.Name,
		Type:         device.Type,
		RegisteredIP: device.RegisteredIP,
		RegisteredAt: device.RegisteredAt.UTC(),
		LastSeen:     device.LastSeen.UTC(),
		Payload:      device.Payload,
	}
}
