package model

import "time"

type Device struct {
	ID           string    `gorm:"size:128;primaryKey"`
	Name         string    `gorm:"size:255"`
	Type         string    `gorm:"size:64;index"`
	RegisteredIP string    `gorm:"size:64"`
	RegisteredAt time.Time `gorm:"not null"`
	LastSeen     time.Time `gorm:"index;not null"`
	Payload      []byte    `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Device) TableName() string {
	return "registered_devices"
}
