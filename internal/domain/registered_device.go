package domain

import (
	"encoding/json"
	"time"
)

const DeviceTypeLaika = "laika_robot"

// RegisteredDevice is an entry of the global registry. Payload holds the
// self-reported body exactly as the device posted it.
type RegisteredDevice struct {
	ID           string
	Name         string
	Type         string
	RegisteredIP string
	RegisteredAt time.Time
	LastSeen     time.Time
	Payload      json.RawMessage
}

// IsOnline reports whether the device was seen within timeout of now.
func (d *RegisteredDevice) IsOnline(now time.Time, timeout time.Duration) bool {
	return now.Sub(d.LastSeen) <= timeout
}
