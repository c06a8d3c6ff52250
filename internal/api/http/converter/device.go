package converter

import (
	"encoding/json"
	"time"

	"github.com/immxrtalbeast/laika/internal/service"
)

type DeviceStatusResponse struct {
	DeviceID   string          `json:"device_id"`
	DeviceInfo json.RawMessage `json:"device_info"`
	Online     bool            `json:"online"`
	LastSeen   time.Time       `json:"last_seen"`
}

func DeviceStatusesToApi(devices []service.DeviceStatus) []DeviceStatusResponse {
	result := make([]DeviceStatusResponse, 0, len(devices))
	for _, d := range devices {
		result = append(result, DeviceStatusResponse{
			DeviceID:   d.DeviceID,
			DeviceInfo: d.Info,
			Online:     d.Online,
			LastSeen:   d.LastSeen,
		})
	}
	return result
}

// RegistryEntryToApi returns the device's own payload overlaid with the
// registry stamps and the computed status fields.
func RegistryEntryToApi(entry service.RegistryEntry) map[string]any {
	device := entry.Device
	out := make(map[string]any)
	if len(device.Payload) > 0 {
		_ = json.Unmarshal(device.Payload, &out)
	}

	out["device_id"] = device.ID
	out["registered_ip"] = device.RegisteredIP
	out["registered_at"] = device.RegisteredAt.UTC().Format(time.RFC3339)
	out["last_seen"] = device.LastSeen.UTC().Format(time.RFC3339)
	out["online"] = entry.Online
	out["seconds_since_seen"] = entry.SecondsSinceSeen
	return out
}

func RegistryEntriesToApi(entries []service.RegistryEntry) []map[string]any {
	result := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		result = append(result, RegistryEntryToApi(entry))
	}
	return result
}
