package domain

import "encoding/json"

// Inbound event types.
const (
	EventRegisterDevice        = "register_device"
	EventRegisterClient        = "register_client"
	EventRequestConnection     = "request_connection"
	EventWebRTCOffer           = "webrtc_offer"
	EventWebRTCAnswer          = "webrtc_answer"
	EventICECandidate          = "ice_candidate"
	EventConnectionEstablished = "connection_established"
)

// Outbound event types.
const (
	EventConnected             = "connected"
	EventRegistrationSuccess   = "registration_success"
	EventConnectionRequest     = "connection_request"
	EventConnectionRequestSent = "connection_request_sent"
	EventConnectionSuccess     = "connection_success"
	EventDeviceOnline          = "device_online"
	EventDeviceOffline         = "device_offline"
	EventError                 = "error"
)

// Message is a frame received from a peer. Data is decoded by the handler
// for Type.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is a frame sent to a peer.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func ErrorEvent(message string) Event {
	return Event{
		Type: EventError,
		Data: map[string]any{"message": message},
	}
}

// IsRelayType reports whether messages of this type are forwarded
// verbatim to the other members of a room.
func IsRelayType(t string) bool {
	switch t {
	case EventWebRTCOffer, EventWebRTCAnswer, EventICECandidate:
		return true
	}
	return false
}

// RelayPayloadField is the data field carrying the opaque payload of a
// relay message type.
func RelayPayloadField(t string) string {
	switch t {
	case EventWebRTCOffer:
		return "offer"
	case EventWebRTCAnswer:
		return "answer"
	case EventICECandidate:
		return "candidate"
	}
	return ""
}
