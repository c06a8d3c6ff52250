package domain

import (
	"encoding/json"
	"time"
)

// Device is a robot connected to the signaling coordinator.
type Device struct {
	ID       string
	Peer     *Peer
	Info     json.RawMessage
	LastSeen time.Time
}

// Client is a browser or PWA viewer connected to the signaling coordinator.
type Client struct {
	ID       string
	Peer     *Peer
	Info     json.RawMessage
	LastSeen time.Time
}
