package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const roomIDPrefix = "room_"

var ErrRoomTimestamp = errors.New("room id carries no creation timestamp")

// Room scopes relay traffic for one device/client negotiation.
// Members are keyed by peer ID.
type Room struct {
	ID        string
	DeviceID  string
	ClientID  string
	CreatedAt time.Time
	Members   map[string]*Peer
}

func NewRoom(deviceID, clientID string, createdAt time.Time) *Room {
	return &Room{
		ID:        RoomID(deviceID, clientID, createdAt),
		DeviceID:  deviceID,
		ClientID:  clientID,
		CreatedAt: createdAt,
		Members:   make(map[string]*Peer),
	}
}

// RoomID embeds the creation time in nanoseconds as the last
// underscore-separated segment.
func RoomID(deviceID, clientID string, createdAt time.Time) string {
	return fmt.Sprintf("%s%s_%s_%d", roomIDPrefix, deviceID, clientID, createdAt.UnixNano())
}

// RoomCreatedAt recovers the creation time embedded by RoomID.
func RoomCreatedAt(id string) (time.Time, error) {
	idx := strings.LastIndexByte(id, '_')
	if !strings.HasPrefix(id, roomIDPrefix) || idx < len(roomIDPrefix) {
		return time.Time{}, ErrRoomTimestamp
	}
	nanos, err := strconv.ParseInt(id[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRoomTimestamp, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// Broadcast enqueues event for every member except the peer with ID
// exclude. It returns the number of members the event was queued for.
func (r *Room) Broadcast(event Event, exclude string) int {
	delivered := 0
	for id, peer := range r.Members {
		if id == exclude {
			continue
		}
		if peer.EnqueueEvent(event) {
			delivered++
		}
	}
	return delivered
}
