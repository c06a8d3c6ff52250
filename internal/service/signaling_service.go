package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/immxrtalbeast/laika/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

var (
	ErrValidation = errors.New("invalid request")
	ErrNotFound   = errors.New("not found")
)

const (
	connectionTypeWebRTC = "webrtc"
	internalErrorMessage = "internal server error"
)

type DeviceStatus struct {
	DeviceID string
	Info     json.RawMessage
	Online   bool
	LastSeen time.Time
}

type SignalingStats struct {
	Devices     int
	Clients     int
	Rooms       int
	Connections int
	Uptime      time.Duration
}

// peerState indexes everything bound to one connection so disconnect
// cleanup does not scan the registries.
type peerState struct {
	peer    *domain.Peer
	devices map[string]struct{}
	clients map[string]struct{}
	rooms   map[string]struct{}
}

// SignalingService owns the device, client and room tables of one
// signaling process. Every handler runs under mu, so handlers are atomic
// with respect to each other and to the room sweep.
type SignalingService struct {
	log        *slog.Logger
	iceServers []webrtc.ICEServer
	roomTTL    time.Duration
	now        func() time.Time
	startedAt  time.Time

	mu      sync.Mutex
	devices map[string]*domain.Device
	clients map[string]*domain.Client
	rooms   map[string]*domain.Room
	peers   map[string]*peerState
}

func NewSignalingService(iceServers []webrtc.ICEServer, roomTTL time.Duration, log *slog.Logger) *SignalingService {
	if log == nil {
		log = slog.Default()
	}
	now := func() time.Time { return time.Now().UTC() }
	return &SignalingService{
		log:        log,
		iceServers: iceServers,
		roomTTL:    roomTTL,
		now:        now,
		startedAt:  now(),
		devices:    make(map[string]*domain.Device),
		clients:    make(map[string]*domain.Client),
		rooms:      make(map[string]*domain.Room),
		peers:      make(map[string]*peerState),
	}
}

func (s *SignalingService) ICEServers() []webrtc.ICEServer {
	return s.iceServers
}

// Connect tracks a freshly accepted connection.
func (s *SignalingService) Connect(peer *domain.Peer) {
	s.mu.Lock()
	s.state(peer)
	s.mu.Unlock()

	s.log.Info("peer connected", slog.String("peer_id", peer.ID), slog.String("remote_addr", peer.RemoteAddr))
	peer.EnqueueEvent(domain.Event{
		Type: domain.EventConnected,
		Data: map[string]any{"sid": peer.ID},
	})
}

func (s *SignalingService) RegisterDevice(peer *domain.Peer, deviceID string, info json.RawMessage) error {
	const op = "service.signaling.register_device"
	log := s.log.With(slog.String("op", op), slog.String("peer_id", peer.ID))

	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	info = opaqueOrEmpty(info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.devices[deviceID]; ok && prev.Peer != peer {
		if st, ok := s.peers[prev.Peer.ID]; ok {
			delete(st.devices, deviceID)
		}
		log.Info("device rebound to new connection", slog.String("device_id", deviceID))
	}

	s.devices[deviceID] = &domain.Device{
		ID:       deviceID,
		Peer:     peer,
		Info:     info,
		LastSeen: s.now(),
	}
	s.state(peer).devices[deviceID] = struct{}{}

	log.Info("device registered", slog.String("device_id", deviceID))

	s.broadcastClients(domain.Event{
		Type: domain.EventDeviceOnline,
		Data: map[string]any{
			"device_id":       deviceID,
			"device_info":     info,
			"connection_type": connectionTypeWebRTC,
		},
	})

	peer.EnqueueEvent(domain.Event{
		Type: domain.EventRegistrationSuccess,
		Data: map[string]any{
			"device_id": deviceID,
			"message":   "Device registered successfully",
		},
	})
	return nil
}

// RegisterClient stores the viewer and returns its id, generating one
// when clientID is empty.
func (s *SignalingService) RegisterClient(peer *domain.Peer, clientID string, info json.RawMessage) (string, error) {
	const op = "service.signaling.register_client"

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = uuid.New().String()
	}
	info = opaqueOrEmpty(info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.clients[clientID]; ok && prev.Peer != peer {
		if st, ok := s.peers[prev.Peer.ID]; ok {
			delete(st.clients, clientID)
		}
	}

	s.clients[clientID] = &domain.Client{
		ID:       clientID,
		Peer:     peer,
		Info:     info,
		LastSeen: s.now(),
	}
	s.state(peer).clients[clientID] = struct{}{}

	s.log.Info("client registered",
		slog.String("op", op),
		slog.String("peer_id", peer.ID),
		slog.String("client_id", clientID),
	)

	peer.EnqueueEvent(domain.Event{
		Type: domain.EventRegistrationSuccess,
		Data: map[string]any{
			"client_id":         clientID,
			"available_devices": s.deviceIDs(),
			"ice_servers":       s.iceServers,
		},
	})
	return clientID, nil
}

// Disconnect removes every record still bound to peer and announces each
// removed device to the clients.
func (s *SignalingService) Disconnect(peer *domain.Peer) {
	const op = "service.signaling.disconnect"

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.peers[peer.ID]
	if !ok {
		return
	}
	delete(s.peers, peer.ID)

	removed := make([]string, 0, len(st.devices))
	for deviceID := range st.devices {
		if device, ok := s.devices[deviceID]; ok && device.Peer == peer {
			delete(s.devices, deviceID)
			removed = append(removed, deviceID)
		}
	}
	for clientID := range st.clients {
		if client, ok := s.clients[clientID]; ok && client.Peer == peer {
			delete(s.clients, clientID)
		}
	}
	for roomID := range st.rooms {
		if room, ok := s.rooms[roomID]; ok {
			delete(room.Members, peer.ID)
		}
	}

	sort.Strings(removed)
	for _, deviceID := range removed {
		s.log.Info("device disconnected", slog.String("op", op), slog.String("device_id", deviceID))
		s.broadcastClients(domain.Event{
			Type: domain.EventDeviceOffline,
			Data: map[string]any{"device_id": deviceID},
		})
	}

	s.log.Info("peer disconnected", slog.String("op", op), slog.String("peer_id", peer.ID))
}

// RequestConnection opens a room between the registered device and the
// requesting peer and notifies both sides. The device is not asked to
// accept; it only receives the notification.
func (s *SignalingService) RequestConnection(peer *domain.Peer, deviceID, clientID string) (string, error) {
	const op = "service.signaling.request_connection"
	log := s.log.With(slog.String("op", op), slog.String("peer_id", peer.ID))

	deviceID = strings.TrimSpace(deviceID)
	clientID = strings.TrimSpace(clientID)
	if deviceID == "" {
		return "", fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if clientID == "" {
		return "", fmt.Errorf("%w: client_id is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return "", fmt.Errorf("%w: device %q is not available", ErrNotFound, deviceID)
	}

	createdAt := s.now()
	room := domain.NewRoom(deviceID, clientID, createdAt)
	for {
		if _, exists := s.rooms[room.ID]; !exists {
			break
		}
		createdAt = createdAt.Add(time.Nanosecond)
		room = domain.NewRoom(deviceID, clientID, createdAt)
	}

	s.rooms[room.ID] = room
	s.join(room, device.Peer)
	s.join(room, peer)

	log.Info("connection requested",
		slog.String("device_id", deviceID),
		slog.String("client_id", clientID),
		slog.String("room_id", room.ID),
	)

	device.Peer.EnqueueEvent(domain.Event{
		Type: domain.EventConnectionRequest,
		Data: map[string]any{
			"client_id":   clientID,
			"room_id":     room.ID,
			"ice_servers": s.iceServers,
		},
	})
	peer.EnqueueEvent(domain.Event{
		Type: domain.EventConnectionRequestSent,
		Data: map[string]any{
			"device_id":   deviceID,
			"room_id":     room.ID,
			"ice_servers": s.iceServers,
		},
	})

	return room.ID, nil
}

// RelaySignal forwards an offer, answer or ICE candidate to every other
// member of the room, tagged with the sender's handle. Unknown rooms have
// no members, so the payload is dropped.
func (s *SignalingService) RelaySignal(peer *domain.Peer, eventType, roomID string, payload json.RawMessage) error {
	const op = "service.signaling.relay"

	field := domain.RelayPayloadField(eventType)
	if field == "" {
		return fmt.Errorf("%w: %q is not a relay message", ErrValidation, eventType)
	}
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}
	if isAbsent(payload) {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		s.log.Debug("relay into unknown room",
			slog.String("op", op),
			slog.String("type", eventType),
			slog.String("room_id", roomID),
		)
		return nil
	}

	delivered := room.Broadcast(domain.Event{
		Type: eventType,
		Data: map[string]any{
			field:     payload,
			"room_id": roomID,
			"from":    peer.ID,
		},
	}, peer.ID)

	s.log.Debug("signal relayed",
		slog.String("op", op),
		slog.String("type", eventType),
		slog.String("room_id", roomID),
		slog.Int("recipients", delivered),
	)
	return nil
}

// ConnectionEstablished is advisory: it confirms to the room and leaves
// the room in place.
func (s *SignalingService) ConnectionEstablished(peer *domain.Peer, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}

	s.log.Info("webrtc connection established",
		slog.String("room_id", roomID),
		slog.String("device_id", room.DeviceID),
		slog.String("client_id", room.ClientID),
		slog.String("peer_id", peer.ID),
	)

	room.Broadcast(domain.Event{
		Type: domain.EventConnectionSuccess,
		Data: map[string]any{
			"message": "WebRTC connection established",
			"room_id": roomID,
		},
	}, "")
	return nil
}

// SweepRooms deletes rooms older than the room TTL, judged by the
// timestamp embedded in the room id. Rooms whose id does not parse are
// deleted as well. Members are not notified.
func (s *SignalingService) SweepRooms() int {
	const op = "service.signaling.sweep_rooms"

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, room := range s.rooms {
		createdAt, err := domain.RoomCreatedAt(id)
		if err == nil && now.Sub(createdAt) <= s.roomTTL {
			continue
		}
		for peerID := range room.Members {
			if st, ok := s.peers[peerID]; ok {
				delete(st.rooms, id)
			}
		}
		delete(s.rooms, id)
		removed++
	}

	if removed > 0 {
		s.log.Info("stale rooms removed", slog.String("op", op), slog.Int("count", removed))
	}
	return removed
}

// RunSweeper calls SweepRooms every interval until ctx is done.
func (s *SignalingService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepRooms()
		}
	}
}

func (s *SignalingService) ListDevices() []DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DeviceStatus, 0, len(s.devices))
	for _, device := range s.devices {
		result = append(result, DeviceStatus{
			DeviceID: device.ID,
			Info:     device.Info,
			Online:   !device.Peer.Closed(),
			LastSeen: device.LastSeen,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DeviceID < result[j].DeviceID
	})
	return result
}

func (s *SignalingService) Stats() SignalingStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SignalingStats{
		Devices:     len(s.devices),
		Clients:     len(s.clients),
		Rooms:       len(s.rooms),
		Connections: len(s.peers),
		Uptime:      s.now().Sub(s.startedAt),
	}
}

// Dispatch decodes msg, runs its handler and converts any failure into an
// error event for the sender only. A panicking handler is recovered.
func (s *SignalingService) Dispatch(ctx context.Context, peer *domain.Peer, msg *domain.Message) {
	const op = "service.signaling.dispatch"
	var msgType string
	if msg != nil {
		msgType = msg.Type
	}
	log := s.log.With(slog.String("op", op), slog.String("peer_id", peer.ID), slog.String("type", msgType))

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", slog.Any("panic", r))
			peer.EnqueueEvent(domain.ErrorEvent(internalErrorMessage))
		}
	}()

	peer.Touch()

	err := s.handle(ctx, peer, msg)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		log.Warn("request rejected", sl.Err(err))
		peer.EnqueueEvent(domain.ErrorEvent(err.Error()))
	default:
		log.Error("handler failed", sl.Err(err))
		peer.EnqueueEvent(domain.ErrorEvent(internalErrorMessage))
	}
}

func (s *SignalingService) handle(ctx context.Context, peer *domain.Peer, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}

	if domain.IsRelayType(msg.Type) {
		var req map[string]json.RawMessage
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		var roomID string
		if raw, ok := req["room_id"]; ok {
			if err := json.Unmarshal(raw, &roomID); err != nil {
				return fmt.Errorf("%w: room_id must be a string", ErrValidation)
			}
		}
		return s.RelaySignal(peer, msg.Type, roomID, req[domain.RelayPayloadField(msg.Type)])
	}

	switch msg.Type {
	case domain.EventRegisterDevice:
		var req struct {
			DeviceID   string          `json:"device_id"`
			DeviceInfo json.RawMessage `json:"device_info"`
		}
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		return s.RegisterDevice(peer, req.DeviceID, req.DeviceInfo)

	case domain.EventRegisterClient:
		var req struct {
			ClientID   string          `json:"client_id"`
			ClientInfo json.RawMessage `json:"client_info"`
		}
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		_, err := s.RegisterClient(peer, req.ClientID, req.ClientInfo)
		return err

	case domain.EventRequestConnection:
		var req struct {
			DeviceID string `json:"device_id"`
			ClientID string `json:"client_id"`
		}
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		_, err := s.RequestConnection(peer, req.DeviceID, req.ClientID)
		return err

	case domain.EventConnectionEstablished:
		var req struct {
			RoomID string `json:"room_id"`
		}
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		return s.ConnectionEstablished(peer, req.RoomID)

	default:
		return fmt.Errorf("%w: unsupported message type %q", ErrValidation, msg.Type)
	}
}

// state returns the index entry for peer, creating it. Caller holds mu.
func (s *SignalingService) state(peer *domain.Peer) *peerState {
	st, ok := s.peers[peer.ID]
	if !ok {
		st = &peerState{
			peer:    peer,
			devices: make(map[string]struct{}),
			clients: make(map[string]struct{}),
			rooms:   make(map[string]struct{}),
		}
		s.peers[peer.ID] = st
	}
	return st
}

func (s *SignalingService) join(room *domain.Room, peer *domain.Peer) {
	room.Members[peer.ID] = peer
	s.state(peer).rooms[room.ID] = struct{}{}
}

// broadcastClients sends event once to every connection that registered
// at least one client. Caller holds mu.
func (s *SignalingService) broadcastClients(event domain.Event) {
	for _, st := range s.peers {
		if len(st.clients) == 0 {
			continue
		}
		if !st.peer.EnqueueEvent(event) {
			s.log.Debug("dropping broadcast event", slog.String("peer", st.peer.ID), slog.String("type", event.Type))
		}
	}
}

// deviceIDs lists registered device ids in order. Caller holds mu.
func (s *SignalingService) deviceIDs() []string {
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func decodeData(data json.RawMessage, v any) error {
	if isAbsent(data) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data: %v", ErrValidation, err)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func opaqueOrEmpty(raw json.RawMessage) json.RawMessage {
	if isAbsent(raw) {
		return json.RawMessage("{}")
	}
	return raw
}
