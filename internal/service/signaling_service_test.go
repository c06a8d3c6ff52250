package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"turn:openrelay.metered.ca:80"}, Username: "openrelayproject", Credential: "openrelayproject"},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSignaling(t *testing.T) *SignalingService {
	t.Helper()
	return NewSignalingService(testICEServers, time.Hour, discardLogger())
}

// drain returns every event queued for p without blocking.
func drain(p *domain.Peer) []domain.Event {
	var events []domain.Event
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func ofType(events []domain.Event, eventType string) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func dispatch(t *testing.T, s *SignalingService, p *domain.Peer, eventType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	s.Dispatch(context.Background(), p, &domain.Message{Type: eventType, Data: raw})
}

func TestRegisterDevice_RepeatOverwrites(t *testing.T) {
	s := newTestSignaling(t)
	first, second := domain.NewPeer("a"), domain.NewPeer("b")

	require.NoError(t, s.RegisterDevice(first, "laika-1", json.RawMessage(`{"name":"one"}`)))
	require.NoError(t, s.RegisterDevice(first, "laika-1", json.RawMessage(`{"name":"one"}`)))
	require.NoError(t, s.RegisterDevice(second, "laika-1", json.RawMessage(`{"name":"two"}`)))

	devices := s.ListDevices()
	require.Len(t, devices, 1)
	assert.Equal(t, "laika-1", devices[0].DeviceID)
	assert.JSONEq(t, `{"name":"two"}`, string(devices[0].Info))
	assert.Same(t, second, s.devices["laika-1"].Peer)
	assert.Equal(t, 1, s.Stats().Devices)

	// The first connection no longer owns the id.
	s.Disconnect(first)
	assert.Len(t, s.ListDevices(), 1)

	s.Disconnect(second)
	assert.Empty(t, s.ListDevices())
}

func TestRegisterDevice_Validation(t *testing.T) {
	s := newTestSignaling(t)
	device, watcher := domain.NewPeer("d"), domain.NewPeer("w")
	_, err := s.RegisterClient(watcher, "", nil)
	require.NoError(t, err)
	drain(watcher)

	err = s.RegisterDevice(device, "  ", nil)
	assert.ErrorIs(t, err, ErrValidation)

	dispatch(t, s, device, domain.EventRegisterDevice, map[string]any{"device_info": map[string]any{}})

	events := drain(device)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Contains(t, events[0].Data["message"], "device_id is required")
	assert.Empty(t, drain(watcher), "errors go to the sender only")
	assert.Empty(t, s.ListDevices())
}

func TestRegisterDevice_AnnouncesToClients(t *testing.T) {
	s := newTestSignaling(t)
	device, viewer := domain.NewPeer("d"), domain.NewPeer("v")
	_, err := s.RegisterClient(viewer, "viewer-1", nil)
	require.NoError(t, err)
	drain(viewer)

	dispatch(t, s, device, domain.EventRegisterDevice, map[string]any{
		"device_id":   "laika-1",
		"device_info": map[string]any{"name": "Laika", "capabilities": []string{"camera"}},
	})

	deviceEvents := drain(device)
	require.Len(t, deviceEvents, 1)
	assert.Equal(t, domain.EventRegistrationSuccess, deviceEvents[0].Type)
	assert.Equal(t, "laika-1", deviceEvents[0].Data["device_id"])
	assert.NotEmpty(t, deviceEvents[0].Data["message"])

	online := ofType(drain(viewer), domain.EventDeviceOnline)
	require.Len(t, online, 1)
	assert.Equal(t, "laika-1", online[0].Data["device_id"])
	assert.Equal(t, "webrtc", online[0].Data["connection_type"])
	info, ok := online[0].Data["device_info"].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"Laika","capabilities":["camera"]}`, string(info))
}

func TestRegisterClient_GeneratesID(t *testing.T) {
	s := newTestSignaling(t)
	viewer := domain.NewPeer("v")

	dispatch(t, s, viewer, domain.EventRegisterClient, map[string]any{})

	events := drain(viewer)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRegistrationSuccess, events[0].Type)

	clientID, _ := events[0].Data["client_id"].(string)
	_, err := uuid.Parse(clientID)
	assert.NoError(t, err)
	assert.Equal(t, []string{}, events[0].Data["available_devices"])
	assert.Equal(t, testICEServers, events[0].Data["ice_servers"])
	assert.Equal(t, 1, s.Stats().Clients)
}

func TestRegisterClient_ListsAvailableDevices(t *testing.T) {
	s := newTestSignaling(t)
	require.NoError(t, s.RegisterDevice(domain.NewPeer("1"), "b-dev", nil))
	require.NoError(t, s.RegisterDevice(domain.NewPeer("2"), "a-dev", nil))

	viewer := domain.NewPeer("v")
	id, err := s.RegisterClient(viewer, "given", nil)
	require.NoError(t, err)
	assert.Equal(t, "given", id)

	events := drain(viewer)
	require.Len(t, events, 1)
	assert.Equal(t, "given", events[0].Data["client_id"])
	assert.Equal(t, []string{"a-dev", "b-dev"}, events[0].Data["available_devices"])
}

func TestRequestConnection_UniqueRoomIDs(t *testing.T) {
	s := newTestSignaling(t)
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	device, viewer := domain.NewPeer("d"), domain.NewPeer("v")
	require.NoError(t, s.RegisterDevice(device, "laika-1", nil))

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		roomID, err := s.RequestConnection(viewer, "laika-1", "viewer-1")
		require.NoError(t, err)
		_, dup := seen[roomID]
		require.False(t, dup, "duplicate room id %s", roomID)
		seen[roomID] = struct{}{}
		drain(device)
		drain(viewer)
	}
	assert.Equal(t, 1000, s.Stats().Rooms)
}

func TestRequestConnection_UnknownDevice(t *testing.T) {
	s := newTestSignaling(t)
	viewer := domain.NewPeer("v")

	dispatch(t, s, viewer, domain.EventRequestConnection, map[string]any{
		"device_id": "ghost",
		"client_id": "viewer-1",
	})

	events := drain(viewer)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Contains(t, events[0].Data["message"], "ghost")
	assert.Equal(t, 0, s.Stats().Rooms)

	_, err := s.RequestConnection(viewer, "ghost", "viewer-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.RequestConnection(viewer, "", "viewer-1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.RequestConnection(viewer, "ghost", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, s.Stats().Rooms)
}

func TestRelaySignal_DeliveredToOthersOnly(t *testing.T) {
	s := newTestSignaling(t)
	device, viewer, bystander := domain.NewPeer("d"), domain.NewPeer("v"), domain.NewPeer("b")
	require.NoError(t, s.RegisterDevice(device, "laika-1", nil))
	_, err := s.RegisterClient(bystander, "bystander", nil)
	require.NoError(t, err)
	roomID, err := s.RequestConnection(viewer, "laika-1", "viewer-1")
	require.NoError(t, err)
	drain(device)
	drain(viewer)
	drain(bystander)

	dispatch(t, s, device, domain.EventWebRTCOffer, map[string]any{
		"room_id": roomID,
		"offer":   map[string]any{"type": "offer", "sdp": "v=0"},
	})

	assert.Empty(t, drain(device), "offer must not echo to the sender")
	assert.Empty(t, drain(bystander))

	got := drain(viewer)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventWebRTCOffer, got[0].Type)
	assert.Equal(t, device.ID, got[0].Data["from"])
	offer, ok := got[0].Data["offer"].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer))

	require.NoError(t, s.RelaySignal(viewer, domain.EventWebRTCAnswer, roomID, json.RawMessage(`{"type":"answer","sdp":"v=0"}`)))
	require.NoError(t, s.RelaySignal(viewer, domain.EventICECandidate, roomID, json.RawMessage(`{"candidate":"candidate:1"}`)))
	assert.Empty(t, drain(viewer))

	back := drain(device)
	require.Len(t, back, 2)
	assert.Equal(t, domain.EventWebRTCAnswer, back[0].Type)
	assert.Equal(t, domain.EventICECandidate, back[1].Type)
	assert.Equal(t, viewer.ID, back[1].Data["from"])
}

func TestRelaySignal_Validation(t *testing.T) {
	s := newTestSignaling(t)
	p := domain.NewPeer("p")

	assert.ErrorIs(t, s.RelaySignal(p, domain.EventWebRTCOffer, "", json.RawMessage(`{}`)), ErrValidation)
	assert.ErrorIs(t, s.RelaySignal(p, domain.EventWebRTCOffer, "room_x", nil), ErrValidation)
	assert.ErrorIs(t, s.RelaySignal(p, domain.EventWebRTCOffer, "room_x", json.RawMessage(`null`)), ErrValidation)
	assert.ErrorIs(t, s.RelaySignal(p, "chat", "room_x", json.RawMessage(`{}`)), ErrValidation)
	assert.NoError(t, s.RelaySignal(p, domain.EventICECandidate, "room_unknown", json.RawMessage(`{}`)))

	dispatch(t, s, p, domain.EventICECandidate, map[string]any{"room_id": "room_x"})
	events := drain(p)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Contains(t, events[0].Data["message"], "candidate is required")

	s.Dispatch(context.Background(), p, &domain.Message{Type: domain.EventWebRTCOffer, Data: json.RawMessage(`[1,2`)})
	events = drain(p)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data["message"], "malformed data")
}

func TestDisconnect_RemovesOnlyThatDevice(t *testing.T) {
	s := newTestSignaling(t)
	a, b, viewer := domain.NewPeer("a"), domain.NewPeer("b"), domain.NewPeer("v")
	require.NoError(t, s.RegisterDevice(a, "laika-1", nil))
	require.NoError(t, s.RegisterDevice(b, "laika-2", nil))
	_, err := s.RegisterClient(viewer, "viewer-1", nil)
	require.NoError(t, err)
	roomID, err := s.RequestConnection(viewer, "laika-1", "viewer-1")
	require.NoError(t, err)
	drain(viewer)
	drain(b)

	s.Disconnect(a)

	devices := s.ListDevices()
	require.Len(t, devices, 1)
	assert.Equal(t, "laika-2", devices[0].DeviceID)

	offline := ofType(drain(viewer), domain.EventDeviceOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "laika-1", offline[0].Data["device_id"])
	assert.Empty(t, drain(b))

	// The room outlives the disconnect but no longer relays to it.
	assert.Equal(t, 1, s.Stats().Rooms)
	_, member := s.rooms[roomID].Members[a.ID]
	assert.False(t, member)

	s.Disconnect(a)
	assert.Empty(t, drain(viewer), "second disconnect is a no-op")
}

func TestDisconnect_Client(t *testing.T) {
	s := newTestSignaling(t)
	viewer := domain.NewPeer("v")
	_, err := s.RegisterClient(viewer, "viewer-1", nil)
	require.NoError(t, err)

	s.Disconnect(viewer)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Clients)
	assert.Equal(t, 0, stats.Connections)
}

func TestConnectionEstablished_BroadcastsToRoom(t *testing.T) {
	s := newTestSignaling(t)
	device, viewer := domain.NewPeer("d"), domain.NewPeer("v")
	require.NoError(t, s.RegisterDevice(device, "laika-1", nil))
	roomID, err := s.RequestConnection(viewer, "laika-1", "viewer-1")
	require.NoError(t, err)
	drain(device)
	drain(viewer)

	dispatch(t, s, viewer, domain.EventConnectionEstablished, map[string]any{"room_id": roomID})

	for _, p := range []*domain.Peer{device, viewer} {
		events := drain(p)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventConnectionSuccess, events[0].Type)
		assert.Equal(t, roomID, events[0].Data["room_id"])
	}
	assert.Equal(t, 1, s.Stats().Rooms, "the room is not reclaimed")

	assert.NoError(t, s.ConnectionEstablished(viewer, "room_unknown"))
	assert.ErrorIs(t, s.ConnectionEstablished(viewer, ""), ErrValidation)
}

func TestSweepRooms(t *testing.T) {
	s := newTestSignaling(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	device, viewer := domain.NewPeer("d"), domain.NewPeer("v")
	require.NoError(t, s.RegisterDevice(device, "laika-1", nil))
	fresh, err := s.RequestConnection(viewer, "laika-1", "viewer-1")
	require.NoError(t, err)

	old := domain.NewRoom("laika-1", "viewer-0", now.Add(-2*time.Hour))
	s.rooms[old.ID] = old
	s.join(old, device)
	s.rooms["room_corrupt"] = &domain.Room{ID: "room_corrupt", Members: map[string]*domain.Peer{}}
	edge := domain.NewRoom("laika-1", "viewer-2", now.Add(-time.Hour))
	s.rooms[edge.ID] = edge

	removed := s.SweepRooms()
	assert.Equal(t, 2, removed)
	assert.Contains(t, s.rooms, fresh)
	assert.Contains(t, s.rooms, edge.ID)
	assert.NotContains(t, s.rooms, old.ID)
	assert.NotContains(t, s.rooms, "room_corrupt")
	assert.NotContains(t, s.peers[device.ID].rooms, old.ID)

	now = now.Add(time.Hour + time.Second)
	assert.Equal(t, 2, s.SweepRooms())
	assert.Equal(t, 0, s.Stats().Rooms)

	drain(device)
	drain(viewer)
	assert.NoError(t, s.RelaySignal(device, domain.EventWebRTCOffer, fresh, json.RawMessage(`{}`)))
	assert.Empty(t, drain(viewer), "a swept room relays nothing")
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	s := newTestSignaling(t)
	s.rooms["room_corrupt"] = &domain.Room{ID: "room_corrupt", Members: map[string]*domain.Peer{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Stats().Rooms == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDispatch_UnknownTypeAndCancelledContext(t *testing.T) {
	s := newTestSignaling(t)
	p := domain.NewPeer("p")

	s.Dispatch(context.Background(), p, &domain.Message{Type: "dance"})
	events := drain(p)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data["message"], "unsupported message type")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Dispatch(ctx, p, &domain.Message{Type: domain.EventRegisterClient})
	events = drain(p)
	require.Len(t, events, 1)
	assert.Equal(t, internalErrorMessage, events[0].Data["message"])
}

func TestSignaling_EndToEnd(t *testing.T) {
	s := newTestSignaling(t)
	viewer, robot := domain.NewPeer("viewer"), domain.NewPeer("robot")
	s.Connect(viewer)
	s.Connect(robot)
	require.Len(t, drain(viewer), 1)
	require.Len(t, drain(robot), 1)

	dispatch(t, s, viewer, domain.EventRegisterClient, map[string]any{"client_info": map[string]any{"ua": "pwa"}})
	reg := drain(viewer)
	require.Len(t, reg, 1)
	clientID := reg[0].Data["client_id"].(string)
	require.NotEmpty(t, clientID)
	assert.Equal(t, []string{}, reg[0].Data["available_devices"])

	dispatch(t, s, robot, domain.EventRegisterDevice, map[string]any{"device_id": "laika-1"})
	drain(robot)
	require.Len(t, ofType(drain(viewer), domain.EventDeviceOnline), 1)

	dispatch(t, s, viewer, domain.EventRequestConnection, map[string]any{"device_id": "laika-1", "client_id": clientID})

	robotEvents := drain(robot)
	viewerEvents := drain(viewer)
	require.Len(t, robotEvents, 1)
	require.Len(t, viewerEvents, 1)
	assert.Equal(t, domain.EventConnectionRequest, robotEvents[0].Type)
	assert.Equal(t, domain.EventConnectionRequestSent, viewerEvents[0].Type)
	assert.Equal(t, clientID, robotEvents[0].Data["client_id"])
	assert.Equal(t, "laika-1", viewerEvents[0].Data["device_id"])
	roomID := robotEvents[0].Data["room_id"]
	assert.Equal(t, roomID, viewerEvents[0].Data["room_id"])
	assert.Equal(t, testICEServers, robotEvents[0].Data["ice_servers"])

	dispatch(t, s, robot, domain.EventWebRTCOffer, map[string]any{"room_id": roomID, "offer": map[string]any{"sdp": "v=0"}})
	assert.Empty(t, drain(robot))
	relayed := drain(viewer)
	require.Len(t, relayed, 1)
	assert.Equal(t, robot.ID, relayed[0].Data["from"])
}
