package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const peerEventBuffer = 64

// Peer is one live signaling connection. Its ID is the handle other
// parties see in the "from" field of relayed messages.
type Peer struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
	events   chan Event
}

func NewPeer(remoteAddr string) *Peer {
	now := time.Now().UTC()
	return &Peer{
		ID:          uuid.New().String(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		lastSeen:    now,
		events:      make(chan Event, peerEventBuffer),
	}
}

// Events is drained by the connection writer. It is closed by Close.
func (p *Peer) Events() <-chan Event {
	return p.events
}

// EnqueueEvent never blocks; it reports false when the peer is closed
// or its buffer is full.
func (p *Peer) EnqueueEvent(event Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.events <- event:
		return true
	default:
		return false
	}
}

func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now().UTC()
}

func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}
