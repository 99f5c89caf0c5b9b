package domain

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type PeerStatus string

const (
	PeerStatusConnected    PeerStatus = "connected"
	PeerStatusConnecting   PeerStatus = "connecting"
	PeerStatusDisconnected PeerStatus = "disconnected"
)

// SignalPeer is a peer registered with the signaling server.
type SignalPeer struct {
	ID          string
	Status      PeerStatus
	ConnectedAt time.Time
	LastSeen    time.Time
	Mutex       sync.RWMutex
	Socket      *websocket.Conn
	Events      chan SignalMessage
	closed      bool
}

func NewSignalPeer(id string) *SignalPeer {
	now := time.Now().UTC()
	return &SignalPeer{
		ID:          id,
		Status:      PeerStatusConnecting,
		ConnectedAt: now,
		LastSeen:    now,
		Events:      make(chan SignalMessage, 64),
	}
}

func (p *SignalPeer) Touch() {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	p.LastSeen = time.Now().UTC()
}

// EnqueueEvent drops the event when the peer's queue is full or the peer
// is closed.
func (p *SignalPeer) EnqueueEvent(event SignalMessage) bool {
	p.Mutex.RLock()
	defer p.Mutex.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.Events <- event:
		return true
	default:
		return false
	}
}

// Close marks the peer disconnected and ends its event stream.
func (p *SignalPeer) Close() {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.Status = PeerStatusDisconnected
	close(p.Events)
}

func (p *SignalPeer) SetStatus(status PeerStatus) {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	p.Status = status
}

func (p *SignalPeer) GetStatus() PeerStatus {
	p.Mutex.RLock()
	defer p.Mutex.RUnlock()
	return p.Status
}
