// Package transport carries envelopes between directly connected peers.
//
// Delivery is reliable and ordered per pair of peers only. A broadcast is a
// series of independent sends, and a link that silently stops delivering
// raises no event; liveness is the heartbeat layer's job.
package transport

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

//go:generate mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

var (
	ErrNotInitialized   = errors.New("transport not initialized")
	ErrPeerUnavailable  = errors.New("peer unavailable")
	ErrPeerNotConnected = errors.New("peer not connected")
)

// Callbacks are invoked from transport goroutines. Events concerning one
// remote peer are delivered in order. Send, Broadcast and DisconnectPeer
// never invoke a callback on the calling goroutine.
type Callbacks struct {
	OnOpen          func(selfID string)
	OnClose         func()
	OnError         func(err error)
	OnConnection    func(peerID string)
	OnDisconnection func(peerID string)
	OnMessage       func(env domain.Envelope, senderID string)
}

type Transport interface {
	// Initialize registers the local peer and returns its identity.
	Initialize(ctx context.Context, cb Callbacks) (string, error)
	ID() string
	// ConnectToPeer blocks until a link to peerID is open or ctx is done.
	ConnectToPeer(ctx context.Context, peerID string) error
	Send(peerID string, t domain.MessageType, payload any) error
	Broadcast(t domain.MessageType, payload any, exclude ...string) error
	DisconnectPeer(peerID string)
	Cleanup()
	ConnectedPeers() []string
}

func (cb Callbacks) open(id string) {
	if cb.OnOpen != nil {
		cb.OnOpen(id)
	}
}

func (cb Callbacks) closed() {
	if cb.OnClose != nil {
		cb.OnClose()
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb Callbacks) connected(peerID string) {
	if cb.OnConnection != nil {
		cb.OnConnection(peerID)
	}
}

func (cb Callbacks) disconnected(peerID string) {
	if cb.OnDisconnection != nil {
		cb.OnDisconnection(peerID)
	}
}

func (cb Callbacks) message(env domain.Envelope, senderID string) {
	if cb.OnMessage != nil {
		cb.OnMessage(env, senderID)
	}
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}
