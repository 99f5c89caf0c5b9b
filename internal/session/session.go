// Package session keeps one game's state in sync across a room. The host
// is the only peer that applies actions; guests forward their intents and
// render whatever snapshot the host sends last.
package session

import (
	"errors"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
)

var (
	ErrNotStarted  = errors.New("session not started")
	ErrNotHost     = errors.New("only the host can do this")
	ErrNotYourTurn = errors.New("not your turn")
	ErrPaused      = errors.New("session paused")
	ErrGameOver    = errors.New("game is over")
)

// Flags are derived from the current snapshot for rendering.
type Flags struct {
	IsPlaying  bool
	ShowResult bool
}

// Sender is the part of a transport the synchronizer needs.
type Sender interface {
	Send(peerID string, t domain.MessageType, payload any) error
	Broadcast(t domain.MessageType, payload any, exclude ...string) error
}

// Mover chooses the next action for a computer-controlled seat.
type Mover[S engine.State] interface {
	NextAction(state S, playerID string) (domain.Action, bool)
}

type Config struct {
	RoomID     string
	HostPeerID string
	IsHost     bool
	Players    []domain.RoomPlayer
	AI         *engine.AIPlayer
}

// GameSession is a Synchronizer with its snapshot type erased.
type GameSession interface {
	Start(cfg Config) error
	Restart() error
	Submit(action domain.Action) error
	HandleMessage(env domain.Envelope, senderID string) bool
	SendSnapshot(peerID string) error
	SetPlayers(players []domain.RoomPlayer)
	SetPaused(paused bool)
	Flags() Flags
	Seq() uint64
	Reset()
}
