// Package engine defines the contract every turn-based game plugs into the
// session synchronizer with. Engines are pure: they never touch the
// network and never fail on a bad action.
package engine

import (
	"errors"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

var (
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrTooManyPlayers   = errors.New("too many players")
	ErrUnknownGame      = errors.New("unknown game")
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// State is the part of a snapshot the synchronizer relies on. Everything
// else is owned by the game.
type State interface {
	GameStatus() Status
	Turn() string
	WinnerID() string
}

// AIPlayer is a computer-controlled seat that has no RoomPlayer entry.
type AIPlayer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Engine[S State] interface {
	Slug() string
	// CreateState fails with ErrNotEnoughPlayers below the game's minimum.
	CreateState(roomID string, players []domain.RoomPlayer, ai *AIPlayer) (S, error)
	// ApplyAction is total: an action that does not apply returns state
	// itself, unchanged.
	ApplyAction(state S, action domain.Action) S
}
