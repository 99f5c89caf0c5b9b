// Package storage keeps the minimal per-tab session state that survives a
// reload: the room mirror and the peer's role in it. Connection status and
// game snapshots are never stored.
package storage

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

var ErrNoSession = errors.New("no persisted session")

type SessionState struct {
	Room     *domain.Room `json:"room"`
	IsHost   bool         `json:"isHost"`
	IsInRoom bool         `json:"isInRoom"`
}

type SessionStore interface {
	Load(ctx context.Context) (*SessionState, error)
	Save(ctx context.Context, state SessionState) error
	Clear(ctx context.Context) error
}
