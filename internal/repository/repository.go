package repository

import (
	"context"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

// ListingRepository stores the rooms advertised in the directory.
type ListingRepository interface {
	Save(ctx context.Context, listing *domain.Listing) error
	GetByRoomID(ctx context.Context, roomID string) (*domain.Listing, error)
	GetByCode(ctx context.Context, code string) (*domain.Listing, error)
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]*domain.Listing, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// PeerRepository tracks peers connected to the signaling server.
type PeerRepository interface {
	Add(ctx context.Context, peer *domain.SignalPeer) error
	Get(ctx context.Context, id string) (*domain.SignalPeer, error)
	// Remove deletes id only while it is still bound to peer.
	Remove(ctx context.Context, id string, peer *domain.SignalPeer) error
	Count(ctx context.Context) (int, error)
}
