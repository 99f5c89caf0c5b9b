package service

import (
	"context"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

type SignalingInteractor interface {
	NewPeerID() string
	RegisterPeer(ctx context.Context, peerID string) (*domain.SignalPeer, error)
	UnregisterPeer(ctx context.Context, peer *domain.SignalPeer) error
	HandleSignal(ctx context.Context, peer *domain.SignalPeer, message *domain.SignalMessage) error
}

type DirectoryInteractor interface {
	Publish(ctx context.Context, listing domain.Listing) (*domain.Listing, error)
	Withdraw(ctx context.Context, roomID string) error
	GetByRoomID(ctx context.Context, roomID string) (*domain.Listing, error)
	GetByCode(ctx context.Context, code string) (*domain.Listing, error)
	List(ctx context.Context, filter ListingFilter) ([]*domain.Listing, error)
}
