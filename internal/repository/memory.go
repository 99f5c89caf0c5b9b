package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrCodeTaken       = errors.New("room code already listed")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrPeerExists      = errors.New("peer already registered")
)

type InMemoryListingRepository struct {
	mu       sync.RWMutex
	listings map[string]*domain.Listing
	codes    map[string]string
}

func NewInMemoryListingRepository() *InMemoryListingRepository {
	return &InMemoryListingRepository{
		listings: make(map[string]*domain.Listing),
		codes:    make(map[string]string),
	}
}

// Save inserts or replaces the listing for its room. A code already used
// by another room is rejected.
func (r *InMemoryListingRepository) Save(ctx context.Context, listing *domain.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID, ok := r.codes[listing.Code]; ok && roomID != listing.RoomID {
		return ErrCodeTaken
	}
	if prev, ok := r.listings[listing.RoomID]; ok && prev.Code != listing.Code {
		delete(r.codes, prev.Code)
	}

	stored := *listing
	r.listings[listing.RoomID] = &stored
	r.codes[listing.Code] = listing.RoomID
	return nil
}

func (r *InMemoryListingRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	listing, ok := r.listings[roomID]
	if !ok {
		return nil, ErrListingNotFound
	}
	out := *listing
	return &out, nil
}

func (r *InMemoryListingRepository) GetByCode(ctx context.Context, code string) (*domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.codes[code]
	if !ok {
		return nil, ErrListingNotFound
	}
	listing, ok := r.listings[roomID]
	if !ok {
		return nil, ErrListingNotFound
	}
	out := *listing
	return &out, nil
}

func (r *InMemoryListingRepository) Delete(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[roomID]
	if !ok {
		return ErrListingNotFound
	}
	delete(r.codes, listing.Code)
	delete(r.listings, roomID)
	return nil
}

func (r *InMemoryListingRepository) List(ctx context.Context) ([]*domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Listing, 0, len(r.listings))
	for _, listing := range r.listings {
		out := *listing
		result = append(result, &out)
	}
	return result, nil
}

func (r *InMemoryListingRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, listing := range r.listings {
		if listing.IsExpired(now) {
			delete(r.codes, listing.Code)
			delete(r.listings, id)
			n++
		}
	}
	return n, nil
}

type InMemoryPeerRepository struct {
	mu    sync.RWMutex
	peers map[string]*domain.SignalPeer
}

func NewInMemoryPeerRepository() *InMemoryPeerRepository {
	return &InMemoryPeerRepository{
		peers: make(map[string]*domain.SignalPeer),
	}
}

func (r *InMemoryPeerRepository) Add(ctx context.Context, peer *domain.SignalPeer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peer.ID]; ok {
		return ErrPeerExists
	}
	r.peers[peer.ID] = peer
	return nil
}

func (r *InMemoryPeerRepository) Get(ctx context.Context, id string) (*domain.SignalPeer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[id]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return peer, nil
}

func (r *InMemoryPeerRepository) Remove(ctx context.Context, id string, peer *domain.SignalPeer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.peers[id]
	if !ok || current != peer {
		return ErrPeerNotFound
	}
	delete(r.peers, id)
	return nil
}

func (r *InMemoryPeerRepository) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers), nil
}
