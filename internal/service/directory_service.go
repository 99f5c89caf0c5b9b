package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/repository"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

const DefaultListingTTL = 2 * time.Minute

var ErrInvalidListing = errors.New("invalid listing")

type ListingFilter struct {
	GameSlug     string
	JoinableOnly bool
}

// DirectoryService keeps the public rooms hosts advertise. Listings expire
// unless the host republishes them, expired ones are purged on read.
type DirectoryService struct {
	listings repository.ListingRepository
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewDirectoryService(listings repository.ListingRepository, ttl time.Duration, log *slog.Logger) *DirectoryService {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	return &DirectoryService{
		listings: listings,
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *DirectoryService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *DirectoryService) Publish(ctx context.Context, listing domain.Listing) (*domain.Listing, error) {
	const op = "service.directory.publish"
	log := s.log.With(slog.String("op", op), slog.String("room_id", listing.RoomID))

	listing.Code = normalizeCode(listing.Code)
	if listing.RoomID == "" || listing.Code == "" || listing.HostPeerID == "" || listing.MaxPlayers < 1 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidListing)
	}

	now := s.now().UTC()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.ExpiresAt = now.Add(s.ttl)

	if err := s.listings.Save(ctx, &listing); err != nil {
		log.Info("failed to save listing", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Debug("listing published", slog.String("code", listing.Code), slog.Int("players", listing.Players))
	return &listing, nil
}

func (s *DirectoryService) Withdraw(ctx context.Context, roomID string) error {
	const op = "service.directory.withdraw"
	if err := s.listings.Delete(ctx, roomID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("listing withdrawn", slog.String("op", op), slog.String("room_id", roomID))
	return nil
}

func (s *DirectoryService) GetByRoomID(ctx context.Context, roomID string) (*domain.Listing, error) {
	const op = "service.directory.get"
	s.purge(ctx)
	listing, err := s.listings.GetByRoomID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return listing, nil
}

// GetByCode resolves a room code to the listing carrying the host's peer id.
func (s *DirectoryService) GetByCode(ctx context.Context, code string) (*domain.Listing, error) {
	const op = "service.directory.resolve"
	s.purge(ctx)
	listing, err := s.listings.GetByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return listing, nil
}

// List returns live listings, newest first.
func (s *DirectoryService) List(ctx context.Context, filter ListingFilter) ([]*domain.Listing, error) {
	const op = "service.directory.list"
	s.purge(ctx)

	all, err := s.listings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*domain.Listing, 0, len(all))
	for _, l := range all {
		if filter.GameSlug != "" && l.GameSlug != filter.GameSlug {
			continue
		}
		if filter.JoinableOnly && !l.IsJoinable() {
			continue
		}
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *DirectoryService) purge(ctx context.Context) {
	n, err := s.listings.DeleteExpired(ctx, s.now())
	if err != nil {
		s.log.Warn("failed to purge listings", sl.Err(err))
		return
	}
	if n > 0 {
		s.log.Debug("expired listings purged", slog.Int("count", n))
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
