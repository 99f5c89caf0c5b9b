package converter

import (
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

type ListingResponse struct {
	RoomID     string            `json:"room_id"`
	Code       string            `json:"code"`
	HostPeerID string            `json:"host_peer_id"`
	HostName   string            `json:"host_name"`
	GameSlug   string            `json:"game_slug"`
	Status     domain.RoomStatus `json:"status"`
	Players    int               `json:"players"`
	MaxPlayers int               `json:"max_players"`
	IsJoinable bool              `json:"is_joinable"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// PublishRequest is the body a host posts to advertise its room.
type PublishRequest struct {
	RoomID     string            `json:"room_id" binding:"required"`
	Code       string            `json:"code" binding:"required"`
	HostPeerID string            `json:"host_peer_id" binding:"required"`
	HostName   string            `json:"host_name"`
	GameSlug   string            `json:"game_slug"`
	Status     domain.RoomStatus `json:"status"`
	Players    int               `json:"players"`
	MaxPlayers int               `json:"max_players" binding:"required"`
	CreatedAt  time.Time         `json:"created_at"`
}

type PeerIDResponse struct {
	PeerID string `json:"peer_id"`
}

func ListingToApi(l *domain.Listing) *ListingResponse {
	return &ListingResponse{
		RoomID:     l.RoomID,
		Code:       l.Code,
		HostPeerID: l.HostPeerID,
		HostName:   l.HostName,
		GameSlug:   l.GameSlug,
		Status:     l.Status,
		Players:    l.Players,
		MaxPlayers: l.MaxPlayers,
		IsJoinable: l.IsJoinable(),
		CreatedAt:  l.CreatedAt,
		ExpiresAt:  l.ExpiresAt,
	}
}

func ListingsToApi(ls []*domain.Listing) []*ListingResponse {
	out := make([]*ListingResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, ListingToApi(l))
	}
	return out
}

func ListingFromApi(r *ListingResponse) domain.Listing {
	return domain.Listing{
		RoomID:     r.RoomID,
		Code:       r.Code,
		HostPeerID: r.HostPeerID,
		HostName:   r.HostName,
		GameSlug:   r.GameSlug,
		Status:     r.Status,
		Players:    r.Players,
		MaxPlayers: r.MaxPlayers,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

func PublishRequestFromListing(l domain.Listing) PublishRequest {
	return PublishRequest{
		RoomID:     l.RoomID,
		Code:       l.Code,
		HostPeerID: l.HostPeerID,
		HostName:   l.HostName,
		GameSlug:   l.GameSlug,
		Status:     l.Status,
		Players:    l.Players,
		MaxPlayers: l.MaxPlayers,
		CreatedAt:  l.CreatedAt,
	}
}

func (r PublishRequest) Listing() domain.Listing {
	return domain.Listing{
		RoomID:     r.RoomID,
		Code:       r.Code,
		HostPeerID: r.HostPeerID,
		HostName:   r.HostName,
		GameSlug:   r.GameSlug,
		Status:     r.Status,
		Players:    r.Players,
		MaxPlayers: r.MaxPlayers,
		CreatedAt:  r.CreatedAt,
	}
}
