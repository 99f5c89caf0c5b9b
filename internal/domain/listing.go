package domain

import "time"

// Listing is a room advertised in the directory so guests can find the host.
type Listing struct {
	RoomID     string     `json:"roomId"`
	Code       string     `json:"code"`
	HostPeerID string     `json:"hostPeerId"`
	HostName   string     `json:"hostName"`
	GameSlug   string     `json:"gameSlug"`
	Status     RoomStatus `json:"status"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"maxPlayers"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
}

// ListingFromRoom builds the public view of a room.
func ListingFromRoom(r *Room) Listing {
	l := Listing{
		RoomID:     r.ID,
		Code:       r.Code,
		HostPeerID: r.HostPeerID,
		GameSlug:   r.GameSlug,
		Status:     r.Status,
		Players:    len(r.Players),
		MaxPlayers: r.Config.MaxPlayers,
		CreatedAt:  r.CreatedAt,
	}
	if host, ok := r.Host(); ok {
		l.HostName = host.Nickname
	}
	return l
}

func (l *Listing) IsExpired(now time.Time) bool {
	if l == nil {
		return true
	}
	if l.ExpiresAt.IsZero() {
		return false
	}
	return now.After(l.ExpiresAt)
}

// IsJoinable reports whether a new guest could be admitted.
func (l *Listing) IsJoinable() bool {
	return l.Status == RoomStatusWaiting && l.Players < l.MaxPlayers
}
