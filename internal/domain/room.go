package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const codeLength = 6

type RoomStatus string

const (
	RoomStatusCreating RoomStatus = "creating"
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusStarting RoomStatus = "starting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusPaused   RoomStatus = "paused"
	RoomStatusFinished RoomStatus = "finished"
)

type RoomConfig struct {
	MinPlayers int  `json:"minPlayers"`
	MaxPlayers int  `json:"maxPlayers"`
	IsPrivate  bool `json:"isPrivate"`
}

// Room is the membership container of one play session. The host owns the
// authoritative copy, guests hold a mirror installed from join_accepted.
type Room struct {
	ID         string       `json:"id"`
	Code       string       `json:"code"`
	HostOdID   string       `json:"hostOdId"`
	HostPeerID string       `json:"hostPeerId"`
	GameSlug   string       `json:"gameSlug"`
	Status     RoomStatus   `json:"status"`
	Players    []RoomPlayer `json:"players"`
	Config     RoomConfig   `json:"config"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// NewRoom constructs a room in the creating state with host as its only,
// ready player.
func NewRoom(host Profile, hostPeerID, gameSlug string, cfg RoomConfig, now time.Time) *Room {
	now = now.UTC()
	return &Room{
		ID:         uuid.New().String(),
		Code:       generateCode(),
		HostOdID:   host.OdID,
		HostPeerID: hostPeerID,
		GameSlug:   gameSlug,
		Status:     RoomStatusCreating,
		Players: []RoomPlayer{{
			OdID:        host.OdID,
			PeerID:      hostPeerID,
			Nickname:    host.Nickname,
			Avatar:      host.Avatar,
			IsHost:      true,
			IsReady:     true,
			IsConnected: true,
			JoinedAt:    now,
		}},
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Room) IsFull() bool {
	return len(r.Players) >= r.Config.MaxPlayers
}

// Player returns the index of the player with odID, or -1.
func (r *Room) Player(odID string) int {
	for i := range r.Players {
		if r.Players[i].OdID == odID {
			return i
		}
	}
	return -1
}

// PlayerByPeer returns the index of the player reachable at peerID, or -1.
func (r *Room) PlayerByPeer(peerID string) int {
	for i := range r.Players {
		if r.Players[i].PeerID == peerID {
			return i
		}
	}
	return -1
}

func (r *Room) RemovePlayer(odID string) (RoomPlayer, bool) {
	idx := r.Player(odID)
	if idx < 0 {
		return RoomPlayer{}, false
	}
	p := r.Players[idx]
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	return p, true
}

func (r *Room) Host() (RoomPlayer, bool) {
	for _, p := range r.Players {
		if p.IsHost {
			return p, true
		}
	}
	return RoomPlayer{}, false
}

// EffectivePlayers counts the roster plus an optional AI seat.
func (r *Room) EffectivePlayers(withAI bool) int {
	n := len(r.Players)
	if withAI {
		n++
	}
	return n
}

func (r *Room) AllReady() bool {
	for _, p := range r.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand out of the owning service.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = append([]RoomPlayer(nil), r.Players...)
	return &c
}

func (r *Room) Touch(now time.Time) {
	r.UpdatedAt = now.UTC()
}

func generateCode() string {
	code := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return code[:codeLength]
}
