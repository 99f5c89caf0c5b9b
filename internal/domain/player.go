package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoomPlayer is one seat of a room, keyed by the stable OdID.
type RoomPlayer struct {
	OdID        string    `json:"odId"`
	PeerID      string    `json:"peerId"`
	Nickname    string    `json:"nickname"`
	Avatar      string    `json:"avatar"`
	IsHost      bool      `json:"isHost"`
	IsReady     bool      `json:"isReady"`
	IsConnected bool      `json:"isConnected"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Profile is the local identity a peer presents when creating or joining.
type Profile struct {
	OdID     string `json:"odId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

func NewProfile(nickname, avatar string) Profile {
	return Profile{
		OdID:     uuid.New().String(),
		Nickname: nickname,
		Avatar:   avatar,
	}
}
