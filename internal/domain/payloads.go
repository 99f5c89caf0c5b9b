package domain

import "encoding/json"

type JoinRequestPayload struct {
	OdID     string `json:"odId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type JoinAcceptedPayload struct {
	Success bool  `json:"success"`
	Room    *Room `json:"room"`
}

type JoinRejectedPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type PlayerJoinedPayload struct {
	Player RoomPlayer `json:"player"`
}

type PlayerLeftPayload struct {
	OdID string `json:"odId"`
}

type PlayerReadyPayload struct {
	OdID  string `json:"odId"`
	Ready bool   `json:"ready"`
}

type KickPayload struct {
	OdID string `json:"odId"`
}

// RoomUpdatePayload is a partial Room; nil fields are left untouched.
type RoomUpdatePayload struct {
	Status  *RoomStatus  `json:"status,omitempty"`
	Players []RoomPlayer `json:"players,omitempty"`
	Config  *RoomConfig  `json:"config,omitempty"`
}

type GameStartPayload struct{}

type GameStatePayload struct {
	State json.RawMessage `json:"state"`
	Seq   uint64          `json:"seq,omitempty"`
}

type GameActionPayload struct {
	Action   Action          `json:"action"`
	NewState json.RawMessage `json:"newState,omitempty"`
	Seq      uint64          `json:"seq,omitempty"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ChatPayload struct {
	Text         string `json:"text"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
}
