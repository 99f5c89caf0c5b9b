package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	ID           uuid.UUID
	RoomID       string
	PeerID       string
	SenderName   string
	SenderAvatar string
	Text         string
	CreatedAt    time.Time
}

func NewChatMessage(roomID, peerID string, payload ChatPayload, now time.Time) *ChatMessage {
	return &ChatMessage{
		ID:           uuid.New(),
		RoomID:       roomID,
		PeerID:       peerID,
		SenderName:   payload.SenderName,
		SenderAvatar: payload.SenderAvatar,
		Text:         payload.Text,
		CreatedAt:    now.UTC(),
	}
}
