package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrEmptyPayload = errors.New("empty payload")

type MessageType string

const (
	MsgJoinRequest  MessageType = "join_request"
	MsgJoinAccepted MessageType = "join_accepted"
	MsgJoinRejected MessageType = "join_rejected"
	MsgPlayerJoined MessageType = "player_joined"
	MsgPlayerLeft   MessageType = "player_left"
	MsgPlayerReady  MessageType = "player_ready"
	MsgKick         MessageType = "kick"
	MsgRoomUpdate   MessageType = "room_update"
	MsgGameStart    MessageType = "game_start"
	MsgGameState    MessageType = "game_state"
	MsgGameAction   MessageType = "game_action"
	MsgPing         MessageType = "ping"
	MsgPong         MessageType = "pong"
	MsgChat         MessageType = "chat"
)

// Envelope is the only unit that crosses the peer transport.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SenderID  string          `json:"senderId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(t MessageType, senderID string, now time.Time, payload any) (Envelope, error) {
	env := Envelope{
		Type:      t,
		SenderID:  senderID,
		Timestamp: now.UnixMilli(),
	}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Payload, v)
}
