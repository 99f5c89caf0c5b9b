package domain

import "encoding/json"

// Action is a player intent. Any peer may submit one, only the host applies it.
type Action struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"playerId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the action's game-specific data into v.
func (a Action) DecodeData(v any) error {
	if len(a.Data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(a.Data, v)
}
