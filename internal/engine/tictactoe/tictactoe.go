// Package tictactoe is a two-seat reference game for the engine contract.
package tictactoe

import (
	"fmt"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
)

const (
	Slug        = "tictactoe"
	ActionPlace = "place"
	seats       = 2
	cells       = 9
)

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

var Descriptor = engine.Descriptor{
	Slug:       Slug,
	Name:       "Tic-tac-toe",
	MinPlayers: seats,
	MaxPlayers: seats,
}

type Seat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mark string `json:"mark"`
	IsAI bool   `json:"isAi"`
}

type State struct {
	RoomID      string        `json:"roomId"`
	Board       [cells]string `json:"board"`
	Seats       []Seat        `json:"seats"`
	CurrentTurn string        `json:"currentTurn"`
	Status      engine.Status `json:"status"`
	Winner      string        `json:"winner,omitempty"`
	IsDraw      bool          `json:"isDraw"`
	WinningLine []int         `json:"winningLine,omitempty"`
	Moves       int           `json:"moves"`
}

func (s *State) GameStatus() engine.Status {
	if s == nil {
		return ""
	}
	return s.Status
}

func (s *State) Turn() string {
	if s == nil {
		return ""
	}
	return s.CurrentTurn
}

func (s *State) WinnerID() string {
	if s == nil {
		return ""
	}
	return s.Winner
}

type PlaceData struct {
	Cell int `json:"cell"`
}

type Engine struct{}

func New() Engine {
	return Engine{}
}

func (Engine) Slug() string {
	return Slug
}

func (Engine) CreateState(roomID string, players []domain.RoomPlayer, ai *engine.AIPlayer) (*State, error) {
	st := &State{
		RoomID: roomID,
		Status: engine.StatusPlaying,
	}
	marks := []string{"X", "O"}
	for _, p := range players {
		if len(st.Seats) == seats {
			return nil, fmt.Errorf("%w: %s seats %d", engine.ErrTooManyPlayers, Slug, seats)
		}
		st.Seats = append(st.Seats, Seat{ID: p.OdID, Name: p.Nickname, Mark: marks[len(st.Seats)]})
	}
	if ai != nil && len(st.Seats) < seats {
		st.Seats = append(st.Seats, Seat{ID: ai.ID, Name: ai.Name, Mark: marks[len(st.Seats)], IsAI: true})
	}
	if len(st.Seats) < seats {
		return nil, fmt.Errorf("%w: %s needs %d", engine.ErrNotEnoughPlayers, Slug, seats)
	}
	st.CurrentTurn = st.Seats[0].ID
	return st, nil
}

func (Engine) ApplyAction(st *State, action domain.Action) *State {
	if st == nil || st.Status != engine.StatusPlaying {
		return st
	}
	if action.Type != ActionPlace || action.PlayerID != st.CurrentTurn {
		return st
	}
	var data PlaceData
	if err := action.DecodeData(&data); err != nil {
		return st
	}
	if data.Cell < 0 || data.Cell >= cells || st.Board[data.Cell] != "" {
		return st
	}

	next := *st
	next.Seats = append([]Seat(nil), st.Seats...)
	next.Board[data.Cell] = action.PlayerID
	next.Moves++

	if line, ok := winningLine(next.Board); ok {
		next.Status = engine.StatusFinished
		next.Winner = action.PlayerID
		next.WinningLine = line
		return &next
	}
	if next.Moves == cells {
		next.Status = engine.StatusFinished
		next.IsDraw = true
		return &next
	}
	next.CurrentTurn = next.otherSeat(action.PlayerID)
	return &next
}

func (s *State) otherSeat(id string) string {
	for _, seat := range s.Seats {
		if seat.ID != id {
			return seat.ID
		}
	}
	return id
}

func winningLine(board [cells]string) ([]int, bool) {
	for _, l := range lines {
		a := board[l[0]]
		if a != "" && a == board[l[1]] && a == board[l[2]] {
			return []int{l[0], l[1], l[2]}, true
		}
	}
	return nil, false
}

// FirstFreeCell plays the AI seat by taking the lowest empty cell.
type FirstFreeCell struct{}

func (FirstFreeCell) NextAction(st *State, playerID string) (domain.Action, bool) {
	if st == nil || st.Status != engine.StatusPlaying || st.CurrentTurn != playerID {
		return domain.Action{}, false
	}
	for i, c := range st.Board {
		if c == "" {
			return PlaceAction(playerID, i), true
		}
	}
	return domain.Action{}, false
}

// PlaceAction builds the action marking cell for playerID.
func PlaceAction(playerID string, cell int) domain.Action {
	return domain.Action{
		Type:     ActionPlace,
		PlayerID: playerID,
		Data:     []byte(fmt.Sprintf(`{"cell":%d}`, cell)),
	}
}
