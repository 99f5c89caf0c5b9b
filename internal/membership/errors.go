package membership

import "errors"

var (
	ErrNotHost          = errors.New("only the host can do this")
	ErrNotInRoom        = errors.New("not in a room")
	ErrAlreadyInRoom    = errors.New("already in a room")
	ErrJoinInProgress   = errors.New("join already in progress")
	ErrJoinRejected     = errors.New("join rejected")
	ErrJoinTimeout      = errors.New("join timed out")
	ErrCannotStart      = errors.New("room cannot start")
	ErrInvalidStatus    = errors.New("invalid room status")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrInvalidConfig    = errors.New("invalid room config")
	ErrInvalidChat      = errors.New("invalid chat message")
	ErrCannotResume     = errors.New("persisted room cannot be resumed")
	ErrPlayersNotReady  = errors.New("not every player is ready")
	ErrNotEnoughPlayers = errors.New("not enough players")
)

// Rejection reasons are shown to the joining user as-is.
const (
	ReasonRoomFull      = "ห้องเต็มแล้ว"
	ReasonGameStarted   = "เกมเริ่มไปแล้ว"
	ReasonInvalidPlayer = "ข้อมูลผู้เล่นไม่ถูกต้อง"
	ReasonSeatTaken     = "ที่นั่งนี้มีผู้เล่นอยู่แล้ว"
)

// RejectedError is the host's structured refusal of a join request.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "join rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrJoinRejected
}
