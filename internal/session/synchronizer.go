package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

// maxAIMoves bounds how many consecutive AI turns are played after one
// human action.
const maxAIMoves = 16

type Synchronizer[S engine.State] struct {
	engine engine.Engine[S]
	sender Sender
	log    *slog.Logger

	listenerMu sync.RWMutex
	listener   func(S)

	mu       sync.Mutex
	now      func() time.Time
	mover    Mover[S]
	cfg      Config
	started  bool
	hasState bool
	paused   bool
	state    S
	seq      uint64
}

var _ GameSession = (*Synchronizer[engine.State])(nil)

func New[S engine.State](eng engine.Engine[S], sender Sender, log *slog.Logger) *Synchronizer[S] {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer[S]{
		engine: eng,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Synchronizer[S]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetMover lets the host play the AI seat with m.
func (s *Synchronizer[S]) SetMover(m Mover[S]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mover = m
}

// OnState registers a listener called with every new snapshot.
func (s *Synchronizer[S]) OnState(fn func(S)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = fn
}

// Start binds the session to a room. The host creates the initial state
// and broadcasts it as the baseline; a guest waits for that baseline.
func (s *Synchronizer[S]) Start(cfg Config) error {
	const op = "session.synchronizer.start"

	s.mu.Lock()
	s.cfg = cfg
	s.cfg.Players = append([]domain.RoomPlayer(nil), cfg.Players...)
	s.started = true
	s.paused = false
	if !cfg.IsHost {
		var zero S
		s.state = zero
		s.hasState = false
		s.seq = 0
		s.mu.Unlock()
		return nil
	}
	st, err := s.resetHostLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("game session started",
		slog.String("op", op),
		slog.String("room_id", cfg.RoomID),
		slog.String("game", s.engine.Slug()),
	)
	s.notify(st)
	return nil
}

// Restart replaces the finished or running game with a fresh one and
// broadcasts the new baseline.
func (s *Synchronizer[S]) Restart() error {
	const op = "session.synchronizer.restart"

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotStarted)
	}
	if !s.cfg.IsHost {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotHost)
	}
	st, err := s.resetHostLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("game session restarted", slog.String("op", op), slog.String("room_id", s.cfg.RoomID))
	s.notify(st)
	return nil
}

func (s *Synchronizer[S]) resetHostLocked() (S, error) {
	st, err := s.engine.CreateState(s.cfg.RoomID, s.cfg.Players, s.cfg.AI)
	if err != nil {
		var zero S
		return zero, err
	}
	s.state = st
	s.hasState = true
	s.seq++
	s.broadcastStateLocked()
	s.playAILocked()
	return s.state, nil
}

// Submit hands a local player's action to the session. On the host it is
// validated and applied; a guest only forwards it.
func (s *Synchronizer[S]) Submit(action domain.Action) error {
	const op = "session.synchronizer.submit"

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotStarted)
	}
	if action.Timestamp == 0 {
		action.Timestamp = s.now().UnixMilli()
	}

	if !s.cfg.IsHost {
		err := s.sender.Broadcast(domain.MsgGameAction, domain.GameActionPayload{Action: action})
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	st, err := s.applyLocked(action)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.notify(st)
	return nil
}

// applyLocked is the host's single authority point.
func (s *Synchronizer[S]) applyLocked(action domain.Action) (S, error) {
	switch {
	case !s.hasState:
		return s.state, ErrNotStarted
	case s.paused:
		return s.state, ErrPaused
	case s.state.GameStatus() == engine.StatusFinished:
		return s.state, ErrGameOver
	case action.PlayerID != s.state.Turn():
		return s.state, ErrNotYourTurn
	}

	s.state = s.engine.ApplyAction(s.state, action)
	s.seq++
	s.broadcastActionLocked(action)
	s.playAILocked()
	return s.state, nil
}

func (s *Synchronizer[S]) playAILocked() {
	if s.mover == nil || s.cfg.AI == nil || s.paused {
		return
	}
	for i := 0; i < maxAIMoves; i++ {
		if s.state.GameStatus() != engine.StatusPlaying || s.state.Turn() != s.cfg.AI.ID {
			return
		}
		action, ok := s.mover.NextAction(s.state, s.cfg.AI.ID)
		if !ok {
			return
		}
		if action.Timestamp == 0 {
			action.Timestamp = s.now().UnixMilli()
		}
		s.state = s.engine.ApplyAction(s.state, action)
		s.seq++
		s.broadcastActionLocked(action)
	}
}

// HandleMessage applies game_state and game_action messages and reports
// whether the type belongs to the session.
func (s *Synchronizer[S]) HandleMessage(env domain.Envelope, senderID string) bool {
	switch env.Type {
	case domain.MsgGameState:
		var p domain.GameStatePayload
		if err := env.Decode(&p); err != nil {
			s.log.Warn("dropping malformed game state", sl.Err(err))
			return true
		}
		s.handleSnapshot(senderID, p.State, p.Seq)
	case domain.MsgGameAction:
		var p domain.GameActionPayload
		if err := env.Decode(&p); err != nil {
			s.log.Warn("dropping malformed game action", sl.Err(err))
			return true
		}
		s.handleAction(senderID, p)
	default:
		return false
	}
	return true
}

func (s *Synchronizer[S]) handleAction(senderID string, p domain.GameActionPayload) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if !s.cfg.IsHost {
		s.mu.Unlock()
		if len(p.NewState) > 0 {
			s.handleSnapshot(senderID, p.NewState, p.Seq)
		}
		return
	}

	// A guest may only act for the seat it holds.
	if !s.ownsSeatLocked(senderID, p.Action.PlayerID) {
		s.mu.Unlock()
		s.log.Warn("dropping action for a foreign seat",
			slog.String("sender", senderID),
			slog.String("player_id", p.Action.PlayerID),
		)
		return
	}
	st, err := s.applyLocked(p.Action)
	s.mu.Unlock()
	if err != nil {
		s.log.Debug("action ignored",
			slog.String("sender", senderID),
			slog.String("type", p.Action.Type),
			sl.Err(err),
		)
		return
	}
	s.notify(st)
}

func (s *Synchronizer[S]) handleSnapshot(senderID string, raw json.RawMessage, seq uint64) {
	s.mu.Lock()
	if !s.started || s.cfg.IsHost || senderID != s.cfg.HostPeerID {
		s.mu.Unlock()
		return
	}
	if s.hasState && seq != 0 && seq <= s.seq {
		s.mu.Unlock()
		return
	}
	var st S
	if err := json.Unmarshal(raw, &st); err != nil {
		s.mu.Unlock()
		s.log.Warn("dropping undecodable snapshot", sl.Err(err))
		return
	}
	s.state = st
	s.hasState = true
	s.seq = seq
	s.mu.Unlock()

	s.notify(st)
}

func (s *Synchronizer[S]) ownsSeatLocked(peerID, playerID string) bool {
	for _, p := range s.cfg.Players {
		if p.PeerID == peerID {
			return p.OdID == playerID
		}
	}
	return false
}

// SendSnapshot sends the current state to one peer, typically a guest
// that rejoined mid-game.
func (s *Synchronizer[S]) SendSnapshot(peerID string) error {
	const op = "session.synchronizer.send_snapshot"

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.IsHost {
		return fmt.Errorf("%s: %w", op, ErrNotHost)
	}
	if !s.hasState {
		return fmt.Errorf("%s: %w", op, ErrNotStarted)
	}
	raw, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sender.Send(peerID, domain.MsgGameState, domain.GameStatePayload{State: raw, Seq: s.seq}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetPlayers refreshes the roster used to attribute guest actions.
func (s *Synchronizer[S]) SetPlayers(players []domain.RoomPlayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Players = append([]domain.RoomPlayer(nil), players...)
}

// SetPaused stops the host from applying actions until resumed.
func (s *Synchronizer[S]) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	if !paused && s.cfg.IsHost && s.hasState {
		s.playAILocked()
	}
}

func (s *Synchronizer[S]) State() (S, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.hasState
}

func (s *Synchronizer[S]) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasState {
		return Flags{}
	}
	status := s.state.GameStatus()
	return Flags{
		IsPlaying:  status == engine.StatusPlaying,
		ShowResult: status == engine.StatusFinished,
	}
}

func (s *Synchronizer[S]) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset drops the session. It can be started again.
func (s *Synchronizer[S]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero S
	s.state = zero
	s.hasState = false
	s.started = false
	s.paused = false
	s.seq = 0
	s.cfg = Config{}
}

func (s *Synchronizer[S]) broadcastStateLocked() {
	raw, err := json.Marshal(s.state)
	if err != nil {
		s.log.Error("encode game state", sl.Err(err))
		return
	}
	if err := s.sender.Broadcast(domain.MsgGameState, domain.GameStatePayload{State: raw, Seq: s.seq}); err != nil {
		s.log.Warn("broadcast game state incomplete", sl.Err(err))
	}
}

func (s *Synchronizer[S]) broadcastActionLocked(action domain.Action) {
	raw, err := json.Marshal(s.state)
	if err != nil {
		s.log.Error("encode game state", sl.Err(err))
		return
	}
	payload := domain.GameActionPayload{Action: action, NewState: raw, Seq: s.seq}
	if err := s.sender.Broadcast(domain.MsgGameAction, payload); err != nil {
		s.log.Warn("broadcast game action incomplete", sl.Err(err))
	}
}

func (s *Synchronizer[S]) notify(st S) {
	s.listenerMu.RLock()
	fn := s.listener
	s.listenerMu.RUnlock()
	if fn != nil {
		fn(st)
	}
}
