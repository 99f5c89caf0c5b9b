package membership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/transport"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

// CreateRoom makes the local peer the host of a fresh room. The room moves
// from creating to waiting as soon as it is registered.
func (m *Manager) CreateRoom(ctx context.Context, host domain.Profile, gameSlug string, cfg domain.RoomConfig) (*domain.Room, error) {
	const op = "membership.manager.create_room"
	log := m.log.With(slog.String("op", op))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.MaxPlayers < 1 || cfg.MinPlayers < 1 || cfg.MinPlayers > cfg.MaxPlayers {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidConfig)
	}
	selfID := m.transport.ID()
	if selfID == "" {
		return nil, fmt.Errorf("%s: %w", op, transport.ErrNotInitialized)
	}

	m.mu.Lock()
	if m.inRoom || m.pending != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyInRoom)
	}
	room := domain.NewRoom(host, selfID, gameSlug, cfg, m.now())
	room.Status = domain.RoomStatusWaiting
	m.profile = host
	m.room = room
	m.isHost = true
	m.inRoom = true
	m.chat = nil
	m.persistLocked()
	listing := m.listingLocked()
	out := room.Clone()
	m.mu.Unlock()

	log.Info("room created",
		slog.String("room_id", room.ID),
		slog.String("code", room.Code),
		slog.String("game", gameSlug),
	)
	m.publish(listing)
	m.emit(Event{Kind: EventRoomUpdated, Room: out.Clone()})
	return out, nil
}

// HandleJoinRequest decides admission of a guest. A player already on the
// roster (same odId) is re-seated at the new peer address regardless of
// room status or capacity, provided the seat is disconnected or the request
// comes from the peer already holding it.
func (m *Manager) HandleJoinRequest(senderID string, req domain.JoinRequestPayload) {
	const op = "membership.manager.handle_join_request"
	log := m.log.With(slog.String("op", op), slog.String("peer_id", senderID))

	m.mu.Lock()
	if !m.isHost || !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return
	}
	reject := func(reason string) {
		if err := m.transport.Send(senderID, domain.MsgJoinRejected, domain.JoinRejectedPayload{Reason: reason}); err != nil {
			log.Warn("send join rejection", slog.String("reason", reason), sl.Err(err))
		}
		m.mu.Unlock()
		log.Info("join rejected", slog.String("reason", reason))
	}

	if req.OdID == "" || req.OdID == m.room.HostOdID {
		reject(ReasonInvalidPlayer)
		return
	}

	now := m.now()
	if idx := m.room.Player(req.OdID); idx >= 0 {
		p := &m.room.Players[idx]
		if p.IsConnected && p.PeerID != senderID {
			reject(ReasonSeatTaken)
			return
		}
		if p.PeerID != "" && p.PeerID != senderID {
			m.transport.DisconnectPeer(p.PeerID)
		}
		p.PeerID = senderID
		p.IsConnected = true
		if req.Nickname != "" {
			p.Nickname = req.Nickname
		}
		if req.Avatar != "" {
			p.Avatar = req.Avatar
		}
		m.room.Touch(now)
		m.persistLocked()
		m.acceptLocked(senderID, log)
		m.broadcastLocked(domain.MsgRoomUpdate, domain.RoomUpdatePayload{Players: m.room.Players}, senderID)
		player := *p
		ev := Event{Kind: EventPlayerRejoined, Room: m.room.Clone(), Player: &player}
		m.mu.Unlock()

		log.Info("player rejoined", slog.String("od_id", req.OdID))
		m.emit(ev)
		return
	}

	if m.room.IsFull() {
		reject(ReasonRoomFull)
		return
	}
	if m.room.Status != domain.RoomStatusWaiting {
		reject(ReasonGameStarted)
		return
	}

	player := domain.RoomPlayer{
		OdID:        req.OdID,
		PeerID:      senderID,
		Nickname:    req.Nickname,
		Avatar:      req.Avatar,
		IsConnected: true,
		JoinedAt:    now.UTC(),
	}
	m.room.Players = append(m.room.Players, player)
	m.room.Touch(now)
	m.persistLocked()
	m.acceptLocked(senderID, log)
	m.broadcastLocked(domain.MsgPlayerJoined, domain.PlayerJoinedPayload{Player: player}, senderID)
	ev := Event{Kind: EventPlayerJoined, Room: m.room.Clone(), Player: &player}
	listing := m.listingLocked()
	m.mu.Unlock()

	log.Info("player joined", slog.String("od_id", req.OdID), slog.String("nickname", req.Nickname))
	m.publish(listing)
	m.emit(ev)
}

func (m *Manager) acceptLocked(peerID string, log *slog.Logger) {
	payload := domain.JoinAcceptedPayload{Success: true, Room: m.room.Clone()}
	if err := m.transport.Send(peerID, domain.MsgJoinAccepted, payload); err != nil {
		log.Warn("send join acceptance", sl.Err(err))
	}
}

// KickPlayer removes a guest from the room and closes its link.
func (m *Manager) KickPlayer(odID string) error {
	const op = "membership.manager.kick"

	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotInRoom)
	}
	if !m.isHost {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotHost)
	}
	idx := m.room.Player(odID)
	if idx < 0 || m.room.Players[idx].IsHost {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrPlayerNotFound)
	}

	peerID := m.room.Players[idx].PeerID
	if err := m.transport.Send(peerID, domain.MsgKick, domain.KickPayload{OdID: odID}); err != nil {
		m.log.Debug("send kick", slog.String("op", op), sl.Err(err))
	}
	m.transport.DisconnectPeer(peerID)

	player, _ := m.room.RemovePlayer(odID)
	m.room.Touch(m.now())
	m.persistLocked()
	m.broadcastLocked(domain.MsgPlayerLeft, domain.PlayerLeftPayload{OdID: odID})
	ev := Event{Kind: EventPlayerLeft, Room: m.room.Clone(), Player: &player}
	listing := m.listingLocked()
	m.mu.Unlock()

	m.log.Info("player kicked", slog.String("op", op), slog.String("od_id", odID))
	m.publish(listing)
	m.emit(ev)
	return nil
}

// CanStart reports whether the host could start the game now.
func (m *Manager) CanStart(withAI bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canStartLocked(withAI)
}

func (m *Manager) canStartLocked(withAI bool) error {
	switch {
	case !m.inRoom || m.room == nil:
		return ErrNotInRoom
	case !m.isHost:
		return ErrNotHost
	case m.room.Status != domain.RoomStatusWaiting:
		return fmt.Errorf("%w: room is %s", ErrCannotStart, m.room.Status)
	case m.room.EffectivePlayers(withAI) < m.room.Config.MinPlayers:
		return fmt.Errorf("%w: %w", ErrCannotStart, ErrNotEnoughPlayers)
	case !m.room.AllReady():
		return fmt.Errorf("%w: %w", ErrCannotStart, ErrPlayersNotReady)
	}
	return nil
}

// StartGame moves the room to starting, announces game_start and, after
// the settle delay, moves it to playing.
func (m *Manager) StartGame(withAI bool) error {
	const op = "membership.manager.start_game"

	m.mu.Lock()
	if err := m.canStartLocked(withAI); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	m.room.Status = domain.RoomStatusStarting
	m.room.Touch(m.now())
	m.withAI = withAI
	m.persistLocked()
	m.broadcastLocked(domain.MsgGameStart, domain.GameStartPayload{})

	roomID := m.room.ID
	m.startTimer = time.AfterFunc(m.cfg.StartDelay, func() { m.finishStart(roomID) })
	ev := Event{Kind: EventGameStarting, Room: m.room.Clone(), WithAI: withAI}
	listing := m.listingLocked()
	m.mu.Unlock()

	m.log.Info("game starting", slog.String("op", op), slog.String("room_id", roomID), slog.Bool("with_ai", withAI))
	m.publish(listing)
	m.emit(ev)
	return nil
}

func (m *Manager) finishStart(roomID string) {
	m.mu.Lock()
	if !m.isHost || m.room == nil || m.room.ID != roomID || m.room.Status != domain.RoomStatusStarting {
		m.mu.Unlock()
		return
	}
	m.startTimer = nil
	m.room.Status = domain.RoomStatusPlaying
	m.room.Touch(m.now())
	m.persistLocked()

	playing := domain.RoomStatusPlaying
	m.broadcastLocked(domain.MsgRoomUpdate, domain.RoomUpdatePayload{Status: &playing})
	ev := Event{Kind: EventGamePlaying, Room: m.room.Clone(), WithAI: m.withAI}
	listing := m.listingLocked()
	m.mu.Unlock()

	m.log.Info("game playing", slog.String("room_id", roomID))
	m.publish(listing)
	m.emit(ev)
}

func (m *Manager) Pause() error {
	return m.transition(domain.RoomStatusPlaying, domain.RoomStatusPaused)
}

func (m *Manager) Resume() error {
	return m.transition(domain.RoomStatusPaused, domain.RoomStatusPlaying)
}

func (m *Manager) transition(from, to domain.RoomStatus) error {
	const op = "membership.manager.transition"

	m.mu.Lock()
	switch {
	case !m.inRoom || m.room == nil:
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotInRoom)
	case !m.isHost:
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotHost)
	case m.room.Status != from:
		m.mu.Unlock()
		return fmt.Errorf("%s: %w: room is %s", op, ErrInvalidStatus, m.room.Status)
	}
	m.room.Status = to
	m.room.Touch(m.now())
	m.persistLocked()
	m.broadcastLocked(domain.MsgRoomUpdate, domain.RoomUpdatePayload{Status: &to})
	ev := Event{Kind: EventRoomUpdated, Room: m.room.Clone()}
	m.mu.Unlock()

	m.emit(ev)
	return nil
}

// Restore resumes the persisted session after a reload. A guest rejoins
// its host with the same odId; a host reinstalls its room provided the
// transport came back at the same address, with every guest marked
// disconnected until it rejoins.
func (m *Manager) Restore(ctx context.Context, self domain.Profile) (*domain.Room, error) {
	const op = "membership.manager.restore"
	log := m.log.With(slog.String("op", op))

	state, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if state.Room.Player(self.OdID) < 0 {
		_ = m.store.Clear(ctx)
		return nil, fmt.Errorf("%s: %w", op, ErrCannotResume)
	}

	if !state.IsHost {
		log.Info("rejoining host", slog.String("host", state.Room.HostPeerID))
		room, err := m.JoinRoom(ctx, self, state.Room.HostPeerID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return room, nil
	}

	if m.transport.ID() != state.Room.HostPeerID {
		_ = m.store.Clear(ctx)
		return nil, fmt.Errorf("%s: %w: host address changed", op, ErrCannotResume)
	}

	m.mu.Lock()
	if m.inRoom {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyInRoom)
	}
	room := state.Room
	for i := range room.Players {
		if !room.Players[i].IsHost {
			room.Players[i].IsConnected = false
		}
	}
	if room.Status == domain.RoomStatusStarting {
		room.Status = domain.RoomStatusPlaying
	}
	room.Touch(m.now())
	m.profile = self
	m.room = room
	m.isHost = true
	m.inRoom = true
	m.persistLocked()
	listing := m.listingLocked()
	out := room.Clone()
	m.mu.Unlock()

	log.Info("room restored", slog.String("room_id", room.ID))
	m.publish(listing)
	m.emit(Event{Kind: EventRoomUpdated, Room: out.Clone()})
	return out, nil
}
