package membership

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

// JoinRoom connects to hostPeerID, sends a join request and waits for the
// host's answer for at most the configured join timeout. Whichever of the
// answer, the timeout or ctx resolves first wins; later answers are ignored.
func (m *Manager) JoinRoom(ctx context.Context, self domain.Profile, hostPeerID string) (*domain.Room, error) {
	const op = "membership.manager.join_room"

	m.mu.Lock()
	if m.inRoom {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyInRoom)
	}
	m.profile = self
	m.mu.Unlock()

	room, err := m.handshake(ctx, hostPeerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return room, nil
}

// Rejoin repeats the join handshake with the current host while staying
// in the room, reclaiming the local player's seat after a lost link.
func (m *Manager) Rejoin(ctx context.Context) (*domain.Room, error) {
	const op = "membership.manager.rejoin"

	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrNotInRoom)
	}
	if m.isHost {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrNotHost)
	}
	hostPeerID := m.room.HostPeerID
	m.mu.Unlock()

	// A link that stopped delivering is dropped so a fresh one is opened.
	if slices.Contains(m.transport.ConnectedPeers(), hostPeerID) {
		m.transport.DisconnectPeer(hostPeerID)
	}
	room, err := m.handshake(ctx, hostPeerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return room, nil
}

func (m *Manager) handshake(ctx context.Context, hostPeerID string) (*domain.Room, error) {
	log := m.log.With(slog.String("host", hostPeerID))

	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		return nil, ErrJoinInProgress
	}
	pj := &pendingJoin{hostPeerID: hostPeerID, result: make(chan joinResult, 1)}
	m.pending = pj
	self := m.profile
	timeout := m.cfg.JoinTimeout
	m.mu.Unlock()

	if err := m.transport.ConnectToPeer(ctx, hostPeerID); err != nil {
		m.abandon(pj, err)
		return nil, err
	}
	req := domain.JoinRequestPayload{OdID: self.OdID, Nickname: self.Nickname, Avatar: self.Avatar}
	if err := m.transport.Send(hostPeerID, domain.MsgJoinRequest, req); err != nil {
		m.abandon(pj, err)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res joinResult
	select {
	case res = <-pj.result:
	case <-timer.C:
		res = m.abandon(pj, ErrJoinTimeout)
	case <-ctx.Done():
		res = m.abandon(pj, ctx.Err())
	}
	if res.err != nil {
		if !m.IsInRoom() {
			m.transport.DisconnectPeer(hostPeerID)
		}
		log.Info("join handshake failed", sl.Err(res.err))
		return nil, res.err
	}

	log.Info("joined room", slog.String("room_id", res.room.ID))
	return res.room, nil
}

// abandon clears pj unless a handler resolved it first, in which case the
// handler's result is returned.
func (m *Manager) abandon(pj *pendingJoin, err error) joinResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == pj {
		m.pending = nil
		return joinResult{err: err}
	}
	return <-pj.result
}

// resolveLocked hands res to the waiting JoinRoom if the answer comes from
// the host it is waiting on.
func (m *Manager) resolveLocked(senderID string, res joinResult) bool {
	pj := m.pending
	if pj == nil || pj.hostPeerID != senderID {
		return false
	}
	m.pending = nil
	pj.result <- res
	return true
}

func (m *Manager) HandleJoinAccepted(senderID string, p domain.JoinAcceptedPayload) {
	m.mu.Lock()
	if m.pending == nil || m.pending.hostPeerID != senderID {
		m.mu.Unlock()
		m.log.Debug("ignoring unexpected join acceptance", slog.String("sender", senderID))
		return
	}
	if !p.Success || p.Room == nil {
		m.resolveLocked(senderID, joinResult{err: &RejectedError{Reason: "malformed acceptance"}})
		m.mu.Unlock()
		return
	}

	if m.room == nil || m.room.ID != p.Room.ID {
		m.chat = nil
	}
	m.room = p.Room.Clone()
	m.isHost = false
	m.inRoom = true
	m.persistLocked()
	m.resolveLocked(senderID, joinResult{room: m.room.Clone()})
	ev := Event{Kind: EventJoined, Room: m.room.Clone()}
	m.mu.Unlock()

	m.emit(ev)
}

func (m *Manager) HandleJoinRejected(senderID string, p domain.JoinRejectedPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.resolveLocked(senderID, joinResult{err: &RejectedError{Reason: p.Reason}}) {
		m.log.Debug("ignoring unexpected join rejection", slog.String("sender", senderID))
	}
}

func (m *Manager) HandlePlayerJoined(senderID string, p domain.PlayerJoinedPayload) {
	m.mu.Lock()
	if !m.fromHostLocked(senderID) || m.room.Player(p.Player.OdID) >= 0 {
		m.mu.Unlock()
		return
	}
	m.room.Players = append(m.room.Players, p.Player)
	m.room.Touch(m.now())
	m.persistLocked()
	player := p.Player
	ev := Event{Kind: EventPlayerJoined, Room: m.room.Clone(), Player: &player}
	m.mu.Unlock()

	m.emit(ev)
}

func (m *Manager) HandleKick(senderID string, p domain.KickPayload) {
	m.mu.Lock()
	if !m.fromHostLocked(senderID) || p.OdID != m.profile.OdID {
		m.mu.Unlock()
		return
	}
	room := m.room.Clone()
	m.transport.DisconnectPeer(senderID)
	m.resetLocked(context.Background())
	m.mu.Unlock()

	m.log.Info("kicked from room", slog.String("room_id", room.ID))
	m.emit(Event{Kind: EventKicked, Room: room})
}

// HandleRoomUpdate applies the host's partial room state. A finished
// status means the host closed the room.
func (m *Manager) HandleRoomUpdate(senderID string, p domain.RoomUpdatePayload) {
	m.mu.Lock()
	if !m.fromHostLocked(senderID) {
		m.mu.Unlock()
		return
	}

	if p.Status != nil && *p.Status == domain.RoomStatusFinished {
		room := m.room.Clone()
		room.Status = domain.RoomStatusFinished
		m.transport.DisconnectPeer(senderID)
		m.resetLocked(context.Background())
		m.mu.Unlock()

		m.log.Info("room closed by host", slog.String("room_id", room.ID))
		m.emit(Event{Kind: EventRoomClosed, Room: room})
		return
	}

	prev := m.room.Status
	if p.Status != nil {
		m.room.Status = *p.Status
	}
	if p.Players != nil {
		m.room.Players = append([]domain.RoomPlayer(nil), p.Players...)
	}
	if p.Config != nil {
		m.room.Config = *p.Config
	}
	m.room.Touch(m.now())
	m.persistLocked()

	events := []Event{{Kind: EventRoomUpdated, Room: m.room.Clone()}}
	if m.room.Status == domain.RoomStatusPlaying && (prev == domain.RoomStatusStarting || prev == domain.RoomStatusWaiting) {
		events = append(events, Event{Kind: EventGamePlaying, Room: m.room.Clone()})
	}
	m.mu.Unlock()

	m.emit(events...)
}

func (m *Manager) HandleGameStart(senderID string) {
	m.mu.Lock()
	if !m.fromHostLocked(senderID) || m.room.Status != domain.RoomStatusWaiting {
		m.mu.Unlock()
		return
	}
	m.room.Status = domain.RoomStatusStarting
	m.room.Touch(m.now())
	m.persistLocked()
	ev := Event{Kind: EventGameStarting, Room: m.room.Clone()}
	m.mu.Unlock()

	m.emit(ev)
}

// fromHostLocked reports whether a guest in a room received senderID's
// message from its host.
func (m *Manager) fromHostLocked(senderID string) bool {
	return m.inRoom && !m.isHost && m.room != nil && senderID == m.room.HostPeerID
}
