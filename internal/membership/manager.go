// Package membership owns a room's roster from one peer's point of view.
//
// The host holds the authoritative Room and is the only fan-out point for
// room-state messages; a guest keeps a mirror and only ever talks to the
// host. Transport sends happen under the manager lock, so a Transport must
// never invoke its callbacks synchronously from Send, Broadcast or
// DisconnectPeer. Events are delivered after the lock is released.
package membership

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/storage"
	"github.com/immxrtalbeast/peerplay/internal/transport"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

const (
	DefaultJoinTimeout   = 10 * time.Second
	DefaultStartDelay    = time.Second
	DefaultMaxChatLength = 500
	chatHistoryLimit     = 100
)

type Config struct {
	JoinTimeout   time.Duration
	StartDelay    time.Duration
	MaxChatLength int
}

type EventKind string

const (
	EventRoomUpdated  EventKind = "room_updated"
	EventJoined       EventKind = "joined"
	EventPlayerJoined EventKind = "player_joined"
	// EventPlayerRejoined is a known player taking its seat again from a
	// new peer address.
	EventPlayerRejoined EventKind = "player_rejoined"
	EventPlayerLeft     EventKind = "player_left"
	EventKicked         EventKind = "kicked"
	EventRoomClosed     EventKind = "room_closed"
	EventLeft           EventKind = "left"
	EventGameStarting   EventKind = "game_starting"
	EventGamePlaying    EventKind = "game_playing"
	EventChat           EventKind = "chat"
)

type Event struct {
	Kind   EventKind
	Room   *domain.Room
	Player *domain.RoomPlayer
	Chat   *domain.ChatMessage
	// WithAI is set on EventGamePlaying when the host started with an AI seat.
	WithAI bool
}

// Directory advertises public rooms. Optional.
type Directory interface {
	Publish(ctx context.Context, listing domain.Listing) error
	Withdraw(ctx context.Context, roomID string) error
}

type pendingJoin struct {
	hostPeerID string
	result     chan joinResult
}

type joinResult struct {
	room *domain.Room
	err  error
}

type Manager struct {
	transport transport.Transport
	store     storage.SessionStore
	log       *slog.Logger
	cfg       Config

	listenerMu sync.RWMutex
	listener   func(Event)
	directory  Directory

	// dirMu orders directory calls; dirSent holds the last sequence
	// delivered per room so a late publish never overwrites a newer one.
	dirMu   sync.Mutex
	dirSeq  atomic.Uint64
	dirSent map[string]uint64

	mu         sync.Mutex
	now        func() time.Time
	profile    domain.Profile
	room       *domain.Room
	isHost     bool
	inRoom     bool
	withAI     bool
	pending    *pendingJoin
	startTimer *time.Timer
	chat       []domain.ChatMessage
}

func NewManager(tr transport.Transport, store storage.SessionStore, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = storage.NewInMemorySessionStore()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if cfg.MaxChatLength <= 0 {
		cfg.MaxChatLength = DefaultMaxChatLength
	}
	return &Manager{
		transport: tr,
		store:     store,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) SetDirectory(d Directory) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.directory = d
}

// OnEvent registers the single listener for membership events.
func (m *Manager) OnEvent(fn func(Event)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = fn
}

func (m *Manager) Room() *domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room.Clone()
}

func (m *Manager) IsHost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isHost
}

func (m *Manager) IsInRoom() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inRoom
}

func (m *Manager) Profile() domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

func (m *Manager) WithAI() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withAI
}

// HostPeerID is the transport address of the current room's host.
func (m *Manager) HostPeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.room == nil {
		return ""
	}
	return m.room.HostPeerID
}

// Listing is the directory entry for the room this peer hosts. ok is false
// for guests and private rooms.
func (m *Manager) Listing() (domain.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listingLocked()
	if l == nil {
		return domain.Listing{}, false
	}
	return *l, true
}

// Players returns a copy of the roster in join order.
func (m *Manager) Players() []domain.RoomPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.room == nil {
		return nil
	}
	return append([]domain.RoomPlayer(nil), m.room.Players...)
}

// HandleMessage applies a room message and reports whether the type
// belongs to membership.
func (m *Manager) HandleMessage(env domain.Envelope, senderID string) bool {
	var err error
	switch env.Type {
	case domain.MsgJoinRequest:
		var p domain.JoinRequestPayload
		if err = env.Decode(&p); err == nil {
			m.HandleJoinRequest(senderID, p)
		}
	case domain.MsgJoinAccepted:
		var p domain.JoinAcceptedPayload
		if err = env.Decode(&p); err == nil {
			m.HandleJoinAccepted(senderID, p)
		}
	case domain.MsgJoinRejected:
		var p domain.JoinRejectedPayload
		if err = env.Decode(&p); err == nil {
			m.HandleJoinRejected(senderID, p)
		}
	case domain.MsgPlayerJoined:
		var p domain.PlayerJoinedPayload
		if err = env.Decode(&p); err == nil {
			m.HandlePlayerJoined(senderID, p)
		}
	case domain.MsgPlayerLeft:
		var p domain.PlayerLeftPayload
		if err = env.Decode(&p); err == nil {
			m.HandlePlayerLeft(senderID, p)
		}
	case domain.MsgPlayerReady:
		var p domain.PlayerReadyPayload
		if err = env.Decode(&p); err == nil {
			m.HandlePlayerReady(senderID, p)
		}
	case domain.MsgKick:
		var p domain.KickPayload
		if err = env.Decode(&p); err == nil {
			m.HandleKick(senderID, p)
		}
	case domain.MsgRoomUpdate:
		var p domain.RoomUpdatePayload
		if err = env.Decode(&p); err == nil {
			m.HandleRoomUpdate(senderID, p)
		}
	case domain.MsgGameStart:
		m.HandleGameStart(senderID)
	case domain.MsgChat:
		var p domain.ChatPayload
		if err = env.Decode(&p); err == nil {
			m.HandleChat(senderID, p)
		}
	default:
		return false
	}
	if err != nil {
		m.log.Warn("dropping malformed room message",
			slog.String("type", string(env.Type)),
			slog.String("sender", senderID),
			sl.Err(err),
		)
	}
	return true
}

// HandlePeerDisconnected reacts to a closed transport link.
func (m *Manager) HandlePeerDisconnected(peerID string) {
	m.SetPeerConnected(peerID, false)
}

// SetPeerConnected records liveness of the player reachable at peerID. On
// the host the roster change is fanned out to the guests.
func (m *Manager) SetPeerConnected(peerID string, connected bool) {
	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return
	}
	idx := m.room.PlayerByPeer(peerID)
	if idx < 0 || m.room.Players[idx].IsConnected == connected {
		m.mu.Unlock()
		return
	}
	if !m.isHost && peerID != m.room.HostPeerID {
		m.mu.Unlock()
		return
	}

	m.room.Players[idx].IsConnected = connected
	m.room.Touch(m.now())
	m.persistLocked()

	if m.isHost {
		m.broadcastLocked(domain.MsgRoomUpdate, domain.RoomUpdatePayload{Players: m.room.Players})
	}
	ev := Event{Kind: EventRoomUpdated, Room: m.room.Clone()}
	m.mu.Unlock()

	m.log.Info("player connection changed",
		slog.String("peer_id", peerID),
		slog.Bool("connected", connected),
	)
	m.emit(ev)
}

// SetReady sets the local player's readiness and announces it.
func (m *Manager) SetReady(ready bool) error {
	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return ErrNotInRoom
	}
	idx := m.room.Player(m.profile.OdID)
	if idx < 0 {
		m.mu.Unlock()
		return ErrPlayerNotFound
	}

	m.room.Players[idx].IsReady = ready
	m.room.Touch(m.now())
	m.persistLocked()

	payload := domain.PlayerReadyPayload{OdID: m.profile.OdID, Ready: ready}
	var err error
	if m.isHost {
		m.broadcastLocked(domain.MsgPlayerReady, payload)
	} else {
		err = m.transport.Send(m.room.HostPeerID, domain.MsgPlayerReady, payload)
	}
	ev := Event{Kind: EventRoomUpdated, Room: m.room.Clone()}
	m.mu.Unlock()

	m.emit(ev)
	return err
}

// ToggleReady flips the local player's readiness and returns the new value.
func (m *Manager) ToggleReady() (bool, error) {
	m.mu.Lock()
	ready := false
	if m.room != nil {
		if idx := m.room.Player(m.profile.OdID); idx >= 0 {
			ready = !m.room.Players[idx].IsReady
		}
	}
	m.mu.Unlock()
	return ready, m.SetReady(ready)
}

// HandlePlayerReady applies a readiness change. The host accepts it only
// from the player's own peer and fans it out; a guest accepts it only
// from the host.
func (m *Manager) HandlePlayerReady(senderID string, p domain.PlayerReadyPayload) {
	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return
	}
	idx := m.room.Player(p.OdID)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	if m.isHost && m.room.Players[idx].PeerID != senderID {
		m.mu.Unlock()
		return
	}
	if !m.isHost && senderID != m.room.HostPeerID {
		m.mu.Unlock()
		return
	}

	m.room.Players[idx].IsReady = p.Ready
	m.room.Touch(m.now())
	m.persistLocked()
	if m.isHost {
		m.broadcastLocked(domain.MsgPlayerReady, p, senderID)
	}
	ev := Event{Kind: EventRoomUpdated, Room: m.room.Clone()}
	m.mu.Unlock()

	m.emit(ev)
}

// LeaveRoom leaves the current room. A leaving host closes the room for
// everyone since there is no host failover.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	const op = "membership.manager.leave"

	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return ErrNotInRoom
	}
	room := m.room.Clone()
	wasHost := m.isHost

	if wasHost {
		finished := domain.RoomStatusFinished
		m.broadcastLocked(domain.MsgRoomUpdate, domain.RoomUpdatePayload{Status: &finished})
		for _, id := range m.transport.ConnectedPeers() {
			m.transport.DisconnectPeer(id)
		}
	} else {
		if err := m.transport.Send(room.HostPeerID, domain.MsgPlayerLeft, domain.PlayerLeftPayload{OdID: m.profile.OdID}); err != nil {
			m.log.Debug("notify host of leave", slog.String("op", op), sl.Err(err))
		}
		m.transport.DisconnectPeer(room.HostPeerID)
	}
	m.resetLocked(ctx)
	m.mu.Unlock()

	if wasHost {
		m.withdraw(room)
	}
	m.log.Info("left room", slog.String("op", op), slog.String("room_id", room.ID), slog.Bool("host", wasHost))
	m.emit(Event{Kind: EventLeft, Room: room})
	return nil
}

// HandlePlayerLeft removes a departed player. On the host the departure
// is fanned out to the remaining guests.
func (m *Manager) HandlePlayerLeft(senderID string, p domain.PlayerLeftPayload) {
	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return
	}
	idx := m.room.Player(p.OdID)
	if idx < 0 || m.room.Players[idx].IsHost {
		m.mu.Unlock()
		return
	}
	if m.isHost && m.room.Players[idx].PeerID != senderID {
		m.mu.Unlock()
		return
	}
	if !m.isHost && senderID != m.room.HostPeerID {
		m.mu.Unlock()
		return
	}

	player, _ := m.room.RemovePlayer(p.OdID)
	m.room.Touch(m.now())
	m.persistLocked()
	if m.isHost {
		m.broadcastLocked(domain.MsgPlayerLeft, p, senderID)
	}
	ev := Event{Kind: EventPlayerLeft, Room: m.room.Clone(), Player: &player}
	listing := m.listingLocked()
	m.mu.Unlock()

	m.log.Info("player left", slog.String("od_id", p.OdID))
	m.publish(listing)
	m.emit(ev)
}

// Reset drops all local room state without notifying anybody.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.resetLocked(ctx)
	m.mu.Unlock()
}

func (m *Manager) resetLocked(ctx context.Context) {
	if m.startTimer != nil {
		m.startTimer.Stop()
		m.startTimer = nil
	}
	m.room = nil
	m.isHost = false
	m.inRoom = false
	m.withAI = false
	m.chat = nil
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error("clear persisted session", sl.Err(err))
	}
}

func (m *Manager) persistLocked() {
	if m.room == nil {
		return
	}
	state := storage.SessionState{Room: m.room.Clone(), IsHost: m.isHost, IsInRoom: m.inRoom}
	if err := m.store.Save(context.Background(), state); err != nil {
		m.log.Error("persist session", sl.Err(err))
	}
}

func (m *Manager) broadcastLocked(t domain.MessageType, payload any, exclude ...string) {
	if err := m.transport.Broadcast(t, payload, exclude...); err != nil {
		m.log.Warn("broadcast incomplete", slog.String("type", string(t)), sl.Err(err))
	}
}

// listingLocked returns the directory view of a public hosted room.
func (m *Manager) listingLocked() *domain.Listing {
	if !m.isHost || m.room == nil || m.room.Config.IsPrivate {
		return nil
	}
	l := domain.ListingFromRoom(m.room)
	return &l
}

func (m *Manager) publish(l *domain.Listing) {
	m.listenerMu.RLock()
	d := m.directory
	m.listenerMu.RUnlock()
	if d == nil || l == nil {
		return
	}
	listing := *l
	m.directoryCall(listing.RoomID, func(ctx context.Context) error {
		return d.Publish(ctx, listing)
	}, "publish room listing")
}

func (m *Manager) withdraw(room *domain.Room) {
	m.listenerMu.RLock()
	d := m.directory
	m.listenerMu.RUnlock()
	if d == nil || room == nil || room.Config.IsPrivate {
		return
	}
	roomID := room.ID
	m.directoryCall(roomID, func(ctx context.Context) error {
		return d.Withdraw(ctx, roomID)
	}, "withdraw room listing")
}

func (m *Manager) directoryCall(roomID string, call func(context.Context) error, msg string) {
	seq := m.dirSeq.Add(1)
	go func() {
		m.dirMu.Lock()
		defer m.dirMu.Unlock()
		if m.dirSent == nil {
			m.dirSent = make(map[string]uint64)
		}
		if seq < m.dirSent[roomID] {
			return
		}
		m.dirSent[roomID] = seq
		if err := call(context.Background()); err != nil {
			m.log.Warn(msg, slog.String("room_id", roomID), sl.Err(err))
		}
	}()
}

func (m *Manager) emit(events ...Event) {
	m.listenerMu.RLock()
	fn := m.listener
	m.listenerMu.RUnlock()
	if fn == nil {
		return
	}
	for _, ev := range events {
		fn(ev)
	}
}
