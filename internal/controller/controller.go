// Package controller wires one peer's transport, heartbeat, room membership
// and game session together and routes transport events between them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/health"
	"github.com/immxrtalbeast/peerplay/internal/membership"
	"github.com/immxrtalbeast/peerplay/internal/session"
	"github.com/immxrtalbeast/peerplay/internal/transport"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

const DefaultReconnectGrace = 10 * time.Second

var ErrNoSession = errors.New("no game session")

type EventKind string

const (
	EventMembership     EventKind = "membership"
	EventConnection     EventKind = "connection"
	EventReconnecting   EventKind = "reconnecting"
	EventReconnected    EventKind = "reconnected"
	EventConnectionLost EventKind = "connection_lost"
	EventTransportError EventKind = "transport_error"
)

type Event struct {
	Kind       EventKind
	Membership *membership.Event
	Connection *domain.ConnectionStatus
	Err        error
}

type Config struct {
	ReconnectGrace time.Duration
}

type Controller struct {
	transport transport.Transport
	monitor   *health.Monitor
	members   *membership.Manager
	games     *Games
	log       *slog.Logger
	cfg       Config

	listenerMu sync.RWMutex
	listener   func(Event)

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	session   session.GameSession
	countdown *time.Timer
}

func New(
	tr transport.Transport,
	members *membership.Manager,
	monitor *health.Monitor,
	games *Games,
	cfg Config,
	log *slog.Logger,
) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = DefaultReconnectGrace
	}
	return &Controller{
		transport: tr,
		monitor:   monitor,
		members:   members,
		games:     games,
		log:       log,
		cfg:       cfg,
	}
}

func (c *Controller) OnEvent(fn func(Event)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listener = fn
}

func (c *Controller) Members() *membership.Manager {
	return c.members
}

func (c *Controller) Monitor() *health.Monitor {
	return c.monitor
}

// Session returns the running game session, if any.
func (c *Controller) Session() (session.GameSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session != nil
}

// Start brings up the transport and returns the local peer identity.
func (c *Controller) Start(ctx context.Context) (string, error) {
	const op = "controller.start"

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.monitor.OnChange(c.handleHealth)
	c.members.OnEvent(c.handleMembership)

	id, err := c.transport.Initialize(ctx, transport.Callbacks{
		OnOpen: func(selfID string) {
			c.log.Info("transport open", slog.String("peer_id", selfID))
		},
		OnClose: func() {
			c.log.Info("transport closed")
		},
		OnError:         c.handleTransportError,
		OnConnection:    c.handleConnection,
		OnDisconnection: c.handleDisconnection,
		OnMessage:       c.handleMessage,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Close stops everything and tears the transport down. Room state is
// left persisted so the next run can resume.
func (c *Controller) Close() {
	c.stopRoom()
	c.transport.Cleanup()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

// Host creates a room for gameSlug with limits taken from the catalog.
func (c *Controller) Host(ctx context.Context, self domain.Profile, gameSlug string, private bool) (*domain.Room, error) {
	const op = "controller.host"

	cfg, err := c.games.Catalog().RoomConfig(gameSlug, private)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	room, err := c.members.CreateRoom(ctx, self, gameSlug, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.monitor.StartHost(c.baseContext())
	return room, nil
}

// Join enters the room hosted at hostPeerID.
func (c *Controller) Join(ctx context.Context, self domain.Profile, hostPeerID string) (*domain.Room, error) {
	const op = "controller.join"

	room, err := c.members.JoinRoom(ctx, self, hostPeerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.monitor.StartGuest(c.baseContext(), hostPeerID)
	c.ensureGuestSession(room)
	return room, nil
}

// Resume restores the room persisted by a previous run.
func (c *Controller) Resume(ctx context.Context, self domain.Profile) (*domain.Room, error) {
	const op = "controller.resume"

	room, err := c.members.Restore(ctx, self)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.members.IsHost() {
		c.monitor.StartHost(c.baseContext())
		if room.Status == domain.RoomStatusPlaying || room.Status == domain.RoomStatusPaused {
			c.startHostSession(room, c.members.WithAI())
		}
	} else {
		c.monitor.StartGuest(c.baseContext(), room.HostPeerID)
		c.ensureGuestSession(room)
	}
	return room, nil
}

// Leave leaves the current room and stops the heartbeat and the session.
func (c *Controller) Leave(ctx context.Context) error {
	const op = "controller.leave"

	if err := c.members.LeaveRoom(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Submit hands a local player's action to the running game.
func (c *Controller) Submit(action domain.Action) error {
	s, ok := c.Session()
	if !ok {
		return ErrNoSession
	}
	if action.PlayerID == "" {
		action.PlayerID = c.members.Profile().OdID
	}
	return s.Submit(action)
}

// Rematch restarts the game in the current room. Host only.
func (c *Controller) Rematch() error {
	s, ok := c.Session()
	if !ok {
		return ErrNoSession
	}
	return s.Restart()
}

func (c *Controller) handleMessage(env domain.Envelope, senderID string) {
	switch env.Type {
	case domain.MsgPing, domain.MsgPong:
		var p domain.HeartbeatPayload
		if err := env.Decode(&p); err != nil {
			c.log.Debug("dropping malformed heartbeat", slog.String("sender", senderID), sl.Err(err))
			return
		}
		if env.Type == domain.MsgPing {
			c.monitor.HandlePing(senderID, p)
		} else {
			c.monitor.HandlePong(senderID, p)
		}
		return
	}

	if c.members.HandleMessage(env, senderID) {
		return
	}
	if s, ok := c.Session(); ok && s.HandleMessage(env, senderID) {
		return
	}
	c.log.Debug("unhandled message", slog.String("type", string(env.Type)), slog.String("sender", senderID))
}

func (c *Controller) handleConnection(peerID string) {
	if c.members.IsHost() {
		c.monitor.Track(peerID)
	}
}

func (c *Controller) handleDisconnection(peerID string) {
	c.members.HandlePeerDisconnected(peerID)
	if c.members.IsHost() {
		c.monitor.Untrack(peerID)
	}
}

func (c *Controller) handleTransportError(err error) {
	c.log.Warn("transport error", sl.Err(err))
	c.emit(Event{Kind: EventTransportError, Err: err})
}

// handleHealth runs on the monitor goroutine and must never stop the
// monitor.
func (c *Controller) handleHealth(st domain.ConnectionStatus) {
	c.emit(Event{Kind: EventConnection, Connection: &st})

	if c.members.IsHost() {
		c.members.SetPeerConnected(st.PeerID, st.IsConnected)
		return
	}
	if st.PeerID != c.members.HostPeerID() {
		return
	}
	c.members.SetPeerConnected(st.PeerID, st.IsConnected)
	if st.IsConnected {
		c.cancelCountdown()
		return
	}
	c.startCountdown()
}

func (c *Controller) startCountdown() {
	c.mu.Lock()
	if c.countdown != nil {
		c.mu.Unlock()
		return
	}
	grace := c.cfg.ReconnectGrace
	c.countdown = time.AfterFunc(grace, c.expireCountdown)
	c.mu.Unlock()

	c.log.Info("host unreachable, reconnecting", slog.Duration("grace", grace))
	c.emit(Event{Kind: EventReconnecting})

	go func() {
		ctx, cancel := context.WithTimeout(c.baseContext(), grace)
		defer cancel()
		if _, err := c.members.Rejoin(ctx); err != nil {
			c.log.Info("rejoin attempt failed", sl.Err(err))
		}
	}()
}

func (c *Controller) cancelCountdown() {
	c.mu.Lock()
	t := c.countdown
	c.countdown = nil
	c.mu.Unlock()
	if t == nil {
		return
	}
	t.Stop()
	c.log.Info("host reachable again")
	c.emit(Event{Kind: EventReconnected})
}

func (c *Controller) expireCountdown() {
	c.mu.Lock()
	if c.countdown == nil {
		c.mu.Unlock()
		return
	}
	c.countdown = nil
	c.mu.Unlock()

	if st, ok := c.monitor.HostStatus(); ok && st.IsConnected {
		return
	}
	c.log.Warn("host did not come back, leaving room")
	if err := c.members.LeaveRoom(c.baseContext()); err != nil && !errors.Is(err, membership.ErrNotInRoom) {
		c.log.Error("leave after lost connection", sl.Err(err))
	}
	c.emit(Event{Kind: EventConnectionLost})
}

func (c *Controller) handleMembership(ev membership.Event) {
	switch ev.Kind {
	case membership.EventJoined:
		if !c.members.IsHost() {
			c.resetGuestSession(ev.Room)
		}
	case membership.EventGameStarting:
		if !c.members.IsHost() {
			c.ensureGuestSession(ev.Room)
		}
	case membership.EventGamePlaying:
		if c.members.IsHost() {
			c.startHostSession(ev.Room, ev.WithAI)
		} else {
			c.ensureGuestSession(ev.Room)
		}
	case membership.EventPlayerRejoined:
		if s, ok := c.Session(); ok {
			s.SetPlayers(ev.Room.Players)
			if err := s.SendSnapshot(ev.Player.PeerID); err != nil {
				c.log.Debug("resend snapshot", slog.String("peer_id", ev.Player.PeerID), sl.Err(err))
			}
		}
	case membership.EventPlayerLeft:
		if c.members.IsHost() && ev.Player != nil {
			c.monitor.Untrack(ev.Player.PeerID)
		}
		c.syncSession(ev.Room)
	case membership.EventRoomUpdated, membership.EventPlayerJoined:
		c.syncSession(ev.Room)
	case membership.EventKicked, membership.EventRoomClosed, membership.EventLeft:
		c.stopRoom()
	}
	c.emit(Event{Kind: EventMembership, Membership: &ev})
}

func (c *Controller) syncSession(room *domain.Room) {
	s, ok := c.Session()
	if !ok || room == nil {
		return
	}
	s.SetPlayers(room.Players)
	s.SetPaused(room.Status == domain.RoomStatusPaused)
}

func (c *Controller) startHostSession(room *domain.Room, withAI bool) {
	const op = "controller.start_host_session"

	s, err := c.games.newSession(room.GameSlug, c.transport, c.log)
	if err != nil {
		c.log.Error("no session for game", slog.String("op", op), sl.Err(err))
		return
	}
	cfg := session.Config{
		RoomID:     room.ID,
		HostPeerID: room.HostPeerID,
		IsHost:     true,
		Players:    room.Players,
	}
	if withAI {
		cfg.AI = &engine.AIPlayer{ID: "ai-" + uuid.NewString()[:8], Name: "Bot"}
	}
	if err := s.Start(cfg); err != nil {
		c.log.Error("start game session", slog.String("op", op), sl.Err(err))
		return
	}
	s.SetPaused(room.Status == domain.RoomStatusPaused)

	c.mu.Lock()
	prev := c.session
	c.session = s
	c.mu.Unlock()
	if prev != nil {
		prev.Reset()
	}
}

// resetGuestSession replaces the guest session whenever the host admits
// this peer. It runs before the host's next message on that link, so the
// baseline sent after join_accepted lands in the new session, whose seq
// starts from zero again. A reloaded host restarts its seq from 1.
func (c *Controller) resetGuestSession(room *domain.Room) {
	c.mu.Lock()
	prev := c.session
	c.session = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Reset()
	}
	c.ensureGuestSession(room)
}

// ensureGuestSession creates the guest side of the session once the room
// is about to play, so the host's baseline is never missed.
func (c *Controller) ensureGuestSession(room *domain.Room) {
	const op = "controller.ensure_guest_session"

	if room == nil {
		return
	}
	switch room.Status {
	case domain.RoomStatusStarting, domain.RoomStatusPlaying, domain.RoomStatusPaused:
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return
	}
	s, err := c.games.newSession(room.GameSlug, c.transport, c.log)
	if err != nil {
		c.log.Error("no session for game", slog.String("op", op), sl.Err(err))
		return
	}
	if err := s.Start(session.Config{
		RoomID:     room.ID,
		HostPeerID: room.HostPeerID,
		Players:    room.Players,
	}); err != nil {
		c.log.Error("start game session", slog.String("op", op), sl.Err(err))
		return
	}
	c.session = s
}

// stopRoom drops the session, the countdown and the heartbeat. The
// controller lock is not held while the monitor stops since its loop may be
// inside handleHealth.
func (c *Controller) stopRoom() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.mu.Unlock()

	if s != nil {
		s.Reset()
	}
	c.monitor.Stop()
}

func (c *Controller) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Controller) emit(ev Event) {
	c.listenerMu.RLock()
	fn := c.listener
	c.listenerMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}
