package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/storage"
	"github.com/immxrtalbeast/peerplay/internal/transport"
	"github.com/immxrtalbeast/peerplay/lib/logger/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) has(kind EventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

type testPeer struct {
	tr      *transport.MemoryTransport
	m       *Manager
	events  *eventLog
	profile domain.Profile
	store   storage.SessionStore
}

func newTestPeer(t *testing.T, n *transport.Network, id, nickname string) *testPeer {
	t.Helper()
	return newTestPeerWith(t, n, id, domain.NewProfile(nickname, ""), storage.NewInMemorySessionStore(), Config{})
}

func newTestPeerWith(t *testing.T, n *transport.Network, id string, profile domain.Profile, store storage.SessionStore, cfg Config) *testPeer {
	t.Helper()
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = time.Second
	}
	if cfg.StartDelay == 0 {
		cfg.StartDelay = 10 * time.Millisecond
	}
	tr := n.NewTransport(id)
	m := NewManager(tr, store, cfg, slogdiscard.NewDiscardLogger())
	events := &eventLog{}
	m.OnEvent(events.add)

	_, err := tr.Initialize(context.Background(), transport.Callbacks{
		OnMessage:       func(env domain.Envelope, sender string) { m.HandleMessage(env, sender) },
		OnDisconnection: m.HandlePeerDisconnected,
	})
	require.NoError(t, err)
	t.Cleanup(tr.Cleanup)

	return &testPeer{tr: tr, m: m, events: events, profile: profile, store: store}
}

func newNetwork() *transport.Network {
	return transport.NewNetwork(slogdiscard.NewDiscardLogger())
}

func hostRoom(t *testing.T, p *testPeer, minPlayers, maxPlayers int) *domain.Room {
	t.Helper()
	room, err := p.m.CreateRoom(context.Background(), p.profile, "tictactoe", domain.RoomConfig{MinPlayers: minPlayers, MaxPlayers: maxPlayers})
	require.NoError(t, err)
	return room
}

func TestCreateRoom(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")

	room := hostRoom(t, host, 2, 4)

	assert.Equal(t, domain.RoomStatusWaiting, room.Status)
	assert.Equal(t, "host", room.HostPeerID)
	require.Len(t, room.Players, 1)
	assert.True(t, room.Players[0].IsHost)
	assert.True(t, room.Players[0].IsReady)
	assert.True(t, host.m.IsHost())
	assert.True(t, host.m.IsInRoom())

	state, err := host.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, state.IsHost)
	assert.Equal(t, room.ID, state.Room.ID)

	_, err = host.m.CreateRoom(context.Background(), host.profile, "tictactoe", domain.RoomConfig{MinPlayers: 2, MaxPlayers: 4})
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestCreateRoomInvalidConfig(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")

	_, err := host.m.CreateRoom(context.Background(), host.profile, "tictactoe", domain.RoomConfig{MinPlayers: 3, MaxPlayers: 2})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, host.m.IsInRoom())
}

func TestJoinRoundTrip(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	g1 := newTestPeer(t, n, "g1", "Alice")
	g2 := newTestPeer(t, n, "g2", "Bob")
	hostRoom(t, host, 2, 4)

	room, err := g1.m.JoinRoom(context.Background(), g1.profile, "host")
	require.NoError(t, err)
	require.Len(t, room.Players, 2)
	assert.Equal(t, g1.profile.OdID, room.Players[1].OdID)
	assert.Equal(t, "g1", room.Players[1].PeerID)
	assert.False(t, g1.m.IsHost())
	assert.True(t, g1.events.has(EventJoined))

	_, err = g2.m.JoinRoom(context.Background(), g2.profile, "host")
	require.NoError(t, err)

	assert.Len(t, host.m.Players(), 3)
	require.Eventually(t, func() bool { return len(g1.m.Players()) == 3 }, waitFor, tick)
	assert.True(t, g1.events.has(EventPlayerJoined))
	assert.True(t, host.events.has(EventPlayerJoined))
}

func TestJoinRejectedWhenFull(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	hostRoom(t, host, 2, 4)

	for _, id := range []string{"g1", "g2", "g3"} {
		g := newTestPeer(t, n, id, id)
		_, err := g.m.JoinRoom(context.Background(), g.profile, "host")
		require.NoError(t, err)
	}
	require.Len(t, host.m.Players(), 4)

	late := newTestPeer(t, n, "g4", "Late")
	_, err := late.m.JoinRoom(context.Background(), late.profile, "host")

	require.ErrorIs(t, err, ErrJoinRejected)
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonRoomFull, rejected.Reason)
	assert.False(t, late.m.IsInRoom())
	assert.Len(t, host.m.Players(), 4)
}

func TestJoinRejectedAfterStart(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	g1 := newTestPeer(t, n, "g1", "Alice")
	hostRoom(t, host, 2, 4)

	_, err := g1.m.JoinRoom(context.Background(), g1.profile, "host")
	require.NoError(t, err)
	require.NoError(t, g1.m.SetReady(true))
	require.Eventually(t, func() bool { return host.m.CanStart(false) == nil }, waitFor, tick)
	require.NoError(t, host.m.StartGame(false))

	late := newTestPeer(t, n, "g2", "Late")
	_, err = late.m.JoinRoom(context.Background(), late.profile, "host")

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonGameStarted, rejected.Reason)
}

func TestStartRequiresEveryoneReady(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	guest := newTestPeer(t, n, "guest", "Alice")
	hostRoom(t, host, 2, 2)
	_, err := guest.m.JoinRoom(context.Background(), guest.profile, "host")
	require.NoError(t, err)

	err = host.m.StartGame(false)
	require.ErrorIs(t, err, ErrCannotStart)
	require.ErrorIs(t, err, ErrPlayersNotReady)
	assert.Equal(t, domain.RoomStatusWaiting, host.m.Room().Status)

	require.NoError(t, guest.m.SetReady(true))
	require.Eventually(t, func() bool { return host.m.CanStart(false) == nil }, waitFor, tick)
	require.NoError(t, host.m.StartGame(false))
	assert.Equal(t, domain.RoomStatusStarting, host.m.Room().Status)

	require.Eventually(t, func() bool {
		return host.m.Room().Status == domain.RoomStatusPlaying && guest.m.Room().Status == domain.RoomStatusPlaying
	}, waitFor, tick)
	assert.True(t, guest.events.has(EventGameStarting))
	assert.True(t, guest.events.has(EventGamePlaying))
	assert.True(t, host.events.has(EventGamePlaying))
}

func TestStartCountsAISeat(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	hostRoom(t, host, 2, 2)

	err := host.m.StartGame(false)
	require.ErrorIs(t, err, ErrNotEnoughPlayers)

	require.NoError(t, host.m.StartGame(true))
	assert.True(t, host.m.WithAI())
}

func TestGuestCannotStart(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	guest := newTestPeer(t, n, "guest", "Alice")
	hostRoom(t, host, 2, 2)
	_, err := guest.m.JoinRoom(context.Background(), guest.profile, "host")
	require.NoError(t, err)

	assert.ErrorIs(t, guest.m.StartGame(false), ErrNotHost)
	assert.ErrorIs(t, guest.m.KickPlayer(host.profile.OdID), ErrNotHost)
}

func TestJoinTimeout(t *testing.T) {
	n := newNetwork()
	silent := n.NewTransport("host")
	_, err := silent.Initialize(context.Background(), transport.Callbacks{})
	require.NoError(t, err)
	t.Cleanup(silent.Cleanup)

	guest := newTestPeerWith(t, n, "guest", domain.NewProfile("Alice", ""), storage.NewInMemorySessionStore(), Config{JoinTimeout: 50 * time.Millisecond})

	_, err = guest.m.JoinRoom(context.Background(), guest.profile, "host")
	require.ErrorIs(t, err, ErrJoinTimeout)
	assert.False(t, guest.m.IsInRoom())

	late := domain.NewRoom(domain.NewProfile("Host", ""), "host", "tictactoe", domain.RoomConfig{MinPlayers: 2, MaxPlayers: 2}, time.Now())
	guest.m.HandleJoinAccepted("host", domain.JoinAcceptedPayload{Success: true, Room: late})
	assert.False(t, guest.m.IsInRoom())
}

func TestJoinUnknownHost(t *testing.T) {
	n := newNetwork()
	guest := newTestPeer(t, n, "guest", "Alice")

	_, err := guest.m.JoinRoom(context.Background(), guest.profile, "nobody")
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)

	// A failed attempt does not leave a join pending.
	_, err = guest.m.JoinRoom(context.Background(), guest.profile, "nobody")
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)
}

func TestRejoinReplacesSeat(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	hostRoom(t, host, 2, 2)

	profile := domain.NewProfile("Alice", "")
	first := newTestPeerWith(t, n, "guest-1", profile, storage.NewInMemorySessionStore(), Config{})
	_, err := first.m.JoinRoom(context.Background(), profile, "host")
	require.NoError(t, err)

	first.tr.Cleanup()
	require.Eventually(t, func() bool {
		players := host.m.Players()
		return len(players) == 2 && !players[1].IsConnected
	}, waitFor, tick)

	second := newTestPeerWith(t, n, "guest-2", profile, storage.NewInMemorySessionStore(), Config{})
	room, err := second.m.JoinRoom(context.Background(), profile, "host")
	require.NoError(t, err)
	require.Len(t, room.Players, 2)

	players := host.m.Players()
	require.Len(t, players, 2)
	assert.Equal(t, "guest-2", players[1].PeerID)
	assert.True(t, players[1].IsConnected)
}

func TestLeaveRoom(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	g1 := newTestPeer(t, n, "g1", "Alice")
	g2 := newTestPeer(t, n, "g2", "Bob")
	hostRoom(t, host, 2, 4)
	for _, g := range []*testPeer{g1, g2} {
		_, err := g.m.JoinRoom(context.Background(), g.profile, "host")
		require.NoError(t, err)
	}

	require.NoError(t, g1.m.LeaveRoom(context.Background()))
	assert.False(t, g1.m.IsInRoom())
	_, err := g1.store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoSession)

	require.Eventually(t, func() bool { return len(host.m.Players()) == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(g2.m.Players()) == 2 }, waitFor, tick)

	require.NoError(t, host.m.LeaveRoom(context.Background()))
	require.Eventually(t, func() bool { return !g2.m.IsInRoom() }, waitFor, tick)
	assert.True(t, g2.events.has(EventRoomClosed))

	assert.ErrorIs(t, host.m.LeaveRoom(context.Background()), ErrNotInRoom)
}

func TestPauseResume(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	hostRoom(t, host, 1, 2)

	assert.ErrorIs(t, host.m.Pause(), ErrInvalidStatus)
	require.NoError(t, host.m.StartGame(false))
	require.Eventually(t, func() bool { return host.m.Room().Status == domain.RoomStatusPlaying }, waitFor, tick)

	require.NoError(t, host.m.Pause())
	assert.Equal(t, domain.RoomStatusPaused, host.m.Room().Status)
	assert.ErrorIs(t, host.m.Pause(), ErrInvalidStatus)
	require.NoError(t, host.m.Resume())
	assert.Equal(t, domain.RoomStatusPlaying, host.m.Room().Status)
}

func TestChatRelay(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	g1 := newTestPeer(t, n, "g1", "Alice")
	g2 := newTestPeer(t, n, "g2", "Bob")
	hostRoom(t, host, 2, 4)
	for _, g := range []*testPeer{g1, g2} {
		_, err := g.m.JoinRoom(context.Background(), g.profile, "host")
		require.NoError(t, err)
	}

	_, err := g1.m.SendChat("   ")
	require.ErrorIs(t, err, ErrInvalidChat)

	msg, err := g1.m.SendChat("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)

	require.Eventually(t, func() bool { return len(g2.m.ChatHistory()) == 1 }, waitFor, tick)
	assert.Equal(t, "Alice", g2.m.ChatHistory()[0].SenderName)
	require.Len(t, host.m.ChatHistory(), 1)
	assert.Len(t, g1.m.ChatHistory(), 1)
}

func TestChatHistoryIsBounded(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	hostRoom(t, host, 1, 2)

	for i := 0; i < chatHistoryLimit+5; i++ {
		_, err := host.m.SendChat("line")
		require.NoError(t, err)
	}
	assert.Len(t, host.m.ChatHistory(), chatHistoryLimit)
}

func TestRestoreHost(t *testing.T) {
	ctx := context.Background()
	hostProfile := domain.NewProfile("Host", "")
	room := domain.NewRoom(hostProfile, "host", "tictactoe", domain.RoomConfig{MinPlayers: 2, MaxPlayers: 2}, time.Now())
	room.Status = domain.RoomStatusPlaying
	room.Players = append(room.Players, domain.RoomPlayer{OdID: "guest-od", PeerID: "guest", IsConnected: true, IsReady: true})

	store := storage.NewInMemorySessionStore()
	require.NoError(t, store.Save(ctx, storage.SessionState{Room: room, IsHost: true, IsInRoom: true}))

	n := newNetwork()
	host := newTestPeerWith(t, n, "host", hostProfile, store, Config{})

	restored, err := host.m.Restore(ctx, hostProfile)
	require.NoError(t, err)
	assert.Equal(t, room.ID, restored.ID)
	assert.True(t, host.m.IsHost())
	require.Len(t, restored.Players, 2)
	assert.True(t, restored.Players[0].IsConnected)
	assert.False(t, restored.Players[1].IsConnected)
}

func TestRestoreHostAtNewAddress(t *testing.T) {
	ctx := context.Background()
	hostProfile := domain.NewProfile("Host", "")
	room := domain.NewRoom(hostProfile, "old-address", "tictactoe", domain.RoomConfig{MinPlayers: 2, MaxPlayers: 2}, time.Now())

	store := storage.NewInMemorySessionStore()
	require.NoError(t, store.Save(ctx, storage.SessionState{Room: room, IsHost: true, IsInRoom: true}))

	n := newNetwork()
	host := newTestPeerWith(t, n, "host", hostProfile, store, Config{})

	_, err := host.m.Restore(ctx, hostProfile)
	require.ErrorIs(t, err, ErrCannotResume)
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

func TestRestoreGuestRejoins(t *testing.T) {
	ctx := context.Background()
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	hostRoom(t, host, 2, 2)

	profile := domain.NewProfile("Alice", "")
	first := newTestPeerWith(t, n, "guest-1", profile, storage.NewInMemorySessionStore(), Config{})
	_, err := first.m.JoinRoom(ctx, profile, "host")
	require.NoError(t, err)
	saved, err := first.store.Load(ctx)
	require.NoError(t, err)
	first.tr.Cleanup()
	require.Eventually(t, func() bool {
		players := host.m.Players()
		return len(players) == 2 && !players[1].IsConnected
	}, waitFor, tick)

	// The reloaded peer comes back at a new address with the persisted state.
	store := storage.NewInMemorySessionStore()
	require.NoError(t, store.Save(ctx, *saved))
	reloaded := newTestPeerWith(t, n, "guest-2", profile, store, Config{})
	room, err := reloaded.m.Restore(ctx, profile)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
	assert.True(t, reloaded.m.IsInRoom())
	assert.Equal(t, "guest-2", host.m.Players()[1].PeerID)
}

func TestRestoreWithoutSession(t *testing.T) {
	n := newNetwork()
	p := newTestPeer(t, n, "p", "Alice")

	_, err := p.m.Restore(context.Background(), p.profile)
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

type fakeDirectory struct {
	mu        sync.Mutex
	listings  map[string]domain.Listing
	withdrawn []string
}

func (d *fakeDirectory) Publish(_ context.Context, l domain.Listing) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listings[l.RoomID] = l
	return nil
}

func (d *fakeDirectory) Withdraw(_ context.Context, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listings, roomID)
	d.withdrawn = append(d.withdrawn, roomID)
	return nil
}

func (d *fakeDirectory) players(roomID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listings[roomID].Players
}

func (d *fakeDirectory) wasWithdrawn(roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.withdrawn {
		if id == roomID {
			return true
		}
	}
	return false
}

func TestPublicRoomIsListed(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	guest := newTestPeer(t, n, "g1", "Alice")
	dir := &fakeDirectory{listings: map[string]domain.Listing{}}
	host.m.SetDirectory(dir)

	room := hostRoom(t, host, 2, 4)
	require.Eventually(t, func() bool { return dir.players(room.ID) == 1 }, waitFor, tick)

	listing, ok := host.m.Listing()
	require.True(t, ok)
	assert.Equal(t, room.Code, listing.Code)
	assert.Equal(t, "host", listing.HostPeerID)

	_, err := guest.m.JoinRoom(context.Background(), guest.profile, "host")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dir.players(room.ID) == 2 }, waitFor, tick)

	_, ok = guest.m.Listing()
	assert.False(t, ok)

	require.NoError(t, host.m.LeaveRoom(context.Background()))
	require.Eventually(t, func() bool { return dir.wasWithdrawn(room.ID) }, waitFor, tick)
}

func TestPrivateRoomIsNotListed(t *testing.T) {
	n := newNetwork()
	host := newTestPeer(t, n, "host", "Host")
	dir := &fakeDirectory{listings: map[string]domain.Listing{}}
	host.m.SetDirectory(dir)

	_, err := host.m.CreateRoom(context.Background(), host.profile, "tictactoe", domain.RoomConfig{MinPlayers: 2, MaxPlayers: 2, IsPrivate: true})
	require.NoError(t, err)

	_, ok := host.m.Listing()
	assert.False(t, ok)
	time.Sleep(20 * time.Millisecond)
	dir.mu.Lock()
	defer dir.mu.Unlock()
	assert.Empty(t, dir.listings)
}
