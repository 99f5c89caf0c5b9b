package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/engine/tictactoe"
	"github.com/immxrtalbeast/peerplay/internal/transport"
	"github.com/immxrtalbeast/peerplay/internal/transport/mocks"
	"github.com/immxrtalbeast/peerplay/lib/logger/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var roster = []domain.RoomPlayer{
	{OdID: "alice", PeerID: "host", Nickname: "Alice", IsHost: true},
	{OdID: "bob", PeerID: "guest", Nickname: "Bob"},
}

func hostConfig() Config {
	return Config{RoomID: "room", HostPeerID: "host", IsHost: true, Players: roster}
}

func guestConfig() Config {
	return Config{RoomID: "room", HostPeerID: "host", Players: roster}
}

func newMockSync(t *testing.T) (*Synchronizer[*tictactoe.State], *mocks.MockTransport) {
	t.Helper()
	tr := mocks.NewMockTransport(gomock.NewController(t))
	return New[*tictactoe.State](tictactoe.New(), tr, slogdiscard.NewDiscardLogger()), tr
}

func envelope(t *testing.T, typ domain.MessageType, sender string, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(typ, sender, time.Now(), payload)
	require.NoError(t, err)
	return env
}

func TestHostStartBroadcastsBaseline(t *testing.T) {
	s, tr := newMockSync(t)
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil)

	require.NoError(t, s.Start(hostConfig()))

	st, ok := s.State()
	require.True(t, ok)
	assert.Equal(t, "alice", st.Turn())
	assert.Equal(t, uint64(1), s.Seq())
	assert.Equal(t, Flags{IsPlaying: true}, s.Flags())
}

func TestHostStartNeedsEnoughPlayers(t *testing.T) {
	s, _ := newMockSync(t)
	cfg := hostConfig()
	cfg.Players = roster[:1]

	err := s.Start(cfg)
	require.ErrorIs(t, err, engine.ErrNotEnoughPlayers)
	_, ok := s.State()
	assert.False(t, ok)
}

func TestOutOfTurnActionIsNoOp(t *testing.T) {
	s, tr := newMockSync(t)
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil)
	require.NoError(t, s.Start(hostConfig()))
	before, _ := s.State()

	err := s.Submit(tictactoe.PlaceAction("bob", 0))
	require.ErrorIs(t, err, ErrNotYourTurn)

	after, _ := s.State()
	assert.Same(t, before, after)
	assert.Equal(t, uint64(1), s.Seq())
}

func TestHostAppliesAndBroadcastsAction(t *testing.T) {
	s, tr := newMockSync(t)
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil)
	require.NoError(t, s.Start(hostConfig()))

	action := tictactoe.PlaceAction("alice", 4)
	action.Timestamp = 42
	tr.EXPECT().Broadcast(domain.MsgGameAction, gomock.Any()).DoAndReturn(
		func(_ domain.MessageType, payload any, _ ...string) error {
			p := payload.(domain.GameActionPayload)
			assert.Equal(t, action, p.Action)
			assert.Equal(t, uint64(2), p.Seq)
			var st tictactoe.State
			require.NoError(t, json.Unmarshal(p.NewState, &st))
			assert.Equal(t, "alice", st.Board[4])
			return nil
		})

	require.NoError(t, s.Submit(action))
	st, _ := s.State()
	assert.Equal(t, "bob", st.Turn())
}

func TestGuestSubmitOnlyForwards(t *testing.T) {
	s, tr := newMockSync(t)
	require.NoError(t, s.Start(guestConfig()))

	action := tictactoe.PlaceAction("bob", 0)
	action.Timestamp = 7
	tr.EXPECT().Broadcast(domain.MsgGameAction, domain.GameActionPayload{Action: action}).Return(nil)

	require.NoError(t, s.Submit(action))
	_, ok := s.State()
	assert.False(t, ok)
	assert.Equal(t, Flags{}, s.Flags())
}

func TestActionForForeignSeatDropped(t *testing.T) {
	s, tr := newMockSync(t)
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil)
	require.NoError(t, s.Start(hostConfig()))

	// Guest "guest" holds bob's seat but claims alice's turn.
	env := envelope(t, domain.MsgGameAction, "guest", domain.GameActionPayload{Action: tictactoe.PlaceAction("alice", 0)})
	assert.True(t, s.HandleMessage(env, "guest"))

	st, _ := s.State()
	assert.Empty(t, st.Board[0])
}

func TestStaleSnapshotIgnored(t *testing.T) {
	s, _ := newMockSync(t)
	require.NoError(t, s.Start(guestConfig()))

	fresh, err := tictactoe.New().CreateState("room", roster, nil)
	require.NoError(t, err)
	moved := tictactoe.New().ApplyAction(fresh, tictactoe.PlaceAction("alice", 4))

	newer, err := json.Marshal(moved)
	require.NoError(t, err)
	older, err := json.Marshal(fresh)
	require.NoError(t, err)

	s.HandleMessage(envelope(t, domain.MsgGameState, "host", domain.GameStatePayload{State: newer, Seq: 3}), "host")
	s.HandleMessage(envelope(t, domain.MsgGameState, "host", domain.GameStatePayload{State: older, Seq: 2}), "host")

	st, ok := s.State()
	require.True(t, ok)
	assert.Equal(t, uint64(3), s.Seq())
	assert.Equal(t, "alice", st.Board[4])

	// Only the host's snapshots count.
	s.HandleMessage(envelope(t, domain.MsgGameState, "intruder", domain.GameStatePayload{State: older, Seq: 9}), "intruder")
	assert.Equal(t, uint64(3), s.Seq())
}

func TestAIMoverPlaysItsTurns(t *testing.T) {
	s, tr := newMockSync(t)
	s.SetMover(tictactoe.FirstFreeCell{})
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil)
	tr.EXPECT().Broadcast(domain.MsgGameAction, gomock.Any()).Return(nil).Times(2)

	cfg := hostConfig()
	cfg.Players = roster[:1]
	cfg.AI = &engine.AIPlayer{ID: "ai", Name: "Bot"}
	require.NoError(t, s.Start(cfg))

	require.NoError(t, s.Submit(tictactoe.PlaceAction("alice", 4)))

	st, _ := s.State()
	assert.Equal(t, "ai", st.Board[0])
	assert.Equal(t, "alice", st.Turn())
	assert.Equal(t, uint64(3), s.Seq())
}

func TestRestartBroadcastsNewBaseline(t *testing.T) {
	s, tr := newMockSync(t)
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil).Times(2)
	tr.EXPECT().Broadcast(domain.MsgGameAction, gomock.Any()).Return(nil)
	require.NoError(t, s.Start(hostConfig()))
	require.NoError(t, s.Submit(tictactoe.PlaceAction("alice", 4)))

	require.NoError(t, s.Restart())

	st, _ := s.State()
	assert.Empty(t, st.Board[4])
	assert.Equal(t, "alice", st.Turn())
	assert.Equal(t, uint64(3), s.Seq())
}

func TestPausedSessionRejectsActions(t *testing.T) {
	s, tr := newMockSync(t)
	tr.EXPECT().Broadcast(domain.MsgGameState, gomock.Any()).Return(nil)
	require.NoError(t, s.Start(hostConfig()))

	s.SetPaused(true)
	assert.ErrorIs(t, s.Submit(tictactoe.PlaceAction("alice", 4)), ErrPaused)
}

func TestSubmitBeforeStart(t *testing.T) {
	s, _ := newMockSync(t)
	assert.ErrorIs(t, s.Submit(tictactoe.PlaceAction("alice", 4)), ErrNotStarted)
	assert.ErrorIs(t, s.Restart(), ErrNotStarted)
}

func TestHostGuestRoundTrip(t *testing.T) {
	n := transport.NewNetwork(slogdiscard.NewDiscardLogger())
	hostTr, guestTr := n.NewTransport("host"), n.NewTransport("guest")
	hostSync := New[*tictactoe.State](tictactoe.New(), hostTr, slogdiscard.NewDiscardLogger())
	guestSync := New[*tictactoe.State](tictactoe.New(), guestTr, slogdiscard.NewDiscardLogger())

	ctx := context.Background()
	_, err := hostTr.Initialize(ctx, transport.Callbacks{
		OnMessage: func(env domain.Envelope, sender string) { hostSync.HandleMessage(env, sender) },
	})
	require.NoError(t, err)
	_, err = guestTr.Initialize(ctx, transport.Callbacks{
		OnMessage: func(env domain.Envelope, sender string) { guestSync.HandleMessage(env, sender) },
	})
	require.NoError(t, err)
	t.Cleanup(hostTr.Cleanup)
	t.Cleanup(guestTr.Cleanup)
	require.NoError(t, guestTr.ConnectToPeer(ctx, "host"))

	require.NoError(t, guestSync.Start(guestConfig()))
	require.NoError(t, hostSync.Start(hostConfig()))
	require.Eventually(t, func() bool { return guestSync.Seq() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hostSync.Submit(tictactoe.PlaceAction("alice", 4)))
	require.Eventually(t, func() bool { return guestSync.Seq() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, guestSync.Submit(tictactoe.PlaceAction("bob", 0)))
	require.Eventually(t, func() bool { return guestSync.Seq() == 3 }, time.Second, 5*time.Millisecond)

	hostState, _ := hostSync.State()
	guestState, _ := guestSync.State()
	assert.Equal(t, hostState.Board, guestState.Board)
	assert.Equal(t, "bob", guestState.Board[0])
	assert.Equal(t, "alice", guestState.Turn())
}
