package service

import (
	"context"
	"testing"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/repository"
	"github.com/immxrtalbeast/peerplay/lib/logger/slogdiscard"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignaling() *SignalingService {
	return NewSignalingService(repository.NewInMemoryPeerRepository(), slogdiscard.NewDiscardLogger())
}

func next(t *testing.T, peer *domain.SignalPeer) domain.SignalMessage {
	t.Helper()
	select {
	case msg, ok := <-peer.Events:
		require.True(t, ok, "event stream closed")
		return msg
	default:
		t.Fatal("no event queued")
		return domain.SignalMessage{}
	}
}

func TestRegisterPeerAnnouncesIdentity(t *testing.T) {
	s := newSignaling()

	peer, err := s.RegisterPeer(context.Background(), "alice")
	require.NoError(t, err)

	msg := next(t, peer)
	assert.Equal(t, domain.SignalRegistered, msg.Type)
	assert.Equal(t, "alice", msg.TargetID)
}

func TestRegisterPeerRejectsEmptyID(t *testing.T) {
	_, err := newSignaling().RegisterPeer(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidPeerID)
}

func TestRegisterPeerReplacesPrevious(t *testing.T) {
	s := newSignaling()
	ctx := context.Background()

	first, err := s.RegisterPeer(ctx, "host")
	require.NoError(t, err)
	second, err := s.RegisterPeer(ctx, "host")
	require.NoError(t, err)

	assert.Equal(t, domain.PeerStatusDisconnected, first.GetStatus())
	assert.False(t, first.EnqueueEvent(domain.SignalMessage{Type: domain.SignalOffer}))

	// The stale socket's cleanup must not evict the new registration.
	assert.ErrorIs(t, s.UnregisterPeer(ctx, first), repository.ErrPeerNotFound)
	got, err := s.peers.Get(ctx, "host")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestHandleSignalRelaysToTarget(t *testing.T) {
	s := newSignaling()
	ctx := context.Background()
	a, err := s.RegisterPeer(ctx, "a")
	require.NoError(t, err)
	b, err := s.RegisterPeer(ctx, "b")
	require.NoError(t, err)
	next(t, a)
	next(t, b)

	offer := &domain.SignalMessage{
		Type:     domain.SignalOffer,
		TargetID: "b",
		SenderID: "spoofed",
		SDP:      &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
	require.NoError(t, s.HandleSignal(ctx, a, offer))

	msg := next(t, b)
	assert.Equal(t, domain.SignalOffer, msg.Type)
	assert.Equal(t, "a", msg.SenderID)
	require.NotNil(t, msg.SDP)
	assert.Equal(t, "v=0", msg.SDP.SDP)
	assert.Empty(t, a.Events)
}

func TestHandleSignalUnknownTarget(t *testing.T) {
	s := newSignaling()
	ctx := context.Background()
	a, err := s.RegisterPeer(ctx, "a")
	require.NoError(t, err)
	next(t, a)

	require.NoError(t, s.HandleSignal(ctx, a, &domain.SignalMessage{Type: domain.SignalCandidate, TargetID: "ghost"}))

	msg := next(t, a)
	assert.Equal(t, domain.SignalError, msg.Type)
	assert.Equal(t, "ghost", msg.Payload["target_id"])
	assert.NotEmpty(t, msg.Payload["error"])
}

func TestHandleSignalValidation(t *testing.T) {
	s := newSignaling()
	ctx := context.Background()
	a, err := s.RegisterPeer(ctx, "a")
	require.NoError(t, err)

	assert.ErrorIs(t, s.HandleSignal(ctx, a, nil), ErrMessageRequired)
	assert.ErrorIs(t, s.HandleSignal(ctx, a, &domain.SignalMessage{Type: "chat", TargetID: "b"}), ErrUnsupportedSignal)
	assert.ErrorIs(t, s.HandleSignal(ctx, a, &domain.SignalMessage{Type: domain.SignalAnswer}), ErrTargetRequired)
}
