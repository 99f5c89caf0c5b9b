package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/repository"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

var (
	ErrInvalidPeerID     = errors.New("invalid peer id")
	ErrUnsupportedSignal = errors.New("unsupported signal type")
	ErrTargetRequired    = errors.New("signal target is required")
	ErrMessageRequired   = errors.New("message is required")
)

const maxPeerIDLength = 128

// SignalingService relays SDP offers, answers and ICE candidates between
// peers that have not opened a data channel yet. It keeps no room state.
type SignalingService struct {
	peers repository.PeerRepository
	log   *slog.Logger
}

func NewSignalingService(peers repository.PeerRepository, log *slog.Logger) *SignalingService {
	if log == nil {
		log = slog.Default()
	}
	return &SignalingService{
		peers: peers,
		log:   log,
	}
}

func (s *SignalingService) NewPeerID() string {
	return uuid.NewString()
}

// RegisterPeer binds peerID to a fresh event queue. A previous registration
// under the same id is closed and replaced, so a reloaded page keeps its
// address.
func (s *SignalingService) RegisterPeer(ctx context.Context, peerID string) (*domain.SignalPeer, error) {
	const op = "service.signaling.register"
	log := s.log.With(slog.String("op", op), slog.String("peer_id", peerID))

	peerID = strings.TrimSpace(peerID)
	if peerID == "" || len(peerID) > maxPeerIDLength {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidPeerID)
	}

	peer := domain.NewSignalPeer(peerID)
	for {
		err := s.peers.Add(ctx, peer)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrPeerExists) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		previous, err := s.peers.Get(ctx, peerID)
		if err != nil {
			if errors.Is(err, repository.ErrPeerNotFound) {
				continue
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("replacing previous registration")
		_ = s.UnregisterPeer(ctx, previous)
	}

	peer.EnqueueEvent(domain.SignalMessage{
		Type:     domain.SignalRegistered,
		TargetID: peer.ID,
	})
	log.Info("peer registered")
	return peer, nil
}

// UnregisterPeer removes peer if it still owns its id and closes its queue
// and socket either way.
func (s *SignalingService) UnregisterPeer(ctx context.Context, peer *domain.SignalPeer) error {
	const op = "service.signaling.unregister"
	if peer == nil {
		return nil
	}

	err := s.peers.Remove(ctx, peer.ID, peer)

	peer.Close()
	peer.Mutex.Lock()
	if peer.Socket != nil {
		peer.Socket.Close()
		peer.Socket = nil
	}
	peer.Mutex.Unlock()

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("peer unregistered", slog.String("op", op), slog.String("peer_id", peer.ID))
	return nil
}

// HandleSignal forwards an offer, answer or candidate to its target. An
// unknown target is reported back to the sender as an error signal.
func (s *SignalingService) HandleSignal(ctx context.Context, peer *domain.SignalPeer, message *domain.SignalMessage) error {
	const op = "service.signaling.signal"
	if message == nil {
		return fmt.Errorf("%s: %w", op, ErrMessageRequired)
	}
	log := s.log.With(
		slog.String("op", op),
		slog.String("peer_id", peer.ID),
		slog.String("type", message.Type),
	)
	peer.Touch()

	switch message.Type {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate:
	default:
		return fmt.Errorf("%s: %w: %q", op, ErrUnsupportedSignal, message.Type)
	}
	if message.TargetID == "" {
		return fmt.Errorf("%s: %w", op, ErrTargetRequired)
	}

	forward := *message
	forward.SenderID = peer.ID

	target, err := s.peers.Get(ctx, forward.TargetID)
	if err != nil {
		if !errors.Is(err, repository.ErrPeerNotFound) {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Debug("signal target not found", slog.String("target_id", forward.TargetID))
		peer.EnqueueEvent(domain.SignalMessage{
			Type: domain.SignalError,
			Payload: map[string]any{
				"target_id": forward.TargetID,
				"error":     repository.ErrPeerNotFound.Error(),
			},
		})
		return nil
	}

	if !target.EnqueueEvent(forward) {
		log.Warn("dropping signal", slog.String("target_id", target.ID), sl.Err(errors.New("queue full or closed")))
	}
	return nil
}
