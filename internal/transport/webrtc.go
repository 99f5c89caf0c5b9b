package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

const dataChannelLabel = "peerplay"

type WebRTCConfig struct {
	SignalingURL string
	ICEServers   []webrtc.ICEServer
	// PeerID is reused when set, e.g. a host resuming after a restart.
	PeerID string
	// API overrides the default pion API, e.g. one built with a custom
	// SettingEngine.
	API *webrtc.API
}

// WebRTCTransport keeps one ordered, reliable data channel per remote peer.
type WebRTCTransport struct {
	cfg WebRTCConfig
	log *slog.Logger

	mu     sync.RWMutex
	id     string
	cb     Callbacks
	signal *SignalClient
	links  map[string]*rtcLink
}

type rtcLink struct {
	remote string
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// described is closed once the local offer or answer went out; ICE
	// candidates wait for it so they never overtake the description.
	described     chan struct{}
	describedOnce sync.Once

	open     chan struct{}
	openOnce sync.Once
	// connected is closed after OnConnection returned; messages wait for it.
	connected     chan struct{}
	connectedOnce sync.Once
	closed        chan struct{}
	closeOnce     sync.Once
	failed        chan error
	failOnce      sync.Once
}

func NewWebRTCTransport(cfg WebRTCConfig, log *slog.Logger) *WebRTCTransport {
	if log == nil {
		log = slog.Default()
	}
	return &WebRTCTransport{
		cfg:   cfg,
		log:   log,
		links: make(map[string]*rtcLink),
	}
}

func (t *WebRTCTransport) Initialize(ctx context.Context, cb Callbacks) (string, error) {
	const op = "transport.webrtc.initialize"

	id := t.cfg.PeerID
	if id == "" {
		id = uuid.New().String()
	}

	signal, err := DialSignaling(ctx, t.cfg.SignalingURL, id, t.handleSignal, t.log)
	if err != nil {
		cb.fail(err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	t.mu.Lock()
	t.id = id
	t.cb = cb
	t.signal = signal
	t.mu.Unlock()

	t.log.Info("transport ready", slog.String("op", op), slog.String("peer_id", id))
	cb.open(id)
	return id, nil
}

func (t *WebRTCTransport) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

func (t *WebRTCTransport) ConnectToPeer(ctx context.Context, peerID string) error {
	const op = "transport.webrtc.connect"
	log := t.log.With(slog.String("op", op), slog.String("remote", peerID))

	t.mu.RLock()
	signal, cb := t.signal, t.cb
	existing := t.links[peerID]
	t.mu.RUnlock()

	if signal == nil {
		return ErrNotInitialized
	}

	l := existing
	if l == nil {
		var err error
		l, err = t.newLink(peerID)
		if err != nil {
			cb.fail(err)
			return fmt.Errorf("%s: %w", op, err)
		}

		ordered := true
		dc, err := l.pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			t.dropLink(peerID)
			cb.fail(err)
			return fmt.Errorf("%s: %w", op, err)
		}
		t.attach(l, dc)

		offer, err := l.pc.CreateOffer(nil)
		if err == nil {
			err = l.pc.SetLocalDescription(offer)
		}
		if err == nil {
			err = signal.Send(domain.SignalMessage{
				Type:     domain.SignalOffer,
				SDP:      l.pc.LocalDescription(),
				SenderID: t.ID(),
				TargetID: peerID,
			})
		}
		l.markDescribed()
		if err != nil {
			t.dropLink(peerID)
			cb.fail(err)
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Debug("offer sent")
	}

	select {
	case <-l.open:
		return nil
	case err := <-l.failed:
		t.dropLink(peerID)
		cb.fail(err)
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
		t.dropLink(peerID)
		err := fmt.Errorf("%w: %s: %w", ErrPeerUnavailable, peerID, ctx.Err())
		cb.fail(err)
		return err
	}
}

func (t *WebRTCTransport) Send(peerID string, typ domain.MessageType, payload any) error {
	t.mu.RLock()
	l, ok := t.links[peerID]
	self := t.id
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}

	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}

	env, err := domain.NewEnvelope(typ, self, time.Now(), payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return dc.Send(raw)
}

func (t *WebRTCTransport) Broadcast(typ domain.MessageType, payload any, exclude ...string) error {
	var errs []error
	for _, id := range t.ConnectedPeers() {
		if excluded(id, exclude) {
			continue
		}
		if err := t.Send(id, typ, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *WebRTCTransport) DisconnectPeer(peerID string) {
	if l := t.dropLink(peerID); l != nil {
		cb := t.callbacks()
		go cb.disconnected(peerID)
	}
}

func (t *WebRTCTransport) Cleanup() {
	t.mu.Lock()
	links := t.links
	t.links = make(map[string]*rtcLink)
	signal, cb := t.signal, t.cb
	t.signal = nil
	t.cb = Callbacks{}
	t.mu.Unlock()

	for _, l := range links {
		l.close(t.log)
	}
	if signal != nil {
		_ = signal.Close()
		cb.closed()
	}
}

func (t *WebRTCTransport) ConnectedPeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.links))
	for id, l := range t.links {
		select {
		case <-l.open:
			ids = append(ids, id)
		default:
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *WebRTCTransport) callbacks() Callbacks {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cb
}

func (t *WebRTCTransport) newLink(remote string) (*rtcLink, error) {
	conf := webrtc.Configuration{ICEServers: t.cfg.ICEServers}
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if t.cfg.API != nil {
		pc, err = t.cfg.API.NewPeerConnection(conf)
	} else {
		pc, err = webrtc.NewPeerConnection(conf)
	}
	if err != nil {
		return nil, err
	}

	l := &rtcLink{
		remote:    remote,
		pc:        pc,
		described: make(chan struct{}),
		open:      make(chan struct{}),
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
		failed:    make(chan error, 1),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		<-l.described
		init := c.ToJSON()
		t.mu.RLock()
		signal, self := t.signal, t.id
		t.mu.RUnlock()
		if signal == nil {
			return
		}
		if err := signal.Send(domain.SignalMessage{
			Type:      domain.SignalCandidate,
			Candidate: &init,
			SenderID:  self,
			TargetID:  remote,
		}); err != nil {
			t.log.Debug("send ice candidate", slog.String("remote", remote), sl.Err(err))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			l.fail(fmt.Errorf("%w: %s: ice failed", ErrPeerUnavailable, remote))
			if t.removeLink(remote, l) {
				go l.close(t.log)
				t.callbacks().disconnected(remote)
			}
		}
	})

	t.mu.Lock()
	t.links[remote] = l
	t.mu.Unlock()
	return l, nil
}

func (t *WebRTCTransport) attach(l *rtcLink, dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	remote := l.remote
	// pion runs OnOpen on its own goroutine.
	dc.OnOpen(func() {
		l.openOnce.Do(func() { close(l.open) })
		t.callbacks().connected(remote)
		l.connectedOnce.Do(func() { close(l.connected) })
	})
	dc.OnClose(func() {
		if t.removeLink(remote, l) {
			t.callbacks().disconnected(remote)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case <-l.connected:
		case <-l.closed:
			return
		}
		var env domain.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.log.Warn("dropping malformed envelope", slog.String("remote", remote), sl.Err(err))
			return
		}
		t.callbacks().message(env, remote)
	})
}

func (t *WebRTCTransport) handleSignal(msg domain.SignalMessage) {
	log := t.log.With(slog.String("signal", msg.Type), slog.String("from", msg.SenderID))

	switch msg.Type {
	case domain.SignalOffer:
		if msg.SDP == nil {
			return
		}
		if old := t.dropLink(msg.SenderID); old != nil {
			t.callbacks().disconnected(msg.SenderID)
		}
		l, err := t.newLink(msg.SenderID)
		if err != nil {
			log.Error("create peer connection", sl.Err(err))
			return
		}
		l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			t.attach(l, dc)
		})
		defer l.markDescribed()
		if err := l.setRemote(*msg.SDP); err != nil {
			log.Error("set remote offer", sl.Err(err))
			return
		}
		answer, err := l.pc.CreateAnswer(nil)
		if err == nil {
			err = l.pc.SetLocalDescription(answer)
		}
		if err != nil {
			log.Error("create answer", sl.Err(err))
			return
		}
		t.mu.RLock()
		signal, self := t.signal, t.id
		t.mu.RUnlock()
		if signal == nil {
			return
		}
		if err := signal.Send(domain.SignalMessage{
			Type:     domain.SignalAnswer,
			SDP:      l.pc.LocalDescription(),
			SenderID: self,
			TargetID: msg.SenderID,
		}); err != nil {
			log.Error("send answer", sl.Err(err))
		}
	case domain.SignalAnswer:
		l := t.link(msg.SenderID)
		if l == nil || msg.SDP == nil {
			return
		}
		if err := l.setRemote(*msg.SDP); err != nil {
			l.fail(err)
		}
	case domain.SignalCandidate:
		l := t.link(msg.SenderID)
		if l == nil || msg.Candidate == nil {
			return
		}
		if err := l.addCandidate(*msg.Candidate); err != nil {
			log.Debug("add ice candidate", sl.Err(err))
		}
	case domain.SignalError:
		target, _ := msg.Payload["target_id"].(string)
		reason, _ := msg.Payload["error"].(string)
		err := fmt.Errorf("%w: %s: %s", ErrPeerUnavailable, target, reason)
		if l := t.link(target); l != nil {
			l.fail(err)
			return
		}
		t.callbacks().fail(err)
	case domain.SignalRegistered:
		log.Debug("registered with signaling server")
	}
}

func (t *WebRTCTransport) link(remote string) *rtcLink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.links[remote]
}

func (t *WebRTCTransport) dropLink(remote string) *rtcLink {
	t.mu.Lock()
	l, ok := t.links[remote]
	delete(t.links, remote)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	l.close(t.log)
	return l
}

// removeLink forgets l only if it is still the current link for remote.
func (t *WebRTCTransport) removeLink(remote string, l *rtcLink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[remote] != l {
		return false
	}
	delete(t.links, remote)
	return true
}

func (l *rtcLink) setRemote(sdp webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (l *rtcLink) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(c)
}

func (l *rtcLink) markDescribed() {
	l.describedOnce.Do(func() { close(l.described) })
}

func (l *rtcLink) close(log *slog.Logger) {
	l.markDescribed()
	l.closeOnce.Do(func() { close(l.closed) })
	if err := l.pc.Close(); err != nil {
		log.Debug("close peer connection", slog.String("remote", l.remote), sl.Err(err))
	}
}

func (l *rtcLink) fail(err error) {
	l.failOnce.Do(func() { l.failed <- err })
}
