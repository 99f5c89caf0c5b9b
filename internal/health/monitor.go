// Package health runs the heartbeat between a host and its guests and turns
// round-trip times into connection quality.
//
// The host pings every connected guest; a guest only answers and watches
// the host. Losing a peer is a local inference from missed heartbeats, the
// remote side is never told.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 3 * time.Second
)

type Sender interface {
	Send(peerID string, t domain.MessageType, payload any) error
	ConnectedPeers() []string
}

type Role int

const (
	RoleIdle Role = iota
	RoleHost
	RoleGuest
)

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Monitor struct {
	sender   Sender
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
	onChange func(domain.ConnectionStatus)

	mu     sync.Mutex
	role   Role
	hostID string
	peers  map[string]*domain.ConnectionStatus
	host   *domain.ConnectionStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(sender Sender, cfg Config, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Monitor{
		sender: sender,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
		peers:  make(map[string]*domain.ConnectionStatus),
	}
}

// SetClock replaces the time source. Used by tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// OnChange registers a callback fired whenever a status changes liveness
// or quality band.
func (m *Monitor) OnChange(fn func(domain.ConnectionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// StartHost begins pinging every connected peer.
func (m *Monitor) StartHost(ctx context.Context) {
	m.mu.Lock()
	m.role = RoleHost
	m.hostID = ""
	m.host = nil
	m.mu.Unlock()
	m.run(ctx)
}

// StartGuest begins watching hostID for heartbeats.
func (m *Monitor) StartGuest(ctx context.Context, hostID string) {
	m.mu.Lock()
	m.role = RoleGuest
	m.hostID = hostID
	m.host = domain.NewConnectionStatus(hostID, m.now())
	m.peers = make(map[string]*domain.ConnectionStatus)
	m.mu.Unlock()
	m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	m.stopLoop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick()
			}
		}
	}()
}

// Stop cancels the heartbeat loop and forgets every status.
func (m *Monitor) Stop() {
	m.stopLoop()

	m.mu.Lock()
	m.role = RoleIdle
	m.hostID = ""
	m.host = nil
	m.peers = make(map[string]*domain.ConnectionStatus)
	m.mu.Unlock()
}

func (m *Monitor) stopLoop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Tick is one heartbeat period: the host pings, everyone checks timeouts.
func (m *Monitor) Tick() {
	m.mu.Lock()
	role := m.role
	m.mu.Unlock()

	if role == RoleHost {
		m.Ping()
	}
	m.CheckTimeouts()
}

// Ping sends a heartbeat to every connected peer and stamps lastPingAt.
func (m *Monitor) Ping() {
	const op = "health.monitor.ping"

	peers := m.sender.ConnectedPeers()

	m.mu.Lock()
	now := m.now()
	for _, id := range peers {
		st, ok := m.peers[id]
		if !ok {
			st = domain.NewConnectionStatus(id, now)
			m.peers[id] = st
		}
		st.LastPingAt = now
	}
	m.mu.Unlock()

	payload := domain.HeartbeatPayload{Timestamp: now.UnixMilli()}
	for _, id := range peers {
		if err := m.sender.Send(id, domain.MsgPing, payload); err != nil {
			m.log.Debug("ping failed", slog.String("op", op), slog.String("peer_id", id), sl.Err(err))
		}
	}
}

// HandlePing answers a heartbeat and, on a guest, records the host's
// liveness. The pong echoes the sender's timestamp.
func (m *Monitor) HandlePing(senderID string, p domain.HeartbeatPayload) {
	m.mu.Lock()
	var changed *domain.ConnectionStatus
	if m.role == RoleGuest && senderID == m.hostID && m.host != nil {
		now := m.now()
		before := *m.host
		m.host.LastPingAt = now
		m.host.Observe(now.Sub(time.UnixMilli(p.Timestamp)))
		changed = diff(before, m.host)
	}
	m.mu.Unlock()

	if err := m.sender.Send(senderID, domain.MsgPong, domain.HeartbeatPayload{Timestamp: p.Timestamp}); err != nil {
		m.log.Debug("pong failed", slog.String("peer_id", senderID), sl.Err(err))
	}
	m.notify(changed)
}

// HandlePong records a round trip measured against the host's own clock.
func (m *Monitor) HandlePong(senderID string, p domain.HeartbeatPayload) {
	m.mu.Lock()
	if m.role != RoleHost {
		m.mu.Unlock()
		return
	}
	now := m.now()
	st, ok := m.peers[senderID]
	if !ok {
		st = domain.NewConnectionStatus(senderID, now)
		m.peers[senderID] = st
	}
	before := *st
	st.LastPongAt = now
	st.Observe(now.Sub(time.UnixMilli(p.Timestamp)))
	changed := diff(before, st)
	m.mu.Unlock()

	m.notify(changed)
}

// CheckTimeouts flips any peer that has been silent for longer than the
// timeout to disconnected.
func (m *Monitor) CheckTimeouts() {
	m.mu.Lock()
	now := m.now()
	var changed []*domain.ConnectionStatus

	switch m.role {
	case RoleHost:
		for _, st := range m.peers {
			if st.IsConnected && now.Sub(st.LastPongAt) > m.cfg.Timeout {
				st.MarkDisconnected()
				c := *st
				changed = append(changed, &c)
			}
		}
	case RoleGuest:
		if m.host != nil && m.host.IsConnected && now.Sub(m.host.LastPingAt) > m.cfg.Timeout {
			m.host.MarkDisconnected()
			c := *m.host
			changed = append(changed, &c)
		}
	}
	m.mu.Unlock()

	sort.Slice(changed, func(i, j int) bool { return changed[i].PeerID < changed[j].PeerID })
	for _, c := range changed {
		m.log.Info("peer heartbeat timed out", slog.String("peer_id", c.PeerID))
		m.notify(c)
	}
}

// Track starts watching peerID; the timeout clock starts now.
func (m *Monitor) Track(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[peerID]; !ok {
		m.peers[peerID] = domain.NewConnectionStatus(peerID, m.now())
	}
}

func (m *Monitor) Untrack(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peerID)
}

func (m *Monitor) Status(peerID string) (domain.ConnectionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.peers[peerID]
	if !ok {
		return domain.ConnectionStatus{}, false
	}
	return *st, true
}

// Statuses returns the host's view of every guest, ordered by peer id.
func (m *Monitor) Statuses() []domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ConnectionStatus, 0, len(m.peers))
	for _, st := range m.peers {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (m *Monitor) HostStatus() (domain.ConnectionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.host == nil {
		return domain.ConnectionStatus{}, false
	}
	return *m.host, true
}

func (m *Monitor) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Monitor) notify(st *domain.ConnectionStatus) {
	if st == nil {
		return
	}
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(*st)
	}
}

func diff(before domain.ConnectionStatus, after *domain.ConnectionStatus) *domain.ConnectionStatus {
	if before.IsConnected == after.IsConnected && before.Quality == after.Quality {
		return nil
	}
	c := *after
	return &c
}
