package health

import (
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/lib/logger/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to      string
	typ     domain.MessageType
	payload any
}

type fakeSender struct {
	mu    sync.Mutex
	peers []string
	sent  []sent
}

func (f *fakeSender) Send(peerID string, t domain.MessageType, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: peerID, typ: t, payload: payload})
	return nil
}

func (f *fakeSender) ConnectedPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.peers...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

func newMonitor(peers ...string) (*Monitor, *fakeSender, *clock) {
	s := &fakeSender{peers: peers}
	c := &clock{}
	m := NewMonitor(s, Config{}, slogdiscard.NewDiscardLogger())
	m.SetClock(c.now)
	return m, s, c
}

func TestHostPingPongLatency(t *testing.T) {
	m, s, c := newMonitor("guest")
	m.mu.Lock()
	m.role = RoleHost
	m.mu.Unlock()

	c.set(1000)
	m.Ping()

	require.Len(t, s.sent, 1)
	assert.Equal(t, domain.MsgPing, s.sent[0].typ)
	assert.Equal(t, domain.HeartbeatPayload{Timestamp: 1000}, s.sent[0].payload)

	st, ok := m.Status("guest")
	require.True(t, ok)
	assert.Equal(t, int64(1000), st.LastPingAt.UnixMilli())

	c.set(1080)
	m.HandlePong("guest", domain.HeartbeatPayload{Timestamp: 1000})

	st, _ = m.Status("guest")
	assert.Equal(t, int64(80), st.LatencyMs)
	assert.Equal(t, domain.QualityExcellent, st.Quality)
	assert.True(t, st.IsConnected)
	assert.Equal(t, int64(1080), st.LastPongAt.UnixMilli())
}

func TestGuestHostTimeout(t *testing.T) {
	m, _, c := newMonitor()
	c.set(0)
	m.mu.Lock()
	m.role = RoleGuest
	m.hostID = "host"
	m.host = domain.NewConnectionStatus("host", c.now())
	m.mu.Unlock()

	var changes []domain.ConnectionStatus
	m.OnChange(func(st domain.ConnectionStatus) { changes = append(changes, st) })

	c.set(2999)
	m.CheckTimeouts()
	st, _ := m.HostStatus()
	assert.True(t, st.IsConnected)

	c.set(3500)
	m.CheckTimeouts()
	st, _ = m.HostStatus()
	assert.False(t, st.IsConnected)
	assert.Equal(t, domain.QualityDisconnected, st.Quality)
	require.Len(t, changes, 1)
	assert.Equal(t, "host", changes[0].PeerID)

	// a second check does not notify again
	c.set(4500)
	m.CheckTimeouts()
	assert.Len(t, changes, 1)
}

func TestGuestAnswersPingWithHostTimestamp(t *testing.T) {
	m, s, c := newMonitor()
	c.set(0)
	m.mu.Lock()
	m.role = RoleGuest
	m.hostID = "host"
	m.host = domain.NewConnectionStatus("host", c.now())
	m.mu.Unlock()

	c.set(5250)
	m.HandlePing("host", domain.HeartbeatPayload{Timestamp: 5000})

	require.Len(t, s.sent, 1)
	assert.Equal(t, "host", s.sent[0].to)
	assert.Equal(t, domain.MsgPong, s.sent[0].typ)
	assert.Equal(t, domain.HeartbeatPayload{Timestamp: 5000}, s.sent[0].payload)

	st, _ := m.HostStatus()
	assert.Equal(t, int64(250), st.LatencyMs)
	assert.Equal(t, domain.QualityGood, st.Quality)
	assert.Equal(t, int64(5250), st.LastPingAt.UnixMilli())
}

func TestHostTimeoutAndRecovery(t *testing.T) {
	m, _, c := newMonitor("g1", "g2")
	m.mu.Lock()
	m.role = RoleHost
	m.mu.Unlock()

	var changes []domain.ConnectionStatus
	m.OnChange(func(st domain.ConnectionStatus) { changes = append(changes, st) })

	c.set(0)
	m.Ping()
	c.set(50)
	m.HandlePong("g1", domain.HeartbeatPayload{Timestamp: 0})

	c.set(3020)
	m.CheckTimeouts()
	g1, _ := m.Status("g1")
	g2, _ := m.Status("g2")
	assert.True(t, g1.IsConnected)
	assert.False(t, g2.IsConnected)
	require.Len(t, changes, 1)
	assert.Equal(t, "g2", changes[0].PeerID)

	c.set(3400)
	m.HandlePong("g2", domain.HeartbeatPayload{Timestamp: 3000})
	g2, _ = m.Status("g2")
	assert.True(t, g2.IsConnected)
	assert.Equal(t, domain.QualityPoor, g2.Quality)
	require.Len(t, changes, 2)
	assert.True(t, changes[1].IsConnected)
}

func TestTickDependsOnRole(t *testing.T) {
	m, s, c := newMonitor("g1")
	c.set(0)
	m.Tick()
	assert.Empty(t, s.sent, "idle monitor must not ping")

	m.mu.Lock()
	m.role = RoleHost
	m.mu.Unlock()
	m.Tick()
	assert.Len(t, s.sent, 1)
}

func TestStartAndStopLoop(t *testing.T) {
	s := &fakeSender{peers: []string{"g1"}}
	m := NewMonitor(s, Config{Interval: 5 * time.Millisecond}, slogdiscard.NewDiscardLogger())

	m.StartHost(t.Context())
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sent) >= 2
	}, time.Second, time.Millisecond)

	m.Stop()
	assert.Equal(t, RoleIdle, m.Role())
	assert.Empty(t, m.Statuses())

	s.mu.Lock()
	n := len(s.sent)
	s.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, n, len(s.sent))
}
