package domain

import "time"

type Quality string

const (
	QualityExcellent    Quality = "excellent"
	QualityGood         Quality = "good"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

const (
	excellentBelow = 100 * time.Millisecond
	goodBelow      = 300 * time.Millisecond
)

// QualityFor maps heartbeat latency and liveness to a quality band.
func QualityFor(latency time.Duration, connected bool) Quality {
	switch {
	case !connected:
		return QualityDisconnected
	case latency < excellentBelow:
		return QualityExcellent
	case latency < goodBelow:
		return QualityGood
	default:
		return QualityPoor
	}
}

// ConnectionStatus is one observer's view of one remote peer.
type ConnectionStatus struct {
	PeerID      string    `json:"peerId"`
	LastPingAt  time.Time `json:"lastPingAt"`
	LastPongAt  time.Time `json:"lastPongAt"`
	LatencyMs   int64     `json:"latencyMs"`
	IsConnected bool      `json:"isConnected"`
	Quality     Quality   `json:"quality"`
}

func NewConnectionStatus(peerID string, now time.Time) *ConnectionStatus {
	return &ConnectionStatus{
		PeerID:      peerID,
		LastPingAt:  now,
		LastPongAt:  now,
		IsConnected: true,
		Quality:     QualityExcellent,
	}
}

// Observe records a heartbeat round trip and recomputes quality.
func (s *ConnectionStatus) Observe(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	s.LatencyMs = latency.Milliseconds()
	s.IsConnected = true
	s.Quality = QualityFor(latency, true)
}

func (s *ConnectionStatus) MarkDisconnected() {
	s.IsConnected = false
	s.Quality = QualityFor(time.Duration(s.LatencyMs)*time.Millisecond, false)
}
