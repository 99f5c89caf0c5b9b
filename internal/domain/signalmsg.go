package domain

import "github.com/pion/webrtc/v3"

const (
	SignalOffer      = "offer"
	SignalAnswer     = "answer"
	SignalCandidate  = "ice-candidate"
	SignalRegistered = "registered"
	SignalError      = "error"
)

// SignalMessage is exchanged with the signaling server before a data
// channel exists between two peers.
type SignalMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SenderID  string                     `json:"sender_id,omitempty"`
	TargetID  string                     `json:"target_id,omitempty"`
	Payload   map[string]any             `json:"payload,omitempty"`
}
