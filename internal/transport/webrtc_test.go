package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	httpapi "github.com/immxrtalbeast/peerplay/internal/api/http"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/repository"
	"github.com/immxrtalbeast/peerplay/internal/service"
	"github.com/immxrtalbeast/peerplay/lib/logger/slogdiscard"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rtcWait = 15 * time.Second

// newSignalingServer runs the real signaling router and returns its
// websocket endpoint.
func newSignalingServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slogdiscard.NewDiscardLogger()
	signaling := service.NewSignalingService(repository.NewInMemoryPeerRepository(), log)
	directory := service.NewDirectoryService(repository.NewInMemoryListingRepository(), time.Minute, log)
	router := httpapi.SetupRouter(
		httpapi.NewSignalingController(signaling, log),
		httpapi.NewDirectoryController(directory, engine.NewCatalog(), log),
		nil,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/peers/ws"
}

func loopbackAPI() *webrtc.API {
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	se.SetICETimeouts(time.Second, 2*time.Second, 200*time.Millisecond)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func newRTCTransport(t *testing.T, signalingURL, id string, cb Callbacks) *WebRTCTransport {
	t.Helper()
	tr := NewWebRTCTransport(WebRTCConfig{
		SignalingURL: signalingURL,
		PeerID:       id,
		API:          loopbackAPI(),
	}, slogdiscard.NewDiscardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	got, err := tr.Initialize(ctx, cb)
	require.NoError(t, err)
	require.Equal(t, id, got)
	t.Cleanup(tr.Cleanup)
	return tr
}

func TestWebRTCTransportConnectSendDisconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	url := newSignalingServer(t)
	ra, rb := &recorder{}, &recorder{}
	a := newRTCTransport(t, url, "a", ra.callbacks())
	b := newRTCTransport(t, url, "b", rb.callbacks())

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	require.NoError(t, a.ConnectToPeer(ctx, "b"))
	assert.Equal(t, []string{"b"}, a.ConnectedPeers())
	require.Eventually(t, func() bool {
		ev := rb.snapshot()
		return len(ev) > 0 && ev[0] == "connect:a"
	}, rtcWait, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		ev := ra.snapshot()
		return len(ev) > 0 && ev[0] == "connect:b"
	}, rtcWait, 10*time.Millisecond)

	for i := 0; i < 50; i++ {
		require.NoError(t, a.Send("b", domain.MsgPing, domain.HeartbeatPayload{Timestamp: int64(i)}))
	}
	require.Eventually(t, func() bool { return rb.count() == 50 }, rtcWait, 10*time.Millisecond)

	rb.mu.Lock()
	for i, env := range rb.messages {
		var hb domain.HeartbeatPayload
		require.NoError(t, env.Decode(&hb))
		assert.Equal(t, int64(i), hb.Timestamp)
		assert.Equal(t, "a", env.SenderID)
	}
	rb.mu.Unlock()

	// The answering side replies over the same channel.
	require.Equal(t, []string{"a"}, b.ConnectedPeers())
	require.NoError(t, b.Broadcast(domain.MsgPong, domain.HeartbeatPayload{Timestamp: 7}))
	require.Eventually(t, func() bool { return ra.count() == 1 }, rtcWait, 10*time.Millisecond)

	a.DisconnectPeer("b")
	require.Eventually(t, func() bool {
		ev := ra.snapshot()
		return ev[len(ev)-1] == "disconnect:b"
	}, rtcWait, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		ev := rb.snapshot()
		return ev[len(ev)-1] == "disconnect:a"
	}, rtcWait, 10*time.Millisecond)

	assert.ErrorIs(t, a.Send("b", domain.MsgPing, nil), ErrPeerNotConnected)
	assert.Empty(t, a.ConnectedPeers())
	require.Eventually(t, func() bool { return len(b.ConnectedPeers()) == 0 }, rtcWait, 10*time.Millisecond)
}

func TestWebRTCTransportUnknownPeerReportsError(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	url := newSignalingServer(t)
	errs := make(chan error, 4)
	a := newRTCTransport(t, url, "a", Callbacks{OnError: func(err error) { errs <- err }})

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	err := a.ConnectToPeer(ctx, "ghost")
	require.ErrorIs(t, err, ErrPeerUnavailable)
	assert.Contains(t, err.Error(), "ghost")

	select {
	case reported := <-errs:
		assert.ErrorIs(t, reported, ErrPeerUnavailable)
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
	assert.Nil(t, a.link("ghost"))
}

func TestWebRTCTransportRequiresInitialize(t *testing.T) {
	tr := NewWebRTCTransport(WebRTCConfig{}, slogdiscard.NewDiscardLogger())

	assert.ErrorIs(t, tr.ConnectToPeer(context.Background(), "b"), ErrNotInitialized)
	assert.ErrorIs(t, tr.Send("b", domain.MsgPing, nil), ErrPeerNotConnected)
	assert.Empty(t, tr.ConnectedPeers())
}

func TestRTCLinkBuffersCandidatesUntilRemoteDescription(t *testing.T) {
	api := loopbackAPI()
	offerer, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = offerer.Close() })
	_, err = offerer.CreateDataChannel(dataChannelLabel, nil)
	require.NoError(t, err)
	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)

	answerer, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = answerer.Close() })
	l := &rtcLink{remote: "a", pc: answerer}

	mid := "0"
	early := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host", SDPMid: &mid}
	require.NoError(t, l.addCandidate(early))
	assert.Len(t, l.pending, 1)

	require.NoError(t, l.setRemote(offer))
	assert.Empty(t, l.pending)
	assert.True(t, l.remoteSet)

	late := webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 2130706431 127.0.0.1 50001 typ host", SDPMid: &mid}
	require.NoError(t, l.addCandidate(late))
	assert.Empty(t, l.pending)
}

func TestRemoveLinkKeepsNewerLink(t *testing.T) {
	tr := NewWebRTCTransport(WebRTCConfig{}, slogdiscard.NewDiscardLogger())
	stale := &rtcLink{remote: "b"}
	current := &rtcLink{remote: "b"}
	tr.links["b"] = current

	assert.False(t, tr.removeLink("b", stale))
	assert.Same(t, current, tr.link("b"))

	assert.True(t, tr.removeLink("b", current))
	assert.Nil(t, tr.link("b"))
}
