package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/peerplay/internal/api/http/converter"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/service"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

const writeWait = 10 * time.Second

type SignalingController struct {
	signaling service.SignalingInteractor
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

func NewSignalingController(signaling service.SignalingInteractor, log *slog.Logger) *SignalingController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalingController{
		signaling: signaling,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SignalingController) NewPeerID(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, converter.PeerIDResponse{PeerID: c.signaling.NewPeerID()})
}

// Connect upgrades to a websocket and relays signals for the peer named by
// the peer_id query parameter, or a freshly allocated one.
func (c *SignalingController) Connect(ctx *gin.Context) {
	const op = "http.signaling.connect"

	peerID := ctx.Query("peer_id")
	if peerID == "" {
		peerID = c.signaling.NewPeerID()
	}
	log := c.log.With(slog.String("op", op), slog.String("peer_id", peerID))

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Info("failed to upgrade connection", sl.Err(err))
		return
	}

	peer, err := c.signaling.RegisterPeer(context.Background(), peerID)
	if err != nil {
		_ = conn.WriteJSON(domain.SignalMessage{
			Type:    domain.SignalError,
			Payload: map[string]any{"error": err.Error()},
		})
		conn.Close()
		return
	}
	peer.Mutex.Lock()
	peer.Socket = conn
	peer.Mutex.Unlock()
	peer.SetStatus(domain.PeerStatusConnected)

	go forwardPeerEvents(peer, conn)

	for {
		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debug("signaling socket closed", sl.Err(err))
			_ = c.signaling.UnregisterPeer(context.Background(), peer)
			return
		}

		if err := c.signaling.HandleSignal(context.Background(), peer, &msg); err != nil {
			peer.EnqueueEvent(domain.SignalMessage{
				Type:    domain.SignalError,
				Payload: map[string]any{"target_id": msg.TargetID, "error": err.Error()},
			})
		}
	}
}

// forwardPeerEvents is the only writer of conn once the peer is registered.
func forwardPeerEvents(peer *domain.SignalPeer, conn *websocket.Conn) {
	for event := range peer.Events {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			return
		}
	}
}
