package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/peerplay/internal/domain"
)

// SignalClient is a websocket connection to the signaling server used to
// exchange SDP and ICE candidates before a data channel exists.
type SignalClient struct {
	conn    *websocket.Conn
	log     *slog.Logger
	writeMu sync.Mutex
	done    chan struct{}
}

// DialSignaling registers peerID with the signaling server at baseURL and
// starts a reader calling handle for every incoming signal.
func DialSignaling(ctx context.Context, baseURL, peerID string, handle func(domain.SignalMessage), log *slog.Logger) (*SignalClient, error) {
	const op = "transport.signal.dial"

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	q := u.Query()
	q.Set("peer_id", peerID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := &SignalClient{
		conn: conn,
		log:  log.With(slog.String("op", op), slog.String("peer_id", peerID)),
		done: make(chan struct{}),
	}
	go c.readLoop(handle)
	return c, nil
}

func (c *SignalClient) Send(msg domain.SignalMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Done is closed once the server connection is gone.
func (c *SignalClient) Done() <-chan struct{} {
	return c.done
}

func (c *SignalClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *SignalClient) readLoop(handle func(domain.SignalMessage)) {
	defer close(c.done)
	for {
		var msg domain.SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Debug("signaling connection closed", slog.String("reason", err.Error()))
			}
			return
		}
		handle(msg)
	}
}
