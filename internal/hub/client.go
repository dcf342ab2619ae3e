package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/coordinator"
)

// Client is one participant's WebSocket connection. It pumps inbound
// frames into its session actor and outbound frames from the actor to
// the socket, and implements coordinator.Subscriber so the session can
// fan out to it without knowing about WebSockets.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	session       *coordinator.Session
	participantID string
	send          chan []byte
	logCtx        *logrus.Entry
}

func NewClient(hub *Hub, conn *websocket.Conn, session *coordinator.Session, participantID string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		session:       session,
		participantID: participantID,
		send:          make(chan []byte, sendBuffer),
		logCtx: logrus.WithFields(logrus.Fields{
			"participant_id": participantID,
			"session_id":     session.ID(),
		}),
	}
}

// ParticipantID implements coordinator.Subscriber.
func (c *Client) ParticipantID() string { return c.participantID }

// Deliver implements coordinator.Subscriber. It must not block the
// session actor, so a full buffer drops the frame and reports false.
func (c *Client) Deliver(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Run starts the pump goroutines. It returns immediately; the pumps
// own the connection from here.
func (c *Client) Run() {
	c.hub.register(c)
	go c.writePump()
	go c.readPump()
}

// CloseConn force-closes the underlying socket, which unblocks the
// read pump and runs the normal disconnect path.
func (c *Client) CloseConn() { c.conn.Close() }

// readPump pumps inbound frames to the session actor. On exit the
// participant is marked disconnected (entering the reconnect grace
// period) unless it already left deliberately.
func (c *Client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.session.Disconnect(ctx, c.participantID); err != nil && err != coordinator.ErrNotAMember && err != coordinator.ErrSessionClosed {
			c.logCtx.WithError(err).Warn("Failed to mark participant disconnected")
		}
		cancel()
		c.hub.unregister(c)
		c.conn.Close()
		c.logCtx.Info("readPump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx.Debug("WebSocket connection closed")
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logCtx.Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c.session.HandleClientMessage(ctx, c.participantID, message)
		cancel()
	}
}

// writePump pumps frames from the send buffer to the socket and keeps
// the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx.Debug("Failed to send ping, closing")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
