package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WebSocket timing constants shared by the pumps.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Event payload limits are enforced
	// separately per session; this only bounds the raw frame.
	maxMessageSize = 128 * 1024

	// Outbound buffer per client. A full buffer drops the frame; the
	// client recovers through catch-up.
	sendBuffer = 256
)

// Hub tracks the open WebSocket connections so shutdown can close
// them all. Routing and fan-out live in the session actors; the hub is
// purely the connection inventory.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	log     *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     logrus.WithField("component", "hub"),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{
		"participant_id": c.participantID,
		"session_id":     c.session.ID(),
		"connections":    n,
	}).Info("Client registered")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{
		"participant_id": c.participantID,
		"connections":    n,
	}).Info("Client unregistered")
}

// ConnectionCount reports how many WebSocket connections are open.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every open connection. The read pumps notice and
// run their normal disconnect path, putting each participant into the
// reconnect grace period.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.CloseConn()
	}
	h.log.WithField("count", len(clients)).Info("All client connections closed")
}
