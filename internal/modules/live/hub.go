package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/modules/booking"
	"courtbook/internal/pkg/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
	sendBuffer = 16
)

type heartbeater interface {
	Heartbeat(ctx context.Context, id string) (*domain.Booking, error)
}

type connection struct {
	bookingID string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub tracks payment page connections per booking. A booking may be open
// in several tabs.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*connection]struct{}
	bookings    heartbeater
	logger      *zap.Logger
}

func NewHub(bookings heartbeater, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]map[*connection]struct{}),
		bookings:    bookings,
		logger:      logger,
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[c.bookingID]
	if !ok {
		set = make(map[*connection]struct{})
		h.connections[c.bookingID] = set
	}
	set[c] = struct{}{}
	metrics.LiveConnections.Inc()
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[c.bookingID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.connections, c.bookingID)
	}
	close(c.send)
	metrics.LiveConnections.Dec()
}

// Count returns the open connections for a booking.
func (h *Hub) Count(bookingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[bookingID])
}

// Broadcast queues event for every connection watching bookingID and
// reports how many received it. Slow clients are skipped.
func (h *Hub) Broadcast(bookingID string, event *Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.connections[bookingID] {
		select {
		case c.send <- data:
			n++
		default:
		}
	}
	return n
}

// Listen pushes every applied transition to the booking's open pages.
func (h *Hub) Listen(_ context.Context, t booking.Transition) {
	if t.Booking == nil {
		return
	}
	h.Broadcast(t.Booking.ID, statusEvent(t.Booking))
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.connections {
		for c := range set {
			close(c.send)
			metrics.LiveConnections.Dec()
		}
		delete(h.connections, id)
	}
}

// ServeWS runs the connection until the client goes away. initial is sent
// before anything else.
func (h *Hub) ServeWS(conn *websocket.Conn, bookingID string, initial *Event) {
	c := &connection{
		bookingID: bookingID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}
	h.register(c)
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			c.send <- data
		}
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("live connection dropped", zap.String("booking_id", c.bookingID), zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(c, errorEvent(c.bookingID, "INVALID_JSON", "Failed to parse message"))
			continue
		}
		switch msg.Type {
		case "heartbeat":
			h.heartbeat(c)
		case "ping":
			h.reply(c, &Event{Type: EventPong, BookingID: c.bookingID})
		default:
			h.reply(c, errorEvent(c.bookingID, "UNKNOWN_TYPE", "Unknown message type: "+msg.Type))
		}
	}
}

func (h *Hub) heartbeat(c *connection) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	b, err := h.bookings.Heartbeat(ctx, c.bookingID)
	switch {
	case errors.Is(err, booking.ErrNotHolding):
		// the page should stop counting down and show the outcome
		if b != nil {
			h.reply(c, statusEvent(b))
			return
		}
		h.reply(c, errorEvent(c.bookingID, "NOT_HOLDING", err.Error()))
	case err != nil:
		h.logger.Warn("live heartbeat failed", zap.String("booking_id", c.bookingID), zap.Error(err))
		h.reply(c, errorEvent(c.bookingID, "HEARTBEAT_FAILED", err.Error()))
	default:
		h.reply(c, heartbeatAck(b.ID, b.ActivityAt()))
	}
}

func (h *Hub) reply(c *connection, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[c.bookingID][c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
